package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-tiles/internal/api"
	"github.com/joeblew999/plat-tiles/internal/app"
	"github.com/joeblew999/plat-tiles/internal/cache"
	"github.com/joeblew999/plat-tiles/internal/config"
	"github.com/joeblew999/plat-tiles/internal/logger"
	"github.com/joeblew999/plat-tiles/internal/metrics"
	"github.com/joeblew999/plat-tiles/internal/server"
	"github.com/joeblew999/plat-tiles/internal/service"
	"github.com/joeblew999/plat-tiles/internal/tiler/gotiler"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	revision  = ""
	buildDate = ""
)

// Options defines all CLI flags and env vars for the tile server.
// Flags: --config, --host, --port, --log-level
// Env vars: SERVICE_CONFIG, SERVICE_HOST, SERVICE_PORT, SERVICE_LOG_LEVEL
type Options struct {
	Config   string `doc:"Path to the YAML configuration file" short:"c" default:""`
	Host     string `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int    `doc:"Port to listen on" short:"p" default:"6767"`
	LogLevel string `doc:"Log level overriding the configuration (debug, info, warn, error)" default:""`
}

func buildInfo() metrics.BuildInfo {
	return metrics.BuildInfo{Version: version, Revision: revision, BuildDate: buildDate}
}

// setup loads the configuration and builds the logger.
func setup(opts *Options) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if cfg.Log.Component == "" {
		cfg.Log.Component = "tileserver"
	}
	zl := logger.Build(cfg.Log, os.Stderr)
	return cfg, logger.NewSlog(&zl), nil
}

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

// exitOn runs fn, which owns every resource it opens, and exits non-zero
// once it has returned an error.
func exitOn(msg string, fn func() error) {
	if err := fn(); err != nil {
		fail(msg, err)
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if err := serve(ctx, opts); err != nil {
				fail("server error", err)
			}
		})
		hooks.OnStop(cancel)
	})

	cli.Root().Use = "tileserver"
	cli.Root().Short = "Vector tile server for PostGIS, DuckDB and GeoJSON layers"
	cli.Root().Version = version

	cli.Root().AddCommand(specCommand(), genConfigCommand(), seedCommand())
	cli.Run()
}

func serve(ctx context.Context, opts *Options) error {
	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}

	var prov *metrics.Provider
	var obs service.Observer
	if cfg.Metrics.Enabled {
		cfg.Metrics.Build = buildInfo()
		prov = metrics.Init(cfg.Metrics)
		obs = metrics.NewPipeline(prov.Registerer())
	}

	tiles, ds, err := app.Build(ctx, cfg, log, obs)
	if err != nil {
		return err
	}
	defer ds.Close()

	svc := &api.Services{
		Tiles:      tiles,
		Archives:   service.NewArchiveService(cfg.Archives.Dir, log),
		Events:     service.NewEventBus(),
		Generation: app.Generation(tiles, cfg.Service.TileExtent),
		Datasource: cfg.Datasource.Kind,
		Build:      buildInfo(),
		Log:        log,
	}
	if cfg.Cache.Addr != "" {
		tc, err := cache.New(ctx, cfg.Cache.Addr, cfg.Cache.Prefix, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		defer tc.Close()
		svc.Cache = tc
		log.Info("tile cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := server.New(server.Config{Host: opts.Host, Port: opts.Port, MetricsPath: metricsPath}, svc, prov, log)

	log.Info("tile server starting",
		"url", srv.BaseURL(),
		"datasource", cfg.Datasource.Kind,
		"layers", len(tiles.Layers()),
		"docs", srv.BaseURL()+"/docs",
	)
	return srv.Run(ctx)
}

// specCommand exports the OpenAPI description.
func specCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := server.New(server.Config{Host: opts.Host, Port: opts.Port},
				&api.Services{Build: buildInfo()}, nil, logger.Discard())
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fail("marshal spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	cmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	return cmd
}

// genConfigCommand prints a configuration file for the layers the
// datasource exposes.
func genConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "genconfig",
		Short: "Detect layers and print a configuration file",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			exitOn("genconfig", func() error {
				return genConfig(cmdContext(cmd), opts, os.Stdout)
			})
		}),
	}
}

func genConfig(ctx context.Context, opts *Options, out io.Writer) error {
	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}
	ds, err := app.OpenDatasource(ctx, cfg.Datasource, log)
	if err != nil {
		return err
	}
	defer ds.Close()
	layers, err := ds.DetectLayers(ctx)
	if err != nil {
		return fmt.Errorf("detect layers: %w", err)
	}
	b, err := app.GenConfig(cfg.Datasource, layers)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = out.Write(b)
	return err
}

// seedCommand renders a topic into a PMTiles archive.
func seedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Pre-render tiles of a topic into a PMTiles archive",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			flags := cmd.Flags()
			var sf seedFlags
			sf.Topic, _ = flags.GetString("topic")
			sf.MinZoom, _ = flags.GetUint8("minzoom")
			sf.MaxZoom, _ = flags.GetUint8("maxzoom")
			sf.BBox, _ = flags.GetString("bbox")
			sf.Output, _ = flags.GetString("output")
			sf.Gzip, _ = flags.GetBool("gzip")
			sf.Workers, _ = flags.GetInt("workers")
			exitOn("seed", func() error {
				return seed(cmdContext(cmd), opts, sf, os.Stdout)
			})
		}),
	}
	cmd.Flags().String("topic", service.AllTopic, "Topic to render")
	cmd.Flags().Uint8("minzoom", 0, "First zoom level")
	cmd.Flags().Uint8("maxzoom", 6, "Last zoom level")
	cmd.Flags().String("bbox", "", "minLon,minLat,maxLon,maxLat (default whole world)")
	cmd.Flags().StringP("output", "o", "", "Output archive (default <topic>.pmtiles)")
	cmd.Flags().Bool("gzip", true, "Gzip tiles inside the archive")
	cmd.Flags().Int("workers", 4, "Concurrent tile renders")
	return cmd
}

type seedFlags struct {
	Topic            string
	MinZoom, MaxZoom uint8
	BBox             string
	Output           string
	Gzip             bool
	Workers          int
}

func seed(ctx context.Context, opts *Options, sf seedFlags, out io.Writer) error {
	bounds, err := parseBBox(sf.BBox)
	if err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}
	if sf.Output == "" {
		sf.Output = sf.Topic + service.ArchiveExt
	}
	tiles, ds, err := app.Build(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer ds.Close()

	st, err := gotiler.New(tiles, log).Tile(ctx, sf.Output, gotiler.TileConfig{
		Topic:   sf.Topic,
		MinZoom: sf.MinZoom,
		MaxZoom: sf.MaxZoom,
		Bounds:  bounds,
		Workers: sf.Workers,
		Gzip:    sf.Gzip,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s: %d tiles (%d empty) in %s\n", sf.Output, st.Tiles, st.Empty, st.Duration.Round(time.Millisecond))
	return nil
}

// parseBBox reads "minLon,minLat,maxLon,maxLat". Empty means the world.
func parseBBox(s string) (orb.Bound, error) {
	if s == "" {
		return orb.Bound{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("want 4 comma separated numbers, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("bbox min exceeds max: %q", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
