// Package app wires configuration into a datasource and a tile service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-tiles/internal/cache"
	"github.com/joeblew999/plat-tiles/internal/config"
	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/datasource/duckdb"
	"github.com/joeblew999/plat-tiles/internal/datasource/geojson"
	"github.com/joeblew999/plat-tiles/internal/datasource/postgis"
	"github.com/joeblew999/plat-tiles/internal/service"
)

// OpenDatasource builds the configured backend. Opening honors
// cfg.Timeout; the returned datasource lives until Close.
func OpenDatasource(ctx context.Context, cfg config.DatasourceConfig, log *slog.Logger) (datasource.Datasource, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	log = log.With("datasource", cfg.Kind)
	var (
		ds  datasource.Datasource
		err error
	)
	switch cfg.Kind {
	case config.KindPostGIS:
		var s *postgis.Source
		s, err = postgis.Open(ctx, postgis.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns}, log)
		ds = s
	case config.KindDuckDB:
		var s *duckdb.Source
		s, err = duckdb.Open(ctx, duckdb.Config{Path: cfg.Path, SRID: cfg.SRID, MaxOpenConns: int(cfg.MaxConns)}, log)
		ds = s
	case config.KindGeoJSON:
		var s *geojson.Source
		s, err = geojson.Open(geojson.Config{Dir: cfg.Dir, CacheSize: cfg.CacheSize}, log)
		ds = s
	default:
		return nil, fmt.Errorf("unknown datasource kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// Build opens the datasource and creates the tile service. Layers missing
// from the configuration are detected from the datasource.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, obs service.Observer) (*service.MvtService, datasource.Datasource, error) {
	g, err := cfg.Grid.Build()
	if err != nil {
		return nil, nil, err
	}
	ds, err := OpenDatasource(ctx, cfg.Datasource, log)
	if err != nil {
		return nil, nil, err
	}

	layers := cfg.Layers
	if len(layers) == 0 {
		if layers, err = ds.DetectLayers(ctx); err != nil {
			ds.Close()
			return nil, nil, fmt.Errorf("detect layers: %w", err)
		}
		log.Info("detected layers", "count", len(layers))
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithTileExtent(cfg.Service.TileExtent),
	}
	if obs != nil {
		opts = append(opts, service.WithObserver(obs))
	}
	svc, err := service.NewMvtService(ds, g, layers, cfg.Topics, opts...)
	if err != nil {
		ds.Close()
		return nil, nil, err
	}
	return svc, ds, nil
}

// Generation fingerprints everything that shapes tile contents, for cache
// keys.
func Generation(svc *service.MvtService, extent uint32) uint64 {
	layers, _ := yaml.Marshal(svc.Layers())
	topics, _ := yaml.Marshal(svc.Topics())
	g := svc.Grid()
	return cache.Generation(
		string(layers),
		string(topics),
		fmt.Sprintf("%d:%s:%d:%s", g.SRID(), g.Extent(), g.TileSize(), g.Origin()),
		fmt.Sprint(extent),
	)
}

// GenConfig returns a configuration file skeleton for the detected layers.
func GenConfig(ds config.DatasourceConfig, layers []datasource.Layer) ([]byte, error) {
	cfg := config.Default()
	cfg.Datasource = ds
	cfg.Layers = layers
	cfg.Topics = []service.Topic{{Name: "default", Layers: layerNames(layers)}}
	return yaml.Marshal(cfg)
}

func layerNames(layers []datasource.Layer) []string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name
	}
	return names
}
