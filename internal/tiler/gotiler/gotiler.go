// Package gotiler pre-renders tiles of a topic into a PMTiles archive.
//
// Tiles come from the same MvtService that serves HTTP requests, so an
// archive holds exactly what the server would have returned. Archives are
// addressed as XYZ web mercator tiles and need a grid of that shape.
package gotiler

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-tiles/internal/geom"
	"github.com/joeblew999/plat-tiles/internal/grid"
	"github.com/joeblew999/plat-tiles/internal/mvt"
	"github.com/joeblew999/plat-tiles/internal/pmtiles"
)

// ErrInvalidConfig is returned when a run cannot start with the given
// grid or zoom range.
var ErrInvalidConfig = errors.New("invalid seed config")

// ErrLayerFailed aborts a run when a layer of a tile could not be fetched,
// so archives never hold tiles with missing layers.
var ErrLayerFailed = errors.New("layer fetch failed")

// TileSource renders one tile. *service.MvtService satisfies it.
type TileSource interface {
	Tile(ctx context.Context, topic string, x, y uint32, z uint8) (*mvt.Tile, error)
	Grid() *grid.Grid
}

// TileConfig selects what to render.
type TileConfig struct {
	Topic   string
	MinZoom uint8
	MaxZoom uint8
	// Bounds in longitude/latitude; the zero value renders the whole world.
	Bounds  orb.Bound
	Workers int
	// Gzip compresses each tile inside the archive.
	Gzip bool
	// Progress, when set, is called from worker goroutines every
	// ProgressEvery tiles and once all tiles are rendered.
	Progress func(done, total int64)
}

// ProgressEvery is the number of tiles between progress reports.
const ProgressEvery = 1000

// Stats summarizes a run.
type Stats struct {
	Tiles    int64
	Empty    int64
	Bytes    int64
	Duration time.Duration
}

type GoTiler struct {
	src TileSource
	log *slog.Logger
}

func New(src TileSource, log *slog.Logger) *GoTiler {
	return &GoTiler{src: src, log: log}
}

// Tile renders the configured tiles and writes the archive to outputPath.
func (g *GoTiler) Tile(ctx context.Context, outputPath string, cfg TileConfig) (Stats, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return Stats{}, err
	}
	st, err := g.Write(ctx, f, cfg)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(outputPath)
	}
	return st, err
}

// Write renders the configured tiles and writes the archive to out.
func (g *GoTiler) Write(ctx context.Context, out io.Writer, cfg TileConfig) (Stats, error) {
	gr := g.src.Grid()
	if gr.SRID() != geom.SRIDWebMercator || gr.Origin() != grid.TopLeft {
		return Stats{}, fmt.Errorf("%w: archives need the XYZ web mercator grid", ErrInvalidConfig)
	}
	if cfg.MaxZoom < cfg.MinZoom {
		return Stats{}, fmt.Errorf("%w: max zoom %d below min zoom %d", ErrInvalidConfig, cfg.MaxZoom, cfg.MinZoom)
	}
	if cfg.MaxZoom > gr.MaxZoom() {
		return Stats{}, fmt.Errorf("%w: max zoom %d exceeds grid max zoom %d", ErrInvalidConfig, cfg.MaxZoom, gr.MaxZoom())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	bounds := clampBounds(cfg.Bounds)

	start := time.Now()
	w := pmtiles.NewWriter()
	var st Stats
	var done atomic.Int64

	var total int64
	for z := cfg.MinZoom; z <= cfg.MaxZoom; z++ {
		total += int64(len(tilesInBounds(bounds, z)))
	}
	g.log.Info("seeding", "topic", cfg.Topic, "minzoom", cfg.MinZoom, "maxzoom", cfg.MaxZoom, "tiles", total)

	// gctx is canceled once Wait returns; only the workers may use it.
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.Workers)
	for z := cfg.MinZoom; z <= cfg.MaxZoom; z++ {
		for _, t := range tilesInBounds(bounds, z) {
			if gctx.Err() != nil {
				break
			}
			t := t
			eg.Go(func() error {
				data, err := g.render(gctx, cfg, t)
				if err != nil {
					return fmt.Errorf("tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
				}
				if data == nil {
					atomic.AddInt64(&st.Empty, 1)
				} else {
					w.Add(uint8(t.Z), t.X, t.Y, data)
					atomic.AddInt64(&st.Bytes, int64(len(data)))
				}
				if n := done.Add(1); n%ProgressEvery == 0 {
					g.log.Info("seed progress", "done", n, "tiles", total)
					if cfg.Progress != nil {
						cfg.Progress(n, total)
					}
				}
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return st, err
	}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	if cfg.Progress != nil {
		cfg.Progress(done.Load(), total)
	}
	st.Tiles = int64(w.Len())

	compression := pmtiles.NoCompression
	if cfg.Gzip {
		compression = pmtiles.Gzip
	}
	if st.Tiles == 0 {
		return st, fmt.Errorf("%w: no tiles to write", ErrInvalidConfig)
	}
	_, err := w.WriteTo(out, pmtiles.Options{
		TileCompression: compression,
		Bounds:          bounds,
		Metadata: map[string]any{
			"name":    cfg.Topic,
			"format":  "pbf",
			"minzoom": cfg.MinZoom,
			"maxzoom": cfg.MaxZoom,
		},
	})
	st.Duration = time.Since(start)
	if err != nil {
		return st, fmt.Errorf("write archive: %w", err)
	}
	g.log.Info("seed finished", "tiles", st.Tiles, "empty", st.Empty, "bytes", st.Bytes, "duration", st.Duration)
	return st, nil
}

// render returns the encoded tile, or nil when no layer has features.
func (g *GoTiler) render(ctx context.Context, cfg TileConfig, t maptile.Tile) ([]byte, error) {
	tile, err := g.src.Tile(ctx, cfg.Topic, t.X, t.Y, uint8(t.Z))
	if err != nil {
		return nil, err
	}
	if tile.IsDegraded() {
		return nil, fmt.Errorf("%w: %s", ErrLayerFailed, strings.Join(tile.Degraded, ", "))
	}
	if tile.NumFeatures() == 0 {
		return nil, nil
	}
	data := tile.Marshal()
	if !cfg.Gzip {
		return data, nil
	}
	var b bytes.Buffer
	zw := gzip.NewWriter(&b)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func clampBounds(b orb.Bound) orb.Bound {
	if b.IsZero() {
		b = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	}
	const maxLat = 85.0511287798066
	b.Min[1] = max(b.Min[1], -maxLat)
	b.Max[1] = min(b.Max[1], maxLat)
	b.Min[0] = max(b.Min[0], -180)
	b.Max[0] = min(b.Max[0], 180)
	return b
}

// tilesInBounds returns all tiles at a zoom level that intersect a bounding box.
func tilesInBounds(bounds orb.Bound, zoom uint8) []maptile.Tile {
	z := maptile.Zoom(zoom)
	minTile := maptile.At(orb.Point{bounds.Min[0], bounds.Max[1]}, z)
	maxTile := maptile.At(orb.Point{bounds.Max[0], bounds.Min[1]}, z)

	last := uint32(1)<<zoom - 1
	minX, maxX := min(minTile.X, maxTile.X, last), min(max(minTile.X, maxTile.X), last)
	minY, maxY := min(minTile.Y, maxTile.Y, last), min(max(minTile.Y, maxTile.Y), last)

	var tiles []maptile.Tile
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}
