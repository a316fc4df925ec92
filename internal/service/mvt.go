package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/grid"
	"github.com/joeblew999/plat-tiles/internal/logger"
	"github.com/joeblew999/plat-tiles/internal/mvt"
)

// ContentType is the media type of tiles produced by MvtService.
const ContentType = mvt.ContentType

// AllTopic selects every configured layer.
const AllTopic = "all"

// ErrUnknownTopic is returned for a topic that is not configured.
var ErrUnknownTopic = errors.New("unknown topic")

// Topic is a named subset of layers served together.
type Topic struct {
	Name   string   `json:"name" yaml:"name" mapstructure:"name" doc:"Topic name used in tile URLs" example:"streets"`
	Layers []string `json:"layers" yaml:"layers" mapstructure:"layers" doc:"Layer names in tile order"`
}

// Observer receives pipeline counters. Implementations must be safe for
// concurrent use.
type Observer interface {
	LayerFailed(layer string)
	FeatureDropped(layer string)
	FeaturesEncoded(layer string, n int)
}

type nopObserver struct{}

func (nopObserver) LayerFailed(string)          {}
func (nopObserver) FeatureDropped(string)       {}
func (nopObserver) FeaturesEncoded(string, int) {}

// MvtService assembles vector tiles from a datasource. It holds no mutable
// state and serves concurrent requests.
type MvtService struct {
	ds     datasource.Datasource
	grid   *grid.Grid
	layers []datasource.Layer
	topics map[string][]int
	order  []Topic
	extent uint32
	log    *slog.Logger
	obs    Observer
}

// Option configures an MvtService.
type Option func(*MvtService)

func WithLogger(log *slog.Logger) Option {
	return func(s *MvtService) { s.log = log }
}

func WithObserver(o Observer) Option {
	return func(s *MvtService) { s.obs = o }
}

// WithTileExtent sets the MVT layer extent in integer units.
func WithTileExtent(extent uint32) Option {
	return func(s *MvtService) { s.extent = extent }
}

// NewMvtService validates layer names and topic references.
func NewMvtService(ds datasource.Datasource, g *grid.Grid, layers []datasource.Layer, topics []Topic, opts ...Option) (*MvtService, error) {
	s := &MvtService{
		ds:     ds,
		grid:   g,
		layers: layers,
		topics: make(map[string][]int, len(topics)),
		order:  topics,
		extent: mvt.DefaultExtent,
		log:    logger.Discard(),
		obs:    nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}

	index := make(map[string]int, len(layers))
	for i, l := range layers {
		if l.Name == "" {
			return nil, fmt.Errorf("layer %d has no name", i)
		}
		if _, dup := index[l.Name]; dup {
			return nil, fmt.Errorf("duplicate layer %q", l.Name)
		}
		index[l.Name] = i
	}
	for _, t := range topics {
		if t.Name == "" || t.Name == AllTopic {
			return nil, fmt.Errorf("invalid topic name %q", t.Name)
		}
		if _, dup := s.topics[t.Name]; dup {
			return nil, fmt.Errorf("duplicate topic %q", t.Name)
		}
		idx := make([]int, 0, len(t.Layers))
		for _, name := range t.Layers {
			i, ok := index[name]
			if !ok {
				return nil, fmt.Errorf("topic %q references unknown layer %q", t.Name, name)
			}
			idx = append(idx, i)
		}
		s.topics[t.Name] = idx
	}
	return s, nil
}

// Grid returns the tiling grid.
func (s *MvtService) Grid() *grid.Grid { return s.grid }

// Layers returns the configured layers in tile order.
func (s *MvtService) Layers() []datasource.Layer { return s.layers }

// Topics returns the configured topics in configuration order.
func (s *MvtService) Topics() []Topic { return s.order }

// ResolveLayers returns the layers of a topic. The empty topic and "all"
// select every layer.
func (s *MvtService) ResolveLayers(topic string) ([]datasource.Layer, error) {
	if topic == "" || topic == AllTopic {
		return s.layers, nil
	}
	idx, ok := s.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	out := make([]datasource.Layer, len(idx))
	for i, j := range idx {
		out[i] = s.layers[j]
	}
	return out, nil
}

// DetectLayers introspects the datasource schema.
func (s *MvtService) DetectLayers(ctx context.Context) ([]datasource.Layer, error) {
	return s.ds.DetectLayers(ctx)
}

// Tile builds the tile z/x/y for a topic. Every resolved layer is present
// in the result, empty and listed in Degraded when its fetch failed;
// feature-level failures are logged and never returned.
func (s *MvtService) Tile(ctx context.Context, topic string, x, y uint32, z uint8) (*mvt.Tile, error) {
	layers, err := s.ResolveLayers(topic)
	if err != nil {
		return nil, err
	}
	extent, err := s.grid.TileExtent(z, x, y)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTile(logger.WithTopic(ctx, topic), fmt.Sprintf("%d/%d/%d", z, x, y))
	tile := &mvt.Tile{Layers: make([]mvt.Layer, 0, len(layers))}
	for _, l := range layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ml, ok := s.layer(ctx, l, extent, z)
		if !ok {
			tile.Degraded = append(tile.Degraded, l.Name)
		}
		tile.Layers = append(tile.Layers, ml)
	}
	return tile, nil
}

// layer runs fetch, convert and encode for one layer. It reports false
// when the fetch failed and the layer is empty.
func (s *MvtService) layer(ctx context.Context, l datasource.Layer, extent grid.Extent, z uint8) (mvt.Layer, bool) {
	b := s.builder(l, extent)
	err := s.ds.RetrieveFeatures(ctx, l, extent, z, s.grid, func(f feature.Feature) {
		if _, err := b.Add(f); err != nil {
			s.obs.FeatureDropped(l.Name)
			attrs := []any{"layer", l.Name, "err", err}
			if id, ok := f.FID(); ok {
				attrs = append(attrs, "fid", id)
			}
			s.log.WarnContext(ctx, "dropping feature", attrs...)
		}
	})
	if err != nil {
		s.obs.LayerFailed(l.Name)
		s.log.WarnContext(ctx, "layer fetch failed", "layer", l.Name, "err", err)
		return s.builder(l, extent).Layer(), false
	}
	s.obs.FeaturesEncoded(l.Name, b.Len())
	return b.Layer(), true
}

func (s *MvtService) builder(l datasource.Layer, extent grid.Extent) *mvt.LayerBuilder {
	return mvt.NewLayerBuilder(l.Name, extent, s.grid.SRID(), mvt.WithExtent(s.extent))
}
