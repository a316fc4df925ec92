// Package memory is an in-process datasource holding features in memory.
// It backs tests and small static layers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/geom"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

// Record is one stored feature. GeomErr, when set, is returned from
// Geometry in place of Geom.
type Record struct {
	ID      uint64
	HasID   bool
	Attrs   []feature.Attr
	Geom    geom.Geometry
	GeomErr error
}

func (r *Record) FID() (uint64, bool)       { return r.ID, r.HasID }
func (r *Record) Attributes() []feature.Attr { return r.Attrs }

func (r *Record) Geometry() (geom.Geometry, error) {
	if r.GeomErr != nil {
		return nil, r.GeomErr
	}
	return r.Geom, nil
}

type Source struct {
	mu       sync.RWMutex
	layers   []datasource.Layer
	records  map[string][]Record
	failures map[string]error
	calls    map[string]int
}

func New() *Source {
	return &Source{
		records:  make(map[string][]Record),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Add registers a layer, replacing one of the same name, with its records.
func (s *Source) Add(layer datasource.Layer, recs ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.layers {
		if l.Name == layer.Name {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			break
		}
	}
	s.layers = append(s.layers, layer)
	s.records[layer.Name] = recs
}

// Fail makes retrieval of a layer return err wrapped as unavailable. A nil
// err clears the failure.
func (s *Source) Fail(layer string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[layer] = err
}

// Calls reports how often a layer has been retrieved.
func (s *Source) Calls(layer string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[layer]
}

func (s *Source) DetectLayers(context.Context) ([]datasource.Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]datasource.Layer(nil), s.layers...), nil
}

func (s *Source) RetrieveFeatures(ctx context.Context, layer datasource.Layer, extent grid.Extent, zoom uint8, g *grid.Grid, fn func(feature.Feature)) error {
	s.mu.Lock()
	s.calls[layer.Name]++
	recs := s.records[layer.Name]
	failure := s.failures[layer.Name]
	s.mu.Unlock()

	if !layer.InZoom(zoom) {
		return nil
	}
	if failure != nil {
		return fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, failure)
	}

	q := datasource.QueryExtent(layer, extent, zoom, g)
	tile := orb.Bound{Min: orb.Point{q.MinX, q.MinY}, Max: orb.Point{q.MaxX, q.MaxY}}
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := &recs[i]
		if r.GeomErr == nil && r.Geom != nil && !intersects(r.Geom, tile, g.SRID()) {
			continue
		}
		fn(r)
	}
	return nil
}

func intersects(g geom.Geometry, tile orb.Bound, srid int32) bool {
	og := geom.ToOrb(g)
	if og == nil {
		return true
	}
	if g.SRID() == 0 || g.SRID() == srid {
		return og.Bound().Intersects(tile)
	}
	b, err := geom.ReprojectBound(tile, srid, g.SRID())
	if err != nil {
		return true
	}
	return og.Bound().Intersects(b)
}

func (s *Source) Close() error { return nil }

var _ datasource.Datasource = (*Source)(nil)
