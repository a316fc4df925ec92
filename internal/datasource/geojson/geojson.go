// Package geojson serves layers from GeoJSON files in a directory.
package geojson

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/geom"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

// DefaultCacheSize bounds the number of parsed files kept in memory.
const DefaultCacheSize = 16

var extensions = map[string]bool{".geojson": true, ".json": true}

type Config struct {
	Dir       string
	CacheSize int
}

// Source reads feature collections from files. Parsed collections are
// shared read-only between requests and reloaded when a file changes.
type Source struct {
	dir   string
	cache *lru.Cache[string, *geojson.FeatureCollection]
	log   *slog.Logger
}

// Open checks the directory and sets up the handle cache.
func Open(cfg Config, log *slog.Logger) (*Source, error) {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", datasource.ErrDatasourceUnavailable, cfg.Dir)
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *geojson.FeatureCollection](size)
	if err != nil {
		return nil, err
	}
	return &Source{dir: cfg.Dir, cache: cache, log: log}, nil
}

func (s *Source) Close() error {
	s.cache.Purge()
	return nil
}

// path resolves a layer source to a file inside the directory.
func (s *Source) path(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if !extensions[strings.ToLower(filepath.Ext(name))] {
		name += ".geojson"
	}
	return filepath.Join(s.dir, name), nil
}

// load returns the parsed collection, keyed by path and modification time.
func (s *Source) load(path string) (*geojson.FeatureCollection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	key := fmt.Sprintf("%s@%d:%d", path, info.ModTime().UnixNano(), info.Size())
	if fc, ok := s.cache.Get(key); ok {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", datasource.ErrDatasourceUnavailable, filepath.Base(path), err)
	}
	s.cache.Add(key, fc)
	return fc, nil
}

// DetectLayers lists one layer per GeoJSON file. The geometry type is taken
// from the first feature and the id field from the first property named id.
func (s *Source) DetectLayers(ctx context.Context) ([]datasource.Layer, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	var layers []datasource.Layer
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || !extensions[ext] {
			continue
		}
		fc, err := s.load(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.log.Warn("skipping file", "file", entry.Name(), "err", err)
			continue
		}
		l := datasource.Layer{
			Name:      strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			TableName: entry.Name(),
			SRID:      geom.SRIDWGS84,
		}
		if len(fc.Features) > 0 && fc.Features[0].Geometry != nil {
			l.GeometryType = strings.ToUpper(fc.Features[0].Geometry.GeoJSONType())
			if _, ok := fc.Features[0].Properties["id"]; ok {
				l.FIDField = "id"
			}
		}
		layers = append(layers, l)
	}
	return layers, nil
}

// RetrieveFeatures streams the features whose bound intersects the tile in
// file order. GeoJSON without a declared SRID is EPSG:4326.
func (s *Source) RetrieveFeatures(ctx context.Context, layer datasource.Layer, extent grid.Extent, zoom uint8, g *grid.Grid, fn func(feature.Feature)) error {
	if !layer.InZoom(zoom) {
		return nil
	}
	path, err := s.path(layer.Source())
	if err != nil {
		return err
	}
	fc, err := s.load(path)
	if err != nil {
		return err
	}

	srid := layer.SRID
	if srid == 0 {
		srid = geom.SRIDWGS84
	}
	q := datasource.QueryExtent(layer, extent, zoom, g)
	bound, err := geom.ReprojectBound(orb.Bound{
		Min: orb.Point{q.MinX, q.MinY},
		Max: orb.Point{q.MaxX, q.MaxY},
	}, g.SRID(), srid)
	if err != nil {
		return fmt.Errorf("layer %s: %w", layer.Name, err)
	}

	for i, f := range fc.Features {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if f.Geometry == nil || !f.Geometry.Bound().Intersects(bound) {
			continue
		}
		fn(&record{f: f, layer: &layer, srid: srid, log: s.log})
	}
	return nil
}

// record adapts one GeoJSON feature.
type record struct {
	f     *geojson.Feature
	layer *datasource.Layer
	srid  int32
	log   *slog.Logger
}

func (r *record) FID() (uint64, bool) {
	if r.layer.FIDField == "" {
		return 0, false
	}
	if v, ok := r.f.Properties[r.layer.FIDField]; ok {
		return feature.FIDOf(v)
	}
	if r.layer.FIDField == "id" && r.f.ID != nil {
		return feature.FIDOf(r.f.ID)
	}
	return 0, false
}

// Attributes returns properties sorted by key, since JSON objects carry no
// order.
func (r *record) Attributes() []feature.Attr {
	keys := make([]string, 0, len(r.f.Properties))
	for k := range r.f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]feature.Field, len(keys))
	for i, k := range keys {
		fields[i] = feature.Field{Name: k, Value: r.f.Properties[k]}
	}
	return feature.CollectAttrs(r.log, r.layer.Name, fields)
}

func (r *record) Geometry() (geom.Geometry, error) {
	return geom.FromOrb(r.f.Geometry, r.srid)
}

var _ datasource.Datasource = (*Source)(nil)
