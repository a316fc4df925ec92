// Package postgis serves layers from PostGIS tables through a pgx pool.
package postgis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/geom"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Source reads features from PostGIS. Each call acquires its own pooled
// connection.
type Source struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open creates the pool and pings the server.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Source, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pc.MaxConns = 20
	pc.MinConns = 2
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	return &Source{pool: pool, log: log}, nil
}

func (s *Source) Close() error {
	s.pool.Close()
	return nil
}

// DetectLayers lists every registered geometry column. Tables with more
// than one geometry column get one layer per column.
func (s *Source) DetectLayers(ctx context.Context) ([]datasource.Layer, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, detectQuery)
	if err != nil {
		return nil, fmt.Errorf("detect layers: %w", err)
	}
	defer rows.Close()

	var layers []datasource.Layer
	seen := map[string]int{}
	for rows.Next() {
		var schema, table, column, typ string
		var srid int32
		if err := rows.Scan(&schema, &table, &column, &srid, &typ); err != nil {
			return nil, fmt.Errorf("detect layers: %w", err)
		}
		layers = append(layers, datasource.Layer{
			Name:          table,
			TableName:     schema + "." + table,
			GeometryField: column,
			GeometryType:  typ,
			SRID:          srid,
		})
		seen[table]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("detect layers: %w", err)
	}
	for i := range layers {
		if seen[layers[i].Name] > 1 {
			layers[i].Name += "_" + layers[i].GeometryField
		}
	}
	return layers, nil
}

// RetrieveFeatures runs the layer query for the tile and streams rows in
// server order.
func (s *Source) RetrieveFeatures(ctx context.Context, layer datasource.Layer, extent grid.Extent, zoom uint8, g *grid.Grid, fn func(feature.Feature)) error {
	if !layer.InZoom(zoom) {
		return nil
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	defer conn.Release()

	sql := buildQuery(layer, extent, zoom, g)
	s.log.DebugContext(ctx, "layer query", "layer", layer.Name, "sql", sql)

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return fmt.Errorf("%w: layer %s: %w", datasource.ErrDatasourceUnavailable, layer.Name, err)
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fmt.Errorf("%w: layer %s: %w", datasource.ErrDatasourceUnavailable, layer.Name, err)
		}
		fn(newRecord(&layer, names, vals, s.log))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: layer %s: %w", datasource.ErrDatasourceUnavailable, layer.Name, err)
	}
	return nil
}

// record is one result row. Column 0 holds the WKB geometry.
type record struct {
	layer *datasource.Layer
	names []string
	vals  []any
	log   *slog.Logger
}

func newRecord(layer *datasource.Layer, names []string, vals []any, log *slog.Logger) *record {
	return &record{layer: layer, names: names, vals: vals, log: log}
}

func (r *record) FID() (uint64, bool) {
	if r.layer.FIDField == "" {
		return 0, false
	}
	for i, n := range r.names {
		if n == r.layer.FIDField {
			return feature.FIDOf(native(r.vals[i]))
		}
	}
	return 0, false
}

func (r *record) Attributes() []feature.Attr {
	geomCol := r.layer.GeometryField
	if geomCol == "" {
		geomCol = "geom"
	}
	fields := make([]feature.Field, 0, len(r.names))
	for i, n := range r.names {
		if i == 0 || n == geomCol {
			continue
		}
		fields = append(fields, feature.Field{Name: n, Value: native(r.vals[i])})
	}
	return feature.CollectAttrs(r.log, r.layer.Name, fields)
}

func (r *record) Geometry() (geom.Geometry, error) {
	b, ok := r.vals[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: geometry column is %T", geom.ErrUnsupportedGeometry, r.vals[0])
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", geom.ErrUnsupportedGeometry, err)
	}
	return geom.FromOrb(g, r.layer.SRID)
}

// native unwraps pgx values that have a plain Go equivalent.
func native(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return v
}

var _ datasource.Datasource = (*Source)(nil)
