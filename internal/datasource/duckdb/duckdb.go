// Package duckdb serves layers from DuckDB tables and from files DuckDB can
// scan (GeoParquet, GeoJSON, GeoPackage, Shapefile).
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/geom"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

// Config holds database configuration.
type Config struct {
	// Path is the database file; empty opens an in-memory database.
	Path string
	// SRID is assumed for geometry columns, which DuckDB stores untagged.
	SRID int32
	// MaxOpenConns bounds concurrent tile queries.
	MaxOpenConns int
}

// Source queries a DuckDB database with the spatial extension loaded.
type Source struct {
	db   *sql.DB
	srid int32
	log  *slog.Logger
}

// Open opens the database and loads the spatial and parquet extensions.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Source, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
	}
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	for _, ext := range []string{"spatial", "parquet"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			if ext == "spatial" {
				db.Close()
				return nil, fmt.Errorf("%w: load spatial: %v", datasource.ErrDatasourceUnavailable, err)
			}
			log.Warn("extension not loaded", "extension", ext, "err", err)
		}
	}
	return &Source{db: db, srid: cfg.SRID, log: log}, nil
}

func (s *Source) Close() error {
	return s.db.Close()
}

// DB exposes the handle for loading data.
func (s *Source) DB() *sql.DB { return s.db }

// DetectLayers lists every GEOMETRY column of every table and view.
func (s *Source) DetectLayers(ctx context.Context) ([]datasource.Layer, error) {
	rows, err := s.db.QueryContext(ctx, detectQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	defer rows.Close()

	var layers []datasource.Layer
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, fmt.Errorf("detect layers: %w", err)
		}
		name := table
		if schema != "main" {
			name = schema + "_" + table
		}
		layers = append(layers, datasource.Layer{
			Name:          name,
			TableName:     schema + "." + table,
			GeometryField: column,
			GeometryType:  "GEOMETRY",
			SRID:          s.srid,
		})
	}
	return layers, rows.Err()
}

// RetrieveFeatures runs the layer query on a dedicated connection.
func (s *Source) RetrieveFeatures(ctx context.Context, layer datasource.Layer, extent grid.Extent, zoom uint8, g *grid.Grid, fn func(feature.Feature)) error {
	if !layer.InZoom(zoom) {
		return nil
	}
	if layer.SRID == 0 {
		layer.SRID = s.srid
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", datasource.ErrDatasourceUnavailable, err)
	}
	defer conn.Close()

	q := buildQuery(layer, extent, zoom, g)
	s.log.DebugContext(ctx, "layer query", "layer", layer.Name, "sql", q)

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: layer %s: %w", datasource.ErrDatasourceUnavailable, layer.Name, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("%w: layer %s: %w", datasource.ErrDatasourceUnavailable, layer.Name, err)
	}
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("%w: layer %s: %w", datasource.ErrDatasourceUnavailable, layer.Name, err)
		}
		fn(&record{layer: &layer, names: names, vals: vals, log: s.log})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: layer %s: %w", datasource.ErrDatasourceUnavailable, layer.Name, err)
	}
	return nil
}

// record is one scanned row; column 0 is the WKB geometry.
type record struct {
	layer *datasource.Layer
	names []string
	vals  []any
	log   *slog.Logger
}

func (r *record) FID() (uint64, bool) {
	if r.layer.FIDField == "" {
		return 0, false
	}
	for i, n := range r.names {
		if n == r.layer.FIDField {
			return feature.FIDOf(r.vals[i])
		}
	}
	return 0, false
}

func (r *record) Attributes() []feature.Attr {
	fields := make([]feature.Field, 0, len(r.names)-1)
	for i := 1; i < len(r.names); i++ {
		fields = append(fields, feature.Field{Name: r.names[i], Value: r.vals[i]})
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

var _ datasource.Datasource = (*Source)(nil)
