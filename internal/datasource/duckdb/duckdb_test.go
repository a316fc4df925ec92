package duckdb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/geom"
	"github.com/joeblew999/plat-tiles/internal/grid"
	"github.com/joeblew999/plat-tiles/internal/logger"
)

var box = grid.Extent{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}

func TestBuildQuery(t *testing.T) {
	g := grid.WebMercator()
	cases := []struct {
		name  string
		layer datasource.Layer
		want  string
	}{
		{
			"table",
			datasource.Layer{Name: "roads", SRID: 3857},
			`SELECT ST_AsWKB("geom") AS __geom, * EXCLUDE ("geom") FROM "roads" WHERE ST_Intersects_Extent("geom", ST_MakeEnvelope(0, 0, 10, 10))`,
		},
		{
			"schema table with transform",
			datasource.Layer{Name: "r", TableName: "osm.roads", GeometryField: "way", SRID: 4326},
			`SELECT ST_AsWKB("way") AS __geom, * EXCLUDE ("way") FROM "osm"."roads" WHERE ST_Intersects_Extent("way", ST_Transform(ST_MakeEnvelope(0, 0, 10, 10), 'EPSG:3857', 'EPSG:4326', true))`,
		},
		{
			"parquet file",
			datasource.Layer{Name: "b", TableName: "data/o'neil.parquet", SRID: 3857},
			`SELECT ST_AsWKB("geom") AS __geom, * EXCLUDE ("geom") FROM read_parquet('data/o''neil.parquet') WHERE ST_Intersects_Extent("geom", ST_MakeEnvelope(0, 0, 10, 10))`,
		},
		{
			"geojson file",
			datasource.Layer{Name: "p", TableName: "places.geojson", SRID: 3857},
			`SELECT ST_AsWKB("geom") AS __geom, * EXCLUDE ("geom") FROM ST_Read('places.geojson') WHERE ST_Intersects_Extent("geom", ST_MakeEnvelope(0, 0, 10, 10))`,
		},
		{
			"custom query with bbox",
			datasource.Layer{Name: "c", SRID: 3857, Query: "SELECT * FROM roads WHERE ST_Intersects(geom, !bbox!) AND !zoom! > 2"},
			`SELECT ST_AsWKB("geom") AS __geom, * EXCLUDE ("geom") FROM (SELECT * FROM roads WHERE ST_Intersects(geom, ST_MakeEnvelope(0, 0, 10, 10)) AND 5 > 2) AS q`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildQuery(tc.layer, box, 5, g); got != tc.want {
				t.Fatalf("query:\n got  %s\n want %s", got, tc.want)
			}
		})
	}
}

func TestRecord(t *testing.T) {
	b, err := wkb.Marshal(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	if err != nil {
		t.Fatal(err)
	}
	r := &record{
		layer: &datasource.Layer{Name: "parcels", FIDField: "pid", SRID: 4326},
		names: []string{"__geom", "pid", "owner", "since"},
		vals:  []any{b, int64(44), "ACME", time.Unix(0, 0)},
		log:   logger.Discard(),
	}
	if id, ok := r.FID(); !ok || id != 44 {
		t.Fatalf("FID = %d,%v", id, ok)
	}
	attrs := r.Attributes()
	want := []feature.Attr{
		{Key: "pid", Value: feature.IntValue(44)},
		{Key: "owner", Value: feature.StringValue("ACME")},
	}
	if len(attrs) != 2 || attrs[0] != want[0] || attrs[1] != want[1] {
		t.Fatalf("attrs = %+v", attrs)
	}
	g, err := r.Geometry()
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := g.(geom.Polygon); !ok || p.Srid != 4326 || len(p.Rings[0].Points) != 4 {
		t.Fatalf("geometry = %#v", g)
	}
}

// TestRetrieveFeatures_InMemory needs the spatial extension, which DuckDB
// downloads on first use.
func TestRetrieveFeatures_InMemory(t *testing.T) {
	if testing.Short() {
		t.Skip("needs the duckdb spatial extension")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{SRID: 3857}, logger.Discard())
	if err != nil {
		t.Skipf("spatial extension unavailable: %v", err)
	}
	defer s.Close()

	stmts := []string{
		"CREATE TABLE pois (id INTEGER, name VARCHAR, geom GEOMETRY)",
		"INSERT INTO pois VALUES (1, 'a', ST_Point(100, 100)), (2, 'b', ST_Point(-100, -100))",
	}
	for _, q := range stmts {
		if _, err := s.DB().ExecContext(ctx, q); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}

	layers, err := s.DetectLayers(ctx)
	if err != nil || len(layers) != 1 || layers[0].Name != "pois" {
		t.Fatalf("layers = %+v, err = %v", layers, err)
	}

	g := grid.WebMercator()
	e, _ := g.TileExtent(1, 1, 0)
	layer := datasource.Layer{Name: "pois", FIDField: "id"}
	var names []string
	err = s.RetrieveFeatures(ctx, layer, e, 1, g, func(f feature.Feature) {
		for _, a := range f.Attributes() {
			if a.Key == "name" {
				names = append(names, a.Value.S)
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "a" {
		t.Fatalf("names = %v, want [a]", names)
	}

	missing := datasource.Layer{Name: "gone", TableName: "gone"}
	err = s.RetrieveFeatures(ctx, missing, e, 1, g, func(feature.Feature) {
		t.Fatal("feature from a missing table")
	})
	if !errors.Is(err, datasource.ErrDatasourceUnavailable) {
		t.Fatalf("missing table: err = %v, want ErrDatasourceUnavailable", err)
	}
}
