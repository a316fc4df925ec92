package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-tiles/internal/config"
)

const places = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "id": 1, "properties": {"name": "Zürich"},
   "geometry": {"type": "Point", "coordinates": [8.54, 47.37]}}
]}`

// testOptions writes a geojson directory and a config pointing at it.
func testOptions(t *testing.T) (*Options, string) {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	if err := os.Mkdir(data, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(data, "places.geojson"), []byte(places), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := "datasource:\n  kind: geojson\n  dir: " + data + "\nlog:\n  level: error\n"
	path := filepath.Join(dir, "tiles.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Options{Config: path}, dir
}

func TestGenConfig(t *testing.T) {
	opts, _ := testOptions(t)
	var out bytes.Buffer
	if err := genConfig(context.Background(), opts, &out); err != nil {
		t.Fatalf("genConfig: %v", err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(out.Bytes(), &cfg); err != nil {
		t.Fatalf("output is not yaml: %v\n%s", err, out.String())
	}
	if len(cfg.Layers) != 1 || cfg.Layers[0].Name != "places" {
		t.Fatalf("layers = %+v", cfg.Layers)
	}
}

func TestGenConfig_MissingDirReturnsError(t *testing.T) {
	opts, dir := testOptions(t)
	if err := os.RemoveAll(filepath.Join(dir, "data")); err != nil {
		t.Fatal(err)
	}
	if err := genConfig(context.Background(), opts, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error for a missing data directory")
	}
}

func TestSeed(t *testing.T) {
	opts, dir := testOptions(t)
	output := filepath.Join(dir, "places.pmtiles")
	var out bytes.Buffer
	err := seed(context.Background(), opts, seedFlags{Topic: "all", MaxZoom: 1, Output: output, Gzip: true, Workers: 2}, &out)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Wrote "+output+": 2 tiles") {
		t.Fatalf("summary = %q", out.String())
	}
	if fi, err := os.Stat(output); err != nil || fi.Size() == 0 {
		t.Fatalf("archive: %v", err)
	}

	if err := seed(context.Background(), opts, seedFlags{Topic: "all", BBox: "1,2,3", Output: output}, &out); err == nil {
		t.Fatal("expected a bbox error")
	}
}

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("5.9, 45.8,10.5,47.8")
	if err != nil {
		t.Fatal(err)
	}
	if want := (orb.Bound{Min: orb.Point{5.9, 45.8}, Max: orb.Point{10.5, 47.8}}); b != want {
		t.Fatalf("bound = %v, want %v", b, want)
	}
	if b, err := parseBBox(""); err != nil || !b.IsZero() {
		t.Fatalf("empty: %v, %v", b, err)
	}
	for _, in := range []string{"1,2,3", "a,b,c,d", "10,0,0,10"} {
		if _, err := parseBBox(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}
