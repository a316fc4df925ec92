package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-tiles/internal/config"
	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/logger"
	"github.com/joeblew999/plat-tiles/internal/service"
)

const parks = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "geometry": {"type": "Point", "coordinates": [8.54, 47.37]},
   "properties": {"id": 7, "name": "Platzspitz"}}
]}`

func geojsonConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "parks.geojson"), []byte(parks), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Datasource.Dir = dir
	return cfg
}

func TestBuild_DetectsLayers(t *testing.T) {
	svc, ds, err := Build(context.Background(), geojsonConfig(t), logger.Discard(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer ds.Close()

	if l := svc.Layers(); len(l) != 1 || l[0].Name != "parks" {
		t.Fatalf("layers = %+v", l)
	}
	tile, err := svc.Tile(context.Background(), service.AllTopic, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tile.NumFeatures() != 1 {
		t.Fatalf("features = %d, want 1", tile.NumFeatures())
	}
}

func TestBuild_ConfiguredLayersAndTopics(t *testing.T) {
	cfg := geojsonConfig(t)
	cfg.Layers = []datasource.Layer{{Name: "green", TableName: "parks.geojson", SRID: 4326}}
	cfg.Topics = []service.Topic{{Name: "leisure", Layers: []string{"green"}}}
	svc, ds, err := Build(context.Background(), cfg, logger.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	if _, err := svc.ResolveLayers("leisure"); err != nil {
		t.Fatal(err)
	}
	cfg.Topics = []service.Topic{{Name: "broken", Layers: []string{"missing"}}}
	if _, _, err := Build(context.Background(), cfg, logger.Discard(), nil); err == nil {
		t.Fatal("expected error for topic with unknown layer")
	}
}

func TestOpenDatasource_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenDatasource(ctx, config.DatasourceConfig{Kind: "oracle"}, logger.Discard()); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("err = %v", err)
	}
	ds, err := OpenDatasource(ctx, config.DatasourceConfig{Kind: config.KindGeoJSON, Dir: filepath.Join(t.TempDir(), "none")}, logger.Discard())
	if !errors.Is(err, datasource.ErrDatasourceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if ds != nil {
		t.Fatal("datasource returned with error")
	}
}

func TestGeneration(t *testing.T) {
	a, ds, err := Build(context.Background(), geojsonConfig(t), logger.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	cfg := geojsonConfig(t)
	cfg.Layers = []datasource.Layer{{Name: "parks", SRID: 4326, MinZoom: 3}}
	b, ds2, err := Build(context.Background(), cfg, logger.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ds2.Close()

	if Generation(a, 4096) != Generation(a, 4096) {
		t.Fatal("generation not stable")
	}
	if Generation(a, 4096) == Generation(b, 4096) {
		t.Fatal("layer change kept generation")
	}
	if Generation(a, 4096) == Generation(a, 512) {
		t.Fatal("extent change kept generation")
	}
}

func TestGenConfig(t *testing.T) {
	out, err := GenConfig(config.DatasourceConfig{Kind: config.KindGeoJSON, Dir: "data"},
		[]datasource.Layer{{Name: "parks", SRID: 4326}, {Name: "rivers", SRID: 4326}})
	if err != nil {
		t.Fatal(err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Layers) != 2 || len(cfg.Topics) != 1 || strings.Join(cfg.Topics[0].Layers, ",") != "parks,rivers" {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.Datasource.Kind != config.KindGeoJSON {
		t.Fatalf("datasource = %+v", cfg.Datasource)
	}
}
