package mvt

import (
	"testing"

	"github.com/paulmach/orb"
	orbmvt "github.com/paulmach/orb/encoding/mvt"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/joeblew999/plat-tiles/internal/feature"
)

func sampleTile(t *testing.T) *Tile {
	t.Helper()
	roads := NewLayerBuilder("roads", unit, 3857)
	if ok, err := roads.AddGeometry(line(pt(10, 4086), pt(100, 4086)), 7, true, []feature.Attr{
		{Key: "name", Value: feature.StringValue("Main St")},
		{Key: "lanes", Value: feature.IntValue(-2)},
		{Key: "width", Value: feature.DoubleValue(7.5)},
		{Key: "speed", Value: feature.FloatValue(1.5)},
		{Key: "toll", Value: feature.BoolValue(false)},
		{Key: "rank", Value: feature.UIntValue(3)},
	}); !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	places := NewLayerBuilder("places", unit, 3857)
	if ok, err := places.AddGeometry(pt(2048, 2048), 0, false, nil); !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	empty := NewLayerBuilder("empty", unit, 3857)
	return &Tile{Layers: []Layer{roads.Layer(), places.Layer(), empty.Layer()}}
}

func TestMarshal_DecodesWithOrb(t *testing.T) {
	data := sampleTile(t).Marshal()
	layers, err := orbmvt.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(layers) != 3 {
		t.Fatalf("layers = %d, want 3", len(layers))
	}
	for i, name := range []string{"roads", "places", "empty"} {
		if layers[i].Name != name {
			t.Fatalf("layer %d = %q, want %q", i, layers[i].Name, name)
		}
		if layers[i].Version != Version || layers[i].Extent != DefaultExtent {
			t.Fatalf("layer %s version/extent = %d/%d", name, layers[i].Version, layers[i].Extent)
		}
	}
	if n := len(layers[2].Features); n != 0 {
		t.Fatalf("empty layer has %d features", n)
	}

	road := layers[0].Features[0]
	ls, ok := road.Geometry.(orb.LineString)
	if !ok {
		t.Fatalf("road geometry = %T", road.Geometry)
	}
	if want := (orb.LineString{{10, 10}, {100, 10}}); !ls.Equal(want) {
		t.Fatalf("road = %v, want %v", ls, want)
	}
	if got := road.Properties["name"]; got != "Main St" {
		t.Fatalf("name = %v", got)
	}
	if got := road.Properties["toll"]; got != false {
		t.Fatalf("toll = %v", got)
	}
	numeric := map[string]float64{"lanes": -2, "width": 7.5, "speed": 1.5, "rank": 3}
	for k, want := range numeric {
		if got := asFloat(road.Properties[k]); got != want {
			t.Fatalf("%s = %v (%T), want %v", k, road.Properties[k], road.Properties[k], want)
		}
	}

	place, ok := layers[1].Features[0].Geometry.(orb.Point)
	if !ok || !place.Equal(orb.Point{2048, 2048}) {
		t.Fatalf("place = %v", layers[1].Features[0].Geometry)
	}
}

func TestMarshal_EmptyTile(t *testing.T) {
	if b := (&Tile{}).Marshal(); len(b) != 0 {
		t.Fatalf("empty tile encoded to %d bytes", len(b))
	}
}

func TestMarshal_FeatureIDOnlyWhenPresent(t *testing.T) {
	with := (&Feature{ID: 7, HasID: true, Type: GeomPoint, Geometry: []uint32{9, 2, 2}}).marshal()
	without := (&Feature{Type: GeomPoint, Geometry: []uint32{9, 2, 2}}).marshal()

	if id, ok := fieldVarint(t, with, featureID); !ok || id != 7 {
		t.Fatalf("id = %d,%v want 7", id, ok)
	}
	if _, ok := fieldVarint(t, without, featureID); ok {
		t.Fatal("feature without id must omit field 1")
	}
	if typ, _ := fieldVarint(t, without, featureType); typ != uint64(GeomPoint) {
		t.Fatalf("type = %d", typ)
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	a := string(sampleTile(t).Marshal())
	b := string(sampleTile(t).Marshal())
	if a != b {
		t.Fatal("identical input produced different bytes")
	}
}

func fieldVarint(t *testing.T, b []byte, want protowire.Number) (uint64, bool) {
	t.Helper()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("bad tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		if num == want && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				t.Fatalf("bad varint: %v", protowire.ParseError(m))
			}
			return v, true
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			t.Fatalf("bad field %d: %v", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return 0, false
}

func asFloat(v any) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case int:
		return float64(v)
	}
	return -1
}
