package mvt

import (
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/geom"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

// unit is a tile whose grid coordinates equal tile units with y flipped.
var unit = grid.Extent{MinX: 0, MinY: 0, MaxX: 4096, MaxY: 4096}

func pt(x, y float64) geom.Point { return geom.Point{X: x, Y: y, Srid: 3857} }

func line(pts ...geom.Point) geom.LineString { return geom.LineString{Points: pts, Srid: 3857} }

// parts decodes a command stream into absolute point lists, one per MoveTo.
func parts(t *testing.T, cmds []uint32) [][]ipoint {
	t.Helper()
	var (
		out  [][]ipoint
		x, y int32
	)
	for i := 0; i < len(cmds); {
		id, n := cmds[i]&7, int(cmds[i]>>3)
		i++
		if id == cmdClosePath {
			continue
		}
		if id == cmdMoveTo {
			out = append(out, nil)
		}
		for j := 0; j < n; j++ {
			x += int32(protowire.DecodeZigZag(uint64(cmds[i])))
			y += int32(protowire.DecodeZigZag(uint64(cmds[i+1])))
			i += 2
			out[len(out)-1] = append(out[len(out)-1], ipoint{x, y})
		}
	}
	return out
}

func TestPointAtWorldOrigin(t *testing.T) {
	g := grid.WebMercator()
	e, err := g.TileExtent(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, srid := range []int32{3857, 4326} {
		b := NewLayerBuilder("points", e, g.SRID())
		ok, err := b.AddGeometry(geom.Point{Srid: srid}, 0, false, nil)
		if err != nil || !ok {
			t.Fatalf("srid %d: ok=%v err=%v", srid, ok, err)
		}
		got := b.Layer().Features[0]
		if got.Type != GeomPoint {
			t.Fatalf("type = %s", got.Type)
		}
		if want := []uint32{9, 4096, 4096}; !reflect.DeepEqual(got.Geometry, want) {
			t.Fatalf("srid %d: geometry = %v, want %v", srid, got.Geometry, want)
		}
	}
}

func TestCursorCarriesAcrossParts(t *testing.T) {
	b := NewLayerBuilder("l", unit, 3857)
	mls := geom.MultiLineString{Srid: 3857, Lines: []geom.LineString{
		line(pt(10, 4086), pt(20, 4086)),
		line(pt(30, 4076), pt(40, 4076)),
	}}
	if ok, err := b.AddGeometry(mls, 0, false, nil); !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	// second MoveTo is relative to (20,10), not to the origin
	want := []uint32{
		9, 20, 20, 10, 20, 0,
		9, 20, 20, 10, 20, 0,
	}
	if got := b.Layer().Features[0].Geometry; !reflect.DeepEqual(got, want) {
		t.Fatalf("geometry = %v, want %v", got, want)
	}
}

func TestMultiPointSingleMoveTo(t *testing.T) {
	b := NewLayerBuilder("l", unit, 3857)
	mp := geom.MultiPoint{Srid: 3857, Points: []geom.Point{pt(1, 4095), pt(3, 4094), pt(9000, 1)}}
	if ok, err := b.AddGeometry(mp, 0, false, nil); !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	want := []uint32{command(cmdMoveTo, 2), 2, 2, 4, 2}
	if got := b.Layer().Features[0].Geometry; !reflect.DeepEqual(got, want) {
		t.Fatalf("geometry = %v, want %v", got, want)
	}
}

func TestPolygonWinding(t *testing.T) {
	ccw := line(pt(100, 100), pt(900, 100), pt(900, 900), pt(100, 900), pt(100, 100))
	cw := line(pt(100, 100), pt(100, 900), pt(900, 900), pt(900, 100), pt(100, 100))
	holeCCW := line(pt(300, 300), pt(600, 300), pt(600, 600), pt(300, 600), pt(300, 300))
	holeCW := line(pt(300, 300), pt(300, 600), pt(600, 600), pt(600, 300), pt(300, 300))

	cases := []struct {
		name  string
		rings []geom.LineString
	}{
		{"ccw exterior ccw hole", []geom.LineString{ccw, holeCCW}},
		{"cw exterior cw hole", []geom.LineString{cw, holeCW}},
		{"cw exterior ccw hole", []geom.LineString{cw, holeCCW}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewLayerBuilder("l", unit, 3857)
			ok, err := b.AddGeometry(geom.Polygon{Rings: tc.rings, Srid: 3857}, 0, false, nil)
			if err != nil || !ok {
				t.Fatalf("ok=%v err=%v", ok, err)
			}
			f := b.Layer().Features[0]
			if f.Type != GeomPolygon {
				t.Fatalf("type = %s", f.Type)
			}
			rings := parts(t, f.Geometry)
			if len(rings) != 2 {
				t.Fatalf("rings = %d, want 2", len(rings))
			}
			if a := area(rings[0]); a <= 0 {
				t.Fatalf("exterior area = %d, want > 0", a)
			}
			if a := area(rings[1]); a >= 0 {
				t.Fatalf("hole area = %d, want < 0", a)
			}
			if len(rings[0]) != 4 {
				t.Fatalf("closing point should be implied by ClosePath, got %v", rings[0])
			}
		})
	}
}

func TestClippingKeepsCoordinatesInsideTile(t *testing.T) {
	b := NewLayerBuilder("l", unit, 3857)
	cross := line(pt(-1000, 2000), pt(5000, 2000))
	huge := geom.Polygon{Srid: 3857, Rings: []geom.LineString{
		line(pt(-1e6, -1e6), pt(1e6, -1e6), pt(1e6, 1e6), pt(-1e6, 1e6), pt(-1e6, -1e6)),
	}}
	for _, g := range []geom.Geometry{cross, huge} {
		if ok, err := b.AddGeometry(g, 0, false, nil); !ok || err != nil {
			t.Fatalf("%s: ok=%v err=%v", g.Kind(), ok, err)
		}
	}
	for _, f := range b.Layer().Features {
		for _, p := range parts(t, f.Geometry) {
			for _, q := range p {
				if q.x < 0 || q.y < 0 || q.x > 4095 || q.y > 4095 {
					t.Fatalf("%s: point %v outside tile", f.Type, q)
				}
			}
		}
	}
	poly := parts(t, b.Layer().Features[1].Geometry)
	if len(poly) != 1 || area(poly[0]) <= 0 {
		t.Fatalf("clipped polygon = %v", poly)
	}
}

func TestOutsideGeometryDroppedWithoutDictionaryEntries(t *testing.T) {
	b := NewLayerBuilder("l", unit, 3857)
	attrs := []feature.Attr{{Key: "name", Value: feature.StringValue("far")}}
	cases := []geom.Geometry{
		pt(5000, 5000),
		pt(4096, 100),
		line(pt(5000, 0), pt(6000, 10)),
		geom.Polygon{Srid: 3857, Rings: []geom.LineString{line(pt(5000, 5000), pt(6000, 5000), pt(6000, 6000), pt(5000, 5000))}},
	}
	for _, g := range cases {
		ok, err := b.AddGeometry(g, 1, true, attrs)
		if err != nil || ok {
			t.Fatalf("%s: ok=%v err=%v, want silent drop", g.Kind(), ok, err)
		}
	}
	l := b.Layer()
	if len(l.Features) != 0 || len(l.Keys) != 0 || len(l.Values) != 0 {
		t.Fatalf("layer = %+v, want empty", l)
	}
}

func TestDegenerateGeometryDropped(t *testing.T) {
	b := NewLayerBuilder("l", unit, 3857)
	tiny := geom.Polygon{Srid: 3857, Rings: []geom.LineString{
		line(pt(10, 10), pt(10.2, 10), pt(10.2, 10.2), pt(10, 10)),
	}}
	stub := line(pt(10, 10), pt(10.1, 10.1))
	for _, g := range []geom.Geometry{tiny, stub} {
		if ok, err := b.AddGeometry(g, 0, false, nil); ok || err != nil {
			t.Fatalf("%s: ok=%v err=%v", g.Kind(), ok, err)
		}
	}
}

func TestDictionaryFirstSeenOrder(t *testing.T) {
	b := NewLayerBuilder("l", unit, 3857)
	add := func(attrs ...feature.Attr) {
		t.Helper()
		if ok, err := b.AddGeometry(pt(1, 1), 0, false, attrs); !ok || err != nil {
			t.Fatalf("ok=%v err=%v", ok, err)
		}
	}
	add(feature.Attr{Key: "kind", Value: feature.StringValue("road")},
		feature.Attr{Key: "lanes", Value: feature.IntValue(2)})
	add(feature.Attr{Key: "lanes", Value: feature.IntValue(2)},
		feature.Attr{Key: "oneway", Value: feature.BoolValue(true)})
	add(feature.Attr{Key: "kind", Value: feature.StringValue("path")},
		feature.Attr{Key: "lanes", Value: feature.UIntValue(2)})

	l := b.Layer()
	if want := []string{"kind", "lanes", "oneway"}; !reflect.DeepEqual(l.Keys, want) {
		t.Fatalf("keys = %v, want %v", l.Keys, want)
	}
	wantValues := []feature.Value{
		feature.StringValue("road"),
		feature.IntValue(2),
		feature.BoolValue(true),
		feature.StringValue("path"),
		feature.UIntValue(2),
	}
	if !reflect.DeepEqual(l.Values, wantValues) {
		t.Fatalf("values = %v, want %v", l.Values, wantValues)
	}
	wantTags := [][]uint32{{0, 0, 1, 1}, {1, 1, 2, 2}, {0, 3, 1, 4}}
	for i, f := range l.Features {
		if !reflect.DeepEqual(f.Tags, wantTags[i]) {
			t.Fatalf("feature %d tags = %v, want %v", i, f.Tags, wantTags[i])
		}
	}
}

func TestUnsupportedReprojection(t *testing.T) {
	b := NewLayerBuilder("l", unit, 3857)
	_, err := b.AddGeometry(geom.Point{X: 1, Y: 1, Srid: 27700}, 0, false, nil)
	if !errors.Is(err, geom.ErrUnsupportedGeometry) {
		t.Fatalf("err = %v, want ErrUnsupportedGeometry", err)
	}
}

func TestValidateRejectsBrokenStreams(t *testing.T) {
	cases := []struct {
		name string
		typ  GeomType
		cmds []uint32
	}{
		{"outside", GeomPoint, []uint32{9, 9000, 2}},
		{"negative", GeomPoint, []uint32{9, 1, 2}},
		{"truncated", GeomLineString, []uint32{9, 2, 2, command(cmdLineTo, 2), 2, 2}},
		{"zero count", GeomLineString, []uint32{command(cmdMoveTo, 0)}},
		{"hole first", GeomPolygon, []uint32{9, 2, 2, command(cmdLineTo, 2), 0, 20, 20, 0, 15}},
		{"close on line", GeomLineString, []uint32{9, 2, 2, command(cmdLineTo, 1), 4, 4, 15}},
		{"unknown command", GeomPoint, []uint32{3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validate(tc.typ, tc.cmds, DefaultExtent); !errors.Is(err, ErrEncodingInvariant) {
				t.Fatalf("err = %v, want ErrEncodingInvariant", err)
			}
		})
	}
	ok := []uint32{9, 2, 2, command(cmdLineTo, 2), 20, 0, 0, 20, 15}
	if err := validate(GeomPolygon, ok, DefaultExtent); err != nil {
		t.Fatalf("valid polygon rejected: %v", err)
	}
}
