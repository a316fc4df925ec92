package mvt

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-tiles/internal/geom"
)

func TestSquareClipper(t *testing.T) {
	c := squareClipper{size: 4096}
	bracket := orb.Polygon{{
		{1000, 3500}, {5000, 3500}, {5000, 500}, {1000, 500},
		{1000, 1000}, {4500, 1000}, {4500, 3000}, {1000, 3000}, {1000, 3500},
	}}
	notched := orb.Polygon{
		{{500, 500}, {5000, 500}, {5000, 3500}, {500, 3500}, {500, 500}},
		{{3000, 1500}, {3000, 2500}, {4500, 2500}, {4500, 1500}, {3000, 1500}},
	}
	around := orb.Polygon{
		{{-1e5, -1e5}, {1e5, -1e5}, {1e5, 1e5}, {-1e5, 1e5}, {-1e5, -1e5}},
		{{1000, 1000}, {1000, 2000}, {2000, 2000}, {2000, 1000}, {1000, 1000}},
	}
	framed := orb.Polygon{
		{{-1e5, -1e5}, {1e5, -1e5}, {1e5, 1e5}, {-1e5, 1e5}, {-1e5, -1e5}},
		{{-1e4, -1e4}, {-1e4, 1e4}, {1e4, 1e4}, {1e4, -1e4}, {-1e4, -1e4}},
	}
	inside := orb.Polygon{{{10, 10}, {20, 10}, {20, 20}, {10, 20}, {10, 10}}}
	outside := orb.Polygon{{{5000, 10}, {6000, 10}, {6000, 20}, {5000, 10}}}

	cases := []struct {
		name  string
		poly  orb.Polygon
		areas [][]float64
	}{
		{"concave bracket", bracket, [][]float64{{3096 * 500}, {3096 * 500}}},
		{"hole across edge", notched, [][]float64{{3596*3000 - 1096*1000}}},
		{"square inside exterior", around, [][]float64{{4096 * 4096, -1000 * 1000}}},
		{"square inside hole", framed, nil},
		{"inside", inside, [][]float64{{100}}},
		{"outside", outside, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.polygon(tc.poly)
			if len(got) != len(tc.areas) {
				t.Fatalf("polygons = %d, want %d: %v", len(got), len(tc.areas), got)
			}
			for i, p := range got {
				if len(p) != len(tc.areas[i]) {
					t.Fatalf("polygon %d rings = %d, want %d", i, len(p), len(tc.areas[i]))
				}
				for j, r := range p {
					if r[0] != r[len(r)-1] {
						t.Fatalf("polygon %d ring %d not closed", i, j)
					}
					if a := signedArea(openRing(r)) / 2; math.Abs(a-tc.areas[i][j]) > 1e-6 {
						t.Fatalf("polygon %d ring %d area = %v, want %v", i, j, a, tc.areas[i][j])
					}
					for _, q := range r {
						if !c.contains(q) {
							t.Fatalf("point %v outside square", q)
						}
					}
				}
			}
		})
	}
}

func TestConcavePolygonSplitsAtTileEdge(t *testing.T) {
	b := NewLayerBuilder("l", unit, 3857)
	bracket := geom.Polygon{Srid: 3857, Rings: []geom.LineString{line(
		pt(1000, 3500), pt(5000, 3500), pt(5000, 500), pt(1000, 500),
		pt(1000, 1000), pt(4500, 1000), pt(4500, 3000), pt(1000, 3000), pt(1000, 3500),
	)}}
	if ok, err := b.AddGeometry(bracket, 0, false, nil); !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	rings := parts(t, b.Layer().Features[0].Geometry)
	if len(rings) != 2 {
		t.Fatalf("rings = %v, want two separate exteriors", rings)
	}
	var spans [2][2]int32
	for i, r := range rings {
		if len(r) != 4 || area(r) <= 0 {
			t.Fatalf("ring %d = %v, want a positive rectangle", i, r)
		}
		lo, hi := r[0].y, r[0].y
		for _, q := range r {
			lo, hi = min(lo, q.y), max(hi, q.y)
		}
		spans[i] = [2]int32{lo, hi}
	}
	if spans[0][1] >= spans[1][0] && spans[1][1] >= spans[0][0] {
		t.Fatalf("rings overlap in y: %v", spans)
	}
}
