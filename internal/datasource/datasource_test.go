package datasource

import "testing"

func TestLayer_InZoom(t *testing.T) {
	cases := []struct {
		name  string
		layer Layer
		in    []uint8
		out   []uint8
	}{
		{"unbounded", Layer{}, []uint8{0, 14, 30}, nil},
		{"min only", Layer{MinZoom: 5}, []uint8{5, 30}, []uint8{0, 4}},
		{"range", Layer{MinZoom: 2, MaxZoom: ZoomLevel(10)}, []uint8{2, 10}, []uint8{1, 11}},
		{"zoom zero only", Layer{MaxZoom: ZoomLevel(0)}, []uint8{0}, []uint8{1, 12}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, z := range tc.in {
				if !tc.layer.InZoom(z) {
					t.Errorf("zoom %d excluded", z)
				}
			}
			for _, z := range tc.out {
				if tc.layer.InZoom(z) {
					t.Errorf("zoom %d included", z)
				}
			}
		})
	}
}

func TestLayer_Source(t *testing.T) {
	if got := (Layer{Name: "roads"}).Source(); got != "roads" {
		t.Fatalf("Source = %q", got)
	}
	if got := (Layer{Name: "roads", TableName: "osm.roads"}).Source(); got != "osm.roads" {
		t.Fatalf("Source = %q", got)
	}
}
