package pmtiles

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
)

func TestZxyToID(t *testing.T) {
	cases := []struct {
		z    uint8
		x, y uint32
		want uint64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{1, 0, 1, 2},
		{1, 1, 1, 3},
		{1, 1, 0, 4},
		{2, 0, 0, 5},
	}
	for _, tc := range cases {
		if got := ZxyToID(tc.z, tc.x, tc.y); got != tc.want {
			t.Errorf("ZxyToID(%d,%d,%d) = %d, want %d", tc.z, tc.x, tc.y, got, tc.want)
		}
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	h := HeaderV3{
		SpecVersion: 3, RootOffset: 127, RootLength: 30, MetadataOffset: 157,
		TileDataLength: 1 << 40, Clustered: true, InternalCompression: Gzip,
		TileCompression: Gzip, TileType: Mvt, MinZoom: 2, MaxZoom: 14,
		MinLonE7: -1800000000, MaxLatE7: 850511287, CenterLonE7: -5,
	}
	got, err := DeserializeHeader(SerializeHeader(h))
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("header = %+v\nwant %+v", got, h)
	}
	if _, err := DeserializeHeader([]byte("MBTiles-not-pmtiles")); !errors.Is(err, ErrNotPMTiles) {
		t.Fatalf("err = %v, want ErrNotPMTiles", err)
	}
}

func TestEntries_RoundTrip(t *testing.T) {
	in := []EntryV3{
		{TileID: 0, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 1, Offset: 10, Length: 5, RunLength: 3},
		{TileID: 9, Offset: 0, Length: 10, RunLength: 1},
	}
	for _, c := range []Compression{NoCompression, Gzip} {
		b, err := SerializeEntries(in, c)
		if err != nil {
			t.Fatal(err)
		}
		out, err := DeserializeEntries(b, c)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Fatalf("compression %d: entries = %+v", c, out)
		}
	}
	if _, err := SerializeEntries(in, Zstd); !errors.Is(err, ErrUnsupportedCompression) {
		t.Fatalf("err = %v", err)
	}
}

func TestWriter_DeduplicatesAndReadsBack(t *testing.T) {
	w := NewWriter()
	ocean := []byte("ocean")
	w.Add(1, 0, 0, ocean)
	w.Add(1, 0, 1, ocean)
	w.Add(1, 1, 1, []byte("land"))
	w.Add(1, 1, 0, ocean)
	w.Add(0, 0, 0, []byte("world"))
	w.Add(2, 3, 3, nil)
	if w.Len() != 5 {
		t.Fatalf("Len = %d, want 5", w.Len())
	}

	var buf bytes.Buffer
	_, err := w.WriteTo(&buf, Options{
		TileCompression: NoCompression,
		Bounds:          orb.Bound{Min: orb.Point{5, 45}, Max: orb.Point{11, 48}},
		Metadata:        map[string]any{"name": "test"},
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	h := r.Header()
	if h.AddressedTilesCount != 5 || h.TileContentsCount != 3 || h.TileEntriesCount != 4 {
		t.Fatalf("counts = %d addressed, %d contents, %d entries", h.AddressedTilesCount, h.TileContentsCount, h.TileEntriesCount)
	}
	if h.MinZoom != 0 || h.MaxZoom != 1 || h.MinLonE7 != 50000000 || h.MaxLatE7 != 480000000 {
		t.Fatalf("header = %+v", h)
	}

	want := map[[3]uint32]string{
		{0, 0, 0}: "world",
		{1, 0, 0}: "ocean",
		{1, 0, 1}: "ocean",
		{1, 1, 1}: "land",
		{1, 1, 0}: "ocean",
	}
	for k, v := range want {
		got, ok, err := r.Tile(uint8(k[0]), k[1], k[2])
		if err != nil || !ok || string(got) != v {
			t.Fatalf("tile %v = %q,%v,%v want %q", k, got, ok, err, v)
		}
	}
	if _, ok, _ := r.Tile(2, 0, 0); ok {
		t.Fatal("tile beyond maxzoom found")
	}

	meta, err := r.Metadata()
	if err != nil || meta["name"] != "test" {
		t.Fatalf("metadata = %v, %v", meta, err)
	}
}

// content varies tile lengths so the directory does not compress away.
func content(x, y uint32) []byte {
	pad := xxhash.Sum64String(fmt.Sprint(x, y)) % 200
	return append([]byte(fmt.Sprintf("%d/%d", x, y)), bytes.Repeat([]byte{'.'}, int(pad))...)
}

func TestWriter_LeafDirectories(t *testing.T) {
	w := NewWriter()
	const z = 8
	for x := uint32(0); x < 1<<z; x++ {
		for y := uint32(0); y < 1<<z; y++ {
			w.Add(z, x, y, content(x, y))
		}
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf, Options{TileCompression: NoCompression}); err != nil {
		t.Fatal(err)
	}
	r, err := Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if r.Header().LeafDirectoryLength == 0 {
		t.Fatal("expected leaf directories for 65536 distinct tiles")
	}
	if r.Header().RootLength+HeaderV3LenBytes > maxRootBytes {
		t.Fatalf("root directory of %d bytes too large", r.Header().RootLength)
	}
	for _, xy := range [][2]uint32{{0, 0}, {255, 255}, {17, 200}} {
		got, ok, err := r.Tile(z, xy[0], xy[1])
		if err != nil || !ok || !bytes.Equal(got, content(xy[0], xy[1])) {
			t.Fatalf("tile %v = %q,%v,%v", xy, got, ok, err)
		}
	}
}

func TestWriter_Empty(t *testing.T) {
	if _, err := NewWriter().WriteTo(&bytes.Buffer{}, Options{}); err == nil {
		t.Fatal("expected error for empty archive")
	}
}
