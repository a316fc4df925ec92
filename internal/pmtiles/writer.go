package pmtiles

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
)

// Options describe the archive as a whole.
type Options struct {
	// TileCompression is the compression already applied to added tiles.
	TileCompression Compression
	// Bounds in longitude/latitude; the zero value means the whole world.
	Bounds   orb.Bound
	Metadata map[string]any
}

type pending struct {
	id   uint64
	hash uint64
	data []byte
}

// Writer collects tiles in any order and writes a clustered archive.
// Identical tile contents are stored once. Add is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	tiles   []pending
	minZoom uint8
	maxZoom uint8
}

func NewWriter() *Writer {
	return &Writer{minZoom: math.MaxUint8}
}

// Add stores a tile. Empty tiles are skipped.
func (w *Writer) Add(z uint8, x, y uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	p := pending{id: ZxyToID(z, x, y), hash: xxhash.Sum64(data), data: data}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tiles = append(w.tiles, p)
	w.minZoom = min(w.minZoom, z)
	w.maxZoom = max(w.maxZoom, z)
}

// Len returns the number of tiles added.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tiles)
}

// WriteTo writes header, root directory, metadata, leaf directories and
// tile data in that order.
func (w *Writer) WriteTo(out io.Writer, opts Options) (int64, error) {
	w.mu.Lock()
	tiles := append([]pending(nil), w.tiles...)
	minZoom, maxZoom := w.minZoom, w.maxZoom
	w.mu.Unlock()

	if len(tiles) == 0 {
		return 0, errors.New("no tiles to write")
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].id < tiles[j].id })

	var (
		entries []EntryV3
		data    bytes.Buffer
		offsets = make(map[uint64]EntryV3)
	)
	for i, t := range tiles {
		if i > 0 && t.id == tiles[i-1].id {
			return 0, fmt.Errorf("tile id %d added twice", t.id)
		}
		if prev, ok := offsets[t.hash]; ok {
			last := &entries[len(entries)-1]
			if last.Offset == prev.Offset && t.id == last.TileID+uint64(last.RunLength) {
				last.RunLength++
				continue
			}
			entries = append(entries, EntryV3{TileID: t.id, Offset: prev.Offset, Length: prev.Length, RunLength: 1})
			continue
		}
		e := EntryV3{TileID: t.id, Offset: uint64(data.Len()), Length: uint32(len(t.data)), RunLength: 1}
		offsets[t.hash] = e
		entries = append(entries, e)
		data.Write(t.data)
	}

	root, leaves, err := buildDirectories(entries, Gzip)
	if err != nil {
		return 0, err
	}

	meta := opts.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("metadata: %w", err)
	}
	metaBytes, err := compress(metaJSON, Gzip)
	if err != nil {
		return 0, err
	}

	bounds := opts.Bounds
	if bounds.IsZero() {
		bounds = orb.Bound{Min: orb.Point{-180, -85.0511287798066}, Max: orb.Point{180, 85.0511287798066}}
	}
	center := bounds.Center()

	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          HeaderV3LenBytes,
		RootLength:          uint64(len(root)),
		AddressedTilesCount: uint64(len(tiles)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(offsets)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     opts.TileCompression,
		TileType:            Mvt,
		MinZoom:             minZoom,
		MaxZoom:             maxZoom,
		MinLonE7:            e7(bounds.Min.Lon()),
		MinLatE7:            e7(bounds.Min.Lat()),
		MaxLonE7:            e7(bounds.Max.Lon()),
		MaxLatE7:            e7(bounds.Max.Lat()),
		CenterZoom:          minZoom,
		CenterLonE7:         e7(center.Lon()),
		CenterLatE7:         e7(center.Lat()),
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.MetadataLength = uint64(len(metaBytes))
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.LeafDirectoryLength = uint64(len(leaves))
	h.TileDataOffset = h.LeafDirectoryOffset + h.LeafDirectoryLength
	h.TileDataLength = uint64(data.Len())

	var n int64
	for _, part := range [][]byte{SerializeHeader(h), root, metaBytes, leaves, data.Bytes()} {
		m, err := out.Write(part)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func e7(v float64) int32 { return int32(math.Round(v * 1e7)) }

// buildDirectories keeps every entry in the root when it fits, otherwise
// splits entries into leaf directories, growing the leaf size until the
// root directory fits.
func buildDirectories(entries []EntryV3, c Compression) (root, leaves []byte, err error) {
	root, err = SerializeEntries(entries, c)
	if err != nil {
		return nil, nil, err
	}
	if len(root)+HeaderV3LenBytes <= maxRootBytes {
		return root, nil, nil
	}

	for leafSize := 4096; ; leafSize *= 2 {
		var (
			rootEntries []EntryV3
			buf         bytes.Buffer
		)
		for i := 0; i < len(entries); i += leafSize {
			chunk := entries[i:min(i+leafSize, len(entries))]
			leaf, err := SerializeEntries(chunk, c)
			if err != nil {
				return nil, nil, err
			}
			rootEntries = append(rootEntries, EntryV3{
				TileID: chunk[0].TileID,
				Offset: uint64(buf.Len()),
				Length: uint32(len(leaf)),
			})
			buf.Write(leaf)
		}
		root, err = SerializeEntries(rootEntries, c)
		if err != nil {
			return nil, nil, err
		}
		if len(root)+HeaderV3LenBytes <= maxRootBytes {
			return root, buf.Bytes(), nil
		}
	}
}
