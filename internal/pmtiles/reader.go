package pmtiles

import (
	"encoding/json"
	"fmt"
	"io"
)

// Reader serves tiles out of an archive. It only reads through the
// io.ReaderAt and is safe for concurrent use when the ReaderAt is.
type Reader struct {
	ra     io.ReaderAt
	header HeaderV3
	root   []EntryV3
}

// Open reads the header and root directory.
func Open(ra io.ReaderAt) (*Reader, error) {
	buf := make([]byte, HeaderV3LenBytes)
	if _, err := ra.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPMTiles, err)
	}
	h, err := DeserializeHeader(buf)
	if err != nil {
		return nil, err
	}
	r := &Reader{ra: ra, header: h}
	r.root, err = r.directory(h.RootOffset, h.RootLength)
	if err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	return r, nil
}

func (r *Reader) Header() HeaderV3 { return r.header }

func (r *Reader) read(off, n uint64) ([]byte, error) {
	b := make([]byte, n)
	if _, err := r.ra.ReadAt(b, int64(off)); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Reader) directory(off, n uint64) ([]EntryV3, error) {
	b, err := r.read(off, n)
	if err != nil {
		return nil, err
	}
	return DeserializeEntries(b, r.header.InternalCompression)
}

// Metadata decodes the JSON metadata block.
func (r *Reader) Metadata() (map[string]any, error) {
	b, err := r.read(r.header.MetadataOffset, r.header.MetadataLength)
	if err != nil {
		return nil, err
	}
	raw, err := decompress(b, r.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return meta, nil
}

// Tile returns the stored bytes of z/x/y, still compressed with the
// archive's tile compression, and whether the archive holds it.
func (r *Reader) Tile(z uint8, x, y uint32) ([]byte, bool, error) {
	if z < r.header.MinZoom || z > r.header.MaxZoom {
		return nil, false, nil
	}
	id := ZxyToID(z, x, y)
	dir := r.root
	for depth := 0; depth < 4; depth++ {
		e, ok := findTile(dir, id)
		if !ok {
			return nil, false, nil
		}
		if e.RunLength > 0 {
			b, err := r.read(r.header.TileDataOffset+e.Offset, uint64(e.Length))
			return b, err == nil, err
		}
		leaf, err := r.directory(r.header.LeafDirectoryOffset+e.Offset, uint64(e.Length))
		if err != nil {
			return nil, false, fmt.Errorf("leaf directory: %w", err)
		}
		dir = leaf
	}
	return nil, false, fmt.Errorf("directory nesting too deep for tile %d/%d/%d", z, x, y)
}
