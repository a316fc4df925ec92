// Package mvt builds Mapbox Vector Tile (v2.1) layers from features and
// serializes them to the protobuf wire format.
package mvt

import (
	"errors"

	"github.com/joeblew999/plat-tiles/internal/feature"
)

// ContentType is the media type of an encoded tile.
const ContentType = "application/x-protobuf"

const (
	// Version is the MVT layer version written to every layer.
	Version = 2
	// DefaultExtent is the number of integer units along a tile edge.
	DefaultExtent = 4096
)

// ErrEncodingInvariant reports a feature whose encoded geometry failed the
// post-encoding checks. The feature is dropped.
var ErrEncodingInvariant = errors.New("mvt encoding invariant violated")

// GeomType is the MVT geometry type enum.
type GeomType uint32

const (
	GeomUnknown GeomType = iota
	GeomPoint
	GeomLineString
	GeomPolygon
)

func (t GeomType) String() string {
	switch t {
	case GeomPoint:
		return "POINT"
	case GeomLineString:
		return "LINESTRING"
	case GeomPolygon:
		return "POLYGON"
	}
	return "UNKNOWN"
}

// Feature is one encoded feature. Tags alternate key and value indexes
// into the owning layer's dictionaries.
type Feature struct {
	ID       uint64
	HasID    bool
	Tags     []uint32
	Type     GeomType
	Geometry []uint32
}

// Layer is a named feature collection with its key and value dictionaries.
type Layer struct {
	Name     string
	Version  uint32
	Extent   uint32
	Features []Feature
	Keys     []string
	Values   []feature.Value
}

// Tile is an ordered list of layers.
type Tile struct {
	Layers []Layer
	// Degraded names the layers left empty because their fetch failed.
	// It is not encoded.
	Degraded []string
}

// Layer returns the layer with the given name.
func (t *Tile) Layer(name string) (*Layer, bool) {
	for i := range t.Layers {
		if t.Layers[i].Name == name {
			return &t.Layers[i], true
		}
	}
	return nil, false
}

// IsDegraded reports whether any layer failed to fetch.
func (t *Tile) IsDegraded() bool { return len(t.Degraded) > 0 }

// NumFeatures counts features across all layers.
func (t *Tile) NumFeatures() int {
	n := 0
	for _, l := range t.Layers {
		n += len(l.Features)
	}
	return n
}
