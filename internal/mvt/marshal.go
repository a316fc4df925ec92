package mvt

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/joeblew999/plat-tiles/internal/feature"
)

// Field numbers from vector_tile.proto.
const (
	tileLayers protowire.Number = 3

	layerName     protowire.Number = 1
	layerFeatures protowire.Number = 2
	layerKeys     protowire.Number = 3
	layerValues   protowire.Number = 4
	layerExtent   protowire.Number = 5
	layerVersion  protowire.Number = 15

	featureID       protowire.Number = 1
	featureTags     protowire.Number = 2
	featureType     protowire.Number = 3
	featureGeometry protowire.Number = 4

	valueString protowire.Number = 1
	valueFloat  protowire.Number = 2
	valueDouble protowire.Number = 3
	valueInt    protowire.Number = 4
	valueUInt   protowire.Number = 5
	valueBool   protowire.Number = 7
)

// Marshal encodes the tile. An empty tile encodes to zero bytes.
func (t *Tile) Marshal() []byte {
	var b []byte
	for i := range t.Layers {
		b = protowire.AppendTag(b, tileLayers, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Layers[i].marshal())
	}
	return b
}

func (l *Layer) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, layerName, protowire.BytesType)
	b = protowire.AppendString(b, l.Name)
	for i := range l.Features {
		b = protowire.AppendTag(b, layerFeatures, protowire.BytesType)
		b = protowire.AppendBytes(b, l.Features[i].marshal())
	}
	for _, k := range l.Keys {
		b = protowire.AppendTag(b, layerKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, v := range l.Values {
		b = protowire.AppendTag(b, layerValues, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalValue(v))
	}
	extent := l.Extent
	if extent == 0 {
		extent = DefaultExtent
	}
	b = protowire.AppendTag(b, layerExtent, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(extent))
	version := l.Version
	if version == 0 {
		version = Version
	}
	b = protowire.AppendTag(b, layerVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(version))
	return b
}

func (f *Feature) marshal() []byte {
	var b []byte
	if f.HasID {
		b = protowire.AppendTag(b, featureID, protowire.VarintType)
		b = protowire.AppendVarint(b, f.ID)
	}
	if len(f.Tags) > 0 {
		b = protowire.AppendTag(b, featureTags, protowire.BytesType)
		b = protowire.AppendBytes(b, packed(f.Tags))
	}
	b = protowire.AppendTag(b, featureType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	if len(f.Geometry) > 0 {
		b = protowire.AppendTag(b, featureGeometry, protowire.BytesType)
		b = protowire.AppendBytes(b, packed(f.Geometry))
	}
	return b
}

func packed(vs []uint32) []byte {
	b := make([]byte, 0, len(vs)*2)
	for _, v := range vs {
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

func marshalValue(v feature.Value) []byte {
	var b []byte
	switch v.Type {
	case feature.String:
		b = protowire.AppendTag(b, valueString, protowire.BytesType)
		b = protowire.AppendString(b, v.S)
	case feature.Float:
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v.F))
	case feature.Double:
		b = protowire.AppendTag(b, valueDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.D))
	case feature.Int:
		b = protowire.AppendTag(b, valueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.I))
	case feature.UInt:
		b = protowire.AppendTag(b, valueUInt, protowire.VarintType)
		b = protowire.AppendVarint(b, v.U)
	case feature.Bool:
		b = protowire.AppendTag(b, valueBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v.B))
	}
	return b
}
