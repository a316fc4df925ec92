// Package feature defines the per-record view datasources hand to the tile
// pipeline and the attribute value types the tile encoder understands.
package feature

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/joeblew999/plat-tiles/internal/geom"
)

// ErrUnmappedAttributeType marks an attribute value with no Value variant.
var ErrUnmappedAttributeType = errors.New("unmapped attribute type")

// Feature is a view over one source record. It is only valid for the
// duration of the callback it was passed to.
type Feature interface {
	// FID returns the feature id when the layer declares an id field and
	// the record holds an integer value for it.
	FID() (uint64, bool)
	// Attributes returns every mappable field of the record in schema order.
	Attributes() []Attr
	// Geometry converts the record's geometry column.
	Geometry() (geom.Geometry, error)
}

// Attr is one key/value pair of a feature.
type Attr struct {
	Key   string
	Value Value
}

// ValueType tags a Value variant.
type ValueType uint8

const (
	String ValueType = iota + 1
	Float
	Double
	Int
	UInt
	Bool
)

// Value is a tagged attribute value. Only the field matching Type is set,
// which keeps Value comparable for dictionary deduplication.
type Value struct {
	Type ValueType
	S    string
	F    float32
	D    float64
	I    int64
	U    uint64
	B    bool
}

func StringValue(s string) Value  { return Value{Type: String, S: s} }
func FloatValue(f float32) Value  { return Value{Type: Float, F: f} }
func DoubleValue(d float64) Value { return Value{Type: Double, D: d} }
func IntValue(i int64) Value      { return Value{Type: Int, I: i} }
func UIntValue(u uint64) Value    { return Value{Type: UInt, U: u} }
func BoolValue(b bool) Value      { return Value{Type: Bool, B: b} }

// Any returns the Go value held by v.
func (v Value) Any() any {
	switch v.Type {
	case String:
		return v.S
	case Float:
		return v.F
	case Double:
		return v.D
	case Int:
		return v.I
	case UInt:
		return v.U
	case Bool:
		return v.B
	}
	return nil
}

func (v Value) String() string {
	return fmt.Sprint(v.Any())
}

// ValueOf classifies a native value. Nil yields ok=false with no error;
// types without a variant yield ErrUnmappedAttributeType.
func ValueOf(x any) (v Value, ok bool, err error) {
	switch t := x.(type) {
	case nil:
		return Value{}, false, nil
	case string:
		return StringValue(t), true, nil
	case bool:
		return BoolValue(t), true, nil
	case int:
		return IntValue(int64(t)), true, nil
	case int8:
		return IntValue(int64(t)), true, nil
	case int16:
		return IntValue(int64(t)), true, nil
	case int32:
		return IntValue(int64(t)), true, nil
	case int64:
		return IntValue(t), true, nil
	case uint:
		return UIntValue(uint64(t)), true, nil
	case uint8:
		return UIntValue(uint64(t)), true, nil
	case uint16:
		return UIntValue(uint64(t)), true, nil
	case uint32:
		return UIntValue(uint64(t)), true, nil
	case uint64:
		return UIntValue(t), true, nil
	case float32:
		return FloatValue(t), true, nil
	case float64:
		return DoubleValue(t), true, nil
	}
	return Value{}, false, fmt.Errorf("%w: %T", ErrUnmappedAttributeType, x)
}

// FIDOf interprets a native id value. Negative numbers and non-integral
// floats are not ids.
func FIDOf(x any) (uint64, bool) {
	switch t := x.(type) {
	case int:
		return nonNegative(int64(t))
	case int8:
		return nonNegative(int64(t))
	case int16:
		return nonNegative(int64(t))
	case int32:
		return nonNegative(int64(t))
	case int64:
		return nonNegative(t)
	case uint:
		return uint64(t), true
	case uint8:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint32:
		return uint64(t), true
	case uint64:
		return t, true
	case float32:
		return FIDOf(float64(t))
	case float64:
		if t >= 0 && t < 1<<63 && t == math.Trunc(t) {
			return uint64(t), true
		}
	}
	return 0, false
}

func nonNegative(i int64) (uint64, bool) {
	if i < 0 {
		return 0, false
	}
	return uint64(i), true
}

// Field is a named native value read from a source record.
type Field struct {
	Name  string
	Value any
}

// CollectAttrs maps native fields to attributes, skipping nulls and logging
// a warning for each value with no Value variant.
func CollectAttrs(log *slog.Logger, layer string, fields []Field) []Attr {
	attrs := make([]Attr, 0, len(fields))
	for _, f := range fields {
		v, ok, err := ValueOf(f.Value)
		if err != nil {
			log.Warn("skipping attribute", "layer", layer, "field", f.Name, "err", err)
			continue
		}
		if !ok {
			continue
		}
		attrs = append(attrs, Attr{Key: f.Name, Value: v})
	}
	return attrs
}
