package geom

import (
	"errors"
	"fmt"
)

// ErrUnsupportedGeometry is returned for geometry kinds the model cannot
// represent, and for children whose kind does not fit their parent.
var ErrUnsupportedGeometry = errors.New("unsupported geometry")

// Accessor exposes a native geometry of some external library to Convert.
// Implementations must return errors, not panic, for out-of-range indices.
type Accessor interface {
	Kind() Kind
	NumChildren() int
	Child(i int) (Accessor, error)
	NumPoints() int
	PointAt(i int) (x, y float64, err error)
}

// Convert builds a Geometry from a native geometry, keeping X/Y values
// exactly and tagging every part with srid.
func Convert(a Accessor, srid int32) (Geometry, error) {
	switch a.Kind() {
	case KindPoint:
		return convertPoint(a, srid)

	case KindMultiPoint:
		mp := MultiPoint{Points: make([]Point, 0, a.NumChildren()), Srid: srid}
		for i := 0; i < a.NumChildren(); i++ {
			c, err := child(a, i, KindPoint)
			if err != nil {
				return nil, err
			}
			p, err := convertPoint(c, srid)
			if err != nil {
				return nil, err
			}
			mp.Points = append(mp.Points, p)
		}
		return mp, nil

	case KindLineString:
		return convertLineString(a, srid)

	case KindMultiLineString:
		mls := MultiLineString{Lines: make([]LineString, 0, a.NumChildren()), Srid: srid}
		for i := 0; i < a.NumChildren(); i++ {
			c, err := child(a, i, KindLineString)
			if err != nil {
				return nil, err
			}
			ls, err := convertLineString(c, srid)
			if err != nil {
				return nil, err
			}
			mls.Lines = append(mls.Lines, ls)
		}
		return mls, nil

	case KindPolygon:
		return convertPolygon(a, srid)

	case KindMultiPolygon:
		mp := MultiPolygon{Polygons: make([]Polygon, 0, a.NumChildren()), Srid: srid}
		for i := 0; i < a.NumChildren(); i++ {
			c, err := child(a, i, KindPolygon)
			if err != nil {
				return nil, err
			}
			p, err := convertPolygon(c, srid)
			if err != nil {
				return nil, err
			}
			mp.Polygons = append(mp.Polygons, p)
		}
		return mp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, a.Kind())
}

func child(a Accessor, i int, want Kind) (Accessor, error) {
	c, err := a.Child(i)
	if err != nil {
		return nil, fmt.Errorf("%s child %d: %w", a.Kind(), i, err)
	}
	if c.Kind() != want {
		return nil, fmt.Errorf("%w: %s child %d is %s, expected %s",
			ErrUnsupportedGeometry, a.Kind(), i, c.Kind(), want)
	}
	return c, nil
}

func convertPoint(a Accessor, srid int32) (Point, error) {
	if a.NumPoints() < 1 {
		return Point{}, fmt.Errorf("%w: empty point", ErrUnsupportedGeometry)
	}
	x, y, err := a.PointAt(0)
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y, Srid: srid}, nil
}

func convertLineString(a Accessor, srid int32) (LineString, error) {
	n := a.NumPoints()
	ls := LineString{Points: make([]Point, 0, n), Srid: srid}
	for i := 0; i < n; i++ {
		x, y, err := a.PointAt(i)
		if err != nil {
			return LineString{}, err
		}
		ls.Points = append(ls.Points, Point{X: x, Y: y, Srid: srid})
	}
	return ls, nil
}

func convertPolygon(a Accessor, srid int32) (Polygon, error) {
	p := Polygon{Rings: make([]LineString, 0, a.NumChildren()), Srid: srid}
	for i := 0; i < a.NumChildren(); i++ {
		c, err := child(a, i, KindLineString)
		if err != nil {
			return Polygon{}, err
		}
		ring, err := convertLineString(c, srid)
		if err != nil {
			return Polygon{}, err
		}
		p.Rings = append(p.Rings, ring)
	}
	return p, nil
}
