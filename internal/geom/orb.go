package geom

import (
	"fmt"

	"github.com/paulmach/orb"
)

// OrbAccessor adapts a paulmach/orb geometry. Rings report KindLineString,
// matching how simple-features libraries expose polygon rings.
type OrbAccessor struct {
	G orb.Geometry
}

// FromOrb converts an orb geometry through the shared Convert routine.
func FromOrb(g orb.Geometry, srid int32) (Geometry, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil geometry", ErrUnsupportedGeometry)
	}
	return Convert(OrbAccessor{G: g}, srid)
}

func (a OrbAccessor) Kind() Kind {
	switch a.G.(type) {
	case orb.Point:
		return KindPoint
	case orb.LineString, orb.Ring:
		return KindLineString
	case orb.Polygon:
		return KindPolygon
	case orb.MultiPoint:
		return KindMultiPoint
	case orb.MultiLineString:
		return KindMultiLineString
	case orb.MultiPolygon:
		return KindMultiPolygon
	case orb.Collection:
		return KindGeometryCollection
	}
	return KindUnknown
}

func (a OrbAccessor) NumChildren() int {
	switch g := a.G.(type) {
	case orb.MultiPoint:
		return len(g)
	case orb.MultiLineString:
		return len(g)
	case orb.Polygon:
		return len(g)
	case orb.MultiPolygon:
		return len(g)
	case orb.Collection:
		return len(g)
	}
	return 0
}

func (a OrbAccessor) Child(i int) (Accessor, error) {
	if i < 0 || i >= a.NumChildren() {
		return nil, fmt.Errorf("child index %d out of range [0,%d)", i, a.NumChildren())
	}
	switch g := a.G.(type) {
	case orb.MultiPoint:
		return OrbAccessor{G: g[i]}, nil
	case orb.MultiLineString:
		return OrbAccessor{G: g[i]}, nil
	case orb.Polygon:
		return OrbAccessor{G: g[i]}, nil
	case orb.MultiPolygon:
		return OrbAccessor{G: g[i]}, nil
	case orb.Collection:
		return OrbAccessor{G: g[i]}, nil
	}
	return nil, fmt.Errorf("%T has no children", a.G)
}

func (a OrbAccessor) NumPoints() int {
	switch g := a.G.(type) {
	case orb.Point:
		return 1
	case orb.LineString:
		return len(g)
	case orb.Ring:
		return len(g)
	}
	return 0
}

func (a OrbAccessor) PointAt(i int) (float64, float64, error) {
	if i < 0 || i >= a.NumPoints() {
		return 0, 0, fmt.Errorf("point index %d out of range [0,%d)", i, a.NumPoints())
	}
	var p orb.Point
	switch g := a.G.(type) {
	case orb.Point:
		p = g
	case orb.LineString:
		p = g[i]
	case orb.Ring:
		p = g[i]
	}
	return p[0], p[1], nil
}

// ToOrb converts a model geometry back to orb, dropping SRID tags.
func ToOrb(g Geometry) orb.Geometry {
	switch g := g.(type) {
	case Point:
		return orb.Point{g.X, g.Y}
	case LineString:
		return lineToOrb(g)
	case Polygon:
		return polygonToOrb(g)
	case MultiPoint:
		mp := make(orb.MultiPoint, len(g.Points))
		for i, p := range g.Points {
			mp[i] = orb.Point{p.X, p.Y}
		}
		return mp
	case MultiLineString:
		mls := make(orb.MultiLineString, len(g.Lines))
		for i, ls := range g.Lines {
			mls[i] = lineToOrb(ls)
		}
		return mls
	case MultiPolygon:
		mp := make(orb.MultiPolygon, len(g.Polygons))
		for i, p := range g.Polygons {
			mp[i] = polygonToOrb(p)
		}
		return mp
	}
	return nil
}

func lineToOrb(ls LineString) orb.LineString {
	out := make(orb.LineString, len(ls.Points))
	for i, p := range ls.Points {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

func polygonToOrb(p Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p.Rings))
	for i, r := range p.Rings {
		out[i] = orb.Ring(lineToOrb(r))
	}
	return out
}
