// Package geom holds the internal vector geometry model and the conversion
// routine every datasource uses to build it from its native geometries.
package geom

// Kind tags a geometry variant. The same enumeration describes native
// geometries behind an Accessor.
type Kind int

const (
	KindUnknown Kind = iota
	KindPoint
	KindLineString
	KindPolygon
	KindMultiPoint
	KindMultiLineString
	KindMultiPolygon
	KindGeometryCollection
)

var kindNames = map[Kind]string{
	KindUnknown:            "Unknown",
	KindPoint:              "Point",
	KindLineString:         "LineString",
	KindPolygon:            "Polygon",
	KindMultiPoint:         "MultiPoint",
	KindMultiLineString:    "MultiLineString",
	KindMultiPolygon:       "MultiPolygon",
	KindGeometryCollection: "GeometryCollection",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Geometry is one of Point, LineString, Polygon, MultiPoint,
// MultiLineString or MultiPolygon. Coordinates are in the spatial
// reference identified by SRID (0 when unknown).
type Geometry interface {
	Kind() Kind
	SRID() int32
}

// Point is a single XY position.
type Point struct {
	X, Y float64
	Srid int32
}

// LineString is an ordered sequence of points. As a polygon ring it is
// expected to be closed; closure is kept exactly as delivered.
type LineString struct {
	Points []Point
	Srid   int32
}

// Polygon is an exterior ring followed by zero or more holes.
type Polygon struct {
	Rings []LineString
	Srid  int32
}

// MultiPoint is an unordered point cluster.
type MultiPoint struct {
	Points []Point
	Srid   int32
}

// MultiLineString is a set of lines.
type MultiLineString struct {
	Lines []LineString
	Srid  int32
}

// MultiPolygon is a set of polygons.
type MultiPolygon struct {
	Polygons []Polygon
	Srid     int32
}

func (Point) Kind() Kind           { return KindPoint }
func (LineString) Kind() Kind      { return KindLineString }
func (Polygon) Kind() Kind         { return KindPolygon }
func (MultiPoint) Kind() Kind      { return KindMultiPoint }
func (MultiLineString) Kind() Kind { return KindMultiLineString }
func (MultiPolygon) Kind() Kind    { return KindMultiPolygon }

func (g Point) SRID() int32           { return g.Srid }
func (g LineString) SRID() int32      { return g.Srid }
func (g Polygon) SRID() int32         { return g.Srid }
func (g MultiPoint) SRID() int32      { return g.Srid }
func (g MultiLineString) SRID() int32 { return g.Srid }
func (g MultiPolygon) SRID() int32    { return g.Srid }

// IsClosed reports whether the first and last points coincide.
func (ls LineString) IsClosed() bool {
	n := len(ls.Points)
	return n > 0 && ls.Points[0].X == ls.Points[n-1].X && ls.Points[0].Y == ls.Points[n-1].Y
}
