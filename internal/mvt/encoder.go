package mvt

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/project"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/geom"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

// LayerBuilder accumulates the features of one layer for one tile. It is
// not safe for concurrent use; each layer of a request gets its own.
type LayerBuilder struct {
	name   string
	extent uint32
	tile   grid.Extent
	srid   int32

	keys     []string
	keyIdx   map[string]uint32
	values   []feature.Value
	valueIdx map[feature.Value]uint32
	features []Feature
}

// Option configures a LayerBuilder.
type Option func(*LayerBuilder)

// WithExtent overrides the tile extent in integer units.
func WithExtent(extent uint32) Option {
	return func(b *LayerBuilder) {
		if extent > 0 {
			b.extent = extent
		}
	}
}

// NewLayerBuilder starts a layer for the tile covering tile, whose
// coordinates are in srid.
func NewLayerBuilder(name string, tile grid.Extent, srid int32, opts ...Option) *LayerBuilder {
	b := &LayerBuilder{
		name:     name,
		extent:   DefaultExtent,
		tile:     tile,
		srid:     srid,
		keyIdx:   make(map[string]uint32),
		valueIdx: make(map[feature.Value]uint32),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add encodes f into the layer. It reports false with a nil error when the
// geometry lies entirely outside the tile.
func (b *LayerBuilder) Add(f feature.Feature) (bool, error) {
	g, err := f.Geometry()
	if err != nil {
		return false, err
	}
	id, hasID := f.FID()
	return b.AddGeometry(g, id, hasID, f.Attributes())
}

// AddGeometry encodes a geometry with its id and attributes. Dictionary
// entries are only recorded for features that are kept.
func (b *LayerBuilder) AddGeometry(g geom.Geometry, id uint64, hasID bool, attrs []feature.Attr) (bool, error) {
	typ, cmds, err := b.encodeGeometry(g)
	if err != nil {
		return false, err
	}
	if len(cmds) == 0 {
		return false, nil
	}
	if err := validate(typ, cmds, b.extent); err != nil {
		return false, err
	}

	ft := Feature{ID: id, HasID: hasID, Type: typ, Geometry: cmds}
	if len(attrs) > 0 {
		ft.Tags = make([]uint32, 0, 2*len(attrs))
		for _, a := range attrs {
			ft.Tags = append(ft.Tags, b.key(a.Key), b.value(a.Value))
		}
	}
	b.features = append(b.features, ft)
	return true, nil
}

// Len returns the number of features added so far.
func (b *LayerBuilder) Len() int { return len(b.features) }

// Layer returns the finished layer.
func (b *LayerBuilder) Layer() Layer {
	return Layer{
		Name:     b.name,
		Version:  Version,
		Extent:   b.extent,
		Features: b.features,
		Keys:     b.keys,
		Values:   b.values,
	}
}

func (b *LayerBuilder) key(k string) uint32 {
	if i, ok := b.keyIdx[k]; ok {
		return i
	}
	i := uint32(len(b.keys))
	b.keys = append(b.keys, k)
	b.keyIdx[k] = i
	return i
}

func (b *LayerBuilder) value(v feature.Value) uint32 {
	if i, ok := b.valueIdx[v]; ok {
		return i
	}
	i := uint32(len(b.values))
	b.values = append(b.values, v)
	b.valueIdx[v] = i
	return i
}

// toTile maps a grid coordinate to tile space with y pointing down.
func (b *LayerBuilder) toTile(p orb.Point) orb.Point {
	ext := float64(b.extent)
	return orb.Point{
		(p[0] - b.tile.MinX) / b.tile.Width() * ext,
		(b.tile.MaxY - p[1]) / b.tile.Height() * ext,
	}
}

func (b *LayerBuilder) encodeGeometry(g geom.Geometry) (GeomType, []uint32, error) {
	if g == nil {
		return GeomUnknown, nil, fmt.Errorf("%w: nil geometry", geom.ErrUnsupportedGeometry)
	}
	if g.SRID() != 0 && g.SRID() != b.srid {
		rg, err := geom.Reproject(g, b.srid)
		if err != nil {
			return GeomUnknown, nil, fmt.Errorf("%w: %v", geom.ErrUnsupportedGeometry, err)
		}
		g = rg
	}
	og := geom.ToOrb(g)
	if og == nil {
		return GeomUnknown, nil, fmt.Errorf("%w: %s", geom.ErrUnsupportedGeometry, g.Kind())
	}
	og = project.Geometry(og, b.toTile)

	ext := float64(b.extent)
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{ext, ext}}
	enc := &commandEncoder{}

	switch og := og.(type) {
	case orb.Point:
		return b.encodePoints(enc, []orb.Point{og})
	case orb.MultiPoint:
		return b.encodePoints(enc, og)
	case orb.LineString, orb.MultiLineString:
		var lines orb.MultiLineString
		switch c := clip.Geometry(bound, og).(type) {
		case orb.LineString:
			lines = orb.MultiLineString{c}
		case orb.MultiLineString:
			lines = c
		}
		return b.encodeLines(enc, lines)
	case orb.Polygon:
		return b.encodePolygons(enc, squareClipper{size: ext}.polygon(og))
	case orb.MultiPolygon:
		var polys orb.MultiPolygon
		for _, p := range og {
			polys = append(polys, squareClipper{size: ext}.polygon(p)...)
		}
		return b.encodePolygons(enc, polys)
	}
	return GeomUnknown, nil, fmt.Errorf("%w: %T", geom.ErrUnsupportedGeometry, og)
}

// encodePoints keeps points inside the half-open tile [0, extent).
func (b *LayerBuilder) encodePoints(enc *commandEncoder, pts []orb.Point) (GeomType, []uint32, error) {
	ext := float64(b.extent)
	inside := make([]orb.Point, 0, len(pts))
	for _, p := range pts {
		if p[0] >= 0 && p[0] < ext && p[1] >= 0 && p[1] < ext {
			inside = append(inside, p)
		}
	}
	q, err := b.quantize(inside)
	if err != nil || len(q) == 0 {
		return GeomPoint, nil, err
	}
	enc.moveTo(q)
	return GeomPoint, enc.cmds, nil
}

func (b *LayerBuilder) encodeLines(enc *commandEncoder, lines orb.MultiLineString) (GeomType, []uint32, error) {
	for _, ls := range lines {
		q, err := b.quantize(ls)
		if err != nil {
			return GeomLineString, nil, err
		}
		if len(q) < 2 {
			continue
		}
		enc.moveTo(q[:1])
		enc.lineTo(q[1:])
	}
	return GeomLineString, enc.cmds, nil
}

// encodePolygons writes exteriors with positive area and holes with
// negative area in tile space. A polygon whose exterior collapses is
// dropped with its holes.
func (b *LayerBuilder) encodePolygons(enc *commandEncoder, polys orb.MultiPolygon) (GeomType, []uint32, error) {
	for _, poly := range polys {
		for i, r := range poly {
			q, err := b.quantize(r)
			if err != nil {
				return GeomPolygon, nil, err
			}
			if n := len(q); n > 1 && q[0] == q[n-1] {
				q = q[:n-1]
			}
			a := area(q)
			if len(q) < 3 || a == 0 {
				if i == 0 {
					break
				}
				continue
			}
			if (i == 0) != (a > 0) {
				reverse(q)
			}
			enc.moveTo(q[:1])
			enc.lineTo(q[1:])
			enc.closePath()
		}
	}
	return GeomPolygon, enc.cmds, nil
}

type ipoint struct{ x, y int32 }

// quantize rounds to integer tile units clamped to [0, extent-1] and drops
// consecutive duplicates.
func (b *LayerBuilder) quantize(pts []orb.Point) ([]ipoint, error) {
	max := float64(b.extent - 1)
	out := make([]ipoint, 0, len(pts))
	for _, p := range pts {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return nil, fmt.Errorf("%w: NaN coordinate", ErrEncodingInvariant)
		}
		q := ipoint{
			x: int32(math.Max(0, math.Min(max, math.Round(p[0])))),
			y: int32(math.Max(0, math.Min(max, math.Round(p[1])))),
		}
		if n := len(out); n > 0 && out[n-1] == q {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// area returns twice the signed shoelace area of an implicitly closed ring.
func area(r []ipoint) int64 {
	var s int64
	for i := range r {
		j := (i + 1) % len(r)
		s += int64(r[i].x)*int64(r[j].y) - int64(r[j].x)*int64(r[i].y)
	}
	return s
}

func reverse(r []ipoint) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}

func command(id, count uint32) uint32 {
	return id&0x7 | count<<3
}

// commandEncoder writes geometry commands. The cursor carries over between
// parts of a multi-geometry.
type commandEncoder struct {
	cx, cy int32
	cmds   []uint32
}

func (e *commandEncoder) moveTo(pts []ipoint) {
	e.cmds = append(e.cmds, command(cmdMoveTo, uint32(len(pts))))
	e.params(pts)
}

func (e *commandEncoder) lineTo(pts []ipoint) {
	e.cmds = append(e.cmds, command(cmdLineTo, uint32(len(pts))))
	e.params(pts)
}

func (e *commandEncoder) closePath() {
	e.cmds = append(e.cmds, command(cmdClosePath, 1))
}

func (e *commandEncoder) params(pts []ipoint) {
	for _, p := range pts {
		e.cmds = append(e.cmds,
			uint32(protowire.EncodeZigZag(int64(p.x-e.cx))),
			uint32(protowire.EncodeZigZag(int64(p.y-e.cy))),
		)
		e.cx, e.cy = p.x, p.y
	}
}

// validate decodes an encoded command stream and checks coordinate range,
// command shape and polygon ring orientation.
func validate(typ GeomType, cmds []uint32, extent uint32) error {
	var (
		x, y  int64
		ring  []ipoint
		rings int
	)
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrEncodingInvariant, typ, fmt.Sprintf(format, args...))
	}
	for i := 0; i < len(cmds); {
		id, count := cmds[i]&0x7, int(cmds[i]>>3)
		i++
		switch id {
		case cmdMoveTo, cmdLineTo:
			if count == 0 || i+2*count > len(cmds) {
				return fail("command %d has bad count %d", id, count)
			}
			if id == cmdMoveTo {
				if typ == GeomPolygon && count != 1 {
					return fail("polygon MoveTo count %d", count)
				}
				ring = ring[:0]
			}
			for j := 0; j < count; j++ {
				x += protowire.DecodeZigZag(uint64(cmds[i]))
				y += protowire.DecodeZigZag(uint64(cmds[i+1]))
				i += 2
				if x < 0 || y < 0 || x >= int64(extent) || y >= int64(extent) {
					return fail("coordinate %d,%d outside tile", x, y)
				}
				ring = append(ring, ipoint{int32(x), int32(y)})
			}
		case cmdClosePath:
			if typ != GeomPolygon || count != 1 {
				return fail("unexpected ClosePath")
			}
			a := area(ring)
			if len(ring) < 3 || a == 0 {
				return fail("degenerate ring")
			}
			if rings == 0 && a < 0 {
				return fail("first ring is not exterior")
			}
			rings++
		default:
			return fail("unknown command %d", id)
		}
	}
	if typ == GeomPolygon && rings == 0 {
		return fail("no rings")
	}
	return nil
}
