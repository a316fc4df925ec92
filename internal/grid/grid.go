// Package grid maps tile addresses to geographic extents and back.
//
// A Grid is immutable after construction and safe for concurrent use.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidTileAddress is returned for a zoom, column or row outside the grid.
var ErrInvalidTileAddress = errors.New("invalid tile address")

// Origin is the corner tile row numbering starts from.
type Origin int

const (
	// TopLeft numbers rows downward from the top edge (XYZ / slippy map).
	TopLeft Origin = iota
	// BottomLeft numbers rows upward from the bottom edge (TMS).
	BottomLeft
)

// ParseOrigin maps a configuration value to an Origin.
func ParseOrigin(s string) (Origin, error) {
	switch s {
	case "", "top-left", "topleft", "xyz":
		return TopLeft, nil
	case "bottom-left", "bottomleft", "tms":
		return BottomLeft, nil
	}
	return TopLeft, fmt.Errorf("unknown grid origin %q", s)
}

func (o Origin) String() string {
	if o == BottomLeft {
		return "bottom-left"
	}
	return "top-left"
}

// Extent is an axis-aligned bounding box in the grid's spatial reference.
type Extent struct {
	MinX float64 `json:"minx" yaml:"minx" mapstructure:"minx"`
	MinY float64 `json:"miny" yaml:"miny" mapstructure:"miny"`
	MaxX float64 `json:"maxx" yaml:"maxx" mapstructure:"maxx"`
	MaxY float64 `json:"maxy" yaml:"maxy" mapstructure:"maxy"`
}

// Valid reports whether min <= max on both axes.
func (e Extent) Valid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Width returns the extent along x.
func (e Extent) Width() float64 { return e.MaxX - e.MinX }

// Height returns the extent along y.
func (e Extent) Height() float64 { return e.MaxY - e.MinY }

// Contains reports whether o lies entirely inside e.
func (e Extent) Contains(o Extent) bool {
	return o.MinX >= e.MinX && o.MaxX <= e.MaxX && o.MinY >= e.MinY && o.MaxY <= e.MaxY
}

// Intersects reports whether the two extents share any point.
func (e Extent) Intersects(o Extent) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Buffer grows the extent by d on every side.
func (e Extent) Buffer(d float64) Extent {
	return Extent{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d}
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g %g, %g %g]", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

const (
	// DefaultTileSize is the tile width and height in pixels.
	DefaultTileSize = 256
	// DefaultMaxZoom bounds the zoom levels a grid accepts.
	DefaultMaxZoom = 22

	webMercatorMax = 20037508.3427892480
)

// Grid is a quadtree tiling scheme over a fixed zoom-0 extent.
type Grid struct {
	origin   Origin
	tileSize uint32
	srid     int32
	extent   Extent
	maxZoom  uint8
	baseRes  float64
}

// Config describes a custom grid.
type Config struct {
	Origin   Origin
	TileSize uint32
	SRID     int32
	Extent   Extent
	MaxZoom  uint8
}

// New validates cfg and returns a grid.
func New(cfg Config) (*Grid, error) {
	if cfg.TileSize == 0 {
		cfg.TileSize = DefaultTileSize
	}
	if cfg.MaxZoom == 0 {
		cfg.MaxZoom = DefaultMaxZoom
	}
	if cfg.MaxZoom > 30 {
		return nil, fmt.Errorf("grid max zoom %d exceeds 30", cfg.MaxZoom)
	}
	if !cfg.Extent.Valid() || cfg.Extent.Width() == 0 || cfg.Extent.Height() == 0 {
		return nil, fmt.Errorf("grid extent %s is empty or inverted", cfg.Extent)
	}
	return &Grid{
		origin:   cfg.Origin,
		tileSize: cfg.TileSize,
		srid:     cfg.SRID,
		extent:   cfg.Extent,
		maxZoom:  cfg.MaxZoom,
		baseRes:  cfg.Extent.Width() / float64(cfg.TileSize),
	}, nil
}

// WebMercator returns the EPSG:3857 grid used by slippy maps.
func WebMercator() *Grid {
	g, _ := New(Config{
		Origin:   TopLeft,
		TileSize: DefaultTileSize,
		SRID:     3857,
		Extent:   Extent{MinX: -webMercatorMax, MinY: -webMercatorMax, MaxX: webMercatorMax, MaxY: webMercatorMax},
		MaxZoom:  DefaultMaxZoom,
	})
	return g
}

// SRID returns the spatial reference of extents produced by the grid.
func (g *Grid) SRID() int32 { return g.srid }

// TileSize returns the tile width in pixels.
func (g *Grid) TileSize() uint32 { return g.tileSize }

// MaxZoom returns the deepest zoom level the grid accepts.
func (g *Grid) MaxZoom() uint8 { return g.maxZoom }

// Origin returns the row numbering origin.
func (g *Grid) Origin() Origin { return g.origin }

// Extent returns the zoom-0 extent.
func (g *Grid) Extent() Extent { return g.extent }

// Resolution returns ground units per pixel at zoom z.
func (g *Grid) Resolution(z uint8) float64 {
	return g.baseRes / math.Exp2(float64(z))
}

// Validate checks a tile address against the grid.
func (g *Grid) Validate(z uint8, x, y uint32) error {
	if z > g.maxZoom {
		return fmt.Errorf("%w: zoom %d exceeds %d", ErrInvalidTileAddress, z, g.maxZoom)
	}
	n := uint64(1) << z
	if uint64(x) >= n || uint64(y) >= n {
		return fmt.Errorf("%w: %d/%d/%d outside 0..%d", ErrInvalidTileAddress, z, x, y, n-1)
	}
	return nil
}

// TileExtent returns the bounding box of tile z/x/y.
func (g *Grid) TileExtent(z uint8, x, y uint32) (Extent, error) {
	if err := g.Validate(z, x, y); err != nil {
		return Extent{}, err
	}
	n := math.Exp2(float64(z))
	spanX := g.extent.Width() / n
	spanY := g.extent.Height() / n

	e := Extent{
		MinX: g.extent.MinX + spanX*float64(x),
		MaxX: g.extent.MinX + spanX*float64(x+1),
	}
	if g.origin == TopLeft {
		e.MaxY = g.extent.MaxY - spanY*float64(y)
		e.MinY = g.extent.MaxY - spanY*float64(y+1)
	} else {
		e.MinY = g.extent.MinY + spanY*float64(y)
		e.MaxY = g.extent.MinY + spanY*float64(y+1)
	}
	return e, nil
}

// TileAt returns the column and row of the tile at zoom z containing the
// grid coordinate (px, py). Coordinates outside the grid clamp to the edge.
func (g *Grid) TileAt(px, py float64, z uint8) (x, y uint32) {
	n := math.Exp2(float64(z))
	col := math.Floor((px - g.extent.MinX) / (g.extent.Width() / n))
	var row float64
	if g.origin == TopLeft {
		row = math.Floor((g.extent.MaxY - py) / (g.extent.Height() / n))
	} else {
		row = math.Floor((py - g.extent.MinY) / (g.extent.Height() / n))
	}
	return clampIndex(col, n), clampIndex(row, n)
}

// TileRange returns the inclusive column/row range covering e at zoom z.
func (g *Grid) TileRange(e Extent, z uint8) (minX, minY, maxX, maxY uint32) {
	x0, y0 := g.TileAt(e.MinX, e.MaxY, z)
	x1, y1 := g.TileAt(e.MaxX, e.MinY, z)
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return x0, y0, x1, y1
}

func clampIndex(v, n float64) uint32 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > n-1:
		return uint32(n - 1)
	}
	return uint32(v)
}
