package mvt

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// squareClipper clips polygons to the square [0, size] x [0, size].
//
// Rings are cut into chains of the parts that lie inside the square. The
// chains of a polygon are then joined by walking the square's boundary
// counter-clockwise from each exit to the next entry. A concave shape that
// leaves and re-enters the square comes out as separate rings instead of
// one ring folded back along the edge.
type squareClipper struct {
	size float64
}

// chain is a run of ring points inside the square. It enters and leaves
// on the boundary at perimeter positions in and out.
type chain struct {
	pts     []orb.Point
	in, out float64
	used    bool
}

// polygon clips p. Rings may be open or closed and in any winding; output
// rings are closed, exteriors counter-clockwise and holes clockwise.
func (c squareClipper) polygon(p orb.Polygon) orb.MultiPolygon {
	var (
		chains []*chain
		holes  []orb.Ring
		ext    orb.Ring
		whole  orb.Polygon
	)
	for i, r := range p {
		r = openRing(r)
		if len(r) < 3 {
			if i == 0 {
				return nil
			}
			continue
		}
		if (signedArea(r) > 0) != (i == 0) {
			r.Reverse()
		}
		cs, inside := c.chains(r)
		switch {
		case whole != nil:
			whole = append(whole, closeRing(r))
		case inside && i == 0:
			whole = orb.Polygon{closeRing(r)}
		case inside:
			holes = append(holes, closeRing(r))
		case len(cs) > 0:
			chains = append(chains, cs...)
		case i == 0:
			ext = closeRing(r)
		default:
			// A hole around the whole square leaves nothing.
			if planar.RingContains(closeRing(r), c.center()) {
				return nil
			}
		}
	}

	if whole != nil {
		return orb.MultiPolygon{whole}
	}

	var rings []orb.Ring
	switch {
	case len(chains) > 0:
		rings = c.stitch(chains)
	case ext != nil && planar.RingContains(ext, c.center()):
		rings = []orb.Ring{c.square()}
	default:
		return nil
	}

	out := make(orb.MultiPolygon, 0, len(rings))
	for _, r := range rings {
		out = append(out, orb.Polygon{r})
	}
	for _, h := range holes {
		for i := range out {
			if planar.RingContains(out[i][0], h[0]) {
				out[i] = append(out[i], h)
				break
			}
		}
	}
	return out
}

// chains cuts r into inside runs. It reports true when every point of r
// lies inside the square.
func (c squareClipper) chains(r orb.Ring) ([]*chain, bool) {
	start := slices.IndexFunc(r, func(p orb.Point) bool { return !c.contains(p) })
	if start < 0 {
		return nil, true
	}
	var (
		out []*chain
		cur *chain
	)
	n := len(r)
	for k := 0; k < n; k++ {
		a, b := r[(start+k)%n], r[(start+k+1)%n]
		t0, t1, ok := c.segment(a, b)
		if !ok {
			if cur != nil {
				out = c.finish(out, cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &chain{pts: []orb.Point{lerp(a, b, t0)}}
		}
		cur.pts = append(cur.pts, lerp(a, b, t1))
		if t1 < 1 {
			out = c.finish(out, cur)
			cur = nil
		}
	}
	if cur != nil {
		out = c.finish(out, cur)
	}
	return out, false
}

func (c squareClipper) finish(out []*chain, ch *chain) []*chain {
	if len(ch.pts) < 2 {
		return out
	}
	last := len(ch.pts) - 1
	ch.pts[0] = c.snap(ch.pts[0])
	ch.pts[last] = c.snap(ch.pts[last])
	ch.in = c.perimeter(ch.pts[0])
	ch.out = c.perimeter(ch.pts[last])
	return append(out, ch)
}

// stitch joins chains into closed rings along the boundary.
func (c squareClipper) stitch(chains []*chain) []orb.Ring {
	var rings []orb.Ring
	for _, first := range chains {
		if first.used {
			continue
		}
		var ring orb.Ring
		cur := first
		for range chains {
			cur.used = true
			ring = append(ring, cur.pts...)
			next := c.next(chains, first, cur.out)
			ring = append(ring, c.corners(cur.out, next.in)...)
			if next == first {
				break
			}
			cur = next
		}
		ring = append(ring, ring[0])
		if len(ring) >= 4 {
			rings = append(rings, ring)
		}
	}
	return rings
}

// next returns the unused chain, or first, whose entry follows pos going
// counter-clockwise.
func (c squareClipper) next(chains []*chain, first *chain, pos float64) *chain {
	best, dist := first, c.forward(pos, first.in)
	for _, ch := range chains {
		if ch.used {
			continue
		}
		if d := c.forward(pos, ch.in); d < dist {
			best, dist = ch, d
		}
	}
	return best
}

// corners returns the square corners passed between perimeter positions
// from and to.
func (c squareClipper) corners(from, to float64) []orb.Point {
	span := c.forward(from, to)
	type corner struct {
		d float64
		p orb.Point
	}
	var cs []corner
	for k, p := range []orb.Point{{c.size, 0}, {c.size, c.size}, {0, c.size}, {0, 0}} {
		d := c.forward(from, float64(k+1)*c.size)
		if d > 0 && d < span {
			cs = append(cs, corner{d, p})
		}
	}
	slices.SortFunc(cs, func(a, b corner) int {
		switch {
		case a.d < b.d:
			return -1
		case a.d > b.d:
			return 1
		}
		return 0
	})
	out := make([]orb.Point, len(cs))
	for i := range cs {
		out[i] = cs[i].p
	}
	return out
}

// forward is the counter-clockwise distance along the boundary.
func (c squareClipper) forward(from, to float64) float64 {
	d := math.Mod(to-from, 4*c.size)
	if d < 0 {
		d += 4 * c.size
	}
	return d
}

// perimeter maps a boundary point to its counter-clockwise position
// starting from the origin corner.
func (c squareClipper) perimeter(p orb.Point) float64 {
	s := c.size
	switch {
	case p[1] == 0:
		return p[0]
	case p[0] == s:
		return s + p[1]
	case p[1] == s:
		return 3*s - p[0]
	}
	return 4*s - p[1]
}

// snap moves p onto the nearest edge.
func (c squareClipper) snap(p orb.Point) orb.Point {
	p[0] = math.Max(0, math.Min(c.size, p[0]))
	p[1] = math.Max(0, math.Min(c.size, p[1]))
	d := [4]float64{p[1], c.size - p[0], c.size - p[1], p[0]}
	best := 0
	for i := range d {
		if d[i] < d[best] {
			best = i
		}
	}
	switch best {
	case 0:
		p[1] = 0
	case 1:
		p[0] = c.size
	case 2:
		p[1] = c.size
	case 3:
		p[0] = 0
	}
	return p
}

// segment returns the parameter range of a->b inside the square
// (Liang-Barsky). Ranges of zero length are reported as outside.
func (c squareClipper) segment(a, b orb.Point) (t0, t1 float64, ok bool) {
	t0, t1 = 0, 1
	dx, dy := b[0]-a[0], b[1]-a[1]
	for _, e := range [4][2]float64{
		{-dx, a[0]},
		{dx, c.size - a[0]},
		{-dy, a[1]},
		{dy, c.size - a[1]},
	} {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, false
			}
			t1 = math.Min(t1, t)
		}
	}
	return t0, t1, t1 > t0
}

func (c squareClipper) contains(p orb.Point) bool {
	return p[0] >= 0 && p[0] <= c.size && p[1] >= 0 && p[1] <= c.size
}

func (c squareClipper) center() orb.Point {
	return orb.Point{c.size / 2, c.size / 2}
}

func (c squareClipper) square() orb.Ring {
	s := c.size
	return orb.Ring{{0, 0}, {s, 0}, {s, s}, {0, s}, {0, 0}}
}

func lerp(a, b orb.Point, t float64) orb.Point {
	switch t {
	case 0:
		return a
	case 1:
		return b
	}
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}

// openRing copies r without its closing point.
func openRing(r orb.Ring) orb.Ring {
	n := len(r)
	if n > 1 && r[0] == r[n-1] {
		n--
	}
	return slices.Clone(r[:n])
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}

// signedArea is twice the shoelace area of an implicitly closed ring,
// positive for counter-clockwise rings.
func signedArea(r orb.Ring) float64 {
	var s float64
	for i := range r {
		j := (i + 1) % len(r)
		s += r[i][0]*r[j][1] - r[j][0]*r[i][1]
	}
	return s
}
