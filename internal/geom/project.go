package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	SRIDWGS84       int32 = 4326
	SRIDWebMercator int32 = 3857

	// sridGoogle is the legacy alias of EPSG:3857.
	sridGoogle     int32 = 900913
	maxMercatorLat       = 85.0511287798066
)

// Projection returns the point projection between two supported spatial
// references. Identical references yield nil.
func Projection(from, to int32) (orb.Projection, error) {
	from, to = canonical(from), canonical(to)
	switch {
	case from == to:
		return nil, nil
	case from == SRIDWGS84 && to == SRIDWebMercator:
		return func(p orb.Point) orb.Point {
			p[1] = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p[1]))
			return project.WGS84.ToMercator(p)
		}, nil
	case from == SRIDWebMercator && to == SRIDWGS84:
		return project.Mercator.ToWGS84, nil
	}
	return nil, fmt.Errorf("no projection from EPSG:%d to EPSG:%d", from, to)
}

func canonical(srid int32) int32 {
	if srid == sridGoogle {
		return SRIDWebMercator
	}
	return srid
}

// Reproject returns g expressed in the target spatial reference.
func Reproject(g Geometry, to int32) (Geometry, error) {
	proj, err := Projection(g.SRID(), to)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		return g, nil
	}
	return FromOrb(project.Geometry(ToOrb(g), proj), to)
}

// ReprojectBound projects the corners of a bound. Only axis-aligned
// transforms are supported, which holds for the two projections above.
func ReprojectBound(b orb.Bound, from, to int32) (orb.Bound, error) {
	proj, err := Projection(from, to)
	if err != nil {
		return b, err
	}
	if proj == nil {
		return b, nil
	}
	return orb.Bound{Min: proj(b.Min), Max: proj(b.Max)}, nil
}
