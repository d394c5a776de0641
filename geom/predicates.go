package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const collinearEps = 1e-12

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(p, a, b orb.Point) bool {
	return math.Min(a[0], b[0])-collinearEps <= p[0] && p[0] <= math.Max(a[0], b[0])+collinearEps &&
		math.Min(a[1], b[1])-collinearEps <= p[1] && p[1] <= math.Max(a[1], b[1])+collinearEps
}

// SegmentsIntersect reports whether segments p1-p2 and p3-p4 intersect,
// including collinear overlap and endpoint touches.
func SegmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if math.Abs(d1) <= collinearEps && onSegment(p1, p3, p4) {
		return true
	}
	if math.Abs(d2) <= collinearEps && onSegment(p2, p3, p4) {
		return true
	}
	if math.Abs(d3) <= collinearEps && onSegment(p3, p1, p2) {
		return true
	}
	if math.Abs(d4) <= collinearEps && onSegment(p4, p1, p2) {
		return true
	}
	return false
}

// segmentsCross reports a proper crossing (interior intersection, not a
// shared endpoint).
func segmentsCross(p1, p2, p3, p4 orb.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	return ((d1 > collinearEps && d2 < -collinearEps) || (d1 < -collinearEps && d2 > collinearEps)) &&
		((d3 > collinearEps && d4 < -collinearEps) || (d3 < -collinearEps && d4 > collinearEps))
}

// SelfIntersects reports whether a line string crosses itself. Adjacent
// segments sharing a vertex do not count; a closed path's first and last
// segments sharing the closure vertex do not count either.
func SelfIntersects(ls orb.LineString) bool {
	n := len(ls)
	if n < 4 {
		return false
	}
	closed := ls[0] == ls[n-1]
	for i := 0; i < n-1; i++ {
		for j := i + 2; j < n-1; j++ {
			if closed && i == 0 && j == n-2 {
				continue
			}
			if segmentsCross(ls[i], ls[i+1], ls[j], ls[j+1]) {
				return true
			}
		}
	}
	return false
}

// RingSelfIntersects reports whether any ring of the polygon crosses itself.
func RingSelfIntersects(p orb.Polygon) bool {
	for _, r := range p {
		if SelfIntersects(orb.LineString(r)) {
			return true
		}
	}
	return false
}

// SelfOverlaps reports whether a line string traverses the same undirected
// segment more than once.
func SelfOverlaps(ls orb.LineString) bool {
	type seg struct{ a, b orb.Point }
	seen := make(map[seg]bool, len(ls))
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		if b[0] < a[0] || (b[0] == a[0] && b[1] < a[1]) {
			a, b = b, a
		}
		s := seg{a, b}
		if seen[s] {
			return true
		}
		seen[s] = true
	}
	return false
}

// edges returns the closed segment list of a ring.
func edges(r orb.Ring) [][2]orb.Point {
	out := make([][2]orb.Point, 0, len(r))
	for i := 1; i < len(r); i++ {
		out = append(out, [2]orb.Point{r[i-1], r[i]})
	}
	if len(r) > 1 && r[0] != r[len(r)-1] {
		out = append(out, [2]orb.Point{r[len(r)-1], r[0]})
	}
	return out
}

// PolygonsOverlap reports whether two polygons share interior area: either
// their boundaries properly cross, or one contains a vertex of the other
// strictly inside.
func PolygonsOverlap(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, ea := range edges(a[0]) {
		for _, eb := range edges(b[0]) {
			if segmentsCross(ea[0], ea[1], eb[0], eb[1]) {
				return true
			}
		}
	}
	for _, p := range a[0] {
		if strictlyInside(p, b) {
			return true
		}
	}
	for _, p := range b[0] {
		if strictlyInside(p, a) {
			return true
		}
	}
	return false
}

// strictlyInside reports containment excluding points on the boundary.
func strictlyInside(p orb.Point, poly orb.Polygon) bool {
	if !planar.PolygonContains(poly, p) {
		return false
	}
	for _, r := range poly {
		if PointLineDistance(p, orb.LineString(r)) <= collinearEps {
			return false
		}
	}
	return true
}

// PolygonContainsPolygon reports whether outer fully contains inner: every
// inner vertex inside (or within tolerance of) outer and no proper boundary
// crossing.
func PolygonContainsPolygon(outer, inner orb.Polygon, tolerance float64) bool {
	if len(outer) == 0 || len(inner) == 0 {
		return false
	}
	for _, p := range inner[0] {
		if PointPolygonDistance(p, outer) > tolerance {
			return false
		}
	}
	for _, eo := range edges(outer[0]) {
		for _, ei := range edges(inner[0]) {
			if segmentsCross(eo[0], eo[1], ei[0], ei[1]) {
				return false
			}
		}
	}
	return true
}

// LineMaxEscape returns the maximum distance by which a line strays outside
// all of the supplied polygons. Segments are sampled at their vertices plus
// interior points spaced no wider than step, so an excursion longer than
// step cannot slip between samples; step <= 0 samples midpoints only. Zero
// means the line lies within the polygon union (up to sampling).
func LineMaxEscape(ls orb.LineString, polys []orb.Polygon, step float64) float64 {
	if len(ls) == 0 {
		return 0
	}
	samples := make([]orb.Point, 0, 2*len(ls))
	samples = append(samples, ls...)
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		parts := 2
		if step > 0 {
			if n := int(math.Ceil(planar.Distance(a, b) / step)); n > parts {
				parts = n
			}
		}
		for k := 1; k < parts; k++ {
			t := float64(k) / float64(parts)
			samples = append(samples, orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])})
		}
	}

	max := 0.0
	for _, p := range samples {
		best := math.Inf(1)
		for _, poly := range polys {
			if d := PointPolygonDistance(p, poly); d < best {
				best = d
				if best == 0 {
					break
				}
			}
		}
		if len(polys) == 0 {
			best = math.Inf(1)
		}
		if best > max {
			max = best
		}
	}
	return max
}
