// Package geom provides the planar geometry primitives used by the
// validation engines: distance and angle helpers, degenerate-shape
// measures, and a bounding-box spatial index.
//
// Geometries are github.com/paulmach/orb values throughout. All distances
// are planar euclidean in dataset map units.
package geom

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// TypeName returns the canonical feature-type name for a geometry, used for
// feature-type conformance checks ("POINT", "LINESTRING", "POLYGON", ...).
func TypeName(g orb.Geometry) string {
	if g == nil {
		return ""
	}
	return strings.ToUpper(g.GeoJSONType())
}

// IsEmpty reports whether a geometry is nil or carries no coordinates.
func IsEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Point:
		return false
	case orb.LineString:
		return len(v) == 0
	case orb.Ring:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) == 0
	case orb.MultiPoint:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	default:
		return false
	}
}

// VertexCount returns the total number of vertices in a geometry.
func VertexCount(g orb.Geometry) int {
	switch v := g.(type) {
	case orb.Point:
		return 1
	case orb.LineString:
		return len(v)
	case orb.Ring:
		return len(v)
	case orb.Polygon:
		n := 0
		for _, r := range v {
			n += len(r)
		}
		return n
	case orb.MultiPoint:
		return len(v)
	case orb.MultiLineString:
		n := 0
		for _, ls := range v {
			n += len(ls)
		}
		return n
	case orb.MultiPolygon:
		n := 0
		for _, p := range v {
			n += VertexCount(p)
		}
		return n
	default:
		return 0
	}
}

// Key returns a canonical coordinate string for duplicate detection. Two
// geometries with byte-identical coordinate sequences produce equal keys;
// no tolerance is applied.
func Key(g orb.Geometry) string {
	var b strings.Builder
	b.WriteString(TypeName(g))
	writeCoords(&b, g)
	return b.String()
}

func writeCoords(b *strings.Builder, g orb.Geometry) {
	switch v := g.(type) {
	case orb.Point:
		fmt.Fprintf(b, ";%.9f,%.9f", v[0], v[1])
	case orb.LineString:
		for _, p := range v {
			writeCoords(b, p)
		}
	case orb.Ring:
		writeCoords(b, orb.LineString(v))
	case orb.Polygon:
		for _, r := range v {
			b.WriteString("|")
			writeCoords(b, r)
		}
	case orb.MultiPoint:
		writeCoords(b, orb.LineString(v))
	case orb.MultiLineString:
		for _, ls := range v {
			b.WriteString("|")
			writeCoords(b, ls)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			b.WriteString("||")
			writeCoords(b, p)
		}
	}
}

// Length returns the planar length of a line geometry, or the perimeter of
// an areal geometry.
func Length(g orb.Geometry) float64 {
	return planar.Length(g)
}

// Area returns the planar area of a geometry (zero for points and lines).
func Area(g orb.Geometry) float64 {
	return math.Abs(planar.Area(g))
}

// RingPerimeter returns the closed perimeter of a ring.
func RingPerimeter(r orb.Ring) float64 {
	sum := 0.0
	for i := 1; i < len(r); i++ {
		sum += planar.Distance(r[i-1], r[i])
	}
	if len(r) > 1 && r[0] != r[len(r)-1] {
		sum += planar.Distance(r[len(r)-1], r[0])
	}
	return sum
}

// SliverRatio returns area/perimeter² for a polygon's exterior ring. Thin
// degenerate polygons approach zero; a circle is the upper bound at 1/4π.
// Returns +Inf for polygons with no perimeter.
func SliverRatio(p orb.Polygon) float64 {
	if len(p) == 0 {
		return math.Inf(1)
	}
	per := RingPerimeter(p[0])
	if per == 0 {
		return math.Inf(1)
	}
	return Area(p) / (per * per)
}

// InteriorAngleDeg returns the interior angle at vertex b of the path a-b-c,
// in degrees [0, 180].
func InteriorAngleDeg(a, b, c orb.Point) float64 {
	v1x, v1y := a[0]-b[0], a[1]-b[1]
	v2x, v2y := c[0]-b[0], c[1]-b[1]
	n1 := math.Hypot(v1x, v1y)
	n2 := math.Hypot(v2x, v2y)
	if n1 == 0 || n2 == 0 {
		return 0
	}
	cos := (v1x*v2x + v1y*v2y) / (n1 * n2)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// MinInteriorAngleDeg returns the smallest interior angle of a ring. The
// trailing closing vertex is ignored if it duplicates the first.
func MinInteriorAngleDeg(r orb.Ring) float64 {
	pts := []orb.Point(r)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return 0
	}
	min := 180.0
	for i := range pts {
		a := pts[(i+len(pts)-1)%len(pts)]
		b := pts[i]
		c := pts[(i+1)%len(pts)]
		if ang := InteriorAngleDeg(a, b, c); ang < min {
			min = ang
		}
	}
	return min
}

// PointSegmentDistance returns the planar distance from p to segment ab.
func PointSegmentDistance(p, a, b orb.Point) float64 {
	abx, aby := b[0]-a[0], b[1]-a[1]
	apx, apy := p[0]-a[0], p[1]-a[1]
	lenSq := abx*abx + aby*aby
	if lenSq == 0 {
		return planar.Distance(p, a)
	}
	t := (apx*abx + apy*aby) / lenSq
	t = math.Max(0, math.Min(1, t))
	proj := orb.Point{a[0] + t*abx, a[1] + t*aby}
	return planar.Distance(p, proj)
}

// PointLineDistance returns the minimum distance from p to any segment of ls.
func PointLineDistance(p orb.Point, ls orb.LineString) float64 {
	if len(ls) == 0 {
		return math.Inf(1)
	}
	if len(ls) == 1 {
		return planar.Distance(p, ls[0])
	}
	min := math.Inf(1)
	for i := 1; i < len(ls); i++ {
		if d := PointSegmentDistance(p, ls[i-1], ls[i]); d < min {
			min = d
		}
	}
	return min
}

// PointPolygonDistance returns zero when p lies inside poly, otherwise the
// distance from p to the nearest ring segment.
func PointPolygonDistance(p orb.Point, poly orb.Polygon) float64 {
	if planar.PolygonContains(poly, p) {
		return 0
	}
	min := math.Inf(1)
	for _, r := range poly {
		if d := PointLineDistance(p, orb.LineString(r)); d < min {
			min = d
		}
	}
	return min
}
