package geom

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

func TestKey_IdenticalGeometries(t *testing.T) {
	a := square(0, 0, 10)
	b := square(0, 0, 10)
	c := square(0, 0, 10.000001)

	assert.Equal(t, Key(a), Key(b), "byte-identical geometry must share a key")
	assert.NotEqual(t, Key(a), Key(c), "no tolerance in duplicate keys")

	p1 := orb.Point{1, 2}
	ls := orb.LineString{{1, 2}}
	assert.NotEqual(t, Key(p1), Key(ls), "type name is part of the key")
}

func TestVertexCountAndEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(orb.Polygon{}))
	assert.False(t, IsEmpty(orb.Point{0, 0}))

	assert.Equal(t, 1, VertexCount(orb.Point{0, 0}))
	assert.Equal(t, 5, VertexCount(square(0, 0, 1)))
	assert.Equal(t, 3, VertexCount(orb.LineString{{0, 0}, {1, 0}, {2, 0}}))
}

func TestSliverRatio(t *testing.T) {
	// A unit square: area 1, perimeter 4, ratio 1/16.
	sq := square(0, 0, 1)
	assert.InDelta(t, 1.0/16.0, SliverRatio(sq), 1e-9)

	// A long thin strip is orders of magnitude below the square.
	strip := orb.Polygon{orb.Ring{{0, 0}, {100, 0}, {100, 0.001}, {0, 0.001}, {0, 0}}}
	assert.Less(t, SliverRatio(strip), 0.0001)
}

func TestMinInteriorAngleDeg(t *testing.T) {
	sq := square(0, 0, 1)
	assert.InDelta(t, 90.0, MinInteriorAngleDeg(sq[0]), 1e-6)

	// A needle triangle has a very small apex angle.
	needle := orb.Ring{{0, 0}, {10, 0.01}, {10, -0.01}, {0, 0}}
	assert.Less(t, MinInteriorAngleDeg(needle), 1.0)
}

func TestPointSegmentDistance(t *testing.T) {
	a, b := orb.Point{0, 0}, orb.Point{10, 0}

	assert.InDelta(t, 5.0, PointSegmentDistance(orb.Point{5, 5}, a, b), 1e-9)
	// Beyond the segment end, distance is to the endpoint.
	assert.InDelta(t, math.Sqrt(2), PointSegmentDistance(orb.Point{11, 1}, a, b), 1e-9)
	// Degenerate zero-length segment.
	assert.InDelta(t, 1.0, PointSegmentDistance(orb.Point{1, 0}, a, a), 1e-9)
}

func TestPointPolygonDistance(t *testing.T) {
	sq := square(0, 0, 10)

	assert.Equal(t, 0.0, PointPolygonDistance(orb.Point{5, 5}, sq), "interior point")
	assert.InDelta(t, 0.0, PointPolygonDistance(orb.Point{10, 5}, sq), 1e-9, "boundary point")
	assert.InDelta(t, 2.0, PointPolygonDistance(orb.Point{12, 5}, sq), 1e-9, "outside point")
}

func TestSelfIntersects(t *testing.T) {
	bowtie := orb.LineString{{0, 0}, {10, 10}, {10, 0}, {0, 10}}
	assert.True(t, SelfIntersects(bowtie))

	straight := orb.LineString{{0, 0}, {5, 0}, {10, 0}}
	assert.False(t, SelfIntersects(straight))

	// A valid closed ring does not count the closure vertex as a crossing.
	sq := square(0, 0, 1)
	assert.False(t, SelfIntersects(orb.LineString(sq[0])))

	bowtieRing := orb.Polygon{orb.Ring{{0, 0}, {10, 10}, {10, 0}, {0, 10}, {0, 0}}}
	assert.True(t, RingSelfIntersects(bowtieRing))
}

func TestSelfOverlaps(t *testing.T) {
	backtrack := orb.LineString{{0, 0}, {10, 0}, {0, 0}}
	assert.True(t, SelfOverlaps(backtrack), "retraced segment is a self-overlap")

	zigzag := orb.LineString{{0, 0}, {1, 1}, {2, 0}, {3, 1}}
	assert.False(t, SelfOverlaps(zigzag))
}

func TestPolygonsOverlap(t *testing.T) {
	a := square(0, 0, 10)
	b := square(5, 5, 10)
	c := square(20, 20, 5)
	adjacent := square(10, 0, 10) // shares an edge, no interior overlap

	assert.True(t, PolygonsOverlap(a, b))
	assert.False(t, PolygonsOverlap(a, c))
	assert.False(t, PolygonsOverlap(a, adjacent))
}

func TestPolygonContainsPolygon(t *testing.T) {
	outer := square(0, 0, 10)
	inner := square(2, 2, 3)
	partial := square(8, 8, 5)

	assert.True(t, PolygonContainsPolygon(outer, inner, 0))
	assert.False(t, PolygonContainsPolygon(outer, partial, 0))
	assert.False(t, PolygonContainsPolygon(inner, outer, 0))

	// Tolerance admits a polygon that pokes out marginally.
	poking := orb.Polygon{orb.Ring{{2, 2}, {10.0005, 2}, {10.0005, 5}, {2, 5}, {2, 2}}}
	assert.False(t, PolygonContainsPolygon(outer, poking, 0))
	assert.True(t, PolygonContainsPolygon(outer, poking, 0.001))
}

func TestLineMaxEscape(t *testing.T) {
	polys := []orb.Polygon{square(0, 0, 10)}

	inside := orb.LineString{{1, 1}, {9, 9}}
	assert.Equal(t, 0.0, LineMaxEscape(inside, polys, 0))

	escaping := orb.LineString{{5, 5}, {5, 12}}
	assert.InDelta(t, 2.0, LineMaxEscape(escaping, polys, 0), 1e-9)

	assert.True(t, math.IsInf(LineMaxEscape(inside, nil, 0), 1) || LineMaxEscape(inside, nil, 0) > 0,
		"no polygons means everything escapes")
}

func TestLineMaxEscape_MidSegmentExcursion(t *testing.T) {
	// U-shaped polygon with a narrow notch between x=6 and x=7. The segment
	// crosses the notch, but its vertices and midpoint all land inside the
	// arms, so only step-bounded sampling can see the excursion.
	notched := []orb.Polygon{{orb.Ring{
		{0, 0}, {10, 0}, {10, 10}, {7, 10}, {7, 2}, {6, 2}, {6, 10}, {0, 10}, {0, 0},
	}}}
	line := orb.LineString{{1, 5}, {9, 5}}

	assert.InDelta(t, 0.5, LineMaxEscape(line, notched, 0.25), 1e-9,
		"deepest point of the notch crossing is 0.5 from either wall")
	assert.Greater(t, LineMaxEscape(line, notched, 0.4), 0.25)
}

func TestSpatialIndex(t *testing.T) {
	ix := NewIndex()
	ix.Insert(1, square(0, 0, 10))
	ix.Insert(2, square(100, 100, 10))
	ix.Insert(3, square(5, 5, 10))
	ix.Insert(4, nil) // empty geometry is not indexed

	assert.Equal(t, 3, ix.Len())

	got := ix.Candidates(square(0, 0, 10).Bound(), 0)
	ids := make(map[int64]bool)
	for _, e := range got {
		ids[e.ID] = true
	}
	assert.True(t, ids[1])
	assert.True(t, ids[3])
	assert.False(t, ids[2])

	// Padding pulls in near-misses.
	far := ix.Candidates(orb.Point{99, 99}.Bound(), 2)
	assert.Len(t, far, 1)
	assert.Equal(t, int64(2), far[0].ID)
}
