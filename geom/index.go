package geom

import (
	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"
)

// Entry is one indexed feature: its id and geometry.
type Entry struct {
	ID       int64
	Geometry orb.Geometry
}

// SpatialIndex is a bounding-box R-tree over one table's geometries. Build
// it once with Insert, then query concurrently; the index is read-only after
// the build and must not be mutated while queries run.
type SpatialIndex struct {
	tr   rtree.RTreeG[Entry]
	size int
}

// NewIndex returns an empty spatial index.
func NewIndex() *SpatialIndex {
	return &SpatialIndex{}
}

// Insert adds a feature to the index under its bounding box. Not safe for
// concurrent use.
func (ix *SpatialIndex) Insert(id int64, g orb.Geometry) {
	if IsEmpty(g) {
		return
	}
	b := g.Bound()
	ix.tr.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, Entry{ID: id, Geometry: g})
	ix.size++
}

// Len returns the number of indexed features.
func (ix *SpatialIndex) Len() int {
	return ix.size
}

// Search visits every entry whose bounding box intersects b, padded by pad
// on every side. The visit stops when fn returns false.
func (ix *SpatialIndex) Search(b orb.Bound, pad float64, fn func(Entry) bool) {
	ix.tr.Search(
		[2]float64{b.Min[0] - pad, b.Min[1] - pad},
		[2]float64{b.Max[0] + pad, b.Max[1] + pad},
		func(_, _ [2]float64, e Entry) bool {
			return fn(e)
		},
	)
}

// Candidates returns the entries whose bounding boxes intersect b padded by
// pad. This is the pruning step before exact predicate evaluation.
func (ix *SpatialIndex) Candidates(b orb.Bound, pad float64) []Entry {
	var out []Entry
	ix.Search(b, pad, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}
