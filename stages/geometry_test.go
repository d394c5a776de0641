package stages

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

func lineTable(features ...source.Feature) *source.MemoryTable {
	return &source.MemoryTable{GeometryType: "LINESTRING", Features: features}
}

func geometryCatalog(table string, checks rules.GeometryChecks, tolerance float64) *rules.Catalog {
	return &rules.Catalog{Geometries: []rules.GeometryRule{{
		TableID:   "G1",
		TableName: table,
		Checks:    checks,
		Tolerance: tolerance,
	}}}
}

func TestGeometryEngine_Duplicates(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("lines", lineTable(
		source.Feature{ID: 1, Geometry: orb.LineString{{0, 0}, {1, 0}}},
		source.Feature{ID: 2, Geometry: orb.LineString{{0, 0}, {1, 0}}},
		source.Feature{ID: 3, Geometry: orb.LineString{{0, 0}, {0, 1}}},
	))

	cat := geometryCatalog("lines", rules.GeometryChecks{Duplicate: true}, 0)
	st := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)

	assert.Equal(t, 2, countCode(st, "GEO_"+report.DefectDuplicate), "both copies are flagged")
	for _, e := range st.Errors {
		assert.NotEqual(t, int64(3), e.FeatureID, "the unique line is never flagged")
	}
	require.Len(t, st.GeometryItems, 1)
	assert.Equal(t, int64(2), st.GeometryItems[0].DefectCounts[report.DefectDuplicate])
	assert.Equal(t, int64(3), st.GeometryItems[0].ProcessedFeatureCount)
}

func TestGeometryEngine_OverlapsButNotAdjacency(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("zones", &source.MemoryTable{GeometryType: "POLYGON", Features: []source.Feature{
		{ID: 1, Geometry: square(0, 0, 2)},
		{ID: 2, Geometry: square(1, 1, 2)}, // overlaps 1
		{ID: 3, Geometry: square(-2, 0, 2)}, // shares an edge with 1, no interior overlap
		{ID: 4, Geometry: square(10, 10, 2)},
	}})

	cat := geometryCatalog("zones", rules.GeometryChecks{Overlap: true}, 0)
	st := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)

	require.Equal(t, 1, countCode(st, "GEO_"+report.DefectOverlap), "each overlapping pair reports once")
	assert.Equal(t, int64(1), st.Errors[0].FeatureID, "reported on the lower feature id")
}

func TestGeometryEngine_LineDefects(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("lines", lineTable(
		source.Feature{ID: 1, Geometry: orb.LineString{{0, 0}, {2, 2}, {2, 0}, {0, 2}}}, // self-intersects
		source.Feature{ID: 2, Geometry: orb.LineString{{0, 0}, {0.2, 0}}},               // shorter than 0.5
		source.Feature{ID: 3, Geometry: orb.LineString{{5, 5}, {6, 5}}},                 // clean
	))

	cat := geometryCatalog("lines", rules.GeometryChecks{SelfIntersection: true, ShortObject: true}, 0)
	st := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)

	assert.Equal(t, 1, countCode(st, "GEO_"+report.DefectSelfIntersection))
	assert.Equal(t, 1, countCode(st, "GEO_"+report.DefectShortObject))
	for _, e := range st.Errors {
		assert.NotEqual(t, int64(3), e.FeatureID)
	}
}

func TestGeometryEngine_PolygonDefects(t *testing.T) {
	// A 10 x 0.001 rectangle: area/perimeter² is far below the 0.001 ratio.
	sliver := orb.Polygon{{{0, 0}, {10, 0}, {10, 0.001}, {0, 0.001}, {0, 0}}}
	small := square(20, 20, 0.4) // area 0.16 < 0.25
	holed := orb.Polygon{square(30, 30, 4)[0], {{31, 31}, {32, 31}, {32, 32}, {31, 32}, {31, 31}}}

	src := source.NewMemorySource()
	src.AddTable("zones", &source.MemoryTable{GeometryType: "POLYGON", Features: []source.Feature{
		{ID: 1, Geometry: sliver},
		{ID: 2, Geometry: small},
		{ID: 3, Geometry: holed},
		{ID: 4, Geometry: square(50, 50, 2)},
	}})

	cat := geometryCatalog("zones", rules.GeometryChecks{Sliver: true, SmallArea: true, PolygonInPolygon: true}, 0)
	st := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)

	assert.GreaterOrEqual(t, countCode(st, "GEO_"+report.DefectSliver), 1)
	assert.Equal(t, 1, countCode(st, "GEO_"+report.DefectSmallArea))
	assert.Equal(t, 1, countCode(st, "GEO_"+report.DefectPolygonInPolygon))
	for _, e := range st.Errors {
		assert.NotEqual(t, int64(4), e.FeatureID, "the clean square is never flagged")
	}
}

func TestGeometryEngine_MinPointsAndNullGeometry(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("lines", lineTable(
		source.Feature{ID: 1, Geometry: orb.Point{1, 1}}, // one vertex, below MinPoints 2
		source.Feature{ID: 2, Geometry: nil},
		source.Feature{ID: 3, Geometry: orb.LineString{{0, 0}, {1, 0}}},
	))

	cat := geometryCatalog("lines", rules.GeometryChecks{MinPoint: true, Duplicate: true}, 0)
	st := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)

	assert.Equal(t, 1, countCode(st, "GEO_"+report.DefectMinPoint))
	assert.Equal(t, 1, countCode(st, "GEO_"+report.DefectBasicValidation), "null geometry reported, not thrown")
	require.Len(t, st.GeometryItems, 1)
	assert.Equal(t, int64(3), st.GeometryItems[0].ProcessedFeatureCount, "the null row still counts as processed")
}

func TestGeometryEngine_Undershoot(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("pipes", lineTable(
		source.Feature{ID: 1, Geometry: orb.LineString{{0, -1}, {0, 1}}},
		source.Feature{ID: 2, Geometry: orb.LineString{{-1, 0}, {-0.05, 0}}}, // stops 0.05 short
	))

	cat := geometryCatalog("pipes", rules.GeometryChecks{Undershoot: true, Overshoot: true}, 0.1)
	st := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)

	require.Equal(t, 1, countCode(st, "GEO_"+report.DefectUndershoot))
	assert.Zero(t, countCode(st, "GEO_"+report.DefectOvershoot))
	assert.Equal(t, int64(2), st.Errors[0].FeatureID)
}

func TestGeometryEngine_Overshoot(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("pipes", lineTable(
		source.Feature{ID: 1, Geometry: orb.LineString{{0, -1}, {0, 1}}},
		source.Feature{ID: 2, Geometry: orb.LineString{{-1, 0}, {0.05, 0}}}, // crosses and extends past
	))

	cat := geometryCatalog("pipes", rules.GeometryChecks{Undershoot: true, Overshoot: true}, 0.1)
	st := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)

	require.Equal(t, 1, countCode(st, "GEO_"+report.DefectOvershoot))
	assert.Zero(t, countCode(st, "GEO_"+report.DefectUndershoot))
	assert.Equal(t, int64(2), st.Errors[0].FeatureID)
}

func TestGeometryEngine_DetailCapKeepsCounters(t *testing.T) {
	src := source.NewMemorySource()
	tbl := lineTable()
	for i := 0; i < 10; i++ {
		tbl.Features = append(tbl.Features, source.Feature{
			ID:       int64(i + 1),
			Geometry: orb.LineString{{float64(i * 10), 0}, {float64(i*10) + 0.1, 0}}, // all short
		})
	}
	src.AddTable("lines", tbl)

	cfg := testConfig()
	cfg.Geometry.DetailLimit = 3
	cat := geometryCatalog("lines", rules.GeometryChecks{ShortObject: true}, 0)
	st := runEngine(t, StageGeometry, NewGeometryEngine(cat, cfg), src)

	require.Len(t, st.GeometryItems, 1)
	item := st.GeometryItems[0]
	assert.Equal(t, int64(10), item.DefectCounts[report.DefectShortObject], "counters are never capped")
	assert.Len(t, item.ErrorDetails, 3)
	assert.True(t, item.DetailsTruncated)
	assert.Equal(t, 10, countCode(st, "GEO_"+report.DefectShortObject))
}

func TestGeometryEngine_Deterministic(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("zones", &source.MemoryTable{GeometryType: "POLYGON", Features: []source.Feature{
		{ID: 1, Geometry: square(0, 0, 2)},
		{ID: 2, Geometry: square(1, 1, 2)},
		{ID: 3, Geometry: square(0, 0, 2)},
		{ID: 4, Geometry: square(20, 20, 0.3)},
	}})

	cat := geometryCatalog("zones", rules.GeometryChecks{Duplicate: true, Overlap: true, SmallArea: true}, 0)

	first := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)
	second := runEngine(t, StageGeometry, NewGeometryEngine(cat, testConfig()), src)

	assert.Equal(t, first.ErrorCount, second.ErrorCount)
	assert.Equal(t, errorCodes(first), errorCodes(second))
	require.Len(t, second.GeometryItems, 1)
	assert.Equal(t, first.GeometryItems[0].DefectCounts, second.GeometryItems[0].DefectCounts)
}
