package stages

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
)

func hydrantsSource(n int) *source.MemorySource {
	src := source.NewMemorySource()
	tbl := &source.MemoryTable{GeometryType: "POINT"}
	for i := 0; i < n; i++ {
		tbl.Features = append(tbl.Features, source.Feature{
			ID:       int64(i + 1),
			Geometry: orb.Point{float64(i), float64(i)},
		})
	}
	src.AddTable("hydrants", tbl)
	return src
}

func TestTableEngine_ValidTable(t *testing.T) {
	cat := &rules.Catalog{Tables: []rules.TableRule{{
		TableID:             "T1",
		TableName:           "hydrants",
		CheckExists:         true,
		ExpectedFeatureType: "POINT",
		MinFeatureCount:     2,
	}}}

	st := runEngine(t, StageTable, NewTableEngine(cat), hydrantsSource(3))

	assert.True(t, st.IsValid)
	assert.Empty(t, st.Errors)
	require.Len(t, st.TableItems, 1)
	item := st.TableItems[0]
	assert.True(t, item.TableExists)
	assert.True(t, item.FeatureTypeMatches)
	assert.Equal(t, int64(3), item.FeatureCount)
	assert.Equal(t, 1, st.ProcessedRulesCount)
}

func TestTableEngine_MissingTable(t *testing.T) {
	cat := &rules.Catalog{Tables: []rules.TableRule{
		{TableID: "T1", TableName: "parcels", CheckExists: true},
		{TableID: "T2", TableName: "optional_layer", CheckExists: false},
	}}

	st := runEngine(t, StageTable, NewTableEngine(cat), source.NewMemorySource())

	assert.Equal(t, 1, countCode(st, "TBL_MISSING"), "only the required table is flagged")
	assert.Equal(t, "parcels", st.Errors[0].TableName)
	require.Len(t, st.TableItems, 2)
	assert.False(t, st.TableItems[0].TableExists)
	assert.False(t, st.TableItems[1].TableExists)
}

func TestTableEngine_FeatureTypeMismatchAndMultiVariant(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("roads", &source.MemoryTable{GeometryType: "MULTILINESTRING", Features: []source.Feature{{ID: 1}}})
	src.AddTable("zones", &source.MemoryTable{GeometryType: "POINT", Features: []source.Feature{{ID: 1}}})

	cat := &rules.Catalog{Tables: []rules.TableRule{
		{TableID: "T1", TableName: "roads", CheckExists: true, ExpectedFeatureType: "LINESTRING"},
		{TableID: "T2", TableName: "zones", CheckExists: true, ExpectedFeatureType: "POLYGON"},
	}}

	st := runEngine(t, StageTable, NewTableEngine(cat), src)

	assert.Zero(t, countCode(st, "TBL_MISSING"))
	assert.Equal(t, 1, countCode(st, "TBL_FEATURE_TYPE"))
	assert.Equal(t, "zones", st.Errors[0].TableName, "Multi variant of the expected type is accepted")
}

func TestTableEngine_MinFeatureCount(t *testing.T) {
	cat := &rules.Catalog{Tables: []rules.TableRule{{
		TableID:         "T1",
		TableName:       "hydrants",
		CheckExists:     true,
		MinFeatureCount: 10,
	}}}

	st := runEngine(t, StageTable, NewTableEngine(cat), hydrantsSource(3))

	assert.Equal(t, 1, countCode(st, "TBL_FEATURE_COUNT"))
	assert.False(t, st.IsValid)
	assert.Equal(t, len(st.Errors), st.ErrorCount)
}
