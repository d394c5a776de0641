package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageResult_CountsTrackSlices(t *testing.T) {
	sr := NewStageResult("geometry")
	assert.True(t, sr.IsValid)

	sr.Add(ValidationError{ErrorCode: "GEO_SLIVER", Severity: SeverityError, Message: "sliver"})
	sr.Add(ValidationError{ErrorCode: "GEO_SPIKE", Severity: SeverityError, Message: "spike"})
	sr.Add(ValidationError{ErrorCode: "GEO_SHORT", Severity: SeverityWarning, Message: "short"})

	assert.Equal(t, len(sr.Errors), sr.ErrorCount)
	assert.Equal(t, len(sr.Warnings), sr.WarningCount)
	assert.Equal(t, 2, sr.ErrorCount)
	assert.Equal(t, 1, sr.WarningCount)
	assert.False(t, sr.IsValid)
}

func TestStageResult_Merge(t *testing.T) {
	a := NewStageResult("schema")
	a.Add(ValidationError{Severity: SeverityError, Message: "one"})
	a.ProcessedRulesCount = 3
	a.Metadata["table"] = "parcels"

	b := NewStageResult("schema")
	b.Add(ValidationError{Severity: SeverityWarning, Message: "two"})
	b.ProcessedRulesCount = 2
	b.SchemaItems = append(b.SchemaItems, SchemaValidationItem{ColumnName: "zone"})

	a.Merge(b)
	assert.Equal(t, len(a.Errors), a.ErrorCount)
	assert.Equal(t, len(a.Warnings), a.WarningCount)
	assert.Equal(t, 5, a.ProcessedRulesCount)
	assert.Len(t, a.SchemaItems, 1)
	assert.False(t, a.IsValid)
}

func TestGeometryItem_DetailCap(t *testing.T) {
	item := NewGeometryItem("T1", "parcels")
	for i := 0; i < 10; i++ {
		item.AddDefect(DefectSliver, ErrorDetail{ObjectID: int64(i), Message: "sliver"}, 3)
	}

	assert.Equal(t, int64(10), item.DefectCounts[DefectSliver], "counters are never capped")
	assert.Len(t, item.ErrorDetails, 3, "details are capped")
	assert.True(t, item.DetailsTruncated)
	assert.Equal(t, int64(10), item.TotalDefects())
}

func TestValidationResult_StageAbsenceVsZero(t *testing.T) {
	r := NewValidationResult("city.gpkg")
	require.NotEmpty(t, r.RunID)
	assert.Equal(t, StatusRunning, r.Status)

	clean := NewStageResult("table")
	r.SetStage("table", clean)

	_, ran := r.Stages["table"]
	assert.True(t, ran)
	_, ran = r.Stages["geometry"]
	assert.False(t, ran, "a stage that never ran is absent, not zeroed")

	assert.True(t, r.IsValid)

	dirty := NewStageResult("schema")
	dirty.Add(ValidationError{Severity: SeverityError, Message: "bad column"})
	r.SetStage("schema", dirty)

	assert.Equal(t, 1, r.ErrorCount)
	assert.False(t, r.IsValid)

	r.Complete(StatusCompleted)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.False(t, r.CompletedAt.IsZero())
}

func TestValidationResult_JSONRoundTrip(t *testing.T) {
	r := NewValidationResult("city.gpkg")
	sr := NewStageResult("geometry")
	sr.Add(ValidationError{
		ErrorCode: "REL_PointInsidePolygon",
		Severity:  SeverityError,
		TableName: "hydrants",
		FeatureID: 42,
		Message:   "point outside all districts",
		Metadata:  map[string]string{"relation_type": "PointInsidePolygon", "rule_id": "R1"},
	})
	item := NewGeometryItem("T1", "parcels")
	item.AddDefect(DefectOverlap, ErrorDetail{ObjectID: 7, Message: "overlaps feature 9", X: 1.5, Y: 2.5}, 100)
	sr.GeometryItems = append(sr.GeometryItems, *item)
	sr.ProcessingTime = 1500 * time.Millisecond
	r.SetStage("geometry", sr)
	r.Complete(StatusCompleted)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var back ValidationResult
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, r.RunID, back.RunID)
	require.Contains(t, back.Stages, "geometry")
	got := back.Stages["geometry"]
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "R1", got.Errors[0].Metadata["rule_id"], "metadata maps survive the round trip")
	require.Len(t, got.GeometryItems, 1)
	assert.Equal(t, int64(1), got.GeometryItems[0].DefectCounts[DefectOverlap])
	assert.Equal(t, 1500*time.Millisecond, got.ProcessingTime)
	assert.Equal(t, len(got.Errors), got.ErrorCount)
}

func TestBatchResult_Finalize(t *testing.T) {
	ok1 := NewValidationResult("a.gpkg")
	ok1.Complete(StatusCompleted)
	ok2 := NewValidationResult("c.gpkg")
	ok2.ErrorCount = 4
	ok2.Complete(StatusCompleted)

	batch := &BatchResult{Files: []FileOutcome{
		{Path: "a.gpkg", Result: ok1},
		{Path: "b.gpkg", FailureError: "unable to open database file"},
		{Path: "c.gpkg", Result: ok2},
	}}
	batch.Finalize(3 * time.Second)

	assert.Equal(t, 2, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailureCount)
	assert.Equal(t, 4, batch.TotalErrors)
	assert.InDelta(t, 2.0/3.0, batch.SuccessRate, 1e-9)
}
