package pipeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/report"
)

func TestAggregator_ConcurrentWorkersLoseNoUpdates(t *testing.T) {
	agg := NewAggregator("city.gpkg")
	col := agg.BeginStage("geometry")

	const workers = 8
	const perWorker = 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				col.Add(report.ValidationError{
					ErrorCode: "GEO_SLIVER",
					Severity:  report.SeverityError,
					Message:   fmt.Sprintf("worker %d finding %d", w, i),
				})
				col.AddRulesProcessed(1)
			}
		}(w)
	}
	wg.Wait()

	sr := agg.CompleteStage(col, time.Second)
	assert.Equal(t, workers*perWorker, sr.ErrorCount)
	assert.Equal(t, len(sr.Errors), sr.ErrorCount)
	assert.Equal(t, workers*perWorker, sr.ProcessedRulesCount)
}

func TestAggregator_FrozenCollectorDropsWrites(t *testing.T) {
	agg := NewAggregator("city.gpkg")
	col := agg.BeginStage("table")
	col.Add(report.ValidationError{Severity: report.SeverityError, Message: "before freeze"})

	sr := agg.CompleteStage(col, time.Millisecond)
	col.Add(report.ValidationError{Severity: report.SeverityError, Message: "after freeze"})
	col.AddRulesProcessed(5)

	assert.Equal(t, 1, sr.ErrorCount)
	assert.Equal(t, 0, sr.ProcessedRulesCount)
	assert.Equal(t, time.Millisecond, sr.ProcessingTime)
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	agg := NewAggregator("city.gpkg")
	col := agg.BeginStage("schema")
	col.Add(report.ValidationError{Severity: report.SeverityWarning, Message: "w"})
	agg.CompleteStage(col, time.Millisecond)

	snap := agg.Snapshot()
	require.Contains(t, snap.Stages, "schema")
	snap.Stages["schema"].ErrorCount = 99

	final := agg.Complete(report.StatusCompleted, "")
	assert.Equal(t, 0, final.Stages["schema"].ErrorCount, "mutating a snapshot never reaches the run result")
	assert.Equal(t, report.StatusCompleted, final.Status)
}

func TestAggregator_MergeFragmentFoldsWorkerResults(t *testing.T) {
	agg := NewAggregator("city.gpkg")
	col := agg.BeginStage("relation")

	const workers = 4
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			frag := report.NewStageResult("relation")
			frag.Add(report.ValidationError{
				ErrorCode: "REL_PointInsidePolygon",
				Severity:  report.SeverityError,
				Message:   fmt.Sprintf("worker %d", w),
			})
			frag.Add(report.ValidationError{Severity: report.SeverityWarning, Message: "diag"})
			frag.ProcessedRulesCount = 1
			col.MergeFragment(frag)
		}(w)
	}
	wg.Wait()

	sr := agg.CompleteStage(col, time.Second)
	assert.Equal(t, workers, sr.ErrorCount)
	assert.Equal(t, workers, sr.WarningCount)
	assert.Equal(t, workers, sr.ProcessedRulesCount)
	assert.False(t, sr.IsValid)

	col.MergeFragment(report.NewStageResult("relation"))
	frozen := report.NewStageResult("relation")
	frozen.ProcessedRulesCount = 7
	col.MergeFragment(frozen)
	assert.Equal(t, workers, sr.ProcessedRulesCount, "frozen collectors drop merges")
}

func TestAggregator_StageItemsRouting(t *testing.T) {
	agg := NewAggregator("city.gpkg")
	col := agg.BeginStage("geometry")

	item := report.NewGeometryItem("T1", "parcels")
	item.AddDefect(report.DefectSpike, report.ErrorDetail{ObjectID: 1, Message: "spike"}, 10)
	col.AddGeometryItem(*item)
	col.SetMetadata("tables", "1")

	sr := agg.CompleteStage(col, time.Millisecond)
	require.Len(t, sr.GeometryItems, 1)
	assert.Equal(t, "1", sr.Metadata["tables"])
}
