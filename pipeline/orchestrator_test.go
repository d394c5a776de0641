package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/errors"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
)

// scriptedEngine is a test engine driven by a closure.
type scriptedEngine struct {
	run func(ctx context.Context, col *Collector, tr *Tracker) error
}

func (e *scriptedEngine) Run(ctx context.Context, _ source.FeatureSource, col *Collector, tr *Tracker) error {
	return e.run(ctx, col, tr)
}

func noopEngine() *scriptedEngine {
	return &scriptedEngine{run: func(context.Context, *Collector, *Tracker) error { return nil }}
}

func emptySource() source.FeatureSource {
	return source.NewMemorySource()
}

func TestOrchestrator_RunsStagesInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	stage := func(name string, deps ...string) StageDefinition {
		return StageDefinition{
			Name:         name,
			Dependencies: deps,
			Engine: &scriptedEngine{run: func(context.Context, *Collector, *Tracker) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			}},
		}
	}

	orch, err := NewOrchestrator([]StageDefinition{
		stage("geometry", "schema"),
		stage("schema"),
		stage("table", "schema"),
	})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), emptySource(), "x.gpkg")
	require.NoError(t, err)

	assert.Equal(t, "schema", order[0])
	assert.ElementsMatch(t, []string{"geometry", "table"}, order[1:])
	assert.Equal(t, report.StatusCompleted, result.Status)
	assert.Len(t, result.Stages, 3)
}

func TestOrchestrator_AbortMarksRemainingNotRun(t *testing.T) {
	fail := StageDefinition{
		Name:          "schema",
		FailureAction: rules.FailAbort,
		Engine: &scriptedEngine{run: func(context.Context, *Collector, *Tracker) error {
			return errors.New("schema unreadable")
		}},
	}
	after := StageDefinition{Name: "geometry", Dependencies: []string{"schema"}, Engine: noopEngine()}

	orch, err := NewOrchestrator([]StageDefinition{fail, after})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), emptySource(), "x.gpkg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStageFailed))

	assert.Equal(t, report.StatusFailed, result.Status)
	assert.Contains(t, result.Stages, "schema")
	_, ran := result.Stages["geometry"]
	assert.False(t, ran, "stages after an abort stay absent")
	assert.False(t, result.IsValid)
}

func TestOrchestrator_SkipAndWarnContinue(t *testing.T) {
	failing := func(name string, action rules.FailureAction) StageDefinition {
		return StageDefinition{
			Name:          name,
			FailureAction: action,
			Engine: &scriptedEngine{run: func(context.Context, *Collector, *Tracker) error {
				return errors.New("boom")
			}},
		}
	}

	orch, err := NewOrchestrator([]StageDefinition{
		failing("table", rules.FailSkip),
		failing("schema", rules.FailWarn),
		{Name: "geometry", Engine: noopEngine()},
	})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), emptySource(), "x.gpkg")
	require.NoError(t, err)

	assert.Equal(t, report.StatusCompleted, result.Status)
	assert.True(t, result.Stages["table"].Skipped)
	require.Equal(t, 1, result.Stages["schema"].WarningCount)
	assert.Equal(t, len(result.Stages["schema"].Warnings), result.Stages["schema"].WarningCount)
	assert.Contains(t, result.Stages, "geometry")
}

func TestOrchestrator_RetrySucceedsOnSecondAttempt(t *testing.T) {
	attempts := 0
	flaky := StageDefinition{
		Name:          "schema",
		FailureAction: rules.FailRetry,
		MaxRetryCount: 2,
		RetryDelay:    time.Millisecond,
		Engine: &scriptedEngine{run: func(_ context.Context, col *Collector, _ *Tracker) error {
			attempts++
			if attempts < 2 {
				col.Add(report.ValidationError{Severity: report.SeverityError, Message: "partial finding"})
				return errors.New("transient")
			}
			col.AddRulesProcessed(1)
			return nil
		}},
	}

	orch, err := NewOrchestrator([]StageDefinition{flaky})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), emptySource(), "x.gpkg")
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	sr := result.Stages["schema"]
	assert.Equal(t, 0, sr.ErrorCount, "failed attempt's partial findings are discarded")
	assert.Equal(t, 1, sr.ProcessedRulesCount)
}

func TestOrchestrator_RetryExhaustionAborts(t *testing.T) {
	attempts := 0
	hopeless := StageDefinition{
		Name:          "schema",
		FailureAction: rules.FailRetry,
		MaxRetryCount: 2,
		RetryDelay:    time.Millisecond,
		Engine: &scriptedEngine{run: func(context.Context, *Collector, *Tracker) error {
			attempts++
			return errors.New("still broken")
		}},
	}

	orch, err := NewOrchestrator([]StageDefinition{hopeless})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), emptySource(), "x.gpkg")
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
	assert.Equal(t, report.StatusFailed, result.Status)
}

func TestOrchestrator_CancellationPreservesCollected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := StageDefinition{
		Name: "table",
		Engine: &scriptedEngine{run: func(_ context.Context, col *Collector, _ *Tracker) error {
			col.Add(report.ValidationError{Severity: report.SeverityError, Message: "finding one"})
			return nil
		}},
	}
	second := StageDefinition{
		Name:         "geometry",
		Dependencies: []string{"table"},
		Engine: &scriptedEngine{run: func(ctx context.Context, col *Collector, _ *Tracker) error {
			col.Add(report.ValidationError{Severity: report.SeverityError, Message: "finding two"})
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}},
	}

	orch, err := NewOrchestrator([]StageDefinition{first, second})
	require.NoError(t, err)

	result, err := orch.Run(ctx, emptySource(), "x.gpkg")
	require.Error(t, err)
	assert.True(t, errors.IsCancelled(err))

	assert.Equal(t, report.StatusCancelled, result.Status)
	assert.Equal(t, 1, result.Stages["table"].ErrorCount)
	require.Contains(t, result.Stages, "geometry", "partial stage data survives cancellation")
	assert.Equal(t, 1, result.Stages["geometry"].ErrorCount)
}

func TestOrchestrator_PanicIsIsolated(t *testing.T) {
	panicking := StageDefinition{
		Name:          "geometry",
		FailureAction: rules.FailWarn,
		Engine: &scriptedEngine{run: func(context.Context, *Collector, *Tracker) error {
			panic("predicate blew up")
		}},
	}

	orch, err := NewOrchestrator([]StageDefinition{panicking})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), emptySource(), "x.gpkg")
	require.NoError(t, err, "a panicking stage never crashes the run")
	assert.Equal(t, 1, result.Stages["geometry"].WarningCount)
}
