// Package pipeline runs validation stages against a feature source: the
// orchestrator executes stage engines in dependency order with per-stage
// failure policies, the aggregator merges concurrent findings, the estimator
// turns progress counts into ETAs, and the batch coordinator repeats the
// whole run across many files.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cartolab/geovet/errors"
	"github.com/cartolab/geovet/logger"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
	"github.com/cartolab/geovet/sym"
)

// StageEngine evaluates one stage's rules against a source, writing findings
// through the collector and progress through the tracker. Engines must check
// ctx between tables, rules, and feature batches, and must never panic the
// run: per-feature recovery happens inside the engine, engine-level recovery
// in the orchestrator.
type StageEngine interface {
	Run(ctx context.Context, src source.FeatureSource, col *Collector, tr *Tracker) error
}

// StageDefinition declares one stage of a run.
type StageDefinition struct {
	Name             string
	Dependencies     []string
	FailureAction    rules.FailureAction
	CanRunInParallel bool
	MaxRetryCount    int
	RetryDelay       time.Duration
	Engine           StageEngine
}

// Orchestrator executes stages in topological order with per-stage failure
// policies. It performs no I/O itself; everything observable flows through
// the injected emitter.
type Orchestrator struct {
	stages  []StageDefinition
	waves   [][]int
	emitter Emitter
	monitor *Monitor
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter injects the progress observer.
func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithMonitor injects a resource monitor consulted between waves.
func WithMonitor(m *Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// NewOrchestrator validates the stage dependency graph and builds the
// execution plan. A cycle or unknown dependency fails here, before anything
// runs.
func NewOrchestrator(stages []StageDefinition, opts ...Option) (*Orchestrator, error) {
	waves, err := stageWaves(stages)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{stages: stages, waves: waves, emitter: NopEmitter{}}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// stageOutcome classifies how one stage ended after its failure policy was
// applied.
type stageOutcome int

const (
	stageOK stageOutcome = iota
	stageCancelled
	stageAborted
)

// Run validates one target through every stage. The returned result is
// always usable: on cancellation it is flagged Cancelled with everything
// collected so far, on abort it is Failed with the remaining stages absent.
func (o *Orchestrator) Run(ctx context.Context, src source.FeatureSource, targetFile string) (*report.ValidationResult, error) {
	agg := NewAggregator(targetFile)
	logger.Infow("Validation run starting",
		"target", targetFile, "stages", len(o.stages), "symbol", sym.Open)

	for _, wave := range o.waves {
		if err := ctx.Err(); err != nil {
			return agg.Complete(report.StatusCancelled, ""), errors.Wrap(errors.ErrCancelled, targetFile)
		}
		if o.monitor != nil {
			if err := o.monitor.Throttle(ctx); err != nil {
				return agg.Complete(report.StatusCancelled, ""), errors.Wrap(errors.ErrCancelled, targetFile)
			}
		}

		outcome, failedStage := o.runWave(ctx, wave, src, agg)
		switch outcome {
		case stageCancelled:
			logger.Warnw("Validation run cancelled", "target", targetFile, "symbol", sym.Close)
			return agg.Complete(report.StatusCancelled, ""), errors.Wrap(errors.ErrCancelled, targetFile)
		case stageAborted:
			msg := fmt.Sprintf("stage %s aborted the run", failedStage)
			logger.Errorw("Validation run aborted", "target", targetFile, "stage", failedStage)
			return agg.Complete(report.StatusFailed, msg), errors.Wrapf(errors.ErrStageFailed, "stage %s", failedStage)
		}
	}

	result := agg.Complete(report.StatusCompleted, "")
	o.emitter.EmitComplete(map[string]interface{}{
		"target":   targetFile,
		"errors":   result.ErrorCount,
		"warnings": result.WarningCount,
		"valid":    result.IsValid,
	})
	logger.Infow("Validation run complete",
		"target", targetFile,
		"errors", result.ErrorCount,
		"warnings", result.WarningCount,
		"valid", result.IsValid,
		"symbol", sym.Close,
	)
	return result, nil
}

// runWave executes one wave: parallel-capable stages concurrently, the rest
// in declaration order. The worst outcome of the wave wins.
func (o *Orchestrator) runWave(ctx context.Context, wave []int, src source.FeatureSource, agg *Aggregator) (stageOutcome, string) {
	var parallel, sequential []int
	for _, i := range wave {
		if o.stages[i].CanRunInParallel {
			parallel = append(parallel, i)
		} else {
			sequential = append(sequential, i)
		}
	}
	if len(parallel) == 1 {
		sequential = append(parallel, sequential...)
		parallel = nil
	}

	worst := stageOK
	worstStage := ""
	record := func(out stageOutcome, name string) {
		if out > worst {
			worst = out
			worstStage = name
		}
	}

	if len(parallel) > 0 {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, i := range parallel {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out := o.runStage(ctx, i, src, agg)
				mu.Lock()
				record(out, o.stages[i].Name)
				mu.Unlock()
			}(i)
		}
		wg.Wait()
	}
	if worst != stageOK {
		return worst, worstStage
	}

	for _, i := range sequential {
		out := o.runStage(ctx, i, src, agg)
		record(out, o.stages[i].Name)
		if worst != stageOK {
			return worst, worstStage
		}
	}
	return worst, worstStage
}

// runStage executes one stage with its retry/failure policy applied.
func (o *Orchestrator) runStage(ctx context.Context, stageIndex int, src source.FeatureSource, agg *Aggregator) stageOutcome {
	def := o.stages[stageIndex]
	o.emitter.EmitStage(def.Name, "starting")
	start := time.Now()

	attempts := 1
	if def.FailureAction == rules.FailRetry {
		attempts = def.MaxRetryCount + 1
	}

	var col *Collector
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			logger.Warnw("Retrying stage",
				"stage", def.Name, "attempt", attempt+1, "delay", def.RetryDelay)
			select {
			case <-ctx.Done():
				return stageCancelled
			case <-time.After(def.RetryDelay):
			}
		}

		// Each attempt writes to a fresh collector so a failed attempt's
		// partial findings are not double-counted.
		col = agg.BeginStage(def.Name)
		err = o.safeRun(ctx, def.Engine, src, col, NewTracker(stageIndex, def.Name, o.emitter))
		if err == nil {
			agg.CompleteStage(col, time.Since(start))
			return stageOK
		}
		if ctx.Err() != nil || errors.IsCancelled(err) {
			// Cancellation preserves everything collected so far.
			agg.CompleteStage(col, time.Since(start))
			return stageCancelled
		}
		o.emitter.EmitError(def.Name, err)
	}

	logger.Errorw("Stage failed", "stage", def.Name, "action", def.FailureAction, "error", err)

	switch def.FailureAction {
	case rules.FailSkip:
		col.MarkSkipped(err.Error())
		agg.CompleteStage(col, time.Since(start))
		return stageOK
	case rules.FailWarn:
		col.Add(report.ValidationError{
			ErrorCode: "STAGE_FAILURE",
			Severity:  report.SeverityWarning,
			Message:   fmt.Sprintf("stage %s failed: %v", def.Name, err),
		})
		agg.CompleteStage(col, time.Since(start))
		return stageOK
	default:
		// Abort, and Retry once its attempts are exhausted, halt the run;
		// stages not yet started stay absent from the result.
		col.Add(report.ValidationError{
			ErrorCode: "STAGE_FAILURE",
			Severity:  report.SeverityError,
			Message:   fmt.Sprintf("stage %s failed: %v", def.Name, err),
		})
		agg.CompleteStage(col, time.Since(start))
		return stageAborted
	}
}

// safeRun isolates an engine panic into an error so one broken stage cannot
// crash the host process.
func (o *Orchestrator) safeRun(ctx context.Context, engine StageEngine, src source.FeatureSource, col *Collector, tr *Tracker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("stage panicked: %v", r)
		}
	}()
	return engine.Run(ctx, src, col, tr)
}
