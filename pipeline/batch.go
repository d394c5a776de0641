package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cartolab/geovet/errors"
	"github.com/cartolab/geovet/logger"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/source"
	"github.com/cartolab/geovet/sym"
)

// Opener opens one target file as a feature source. Injected so the batch
// coordinator stays independent of any particular storage format.
type Opener func(path string) (source.FeatureSource, error)

// Batch runs the orchestrator across many target files, isolating per-file
// failure and aggregating batch statistics.
type Batch struct {
	orch     *Orchestrator
	open     Opener
	parallel int
	monitor  *Monitor
}

// NewBatch builds a batch coordinator. parallel caps how many files validate
// concurrently; values below 1 mean sequential.
func NewBatch(orch *Orchestrator, open Opener, parallel int) *Batch {
	if parallel < 1 {
		parallel = 1
	}
	return &Batch{orch: orch, open: open, parallel: parallel, monitor: orch.monitor}
}

// Run validates every path. One file's failure never aborts the batch: an
// unopenable file is captured as a failed outcome and the coordinator moves
// on. Cancellation stops scheduling new files; outcomes already produced are
// kept.
func (b *Batch) Run(ctx context.Context, paths []string) *report.BatchResult {
	start := time.Now()
	workers := b.parallel
	if b.monitor != nil {
		workers = b.monitor.AdviseWorkers(workers)
	}
	logger.Infow("Batch starting",
		"files", len(paths), "workers", workers, "symbol", sym.Batch)

	outcomes := make([]report.FileOutcome, len(paths))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, path := range paths {
		if ctx.Err() != nil {
			outcomes[i] = report.FileOutcome{Path: path, FailureError: errors.ErrCancelled.Error()}
			continue
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = b.runFile(ctx, path)
		}(i, path)
	}
	wg.Wait()

	result := &report.BatchResult{Files: outcomes}
	result.Finalize(time.Since(start))
	logger.Infow("Batch complete",
		"files", len(paths),
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
		"total_errors", result.TotalErrors,
		"symbol", sym.Batch,
	)
	return result
}

// runFile validates a single target, converting any failure into a captured
// outcome.
func (b *Batch) runFile(ctx context.Context, path string) report.FileOutcome {
	src, err := b.open(path)
	if err != nil {
		// Only a file that cannot be opened at all fails this file's run.
		logger.Errorw("Unable to open target", "path", path, "error", err)
		failed := report.NewValidationResult(path)
		failed.Complete(report.StatusFailed)
		failed.FailureMessage = err.Error()
		return report.FileOutcome{Path: path, Result: failed, FailureError: err.Error()}
	}
	defer src.Close()

	result, runErr := b.orch.Run(ctx, src, path)
	outcome := report.FileOutcome{Path: path, Result: result}
	if runErr != nil && !errors.IsCancelled(runErr) {
		outcome.FailureError = runErr.Error()
	}
	return outcome
}
