package pipeline

import (
	"sync"
	"time"

	"github.com/cartolab/geovet/report"
)

// Aggregator owns the run's ValidationResult and serializes all writes to
// it. Stage workers contribute through per-stage Collectors; the aggregator
// mutex is the only lock in the result path.
type Aggregator struct {
	mu     sync.Mutex
	result *report.ValidationResult
}

// NewAggregator starts an empty running result for one target file.
func NewAggregator(targetFile string) *Aggregator {
	return &Aggregator{result: report.NewValidationResult(targetFile)}
}

// BeginStage creates the collector stage workers write through.
func (a *Aggregator) BeginStage(name string) *Collector {
	return &Collector{agg: a, stage: report.NewStageResult(name)}
}

// CompleteStage freezes a collector's stage result, stamps its duration, and
// folds it into the run result. After this, writes through the collector are
// dropped.
func (a *Aggregator) CompleteStage(c *Collector, elapsed time.Duration) *report.StageResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c.frozen {
		return c.stage
	}
	c.frozen = true
	c.stage.ProcessingTime = elapsed
	a.result.SetStage(c.stage.StageName, c.stage)
	return c.stage
}

// Complete freezes the run result with a terminal status.
func (a *Aggregator) Complete(status report.Status, failureMessage string) *report.ValidationResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.FailureMessage = failureMessage
	a.result.Complete(status)
	return a.result
}

// Result returns the run result. Call only after Complete.
func (a *Aggregator) Result() *report.ValidationResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Snapshot returns a shallow copy of the current run state for observers.
// The copy is consistent but immediately stale; it is for display, never for
// termination decisions.
func (a *Aggregator) Snapshot() report.ValidationResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := *a.result
	snap.Stages = make(map[string]*report.StageResult, len(a.result.Stages))
	for name, sr := range a.result.Stages {
		copied := *sr
		snap.Stages[name] = &copied
	}
	return snap
}

// Collector is the write handle stage workers share. Every method locks the
// aggregator, so concurrent table/rule workers never lose updates.
type Collector struct {
	agg    *Aggregator
	stage  *report.StageResult
	frozen bool
}

// StageName returns the stage this collector feeds.
func (c *Collector) StageName() string { return c.stage.StageName }

// Add records one finding.
func (c *Collector) Add(v report.ValidationError) {
	c.agg.mu.Lock()
	defer c.agg.mu.Unlock()
	if c.frozen {
		return
	}
	c.stage.Add(v)
}

// MergeFragment folds a worker-built result fragment into the stage under
// one lock acquisition, so workers that batch findings locally pay for a
// single merge instead of a lock per finding.
func (c *Collector) MergeFragment(fragment *report.StageResult) {
	c.agg.mu.Lock()
	defer c.agg.mu.Unlock()
	if c.frozen {
		return
	}
	c.stage.Merge(fragment)
}

// AddRulesProcessed bumps the stage's true processed-rule count. The count
// is always measured, never estimated from error volume.
func (c *Collector) AddRulesProcessed(n int) {
	c.agg.mu.Lock()
	defer c.agg.mu.Unlock()
	if c.frozen {
		return
	}
	c.stage.ProcessedRulesCount += n
}

// MarkSkipped flags the stage as skipped by failure policy, recording the
// reason in the stage metadata.
func (c *Collector) MarkSkipped(reason string) {
	c.agg.mu.Lock()
	defer c.agg.mu.Unlock()
	if c.frozen {
		return
	}
	c.stage.Skipped = true
	c.stage.Metadata["skip_reason"] = reason
}

// SetMetadata records a stage metadata entry.
func (c *Collector) SetMetadata(key, value string) {
	c.agg.mu.Lock()
	defer c.agg.mu.Unlock()
	if c.frozen {
		return
	}
	c.stage.Metadata[key] = value
}

// AddTableItem appends a table-stage item.
func (c *Collector) AddTableItem(item report.TableValidationItem) {
	c.agg.mu.Lock()
	defer c.agg.mu.Unlock()
	if c.frozen {
		return
	}
	c.stage.TableItems = append(c.stage.TableItems, item)
}

// AddSchemaItem appends a schema-stage item.
func (c *Collector) AddSchemaItem(item report.SchemaValidationItem) {
	c.agg.mu.Lock()
	defer c.agg.mu.Unlock()
	if c.frozen {
		return
	}
	c.stage.SchemaItems = append(c.stage.SchemaItems, item)
}

// AddGeometryItem appends a geometry-stage item.
func (c *Collector) AddGeometryItem(item report.GeometryValidationItem) {
	c.agg.mu.Lock()
	defer c.agg.mu.Unlock()
	if c.frozen {
		return
	}
	c.stage.GeometryItems = append(c.stage.GeometryItems, item)
}
