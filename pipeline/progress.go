package pipeline

import (
	"math"
	"sync"
	"time"
)

// minThroughputSamples is the sample count below which ETA confidence stays
// degraded.
const minThroughputSamples = 5

// Estimator computes throughput, ETA, and a confidence score for one stage.
// The timer restarts with every stage; elapsed time from earlier stages never
// leaks into the current estimate.
type Estimator struct {
	mu sync.Mutex

	stageName string
	startedAt time.Time
	processed int64
	total     int64

	// Recent instantaneous throughput samples, for variance-based confidence.
	samples []float64
	lastAt  time.Time
	lastN   int64

	// Units/second considered normal for this stage; 0 disables the
	// speed-ratio signal.
	baseline float64

	now func() time.Time // test hook
}

// NewEstimator returns an estimator with no active stage.
func NewEstimator() *Estimator {
	return &Estimator{now: time.Now}
}

// SetBaseline sets the expected units/second used for the speed ratio.
func (e *Estimator) SetBaseline(unitsPerSecond float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseline = unitsPerSecond
}

// StartStage resets the estimator for a new stage with a fresh timer.
func (e *Estimator) StartStage(name string, totalUnits int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stageName = name
	e.total = totalUnits
	e.processed = 0
	e.samples = e.samples[:0]
	e.startedAt = e.now()
	e.lastAt = e.startedAt
	e.lastN = 0
}

// SetTotal adjusts the stage's total unit count after the fact (totals are
// often only known once tables have been counted).
func (e *Estimator) SetTotal(totalUnits int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total = totalUnits
}

// Advance records n more processed units.
func (e *Estimator) Advance(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed += n

	t := e.now()
	if dt := t.Sub(e.lastAt).Seconds(); dt > 0.05 {
		sample := float64(e.processed-e.lastN) / dt
		e.samples = append(e.samples, sample)
		if len(e.samples) > 32 {
			e.samples = e.samples[len(e.samples)-32:]
		}
		e.lastAt = t
		e.lastN = e.processed
	}
}

// Snapshot returns a consistent copy of the current estimate, for display
// only.
func (e *Estimator) Snapshot() ProgressUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := ProgressUpdate{
		StageName:      e.stageName,
		ProcessedUnits: e.processed,
		TotalUnits:     e.total,
	}

	elapsed := e.now().Sub(e.startedAt).Seconds()
	if elapsed <= 0 || e.processed == 0 {
		return u
	}

	u.Throughput = float64(e.processed) / elapsed
	if e.total > 0 {
		u.Percent = math.Min(100, float64(e.processed)/float64(e.total)*100)
		remaining := e.total - e.processed
		if remaining > 0 && u.Throughput > 0 {
			u.ETA = time.Duration(float64(remaining) / u.Throughput * float64(time.Second))
		}
	}
	u.Confidence = e.confidence()
	if e.baseline > 0 {
		u.SpeedRatio = u.Throughput / e.baseline
	}
	return u
}

// confidence degrades with few samples and with high throughput variance.
// Callers hold e.mu.
func (e *Estimator) confidence() float64 {
	n := len(e.samples)
	if n == 0 {
		return 0
	}
	sampleFactor := math.Min(1, float64(n)/minThroughputSamples)

	mean := 0.0
	for _, s := range e.samples {
		mean += s
	}
	mean /= float64(n)
	if mean <= 0 {
		return 0
	}
	variance := 0.0
	for _, s := range e.samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(n)

	// Coefficient of variation maps to a 0..1 stability factor; cv of 1
	// (stddev as large as the mean) halves confidence.
	cv := math.Sqrt(variance) / mean
	stability := 1 / (1 + cv)

	return sampleFactor * stability
}

// Tracker binds one stage's estimator to the run's emitter. Engines call
// SetTotal once the unit count is known and Advance as they process;
// snapshots are pushed to the emitter, which may throttle them.
type Tracker struct {
	est        *Estimator
	emitter    Emitter
	stageIndex int
}

// NewTracker starts tracking a stage.
func NewTracker(stageIndex int, stageName string, emitter Emitter) *Tracker {
	est := NewEstimator()
	est.StartStage(stageName, 0)
	return &Tracker{est: est, emitter: emitter, stageIndex: stageIndex}
}

// SetTotal declares the stage's total unit count.
func (t *Tracker) SetTotal(units int64) {
	t.est.SetTotal(units)
}

// AddTotal grows the stage's total unit count as tables are discovered.
func (t *Tracker) AddTotal(units int64) {
	t.est.mu.Lock()
	t.est.total += units
	t.est.mu.Unlock()
}

// Advance records processed units and pushes a snapshot.
func (t *Tracker) Advance(units int64) {
	t.est.Advance(units)
	u := t.est.Snapshot()
	u.StageIndex = t.stageIndex
	t.emitter.EmitProgress(u)
}

// Snapshot returns the current estimate without emitting.
func (t *Tracker) Snapshot() ProgressUpdate {
	u := t.est.Snapshot()
	u.StageIndex = t.stageIndex
	return u
}
