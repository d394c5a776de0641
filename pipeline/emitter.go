package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/time/rate"

	"github.com/cartolab/geovet/sym"
)

// ProgressUpdate is one progress snapshot pushed to observers. Delivery is
// at-least-once with no replay; consumers treat updates as display hints,
// never as authoritative completion signals.
type ProgressUpdate struct {
	StageIndex     int           `json:"stage_index"`
	StageName      string        `json:"stage_name"`
	Percent        float64       `json:"percent"`
	ProcessedUnits int64         `json:"processed_units"`
	TotalUnits     int64         `json:"total_units"`
	Throughput     float64       `json:"throughput"` // units per second
	ETA            time.Duration `json:"eta"`
	Confidence     float64       `json:"confidence"` // 0..1
	SpeedRatio     float64       `json:"speed_ratio,omitempty"`
}

// Emitter receives pipeline events. The orchestrator and engines perform no
// terminal or log output themselves; everything observable flows through an
// injected Emitter.
//
// Implementations:
//   - CLIEmitter: pretty-printed terminal output using pterm
//   - JSONEmitter: structured JSON lines for machine consumption
//   - NopEmitter: discard everything (tests, embedding)
type Emitter interface {
	// EmitStage announces the start of a validation stage.
	EmitStage(stage string, message string)

	// EmitProgress announces per-stage progress with ETA data.
	EmitProgress(u ProgressUpdate)

	// EmitComplete announces successful completion with a summary.
	EmitComplete(summary map[string]interface{})

	// EmitError announces an error during processing.
	EmitError(stage string, err error)

	// EmitInfo emits a general informational message.
	EmitInfo(message string)
}

// CLIEmitter outputs pretty-printed progress to the terminal using pterm.
type CLIEmitter struct {
	verbosity int
}

// NewCLIEmitter creates a CLI progress emitter for terminal output.
func NewCLIEmitter(verbosity int) *CLIEmitter {
	return &CLIEmitter{verbosity: verbosity}
}

func (e *CLIEmitter) EmitStage(stage string, message string) {
	pterm.Printf("%s %s: %s\n", sym.Stage, pterm.LightCyan(stage), message)
}

func (e *CLIEmitter) EmitProgress(u ProgressUpdate) {
	if u.TotalUnits <= 0 {
		pterm.Printf("   %s %d units\n", pterm.Gray("…"), u.ProcessedUnits)
		return
	}
	line := fmt.Sprintf("   %s %.1f%% (%d/%d)",
		pterm.Green(u.StageName), u.Percent, u.ProcessedUnits, u.TotalUnits)
	if u.ETA > 0 && u.Confidence >= 0.3 {
		line += pterm.Gray(fmt.Sprintf("  eta %s", u.ETA.Round(time.Second)))
	}
	pterm.Println(line)

	if e.verbosity >= 2 {
		pterm.Printf("      throughput=%.1f/s confidence=%.2f\n", u.Throughput, u.Confidence)
	}
}

func (e *CLIEmitter) EmitComplete(summary map[string]interface{}) {
	pterm.Printf("%s Validation complete\n", pterm.Green(sym.Check))
	if e.verbosity >= 1 {
		for k, v := range summary {
			pterm.Printf("   %s: %v\n", pterm.Gray(k), v)
		}
	}
}

func (e *CLIEmitter) EmitError(stage string, err error) {
	pterm.Printf("%s %s: %v\n", pterm.Red(sym.Flag), stage, err)
}

func (e *CLIEmitter) EmitInfo(message string) {
	if e.verbosity >= 1 {
		pterm.Println(pterm.Gray(message))
	}
}

// Event is one structured JSON progress event.
type Event struct {
	Type      string                 `json:"type"` // "stage", "progress", "complete", "error", "info"
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// JSONEmitter writes structured JSON events, one per line, for consumption
// by servers or wrapping tools.
type JSONEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONEmitter creates a JSON emitter writing to w.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{enc: json.NewEncoder(w)}
}

func (e *JSONEmitter) emit(eventType string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data})
}

func (e *JSONEmitter) EmitStage(stage string, message string) {
	e.emit("stage", map[string]interface{}{"stage": stage, "message": message})
}

func (e *JSONEmitter) EmitProgress(u ProgressUpdate) {
	e.emit("progress", map[string]interface{}{
		"stage_index": u.StageIndex,
		"stage_name":  u.StageName,
		"percent":     u.Percent,
		"processed":   u.ProcessedUnits,
		"total":       u.TotalUnits,
		"throughput":  u.Throughput,
		"eta_ms":      u.ETA.Milliseconds(),
		"confidence":  u.Confidence,
	})
}

func (e *JSONEmitter) EmitComplete(summary map[string]interface{}) {
	e.emit("complete", summary)
}

func (e *JSONEmitter) EmitError(stage string, err error) {
	e.emit("error", map[string]interface{}{"stage": stage, "error": err.Error()})
}

func (e *JSONEmitter) EmitInfo(message string) {
	e.emit("info", map[string]interface{}{"message": message})
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string)              {}
func (NopEmitter) EmitProgress(ProgressUpdate)           {}
func (NopEmitter) EmitComplete(map[string]interface{})   {}
func (NopEmitter) EmitError(string, error)               {}
func (NopEmitter) EmitInfo(string)                       {}

// ThrottledEmitter rate-limits progress events so per-feature updates do not
// flood the observer. Stage, completion, and error events always pass
// through, as does any progress update that reaches 100%.
type ThrottledEmitter struct {
	Emitter
	limiter *rate.Limiter
}

// NewThrottledEmitter wraps inner, allowing at most one progress event per
// interval.
func NewThrottledEmitter(inner Emitter, interval time.Duration) *ThrottledEmitter {
	return &ThrottledEmitter{
		Emitter: inner,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (e *ThrottledEmitter) EmitProgress(u ProgressUpdate) {
	if u.Percent >= 100 || e.limiter.Allow() {
		e.Emitter.EmitProgress(u)
	}
}
