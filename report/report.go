// Package report holds the result model of a validation run: individual
// violations, per-stage results, per-table items, and the run-level
// aggregate. Everything round-trips through JSON, including metadata maps.
package report

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationError is one violation or diagnostic finding. It is a record,
// not a Go error, and is immutable once created.
type ValidationError struct {
	ErrorCode     string            `json:"error_code"`
	Severity      Severity          `json:"severity"`
	TableID       string            `json:"table_id,omitempty"`
	TableName     string            `json:"table_name,omitempty"`
	FieldName     string            `json:"field_name,omitempty"`
	FeatureID     int64             `json:"feature_id,omitempty"`
	ExpectedValue string            `json:"expected_value,omitempty"`
	ActualValue   string            `json:"actual_value,omitempty"`
	Message       string            `json:"message"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TableValidationItem is the outcome of the table-stage checks for one table.
type TableValidationItem struct {
	TableID             string   `json:"table_id"`
	TableName           string   `json:"table_name"`
	TableExists         bool     `json:"table_exists"`
	ExpectedFeatureType string   `json:"expected_feature_type,omitempty"`
	ActualFeatureType   string   `json:"actual_feature_type,omitempty"`
	FeatureTypeMatches  bool     `json:"feature_type_matches"`
	FeatureCount        int64    `json:"feature_count"`
	Errors              []string `json:"errors,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
}

// SchemaValidationItem is the outcome of the schema-stage checks for one
// column. Sample lists are capped by the engine's sample limit.
type SchemaValidationItem struct {
	TableID          string `json:"table_id"`
	TableName        string `json:"table_name"`
	ColumnName       string `json:"column_name"`
	ColumnExists     bool   `json:"column_exists"`
	ExpectedDataType string `json:"expected_data_type,omitempty"`
	ActualDataType   string `json:"actual_data_type,omitempty"`
	TypeMatches      bool   `json:"type_matches"`
	LengthMatches    bool   `json:"length_matches"`
	NotNullMatches   bool   `json:"not_null_matches"`
	PrimaryKeyMatches bool  `json:"primary_key_matches"`
	UniqueKeyMatches  bool  `json:"unique_key_matches"`
	ForeignKeyMatches bool  `json:"foreign_key_matches"`

	DuplicateValueCount     int64    `json:"duplicate_value_count"`
	DuplicateSamples        []string `json:"duplicate_samples,omitempty"`
	InvalidDomainValueCount int64    `json:"invalid_domain_value_count"`
	DomainSamples           []string `json:"domain_samples,omitempty"`
	OrphanRecordCount       int64    `json:"orphan_record_count"`
	OrphanSamples           []string `json:"orphan_samples,omitempty"`

	IsValid bool `json:"is_valid"`
}

// Geometry defect keys used in GeometryValidationItem.DefectCounts.
const (
	DefectDuplicate        = "duplicate"
	DefectOverlap          = "overlap"
	DefectSelfIntersection = "self_intersection"
	DefectSliver           = "sliver"
	DefectSpike            = "spike"
	DefectShortObject      = "short_object"
	DefectSmallArea        = "small_area"
	DefectPolygonInPolygon = "polygon_in_polygon"
	DefectMinPoint         = "min_point"
	DefectSelfOverlap      = "self_overlap"
	DefectUndershoot       = "undershoot"
	DefectOvershoot        = "overshoot"
	DefectBasicValidation  = "basic_validation_error"
)

// ErrorDetail locates one geometry defect.
type ErrorDetail struct {
	ObjectID int64   `json:"object_id"`
	Message  string  `json:"message"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
}

// GeometryValidationItem is the outcome of the geometry-stage checks for one
// table: per-defect counters plus a capped detail list.
type GeometryValidationItem struct {
	TableID               string           `json:"table_id"`
	TableName             string           `json:"table_name"`
	TotalFeatureCount     int64            `json:"total_feature_count"`
	ProcessedFeatureCount int64            `json:"processed_feature_count"`
	DefectCounts          map[string]int64 `json:"defect_counts"`
	ErrorDetails          []ErrorDetail    `json:"error_details,omitempty"`
	DetailsTruncated      bool             `json:"details_truncated,omitempty"`
}

// NewGeometryItem returns an item with an initialized counter map.
func NewGeometryItem(tableID, tableName string) *GeometryValidationItem {
	return &GeometryValidationItem{
		TableID:      tableID,
		TableName:    tableName,
		DefectCounts: make(map[string]int64),
	}
}

// AddDefect bumps a defect counter and records a detail unless the detail
// list already reached the cap.
func (g *GeometryValidationItem) AddDefect(key string, detail ErrorDetail, detailLimit int) {
	g.DefectCounts[key]++
	if detailLimit > 0 && len(g.ErrorDetails) >= detailLimit {
		g.DetailsTruncated = true
		return
	}
	g.ErrorDetails = append(g.ErrorDetails, detail)
}

// TotalDefects sums all defect counters.
func (g *GeometryValidationItem) TotalDefects() int64 {
	var n int64
	for _, c := range g.DefectCounts {
		n += c
	}
	return n
}

// StageResult collects everything one stage produced. Workers of that stage
// append through Add while the stage runs; the orchestrator freezes the
// result when the stage's completion event fires.
type StageResult struct {
	StageName           string            `json:"stage_name"`
	Errors              []ValidationError `json:"errors"`
	Warnings            []ValidationError `json:"warnings"`
	ErrorCount          int               `json:"error_count"`
	WarningCount        int               `json:"warning_count"`
	ProcessedRulesCount int               `json:"processed_rules_count"`
	ProcessingTime      time.Duration     `json:"processing_time"`
	IsValid             bool              `json:"is_valid"`
	Skipped             bool              `json:"skipped,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`

	TableItems    []TableValidationItem    `json:"table_items,omitempty"`
	SchemaItems   []SchemaValidationItem   `json:"schema_items,omitempty"`
	GeometryItems []GeometryValidationItem `json:"geometry_items,omitempty"`
}

// NewStageResult returns an empty result for a named stage.
func NewStageResult(name string) *StageResult {
	return &StageResult{
		StageName: name,
		Errors:    []ValidationError{},
		Warnings:  []ValidationError{},
		IsValid:   true,
		Metadata:  make(map[string]string),
	}
}

// Add routes a finding into Errors or Warnings by severity, keeping the
// counts and IsValid in step. Callers synchronize; StageResult itself holds
// no lock.
func (s *StageResult) Add(v ValidationError) {
	switch v.Severity {
	case SeverityWarning:
		s.Warnings = append(s.Warnings, v)
		s.WarningCount = len(s.Warnings)
	default:
		s.Errors = append(s.Errors, v)
		s.ErrorCount = len(s.Errors)
		s.IsValid = false
	}
}

// Merge folds another result fragment produced by a worker into s.
func (s *StageResult) Merge(other *StageResult) {
	if other == nil {
		return
	}
	s.Errors = append(s.Errors, other.Errors...)
	s.Warnings = append(s.Warnings, other.Warnings...)
	s.ErrorCount = len(s.Errors)
	s.WarningCount = len(s.Warnings)
	s.ProcessedRulesCount += other.ProcessedRulesCount
	s.TableItems = append(s.TableItems, other.TableItems...)
	s.SchemaItems = append(s.SchemaItems, other.SchemaItems...)
	s.GeometryItems = append(s.GeometryItems, other.GeometryItems...)
	for k, v := range other.Metadata {
		s.Metadata[k] = v
	}
	if s.ErrorCount > 0 {
		s.IsValid = false
	}
}

// Status is the terminal (or current) state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ValidationResult is the aggregate outcome of validating one target file.
// A stage absent from Stages was not run, which is distinct from a stage
// that ran and found nothing.
type ValidationResult struct {
	RunID          string                  `json:"run_id"`
	TargetFile     string                  `json:"target_file"`
	Stages         map[string]*StageResult `json:"stages"`
	ErrorCount     int                     `json:"error_count"`
	WarningCount   int                     `json:"warning_count"`
	ProcessingTime time.Duration           `json:"processing_time"`
	IsValid        bool                    `json:"is_valid"`
	Status         Status                  `json:"status"`
	FailureMessage string                  `json:"failure_message,omitempty"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    time.Time               `json:"completed_at,omitempty"`
}

// NewValidationResult starts a running result for one target file.
func NewValidationResult(targetFile string) *ValidationResult {
	return &ValidationResult{
		RunID:      uuid.NewString(),
		TargetFile: targetFile,
		Stages:     make(map[string]*StageResult),
		IsValid:    true,
		Status:     StatusRunning,
		StartedAt:  time.Now().UTC(),
	}
}

// SetStage records a completed stage and rolls its counts into the run
// totals.
func (r *ValidationResult) SetStage(name string, sr *StageResult) {
	r.Stages[name] = sr
	r.ErrorCount += sr.ErrorCount
	r.WarningCount += sr.WarningCount
	if sr.ErrorCount > 0 {
		r.IsValid = false
	}
}

// Complete freezes the result with a terminal status.
func (r *ValidationResult) Complete(status Status) {
	r.Status = status
	r.CompletedAt = time.Now().UTC()
	r.ProcessingTime = r.CompletedAt.Sub(r.StartedAt)
	if status == StatusFailed {
		r.IsValid = false
	}
}

// FileOutcome is one file's result within a batch.
type FileOutcome struct {
	Path         string            `json:"path"`
	Result       *ValidationResult `json:"result,omitempty"`
	FailureError string            `json:"failure_error,omitempty"`
}

// Succeeded reports whether the file's run completed (valid or not) rather
// than failing or being cancelled.
func (f FileOutcome) Succeeded() bool {
	return f.Result != nil && f.Result.Status == StatusCompleted
}

// BatchResult summarizes a multi-file run.
type BatchResult struct {
	Files         []FileOutcome `json:"files"`
	SuccessCount  int           `json:"success_count"`
	FailureCount  int           `json:"failure_count"`
	TotalErrors   int           `json:"total_errors"`
	TotalDuration time.Duration `json:"total_duration"`
	SuccessRate   float64       `json:"success_rate"`
}

// Finalize computes the batch aggregates from the per-file outcomes.
func (b *BatchResult) Finalize(elapsed time.Duration) {
	b.SuccessCount, b.FailureCount, b.TotalErrors = 0, 0, 0
	for _, f := range b.Files {
		if f.Succeeded() {
			b.SuccessCount++
		} else {
			b.FailureCount++
		}
		if f.Result != nil {
			b.TotalErrors += f.Result.ErrorCount
		}
	}
	b.TotalDuration = elapsed
	if n := len(b.Files); n > 0 {
		b.SuccessRate = float64(b.SuccessCount) / float64(n)
	}
}
