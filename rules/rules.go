// Package rules defines the typed rule records the validation engines
// consume, the catalog loaders that produce them from YAML/TOML files, and
// the rule-dependency graph.
//
// Rule records are loaded once per run and treated as read-only. Each record
// owns a shallow Validate() producing structured configuration errors; a
// malformed record is skipped with a catalog warning, it never aborts a run.
package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cartolab/geovet/errors"
)

// FailureAction controls how a stage or rule failure is handled.
type FailureAction string

const (
	FailSkip  FailureAction = "skip"
	FailWarn  FailureAction = "warn_and_continue"
	FailAbort FailureAction = "abort"
	FailRetry FailureAction = "retry"
)

// ParseFailureAction maps a config string to a FailureAction. Empty input
// defaults to warn_and_continue.
func ParseFailureAction(s string) (FailureAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FailWarn, nil
	case "skip":
		return FailSkip, nil
	case "warn_and_continue", "warn":
		return FailWarn, nil
	case "abort":
		return FailAbort, nil
	case "retry":
		return FailRetry, nil
	default:
		return "", errors.NewConfiguration("unknown failure action %q", s)
	}
}

// DependencyType classifies an edge in the rule-dependency graph.
type DependencyType string

const (
	DepSequential  DependencyType = "sequential"
	DepConditional DependencyType = "conditional"
	DepData        DependencyType = "data_dependency"
)

// ParseDependencyType maps a config string to a DependencyType. Empty input
// defaults to sequential.
func ParseDependencyType(s string) (DependencyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DepSequential, nil
	case "sequential":
		return DepSequential, nil
	case "conditional":
		return DepConditional, nil
	case "data_dependency", "data":
		return DepData, nil
	default:
		return "", errors.NewConfiguration("unknown dependency type %q", s)
	}
}

// TableRule checks a table's existence, feature type, and feature count.
type TableRule struct {
	TableID             string
	TableName           string
	CheckExists         bool
	ExpectedFeatureType string // "", "POINT", "LINESTRING", "POLYGON", ...
	MinFeatureCount     int64  // 0 = no count requirement
}

// Validate reports structural problems with the rule.
func (r *TableRule) Validate() error {
	if r.TableName == "" {
		return errors.NewConfiguration("table rule %s: table name is required", r.TableID)
	}
	if r.MinFeatureCount < 0 {
		return errors.NewConfiguration("table rule %s: min feature count must be >= 0", r.TableID)
	}
	return nil
}

// ForeignKeyRef names the reference side of a foreign-key expectation.
type ForeignKeyRef struct {
	Table  string
	Column string
}

// SchemaRule is the per-column schema expectation.
type SchemaRule struct {
	TableID      string
	TableName    string
	ColumnName   string
	ExpectedType string // compared by type family: INTEGER/TEXT/NUMERIC/CHAR/DATE
	Length       string // "len" or "len,scale"; "" = no length expectation
	NotNull      bool
	PrimaryKey   bool
	Unique       bool
	ForeignKey   *ForeignKeyRef
	DomainValues []string // allowed values; empty = no domain check
}

// Validate reports structural problems with the rule.
func (r *SchemaRule) Validate() error {
	if r.TableName == "" || r.ColumnName == "" {
		return errors.NewConfiguration("schema rule %s: table and column names are required", r.TableID)
	}
	if r.Length != "" {
		if _, _, err := ParseLength(r.Length); err != nil {
			return err
		}
	}
	if r.ForeignKey != nil && (r.ForeignKey.Table == "" || r.ForeignKey.Column == "") {
		return errors.NewConfiguration("schema rule %s.%s: foreign key needs both table and column", r.TableName, r.ColumnName)
	}
	return nil
}

// ParseLength parses a "len" or "len,scale" expectation.
func ParseLength(s string) (length, scale int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ",", 2)
	length, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || length < 0 {
		return 0, 0, errors.NewConfiguration("invalid length spec %q", s)
	}
	if len(parts) == 2 {
		scale, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || scale < 0 {
			return 0, 0, errors.NewConfiguration("invalid scale in length spec %q", s)
		}
	}
	return length, scale, nil
}

// GeometryChecks enables individual defect checks for one table.
type GeometryChecks struct {
	Duplicate        bool
	Overlap          bool
	SelfIntersection bool
	Sliver           bool
	Spike            bool
	ShortObject      bool
	SmallArea        bool
	PolygonInPolygon bool
	MinPoint         bool
	SelfOverlap      bool
	Undershoot       bool
	Overshoot        bool
}

// Any reports whether at least one check is enabled.
func (c GeometryChecks) Any() bool {
	return c.Duplicate || c.Overlap || c.SelfIntersection || c.Sliver ||
		c.Spike || c.ShortObject || c.SmallArea || c.PolygonInPolygon ||
		c.MinPoint || c.SelfOverlap || c.Undershoot || c.Overshoot
}

// GeometryRule is the per-table geometry defect configuration. Threshold
// zero values fall back to the pipeline's geometry defaults.
type GeometryRule struct {
	TableID       string
	TableName     string
	Checks        GeometryChecks
	Tolerance     float64
	SliverRatio   float64
	SpikeAngleDeg float64
	MinLength     float64
	MinArea       float64
	MinPoints     int
}

// Validate reports structural problems with the rule.
func (r *GeometryRule) Validate() error {
	if r.TableName == "" {
		return errors.NewConfiguration("geometry rule %s: table name is required", r.TableID)
	}
	if !r.Checks.Any() {
		return errors.NewConfiguration("geometry rule %s: no checks enabled", r.TableID)
	}
	if r.Tolerance < 0 || r.SliverRatio < 0 || r.MinLength < 0 || r.MinArea < 0 || r.MinPoints < 0 {
		return errors.NewConfiguration("geometry rule %s: thresholds must be >= 0", r.TableID)
	}
	if r.SpikeAngleDeg < 0 || r.SpikeAngleDeg >= 180 {
		return errors.NewConfiguration("geometry rule %s: spike angle must be in [0, 180)", r.TableID)
	}
	return nil
}

// RelationCase is the spatial-relation predicate a relation rule evaluates.
// It is a closed set; engines dispatch exhaustively over the three variants.
type RelationCase interface {
	Name() string
	isRelationCase()
}

// PointInsidePolygon requires every main-table point to lie within some
// related-table polygon, honoring tolerance as boundary slack.
type PointInsidePolygon struct{}

// LineWithinPolygon requires every main-table line to lie within tolerance
// of the union of related-table polygons.
type LineWithinPolygon struct{}

// PolygonNotWithinPolygon forbids full containment of a main-table polygon
// inside any related-table polygon.
type PolygonNotWithinPolygon struct{}

func (PointInsidePolygon) Name() string      { return "PointInsidePolygon" }
func (LineWithinPolygon) Name() string       { return "LineWithinPolygon" }
func (PolygonNotWithinPolygon) Name() string { return "PolygonNotWithinPolygon" }

func (PointInsidePolygon) isRelationCase()      {}
func (LineWithinPolygon) isRelationCase()       {}
func (PolygonNotWithinPolygon) isRelationCase() {}

// ParseRelationCase maps a config string to its RelationCase variant.
func ParseRelationCase(s string) (RelationCase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pointinsidepolygon", "point_inside_polygon":
		return PointInsidePolygon{}, nil
	case "linewithinpolygon", "line_within_polygon":
		return LineWithinPolygon{}, nil
	case "polygonnotwithinpolygon", "polygon_not_within_polygon":
		return PolygonNotWithinPolygon{}, nil
	default:
		return nil, errors.NewConfiguration("unknown relation case type %q", s)
	}
}

// RelationRule is one cross-layer spatial relation to enforce.
type RelationRule struct {
	RuleID       string
	Enabled      bool
	Case         RelationCase
	MainTable    string
	RelatedTable string
	FieldFilter  string // predicate over main-table attributes; "" = all rows
	Tolerance    float64
}

// Validate reports structural problems with the rule.
func (r *RelationRule) Validate() error {
	if r.RuleID == "" {
		return errors.NewConfiguration("relation rule: rule id is required")
	}
	if r.Case == nil {
		return errors.NewConfiguration("relation rule %s: case type is required", r.RuleID)
	}
	if r.MainTable == "" || r.RelatedTable == "" {
		return errors.NewConfiguration("relation rule %s: main and related tables are required", r.RuleID)
	}
	if r.Tolerance < 0 {
		return errors.NewConfiguration("relation rule %s: tolerance must be >= 0", r.RuleID)
	}
	if r.FieldFilter != "" {
		if _, err := Parse(r.FieldFilter); err != nil {
			return errors.Wrapf(err, "relation rule %s: bad field filter", r.RuleID)
		}
	}
	return nil
}

// AttributeCheck is the per-field constraint an attribute rule enforces.
// Closed set; engines dispatch exhaustively over the five variants.
type AttributeCheck interface {
	CheckName() string
	isAttributeCheck()
}

// CodeListCheck requires the field value to be one of a fixed set.
type CodeListCheck struct {
	Values []string
}

// RangeCheck requires a numeric field value within [Min, Max].
type RangeCheck struct {
	Min float64
	Max float64
}

// RegexCheck requires the field value to match a pattern.
type RegexCheck struct {
	Pattern string
	re      *regexp.Regexp
}

// Match reports whether s matches the compiled pattern.
func (c RegexCheck) Match(s string) bool {
	return c.re.MatchString(s)
}

// NotNullCheck forbids null/empty field values.
type NotNullCheck struct{}

// UniqueCheck forbids repeated field values within the table.
type UniqueCheck struct{}

func (CodeListCheck) CheckName() string { return "CodeList" }
func (RangeCheck) CheckName() string    { return "Range" }
func (RegexCheck) CheckName() string    { return "Regex" }
func (NotNullCheck) CheckName() string  { return "NotNull" }
func (UniqueCheck) CheckName() string   { return "Unique" }

func (CodeListCheck) isAttributeCheck() {}
func (RangeCheck) isAttributeCheck()    {}
func (RegexCheck) isAttributeCheck()    {}
func (NotNullCheck) isAttributeCheck()  {}
func (UniqueCheck) isAttributeCheck()   {}

// ParseAttributeCheck converts a (checkType, parameters) pair into its
// typed variant. Parameters are parsed per type: pipe-delimited code list,
// "min..max" range, or a regex pattern.
func ParseAttributeCheck(checkType, params string) (AttributeCheck, error) {
	switch strings.ToLower(strings.TrimSpace(checkType)) {
	case "codelist", "code_list":
		if strings.TrimSpace(params) == "" {
			return nil, errors.NewConfiguration("code list check needs at least one value")
		}
		values := strings.Split(params, "|")
		for i := range values {
			values[i] = strings.TrimSpace(values[i])
		}
		return CodeListCheck{Values: values}, nil
	case "range":
		parts := strings.SplitN(params, "..", 2)
		if len(parts) != 2 {
			return nil, errors.NewConfiguration("range check needs \"min..max\", got %q", params)
		}
		min, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		max, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return nil, errors.NewConfiguration("range check bounds must be numeric, got %q", params)
		}
		if min > max {
			return nil, errors.NewConfiguration("range check min %v exceeds max %v", min, max)
		}
		return RangeCheck{Min: min, Max: max}, nil
	case "regex":
		re, err := regexp.Compile(params)
		if err != nil {
			return nil, errors.NewConfiguration("regex check pattern %q: %v", params, err)
		}
		return RegexCheck{Pattern: params, re: re}, nil
	case "notnull", "not_null":
		return NotNullCheck{}, nil
	case "unique":
		return UniqueCheck{}, nil
	default:
		return nil, errors.NewConfiguration("unknown attribute check type %q", checkType)
	}
}

// AttributeRule is one per-field attribute constraint.
type AttributeRule struct {
	RuleID    string
	TableName string
	FieldName string
	Check     AttributeCheck
	Enabled   bool
}

// Validate reports structural problems with the rule.
func (r *AttributeRule) Validate() error {
	if r.RuleID == "" {
		return errors.NewConfiguration("attribute rule: rule id is required")
	}
	if r.TableName == "" || r.FieldName == "" {
		return errors.NewConfiguration("attribute rule %s: table and field names are required", r.RuleID)
	}
	if r.Check == nil {
		return errors.NewConfiguration("attribute rule %s: check type is required", r.RuleID)
	}
	return nil
}

// ConditionalRule gates a validation predicate behind a condition predicate:
// rows matching Condition must also satisfy Assert.
type ConditionalRule struct {
	RuleID    string
	TableName string
	Condition *Predicate
	Assert    *Predicate

	RawCondition string
	RawAssert    string
}

// Validate reports structural problems with the rule.
func (r *ConditionalRule) Validate() error {
	if r.RuleID == "" {
		return errors.NewConfiguration("conditional rule: rule id is required")
	}
	if r.TableName == "" {
		return errors.NewConfiguration("conditional rule %s: table name is required", r.RuleID)
	}
	if r.Condition == nil || r.Assert == nil {
		return errors.NewConfiguration("conditional rule %s: condition and assert are required", r.RuleID)
	}
	return nil
}

// LogicalRelationRule joins two tables on a key pair and evaluates a
// cross-table predicate on the joined row. Right-table attributes are
// exposed to the predicate under the "related." prefix.
type LogicalRelationRule struct {
	RuleID     string
	LeftTable  string
	RightTable string
	LeftKey    string
	RightKey   string
	Assert     *Predicate

	RawAssert string
}

// Validate reports structural problems with the rule.
func (r *LogicalRelationRule) Validate() error {
	if r.RuleID == "" {
		return errors.NewConfiguration("logical relation rule: rule id is required")
	}
	if r.LeftTable == "" || r.RightTable == "" || r.LeftKey == "" || r.RightKey == "" {
		return errors.NewConfiguration("logical relation rule %s: join tables and keys are required", r.RuleID)
	}
	if r.Assert == nil {
		return errors.NewConfiguration("logical relation rule %s: assert predicate is required", r.RuleID)
	}
	return nil
}

// FKConstraint is one edge of a cross-table referential-integrity map.
type FKConstraint struct {
	SourceTable string
	SourceField string
	RefTable    string
	RefField    string
}

// CrossTableRule verifies multi-table referential integrity from an
// explicit foreign-key constraint map.
type CrossTableRule struct {
	RuleID      string
	Constraints []FKConstraint
}

// Validate reports structural problems with the rule.
func (r *CrossTableRule) Validate() error {
	if r.RuleID == "" {
		return errors.NewConfiguration("cross-table rule: rule id is required")
	}
	if len(r.Constraints) == 0 {
		return errors.NewConfiguration("cross-table rule %s: at least one constraint is required", r.RuleID)
	}
	for _, c := range r.Constraints {
		if c.SourceTable == "" || c.SourceField == "" || c.RefTable == "" || c.RefField == "" {
			return errors.NewConfiguration("cross-table rule %s: constraint needs source and reference table/field", r.RuleID)
		}
	}
	return nil
}

// RuleDependency declares edges in the rule-dependency graph, plus the
// failure policy applied when a dependency fails.
type RuleDependency struct {
	RuleID       string
	DependsOn    []string
	Type         DependencyType
	OnFailure    FailureAction
	MaxRetries   int
	RetryDelayMs int
}

// Validate reports structural problems with the dependency record.
func (r *RuleDependency) Validate() error {
	if r.RuleID == "" {
		return errors.NewConfiguration("rule dependency: rule id is required")
	}
	for _, d := range r.DependsOn {
		if d == r.RuleID {
			return errors.NewConfiguration("rule dependency %s: rule cannot depend on itself", r.RuleID)
		}
	}
	if r.MaxRetries < 0 || r.RetryDelayMs < 0 {
		return errors.NewConfiguration("rule dependency %s: retry settings must be >= 0", r.RuleID)
	}
	return nil
}

// Catalog is the full typed rule set for one run, read-only after loading.
// Warnings records malformed rules that were skipped.
type Catalog struct {
	Tables       []TableRule
	Schemas      []SchemaRule
	Geometries   []GeometryRule
	Attributes   []AttributeRule
	Conditionals []ConditionalRule
	Logicals     []LogicalRelationRule
	CrossTables  []CrossTableRule
	Relations    []RelationRule
	Dependencies []RuleDependency

	Warnings []string
}
