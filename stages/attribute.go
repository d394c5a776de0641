package stages

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cartolab/geovet/config"
	"github.com/cartolab/geovet/logger"
	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
)

// AttributeEngine evaluates per-field attribute checks plus the higher-order
// rule families (conditional, logical relation, cross-table referential
// integrity). Rules execute in the order the rule-dependency graph dictates,
// with per-rule failure policies.
type AttributeEngine struct {
	cat        *rules.Catalog
	maxRetries int
	retryDelay time.Duration
}

// NewAttributeEngine builds the engine for a catalog's attribute-family
// rules.
func NewAttributeEngine(cat *rules.Catalog, cfg *config.Config) *AttributeEngine {
	return &AttributeEngine{
		cat:        cat,
		maxRetries: cfg.Pipeline.MaxRetries,
		retryDelay: time.Duration(cfg.Pipeline.RetryDelayMs) * time.Millisecond,
	}
}

// ruleState is the terminal state of one executed rule, consulted by its
// dependents.
type ruleState int

const (
	ruleClean    ruleState = iota // ran, no violations
	ruleViolated                  // ran, produced violations
	ruleFailed                    // could not run (data access etc.)
	ruleSkipped                   // not run by policy
)

// ruleExec pairs a rule id with its evaluation closure. The closure returns
// the number of violations recorded.
type ruleExec struct {
	id  string
	run func(ctx context.Context) (int, error)
}

func (e *AttributeEngine) Run(ctx context.Context, src source.FeatureSource, col *pipeline.Collector, tr *pipeline.Tracker) error {
	execs := e.buildExecs(src, col)

	ids := make([]string, len(execs))
	byID := make(map[string]ruleExec, len(execs))
	for i, ex := range execs {
		ids[i] = ex.id
		byID[ex.id] = ex
	}
	order, err := rules.OrderRules(ids, e.cat.Dependencies)
	if err != nil {
		return err
	}

	tr.SetTotal(int64(len(order)))
	states := make(map[string]ruleState, len(order))

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		ex := byID[id]
		dep := rules.DependencyFor(e.cat.Dependencies, id)

		if skip, reason := e.shouldSkip(dep, states); skip {
			states[id] = ruleSkipped
			logger.Debugw("Skipping rule", "rule", id, "reason", reason)
			col.Add(report.ValidationError{
				ErrorCode: "ATTR_RULE_SKIPPED",
				Severity:  report.SeverityWarning,
				Message:   fmt.Sprintf("rule %s skipped: %s", id, reason),
				Metadata:  map[string]string{"rule_id": id},
			})
			tr.Advance(1)
			continue
		}

		violations, runErr := e.runWithPolicy(ctx, ex, dep)
		switch {
		case runErr == nil && violations == 0:
			states[id] = ruleClean
		case runErr == nil:
			states[id] = ruleViolated
		default:
			if ctx.Err() != nil {
				return runErr
			}
			states[id] = ruleFailed
			action := rules.FailWarn
			if dep != nil {
				action = dep.OnFailure
			}
			if action == rules.FailAbort {
				return runErr
			}
			if action == rules.FailSkip {
				states[id] = ruleSkipped
			}
			col.Add(report.ValidationError{
				ErrorCode: "ATTR_RULE_FAILURE",
				Severity:  report.SeverityWarning,
				Message:   fmt.Sprintf("rule %s failed: %v", id, runErr),
				Metadata:  map[string]string{"rule_id": id},
			})
		}

		col.AddRulesProcessed(1)
		tr.Advance(1)
	}
	return nil
}

// shouldSkip applies the dependency semantics: a conditional dependent is
// skipped when its dependency produced violations, a data dependent when its
// dependency failed or was skipped. Sequential dependencies only order
// execution.
func (e *AttributeEngine) shouldSkip(dep *rules.RuleDependency, states map[string]ruleState) (bool, string) {
	if dep == nil {
		return false, ""
	}
	for _, on := range dep.DependsOn {
		state, ran := states[on]
		if !ran {
			continue // dependency outside this stage's rule set
		}
		switch dep.Type {
		case rules.DepConditional:
			if state == ruleViolated || state == ruleFailed || state == ruleSkipped {
				return true, fmt.Sprintf("conditional dependency %s did not pass", on)
			}
		case rules.DepData:
			if state == ruleFailed || state == ruleSkipped {
				return true, fmt.Sprintf("data dependency %s did not run", on)
			}
		}
	}
	return false, ""
}

// runWithPolicy executes one rule, retrying per its dependency record when
// the failure action is Retry.
func (e *AttributeEngine) runWithPolicy(ctx context.Context, ex ruleExec, dep *rules.RuleDependency) (int, error) {
	attempts := 1
	delay := e.retryDelay
	if dep != nil && dep.OnFailure == rules.FailRetry {
		// Per-rule retry settings win; zero falls back to the pipeline config.
		attempts = dep.MaxRetries + 1
		if dep.MaxRetries == 0 {
			attempts = e.maxRetries + 1
		}
		if dep.RetryDelayMs > 0 {
			delay = time.Duration(dep.RetryDelayMs) * time.Millisecond
		}
	}

	var violations int
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
			logger.Debugw("Retrying rule", "rule", ex.id, "attempt", attempt+1)
		}
		violations, err = ex.run(ctx)
		if err == nil {
			return violations, nil
		}
		if ctx.Err() != nil {
			return 0, err
		}
	}
	return 0, err
}

// buildExecs flattens every attribute-family rule into an ordered executor
// list.
func (e *AttributeEngine) buildExecs(src source.FeatureSource, col *pipeline.Collector) []ruleExec {
	var execs []ruleExec

	for _, r := range e.cat.Attributes {
		if !r.Enabled {
			continue
		}
		r := r
		execs = append(execs, ruleExec{id: r.RuleID, run: func(ctx context.Context) (int, error) {
			return e.runFieldRule(ctx, r, src, col)
		}})
	}
	for _, r := range e.cat.Conditionals {
		r := r
		execs = append(execs, ruleExec{id: r.RuleID, run: func(ctx context.Context) (int, error) {
			return e.runConditional(ctx, r, src, col)
		}})
	}
	for _, r := range e.cat.Logicals {
		r := r
		execs = append(execs, ruleExec{id: r.RuleID, run: func(ctx context.Context) (int, error) {
			return e.runLogical(ctx, r, src, col)
		}})
	}
	for _, r := range e.cat.CrossTables {
		r := r
		execs = append(execs, ruleExec{id: r.RuleID, run: func(ctx context.Context) (int, error) {
			return e.runCrossTable(ctx, r, src, col)
		}})
	}
	return execs
}

func (e *AttributeEngine) runFieldRule(ctx context.Context, r rules.AttributeRule, src source.FeatureSource, col *pipeline.Collector) (int, error) {
	it, err := src.Features(ctx, r.TableName)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	violations := 0
	flag := func(featureID int64, code, expected, actual, msg string) {
		violations++
		col.Add(report.ValidationError{
			ErrorCode:     code,
			Severity:      report.SeverityError,
			TableName:     r.TableName,
			FieldName:     r.FieldName,
			FeatureID:     featureID,
			ExpectedValue: expected,
			ActualValue:   actual,
			Message:       msg,
			Metadata:      map[string]string{"rule_id": r.RuleID},
		})
	}

	var codeSet map[string]struct{}
	if cl, ok := r.Check.(rules.CodeListCheck); ok {
		codeSet = make(map[string]struct{}, len(cl.Values))
		for _, v := range cl.Values {
			codeSet[v] = struct{}{}
		}
	}
	seen := make(map[string]int64) // UniqueCheck: value -> first feature id

	row := 0
	for it.Next() {
		row++
		if row%512 == 0 {
			if err := ctx.Err(); err != nil {
				return violations, err
			}
		}
		f := it.Feature()
		raw, present := lookupAttr(f.Attributes, r.FieldName)

		switch check := r.Check.(type) {
		case rules.NotNullCheck:
			if !present || formatValue(raw) == "" {
				flag(f.ID, "ATTR_NOT_NULL", "non-null value", "null",
					fmt.Sprintf("%s.%s is null", r.TableName, r.FieldName))
			}
		case rules.CodeListCheck:
			if !present {
				continue
			}
			v := formatValue(raw)
			if _, ok := codeSet[v]; !ok {
				flag(f.ID, "ATTR_CODE_LIST", fmt.Sprintf("one of %d allowed values", len(check.Values)), v,
					fmt.Sprintf("%s.%s value %q not in code list", r.TableName, r.FieldName, v))
			}
		case rules.RangeCheck:
			if !present {
				continue
			}
			v := formatValue(raw)
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				flag(f.ID, "ATTR_RANGE", "numeric value", v,
					fmt.Sprintf("%s.%s value %q is not numeric", r.TableName, r.FieldName, v))
				continue
			}
			if n < check.Min || n > check.Max {
				flag(f.ID, "ATTR_RANGE",
					fmt.Sprintf("[%v, %v]", check.Min, check.Max), v,
					fmt.Sprintf("%s.%s value %v outside [%v, %v]", r.TableName, r.FieldName, n, check.Min, check.Max))
			}
		case rules.RegexCheck:
			if !present {
				continue
			}
			v := formatValue(raw)
			if !check.Match(v) {
				flag(f.ID, "ATTR_REGEX", check.Pattern, v,
					fmt.Sprintf("%s.%s value %q does not match %q", r.TableName, r.FieldName, v, check.Pattern))
			}
		case rules.UniqueCheck:
			if !present {
				continue
			}
			v := formatValue(raw)
			if firstID, dup := seen[v]; dup {
				flag(f.ID, "ATTR_UNIQUE", "unique value", v,
					fmt.Sprintf("%s.%s value %q repeats feature %d", r.TableName, r.FieldName, v, firstID))
			} else {
				seen[v] = f.ID
			}
		}
	}
	return violations, it.Err()
}

func (e *AttributeEngine) runConditional(ctx context.Context, r rules.ConditionalRule, src source.FeatureSource, col *pipeline.Collector) (int, error) {
	it, err := src.Features(ctx, r.TableName)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	violations := 0
	row := 0
	for it.Next() {
		row++
		if row%512 == 0 {
			if err := ctx.Err(); err != nil {
				return violations, err
			}
		}
		f := it.Feature()

		matched, err := r.Condition.Evaluate(f.Attributes)
		if err != nil || !matched {
			continue
		}
		ok, err := r.Assert.Evaluate(f.Attributes)
		if err != nil {
			return violations, err
		}
		if !ok {
			violations++
			col.Add(report.ValidationError{
				ErrorCode:     "ATTR_CONDITIONAL",
				Severity:      report.SeverityError,
				TableName:     r.TableName,
				FeatureID:     f.ID,
				ExpectedValue: r.RawAssert,
				Message:       fmt.Sprintf("row matching %q fails %q", r.RawCondition, r.RawAssert),
				Metadata:      map[string]string{"rule_id": r.RuleID},
			})
		}
	}
	return violations, it.Err()
}

func (e *AttributeEngine) runLogical(ctx context.Context, r rules.LogicalRelationRule, src source.FeatureSource, col *pipeline.Collector) (int, error) {
	// The right table is materialized as a join map; the left table streams.
	right := make(map[string]map[string]any)
	it, err := src.Features(ctx, r.RightTable)
	if err != nil {
		return 0, err
	}
	for it.Next() {
		f := it.Feature()
		if v, ok := lookupAttr(f.Attributes, r.RightKey); ok {
			key := formatValue(v)
			if _, dup := right[key]; !dup {
				right[key] = f.Attributes
			}
		}
	}
	if err := it.Err(); err != nil {
		it.Close()
		return 0, err
	}
	it.Close()

	left, err := src.Features(ctx, r.LeftTable)
	if err != nil {
		return 0, err
	}
	defer left.Close()

	violations := 0
	row := 0
	for left.Next() {
		row++
		if row%512 == 0 {
			if err := ctx.Err(); err != nil {
				return violations, err
			}
		}
		f := left.Feature()
		v, ok := lookupAttr(f.Attributes, r.LeftKey)
		if !ok {
			continue
		}
		rightAttrs, found := right[formatValue(v)]
		if !found {
			violations++
			col.Add(report.ValidationError{
				ErrorCode: "ATTR_LOGICAL_JOIN",
				Severity:  report.SeverityError,
				TableName: r.LeftTable,
				FieldName: r.LeftKey,
				FeatureID: f.ID,
				Message: fmt.Sprintf("no %s row with %s = %v",
					r.RightTable, r.RightKey, formatValue(v)),
				Metadata: map[string]string{"rule_id": r.RuleID},
			})
			continue
		}

		joined := make(map[string]any, len(f.Attributes)+len(rightAttrs))
		for k, val := range f.Attributes {
			joined[k] = val
		}
		for k, val := range rightAttrs {
			joined["related."+k] = val
		}
		ok, err := r.Assert.Evaluate(joined)
		if err != nil {
			return violations, err
		}
		if !ok {
			violations++
			col.Add(report.ValidationError{
				ErrorCode:     "ATTR_LOGICAL",
				Severity:      report.SeverityError,
				TableName:     r.LeftTable,
				FeatureID:     f.ID,
				ExpectedValue: r.RawAssert,
				Message:       fmt.Sprintf("joined row fails %q", r.RawAssert),
				Metadata:      map[string]string{"rule_id": r.RuleID},
			})
		}
	}
	return violations, left.Err()
}

func (e *AttributeEngine) runCrossTable(ctx context.Context, r rules.CrossTableRule, src source.FeatureSource, col *pipeline.Collector) (int, error) {
	violations := 0
	for _, c := range r.Constraints {
		if err := ctx.Err(); err != nil {
			return violations, err
		}

		refs := make(map[string]struct{})
		it, err := src.Features(ctx, c.RefTable)
		if err != nil {
			return violations, err
		}
		for it.Next() {
			if v, ok := lookupAttr(it.Feature().Attributes, c.RefField); ok {
				refs[formatValue(v)] = struct{}{}
			}
		}
		if err := it.Err(); err != nil {
			it.Close()
			return violations, err
		}
		it.Close()

		srcIt, err := src.Features(ctx, c.SourceTable)
		if err != nil {
			return violations, err
		}
		for srcIt.Next() {
			f := srcIt.Feature()
			v, ok := lookupAttr(f.Attributes, c.SourceField)
			if !ok {
				continue
			}
			if _, found := refs[formatValue(v)]; !found {
				violations++
				col.Add(report.ValidationError{
					ErrorCode:     "ATTR_CROSS_TABLE",
					Severity:      report.SeverityError,
					TableName:     c.SourceTable,
					FieldName:     c.SourceField,
					FeatureID:     f.ID,
					ExpectedValue: fmt.Sprintf("value present in %s.%s", c.RefTable, c.RefField),
					ActualValue:   formatValue(v),
					Message: fmt.Sprintf("%s.%s value %v has no %s.%s match",
						c.SourceTable, c.SourceField, formatValue(v), c.RefTable, c.RefField),
					Metadata: map[string]string{"rule_id": r.RuleID},
				})
			}
		}
		if err := srcIt.Err(); err != nil {
			srcIt.Close()
			return violations, err
		}
		srcIt.Close()
	}
	return violations, nil
}
