package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
)

func mustParse(t *testing.T, expr string) *rules.Predicate {
	t.Helper()
	p, err := rules.Parse(expr)
	require.NoError(t, err)
	return p
}

func mustCheck(t *testing.T, checkType, params string) rules.AttributeCheck {
	t.Helper()
	c, err := rules.ParseAttributeCheck(checkType, params)
	require.NoError(t, err)
	return c
}

func pipesSource() *source.MemorySource {
	src := source.NewMemorySource()
	src.AddTable("pipes", &source.MemoryTable{Features: []source.Feature{
		{ID: 1, Attributes: map[string]any{"material": "steel", "diameter": int64(100), "label": "P-001"}},
		{ID: 2, Attributes: map[string]any{"material": "lead", "diameter": int64(5000), "label": "P-002"}},
		{ID: 3, Attributes: map[string]any{"material": "pvc", "diameter": "wide", "label": "bad label"}},
		{ID: 4, Attributes: map[string]any{"material": nil, "diameter": int64(200), "label": "P-001"}},
	}})
	return src
}

func TestAttributeEngine_FieldChecks(t *testing.T) {
	cat := &rules.Catalog{Attributes: []rules.AttributeRule{
		{RuleID: "A1", TableName: "pipes", FieldName: "material", Check: mustCheck(t, "codelist", "steel|pvc|iron"), Enabled: true},
		{RuleID: "A2", TableName: "pipes", FieldName: "diameter", Check: mustCheck(t, "range", "10..1000"), Enabled: true},
		{RuleID: "A3", TableName: "pipes", FieldName: "label", Check: mustCheck(t, "regex", `^P-\d+$`), Enabled: true},
		{RuleID: "A4", TableName: "pipes", FieldName: "material", Check: mustCheck(t, "notnull", ""), Enabled: true},
		{RuleID: "A5", TableName: "pipes", FieldName: "label", Check: mustCheck(t, "unique", ""), Enabled: true},
	}}

	st := runEngine(t, StageAttribute, NewAttributeEngine(cat, testConfig()), pipesSource())

	assert.Equal(t, 1, countCode(st, "ATTR_CODE_LIST"), "lead is outside the code list, null is not a code-list violation")
	assert.Equal(t, 2, countCode(st, "ATTR_RANGE"), "one out of range, one non-numeric")
	assert.Equal(t, 1, countCode(st, "ATTR_REGEX"))
	assert.Equal(t, 1, countCode(st, "ATTR_NOT_NULL"))
	assert.Equal(t, 1, countCode(st, "ATTR_UNIQUE"), "second occurrence of P-001")
	assert.Equal(t, 5, st.ProcessedRulesCount)
}

func TestAttributeEngine_DisabledRuleSkipped(t *testing.T) {
	cat := &rules.Catalog{Attributes: []rules.AttributeRule{
		{RuleID: "A1", TableName: "pipes", FieldName: "material", Check: mustCheck(t, "notnull", ""), Enabled: false},
	}}

	st := runEngine(t, StageAttribute, NewAttributeEngine(cat, testConfig()), pipesSource())

	assert.Empty(t, st.Errors)
	assert.Zero(t, st.ProcessedRulesCount)
}

func TestAttributeEngine_ConditionalRule(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("pipes", &source.MemoryTable{Features: []source.Feature{
		{ID: 1, Attributes: map[string]any{"material": "steel", "pressure": int64(5)}},
		{ID: 2, Attributes: map[string]any{"material": "steel", "pressure": int64(20)}},
		{ID: 3, Attributes: map[string]any{"material": "pvc", "pressure": int64(2)}},
	}})

	cat := &rules.Catalog{Conditionals: []rules.ConditionalRule{{
		RuleID:       "C1",
		TableName:    "pipes",
		Condition:    mustParse(t, "material = 'steel'"),
		Assert:       mustParse(t, "pressure >= 10"),
		RawCondition: "material = 'steel'",
		RawAssert:    "pressure >= 10",
	}}}

	st := runEngine(t, StageAttribute, NewAttributeEngine(cat, testConfig()), src)

	require.Equal(t, 1, countCode(st, "ATTR_CONDITIONAL"), "non-matching rows are not asserted")
	assert.Equal(t, int64(1), st.Errors[0].FeatureID)
}

func TestAttributeEngine_LogicalRelation(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("valves", &source.MemoryTable{Features: []source.Feature{
		{ID: 1, Attributes: map[string]any{"zone_id": int64(1), "size": int64(5)}},
		{ID: 2, Attributes: map[string]any{"zone_id": int64(1), "size": int64(20)}},
		{ID: 3, Attributes: map[string]any{"zone_id": int64(9), "size": int64(1)}},
	}})
	src.AddTable("zones", &source.MemoryTable{Features: []source.Feature{
		{ID: 1, Attributes: map[string]any{"id": int64(1), "max_size": int64(10)}},
	}})

	cat := &rules.Catalog{Logicals: []rules.LogicalRelationRule{{
		RuleID:     "L1",
		LeftTable:  "valves",
		RightTable: "zones",
		LeftKey:    "zone_id",
		RightKey:   "id",
		Assert:     mustParse(t, "size <= related.max_size"),
		RawAssert:  "size <= related.max_size",
	}}}

	st := runEngine(t, StageAttribute, NewAttributeEngine(cat, testConfig()), src)

	assert.Equal(t, 1, countCode(st, "ATTR_LOGICAL"), "joined row failing the assertion")
	assert.Equal(t, 1, countCode(st, "ATTR_LOGICAL_JOIN"), "left row without a join partner")
}

func TestAttributeEngine_CrossTable(t *testing.T) {
	src := source.NewMemorySource()
	src.AddTable("valves", &source.MemoryTable{Features: []source.Feature{
		{ID: 1, Attributes: map[string]any{"pipe_id": int64(10)}},
		{ID: 2, Attributes: map[string]any{"pipe_id": int64(11)}},
		{ID: 3, Attributes: map[string]any{"pipe_id": int64(12)}},
	}})
	src.AddTable("pipes", &source.MemoryTable{Features: []source.Feature{
		{ID: 1, Attributes: map[string]any{"id": int64(10)}},
		{ID: 2, Attributes: map[string]any{"id": int64(12)}},
	}})

	cat := &rules.Catalog{CrossTables: []rules.CrossTableRule{{
		RuleID: "X1",
		Constraints: []rules.FKConstraint{{
			SourceTable: "valves", SourceField: "pipe_id",
			RefTable: "pipes", RefField: "id",
		}},
	}}}

	st := runEngine(t, StageAttribute, NewAttributeEngine(cat, testConfig()), src)

	require.Equal(t, 1, countCode(st, "ATTR_CROSS_TABLE"))
	assert.Equal(t, "11", st.Errors[0].ActualValue)
	assert.Equal(t, int64(2), st.Errors[0].FeatureID)
}

func TestAttributeEngine_ConditionalDependencySkipsDependent(t *testing.T) {
	cat := &rules.Catalog{
		Attributes: []rules.AttributeRule{
			{RuleID: "A1", TableName: "pipes", FieldName: "material", Check: mustCheck(t, "codelist", "steel|pvc|iron"), Enabled: true},
			{RuleID: "A2", TableName: "pipes", FieldName: "diameter", Check: mustCheck(t, "range", "10..1000"), Enabled: true},
		},
		Dependencies: []rules.RuleDependency{{
			RuleID:    "A2",
			DependsOn: []string{"A1"},
			Type:      rules.DepConditional,
			OnFailure: rules.FailWarn,
		}},
	}

	st := runEngine(t, StageAttribute, NewAttributeEngine(cat, testConfig()), pipesSource())

	assert.Equal(t, 1, countCode(st, "ATTR_CODE_LIST"), "the dependency rule still runs")
	assert.Zero(t, countCode(st, "ATTR_RANGE"), "dependent rule is skipped once the dependency found violations")
	assert.Equal(t, 1, countCode(st, "ATTR_RULE_SKIPPED"))
}

func TestAttributeEngine_RuleFailureWarnsAndContinues(t *testing.T) {
	cat := &rules.Catalog{Attributes: []rules.AttributeRule{
		{RuleID: "A1", TableName: "no_such_table", FieldName: "x", Check: mustCheck(t, "notnull", ""), Enabled: true},
		{RuleID: "A2", TableName: "pipes", FieldName: "material", Check: mustCheck(t, "codelist", "steel|pvc|iron"), Enabled: true},
	}}

	st := runEngine(t, StageAttribute, NewAttributeEngine(cat, testConfig()), pipesSource())

	assert.Equal(t, 1, countCode(st, "ATTR_RULE_FAILURE"), "unreadable rule reports a warning")
	assert.Equal(t, 1, countCode(st, "ATTR_CODE_LIST"), "later rules still run")
	assert.Equal(t, 2, st.ProcessedRulesCount)
}

func TestAttributeEngine_AbortPolicyStopsStage(t *testing.T) {
	cat := &rules.Catalog{
		Attributes: []rules.AttributeRule{
			{RuleID: "A1", TableName: "no_such_table", FieldName: "x", Check: mustCheck(t, "notnull", ""), Enabled: true},
		},
		Dependencies: []rules.RuleDependency{{
			RuleID:    "A1",
			OnFailure: rules.FailAbort,
		}},
	}

	eng := NewAttributeEngine(cat, testConfig())
	agg := pipeline.NewAggregator("test.gpkg")
	col := agg.BeginStage(StageAttribute)
	tr := pipeline.NewTracker(0, StageAttribute, pipeline.NopEmitter{})
	err := eng.Run(context.Background(), pipesSource(), col, tr)
	require.Error(t, err)
}
