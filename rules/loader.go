package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cartolab/geovet/errors"
)

// Raw catalog shapes as they appear in YAML/TOML files. Sum-typed fields
// (relation case, attribute check) arrive as strings here and are converted
// to their tagged variants during load, so engines never switch on strings.

type rawCatalog struct {
	Tables       []rawTableRule       `yaml:"tables" toml:"tables"`
	Schema       []rawSchemaRule      `yaml:"schema" toml:"schema"`
	Geometry     []rawGeometryRule    `yaml:"geometry" toml:"geometry"`
	Attributes   []rawAttributeRule   `yaml:"attributes" toml:"attributes"`
	Conditionals []rawConditionalRule `yaml:"conditionals" toml:"conditionals"`
	Logicals     []rawLogicalRule     `yaml:"logicals" toml:"logicals"`
	CrossTables  []rawCrossTableRule  `yaml:"cross_tables" toml:"cross_tables"`
	Relations    []rawRelationRule    `yaml:"relations" toml:"relations"`
	Dependencies []rawDependency      `yaml:"dependencies" toml:"dependencies"`
}

type rawTableRule struct {
	ID          string `yaml:"id" toml:"id"`
	Table       string `yaml:"table" toml:"table"`
	CheckExists *bool  `yaml:"check_exists" toml:"check_exists"` // nil = true
	FeatureType string `yaml:"feature_type" toml:"feature_type"`
	MinFeatures int64  `yaml:"min_features" toml:"min_features"`
}

type rawForeignKey struct {
	Table  string `yaml:"table" toml:"table"`
	Column string `yaml:"column" toml:"column"`
}

type rawSchemaRule struct {
	ID         string         `yaml:"id" toml:"id"`
	Table      string         `yaml:"table" toml:"table"`
	Column     string         `yaml:"column" toml:"column"`
	Type       string         `yaml:"type" toml:"type"`
	Length     string         `yaml:"length" toml:"length"`
	NotNull    bool           `yaml:"not_null" toml:"not_null"`
	PrimaryKey bool           `yaml:"primary_key" toml:"primary_key"`
	Unique     bool           `yaml:"unique" toml:"unique"`
	ForeignKey *rawForeignKey `yaml:"foreign_key" toml:"foreign_key"`
	Domain     []string       `yaml:"domain" toml:"domain"`
}

type rawGeometryRule struct {
	ID            string   `yaml:"id" toml:"id"`
	Table         string   `yaml:"table" toml:"table"`
	Checks        []string `yaml:"checks" toml:"checks"`
	Tolerance     float64  `yaml:"tolerance" toml:"tolerance"`
	SliverRatio   float64  `yaml:"sliver_ratio" toml:"sliver_ratio"`
	SpikeAngleDeg float64  `yaml:"spike_angle_deg" toml:"spike_angle_deg"`
	MinLength     float64  `yaml:"min_length" toml:"min_length"`
	MinArea       float64  `yaml:"min_area" toml:"min_area"`
	MinPoints     int      `yaml:"min_points" toml:"min_points"`
}

type rawAttributeRule struct {
	ID         string `yaml:"id" toml:"id"`
	Table      string `yaml:"table" toml:"table"`
	Field      string `yaml:"field" toml:"field"`
	Check      string `yaml:"check" toml:"check"`
	Parameters string `yaml:"parameters" toml:"parameters"`
	Enabled    *bool  `yaml:"enabled" toml:"enabled"` // nil = true
}

type rawConditionalRule struct {
	ID        string `yaml:"id" toml:"id"`
	Table     string `yaml:"table" toml:"table"`
	Condition string `yaml:"condition" toml:"condition"`
	Assert    string `yaml:"assert" toml:"assert"`
}

type rawLogicalRule struct {
	ID         string `yaml:"id" toml:"id"`
	LeftTable  string `yaml:"left_table" toml:"left_table"`
	RightTable string `yaml:"right_table" toml:"right_table"`
	LeftKey    string `yaml:"left_key" toml:"left_key"`
	RightKey   string `yaml:"right_key" toml:"right_key"`
	Assert     string `yaml:"assert" toml:"assert"`
}

type rawConstraint struct {
	SourceTable string `yaml:"source_table" toml:"source_table"`
	SourceField string `yaml:"source_field" toml:"source_field"`
	RefTable    string `yaml:"ref_table" toml:"ref_table"`
	RefField    string `yaml:"ref_field" toml:"ref_field"`
}

type rawCrossTableRule struct {
	ID          string          `yaml:"id" toml:"id"`
	Constraints []rawConstraint `yaml:"constraints" toml:"constraints"`
}

type rawRelationRule struct {
	ID           string  `yaml:"id" toml:"id"`
	Enabled      *bool   `yaml:"enabled" toml:"enabled"` // nil = true
	Case         string  `yaml:"case" toml:"case"`
	MainTable    string  `yaml:"main_table" toml:"main_table"`
	RelatedTable string  `yaml:"related_table" toml:"related_table"`
	FieldFilter  string  `yaml:"field_filter" toml:"field_filter"`
	Tolerance    float64 `yaml:"tolerance" toml:"tolerance"`
}

type rawDependency struct {
	Rule         string   `yaml:"rule" toml:"rule"`
	DependsOn    []string `yaml:"depends_on" toml:"depends_on"`
	Type         string   `yaml:"type" toml:"type"`
	OnFailure    string   `yaml:"on_failure" toml:"on_failure"`
	MaxRetries   int      `yaml:"max_retries" toml:"max_retries"`
	RetryDelayMs int      `yaml:"retry_delay_ms" toml:"retry_delay_ms"`
}

// LoadCatalog reads a rule catalog from a .yaml/.yml or .toml file.
// Malformed individual rules are skipped and recorded in Catalog.Warnings;
// an unreadable or undecodable file, or a cyclic dependency graph, is a
// configuration error.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConfiguration, "reading rule catalog %s: %v", path, err)
	}

	var raw rawCatalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrapf(errors.ErrConfiguration, "decoding YAML catalog %s: %v", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrapf(errors.ErrConfiguration, "decoding TOML catalog %s: %v", path, err)
		}
	default:
		return nil, errors.NewConfiguration("unsupported catalog format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}

	return buildCatalog(&raw)
}

func buildCatalog(raw *rawCatalog) (*Catalog, error) {
	cat := &Catalog{}

	skip := func(kind, id string, err error) {
		if id == "" {
			id = "(no id)"
		}
		cat.Warnings = append(cat.Warnings, fmt.Sprintf("%s rule %s skipped: %v", kind, id, err))
	}

	for i, r := range raw.Tables {
		rule := TableRule{
			TableID:             defaultID(r.ID, "table", i),
			TableName:           r.Table,
			CheckExists:         boolOrTrue(r.CheckExists),
			ExpectedFeatureType: strings.ToUpper(strings.TrimSpace(r.FeatureType)),
			MinFeatureCount:     r.MinFeatures,
		}
		if err := rule.Validate(); err != nil {
			skip("table", rule.TableID, err)
			continue
		}
		cat.Tables = append(cat.Tables, rule)
	}

	for i, r := range raw.Schema {
		rule := SchemaRule{
			TableID:      defaultID(r.ID, "schema", i),
			TableName:    r.Table,
			ColumnName:   r.Column,
			ExpectedType: strings.ToUpper(strings.TrimSpace(r.Type)),
			Length:       r.Length,
			NotNull:      r.NotNull,
			PrimaryKey:   r.PrimaryKey,
			Unique:       r.Unique,
			DomainValues: r.Domain,
		}
		if r.ForeignKey != nil {
			rule.ForeignKey = &ForeignKeyRef{Table: r.ForeignKey.Table, Column: r.ForeignKey.Column}
		}
		if err := rule.Validate(); err != nil {
			skip("schema", rule.TableID, err)
			continue
		}
		cat.Schemas = append(cat.Schemas, rule)
	}

	for i, r := range raw.Geometry {
		checks, err := parseGeometryChecks(r.Checks)
		if err != nil {
			skip("geometry", r.ID, err)
			continue
		}
		rule := GeometryRule{
			TableID:       defaultID(r.ID, "geometry", i),
			TableName:     r.Table,
			Checks:        checks,
			Tolerance:     r.Tolerance,
			SliverRatio:   r.SliverRatio,
			SpikeAngleDeg: r.SpikeAngleDeg,
			MinLength:     r.MinLength,
			MinArea:       r.MinArea,
			MinPoints:     r.MinPoints,
		}
		if err := rule.Validate(); err != nil {
			skip("geometry", rule.TableID, err)
			continue
		}
		cat.Geometries = append(cat.Geometries, rule)
	}

	for _, r := range raw.Attributes {
		check, err := ParseAttributeCheck(r.Check, r.Parameters)
		if err != nil {
			skip("attribute", r.ID, err)
			continue
		}
		rule := AttributeRule{
			RuleID:    r.ID,
			TableName: r.Table,
			FieldName: r.Field,
			Check:     check,
			Enabled:   boolOrTrue(r.Enabled),
		}
		if err := rule.Validate(); err != nil {
			skip("attribute", rule.RuleID, err)
			continue
		}
		cat.Attributes = append(cat.Attributes, rule)
	}

	for _, r := range raw.Conditionals {
		rule := ConditionalRule{
			RuleID:       r.ID,
			TableName:    r.Table,
			RawCondition: r.Condition,
			RawAssert:    r.Assert,
		}
		var err error
		if rule.Condition, err = Parse(r.Condition); err != nil {
			skip("conditional", r.ID, err)
			continue
		}
		if rule.Assert, err = Parse(r.Assert); err != nil {
			skip("conditional", r.ID, err)
			continue
		}
		if err := rule.Validate(); err != nil {
			skip("conditional", rule.RuleID, err)
			continue
		}
		cat.Conditionals = append(cat.Conditionals, rule)
	}

	for _, r := range raw.Logicals {
		rule := LogicalRelationRule{
			RuleID:     r.ID,
			LeftTable:  r.LeftTable,
			RightTable: r.RightTable,
			LeftKey:    r.LeftKey,
			RightKey:   r.RightKey,
			RawAssert:  r.Assert,
		}
		var err error
		if rule.Assert, err = Parse(r.Assert); err != nil {
			skip("logical", r.ID, err)
			continue
		}
		if err := rule.Validate(); err != nil {
			skip("logical", rule.RuleID, err)
			continue
		}
		cat.Logicals = append(cat.Logicals, rule)
	}

	for _, r := range raw.CrossTables {
		rule := CrossTableRule{RuleID: r.ID}
		for _, c := range r.Constraints {
			rule.Constraints = append(rule.Constraints, FKConstraint(c))
		}
		if err := rule.Validate(); err != nil {
			skip("cross-table", rule.RuleID, err)
			continue
		}
		cat.CrossTables = append(cat.CrossTables, rule)
	}

	for _, r := range raw.Relations {
		caseType, err := ParseRelationCase(r.Case)
		if err != nil {
			skip("relation", r.ID, err)
			continue
		}
		rule := RelationRule{
			RuleID:       r.ID,
			Enabled:      boolOrTrue(r.Enabled),
			Case:         caseType,
			MainTable:    r.MainTable,
			RelatedTable: r.RelatedTable,
			FieldFilter:  r.FieldFilter,
			Tolerance:    r.Tolerance,
		}
		if err := rule.Validate(); err != nil {
			skip("relation", rule.RuleID, err)
			continue
		}
		cat.Relations = append(cat.Relations, rule)
	}

	for _, r := range raw.Dependencies {
		depType, err := ParseDependencyType(r.Type)
		if err != nil {
			skip("dependency", r.Rule, err)
			continue
		}
		action, err := ParseFailureAction(r.OnFailure)
		if err != nil {
			skip("dependency", r.Rule, err)
			continue
		}
		dep := RuleDependency{
			RuleID:       r.Rule,
			DependsOn:    r.DependsOn,
			Type:         depType,
			OnFailure:    action,
			MaxRetries:   r.MaxRetries,
			RetryDelayMs: r.RetryDelayMs,
		}
		if err := dep.Validate(); err != nil {
			skip("dependency", dep.RuleID, err)
			continue
		}
		cat.Dependencies = append(cat.Dependencies, dep)
	}

	// A cyclic dependency graph would loop at runtime; fail fast instead.
	if err := ValidateDependencies(cat.Dependencies); err != nil {
		return nil, err
	}

	return cat, nil
}

func parseGeometryChecks(names []string) (GeometryChecks, error) {
	var c GeometryChecks
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "duplicate":
			c.Duplicate = true
		case "overlap":
			c.Overlap = true
		case "self_intersection", "selfintersection":
			c.SelfIntersection = true
		case "sliver":
			c.Sliver = true
		case "spike":
			c.Spike = true
		case "short_object", "shortobject":
			c.ShortObject = true
		case "small_area", "smallarea":
			c.SmallArea = true
		case "polygon_in_polygon", "polygoninpolygon":
			c.PolygonInPolygon = true
		case "min_point", "minpoint":
			c.MinPoint = true
		case "self_overlap", "selfoverlap":
			c.SelfOverlap = true
		case "undershoot":
			c.Undershoot = true
		case "overshoot":
			c.Overshoot = true
		case "all":
			c = GeometryChecks{
				Duplicate: true, Overlap: true, SelfIntersection: true,
				Sliver: true, Spike: true, ShortObject: true, SmallArea: true,
				PolygonInPolygon: true, MinPoint: true, SelfOverlap: true,
				Undershoot: true, Overshoot: true,
			}
		default:
			return GeometryChecks{}, errors.NewConfiguration("unknown geometry check %q", name)
		}
	}
	return c, nil
}

func defaultID(id, kind string, index int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d", kind, index+1)
}

func boolOrTrue(b *bool) bool {
	return b == nil || *b
}
