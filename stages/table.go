// Package stages implements the five validation engines the orchestrator
// runs: table, schema, geometry, attribute, and spatial relation. Engines
// consume typed rule records and a feature source, and write findings
// through the pipeline collector.
package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
)

// Stage names as they appear in results and stage definitions.
const (
	StageTable     = "table"
	StageSchema    = "schema"
	StageGeometry  = "geometry"
	StageAttribute = "attribute"
	StageRelation  = "relation"
)

// TableEngine checks table existence, declared feature type, and feature
// counts.
type TableEngine struct {
	rules []rules.TableRule
}

// NewTableEngine builds the engine for a catalog's table rules.
func NewTableEngine(cat *rules.Catalog) *TableEngine {
	return &TableEngine{rules: cat.Tables}
}

func (e *TableEngine) Run(ctx context.Context, src source.FeatureSource, col *pipeline.Collector, tr *pipeline.Tracker) error {
	tr.SetTotal(int64(len(e.rules)))

	for _, r := range e.rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.checkTable(ctx, r, src, col)
		col.AddRulesProcessed(1)
		tr.Advance(1)
	}
	return nil
}

func (e *TableEngine) checkTable(ctx context.Context, r rules.TableRule, src source.FeatureSource, col *pipeline.Collector) {
	item := report.TableValidationItem{
		TableID:             r.TableID,
		TableName:           r.TableName,
		ExpectedFeatureType: r.ExpectedFeatureType,
		FeatureTypeMatches:  true,
	}

	exists, err := src.TableExists(ctx, r.TableName)
	if err != nil {
		item.Errors = append(item.Errors, err.Error())
		col.AddTableItem(item)
		col.Add(report.ValidationError{
			ErrorCode: "TBL_READ",
			Severity:  report.SeverityError,
			TableID:   r.TableID,
			TableName: r.TableName,
			Message:   fmt.Sprintf("checking table: %v", err),
		})
		return
	}
	item.TableExists = exists

	if !exists {
		if r.CheckExists {
			item.Errors = append(item.Errors, "table does not exist")
			col.Add(report.ValidationError{
				ErrorCode:     "TBL_MISSING",
				Severity:      report.SeverityError,
				TableID:       r.TableID,
				TableName:     r.TableName,
				ExpectedValue: "table exists",
				ActualValue:   "missing",
				Message:       fmt.Sprintf("table %s does not exist", r.TableName),
			})
		}
		col.AddTableItem(item)
		return
	}

	if r.ExpectedFeatureType != "" {
		actual, err := src.GeometryType(ctx, r.TableName)
		if err != nil {
			item.Errors = append(item.Errors, err.Error())
		} else {
			item.ActualFeatureType = actual
			item.FeatureTypeMatches = featureTypeMatches(r.ExpectedFeatureType, actual)
			if !item.FeatureTypeMatches {
				item.Errors = append(item.Errors, fmt.Sprintf("feature type %s, want %s", actual, r.ExpectedFeatureType))
				col.Add(report.ValidationError{
					ErrorCode:     "TBL_FEATURE_TYPE",
					Severity:      report.SeverityError,
					TableID:       r.TableID,
					TableName:     r.TableName,
					ExpectedValue: r.ExpectedFeatureType,
					ActualValue:   actual,
					Message:       fmt.Sprintf("table %s has feature type %s, want %s", r.TableName, actual, r.ExpectedFeatureType),
				})
			}
		}
	}

	count, err := src.FeatureCount(ctx, r.TableName)
	if err != nil {
		item.Errors = append(item.Errors, err.Error())
	} else {
		item.FeatureCount = count
		if r.MinFeatureCount > 0 && count < r.MinFeatureCount {
			item.Errors = append(item.Errors, fmt.Sprintf("%d features, want at least %d", count, r.MinFeatureCount))
			col.Add(report.ValidationError{
				ErrorCode:     "TBL_FEATURE_COUNT",
				Severity:      report.SeverityError,
				TableID:       r.TableID,
				TableName:     r.TableName,
				ExpectedValue: fmt.Sprintf(">= %d", r.MinFeatureCount),
				ActualValue:   fmt.Sprintf("%d", count),
				Message:       fmt.Sprintf("table %s has %d features, want at least %d", r.TableName, count, r.MinFeatureCount),
			})
		}
	}

	col.AddTableItem(item)
}

// featureTypeMatches compares declared feature types, accepting the Multi
// variant of an expected base type.
func featureTypeMatches(expected, actual string) bool {
	expected = strings.ToUpper(expected)
	actual = strings.ToUpper(actual)
	if expected == actual {
		return true
	}
	return actual == "MULTI"+expected
}
