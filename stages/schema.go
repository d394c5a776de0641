package stages

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cartolab/geovet/config"
	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
)

// SchemaEngine checks per-column expectations: existence, type family,
// length, nullability, keys, domains. Unique-key and foreign-key checks
// stream the table instead of materializing it, so they scale to large
// tables. Tables run concurrently up to the configured table worker count.
type SchemaEngine struct {
	rules       []rules.SchemaRule
	sampleLimit int
	workers     int
}

// NewSchemaEngine builds the engine for a catalog's schema rules.
func NewSchemaEngine(cat *rules.Catalog, cfg *config.Config) *SchemaEngine {
	workers := cfg.Pipeline.TableWorkers
	if workers < 1 {
		workers = 1
	}
	return &SchemaEngine{rules: cat.Schemas, sampleLimit: cfg.Geometry.SampleLimit, workers: workers}
}

func (e *SchemaEngine) Run(ctx context.Context, src source.FeatureSource, col *pipeline.Collector, tr *pipeline.Tracker) error {
	tr.SetTotal(int64(len(e.rules)))

	// Group rules per table, preserving catalog order, so each table is
	// scanned at most once for value-level checks.
	var tableOrder []string
	byTable := make(map[string][]rules.SchemaRule)
	for _, r := range e.rules {
		key := strings.ToLower(r.TableName)
		if _, seen := byTable[key]; !seen {
			tableOrder = append(tableOrder, key)
		}
		byTable[key] = append(byTable[key], r)
	}

	refs := &refCache{sets: make(map[string]map[string]struct{})}

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, table := range tableOrder {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		go func(table string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := e.checkTable(ctx, table, byTable[table], src, col, tr, refs); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(table)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (e *SchemaEngine) checkTable(ctx context.Context, table string, tableRules []rules.SchemaRule, src source.FeatureSource, col *pipeline.Collector, tr *pipeline.Tracker, refs *refCache) error {
	exists, err := src.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		for _, r := range tableRules {
			col.AddSchemaItem(report.SchemaValidationItem{
				TableID:    r.TableID,
				TableName:  r.TableName,
				ColumnName: r.ColumnName,
			})
			col.Add(report.ValidationError{
				ErrorCode: "SCH_TABLE_MISSING",
				Severity:  report.SeverityError,
				TableID:   r.TableID,
				TableName: r.TableName,
				FieldName: r.ColumnName,
				Message:   fmt.Sprintf("table %s does not exist", r.TableName),
			})
			col.AddRulesProcessed(1)
			tr.Advance(1)
		}
		return nil
	}

	cols, err := src.Schema(ctx, table)
	if err != nil {
		return err
	}
	colByName := make(map[string]source.ColumnDef, len(cols))
	for _, c := range cols {
		colByName[strings.ToLower(c.Name)] = c
	}

	scan, err := e.scanValues(ctx, table, tableRules, src)
	if err != nil {
		return err
	}

	for _, r := range tableRules {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.checkColumn(ctx, r, colByName, scan, src, col, refs)
		col.AddRulesProcessed(1)
		tr.Advance(1)
	}
	return nil
}

// columnScan holds the value-level aggregates one table pass produced.
type columnScan struct {
	// value -> occurrences, only for columns a rule scans
	counts map[string]map[string]int64
	// per column, values outside the domain, in iteration order
	domainBad map[string][]string
	// per column, raw values in iteration order (foreign-key side)
	fkValues map[string][]string
}

// scanValues streams the table once, collecting exactly the per-column
// aggregates the table's rules need. Tables whose rules carry no value-level
// check are not read at all.
func (e *SchemaEngine) scanValues(ctx context.Context, table string, tableRules []rules.SchemaRule, src source.FeatureSource) (*columnScan, error) {
	scan := &columnScan{
		counts:    make(map[string]map[string]int64),
		domainBad: make(map[string][]string),
		fkValues:  make(map[string][]string),
	}

	domains := make(map[string]map[string]struct{})
	var fkCols []string
	for _, r := range tableRules {
		key := strings.ToLower(r.ColumnName)
		if r.Unique {
			scan.counts[key] = make(map[string]int64)
		}
		if len(r.DomainValues) > 0 {
			allowed := make(map[string]struct{}, len(r.DomainValues))
			for _, v := range r.DomainValues {
				allowed[v] = struct{}{}
			}
			domains[key] = allowed
		}
		if r.ForeignKey != nil {
			fkCols = append(fkCols, key)
		}
	}
	if len(scan.counts) == 0 && len(domains) == 0 && len(fkCols) == 0 {
		return scan, nil
	}

	it, err := src.Features(ctx, table)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	row := 0
	for it.Next() {
		row++
		if row%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		attrs := it.Feature().Attributes
		for key, counts := range scan.counts {
			if v, ok := lookupAttr(attrs, key); ok {
				counts[formatValue(v)]++
			}
		}
		for key, allowed := range domains {
			v, ok := lookupAttr(attrs, key)
			if !ok {
				continue
			}
			s := formatValue(v)
			if _, in := allowed[s]; !in {
				scan.domainBad[key] = append(scan.domainBad[key], s)
			}
		}
		for _, key := range fkCols {
			if v, ok := lookupAttr(attrs, key); ok {
				scan.fkValues[key] = append(scan.fkValues[key], formatValue(v))
			}
		}
	}
	return scan, it.Err()
}

func (e *SchemaEngine) checkColumn(ctx context.Context, r rules.SchemaRule, colByName map[string]source.ColumnDef, scan *columnScan, src source.FeatureSource, col *pipeline.Collector, refs *refCache) {
	item := report.SchemaValidationItem{
		TableID:           r.TableID,
		TableName:         r.TableName,
		ColumnName:        r.ColumnName,
		ExpectedDataType:  r.ExpectedType,
		TypeMatches:       true,
		LengthMatches:     true,
		NotNullMatches:    true,
		PrimaryKeyMatches: true,
		UniqueKeyMatches:  true,
		ForeignKeyMatches: true,
		IsValid:           true,
	}

	fail := func(code, expected, actual, msg string) {
		item.IsValid = false
		col.Add(report.ValidationError{
			ErrorCode:     code,
			Severity:      report.SeverityError,
			TableID:       r.TableID,
			TableName:     r.TableName,
			FieldName:     r.ColumnName,
			ExpectedValue: expected,
			ActualValue:   actual,
			Message:       msg,
		})
	}

	actual, exists := colByName[strings.ToLower(r.ColumnName)]
	item.ColumnExists = exists
	if !exists {
		fail("SCH_COLUMN_MISSING", "column exists", "missing",
			fmt.Sprintf("column %s.%s does not exist", r.TableName, r.ColumnName))
		col.AddSchemaItem(item)
		return
	}
	item.ActualDataType = actual.DataType

	if r.ExpectedType != "" && typeFamily(r.ExpectedType) != typeFamily(actual.DataType) {
		item.TypeMatches = false
		fail("SCH_TYPE", r.ExpectedType, actual.DataType,
			fmt.Sprintf("column %s.%s is %s, want %s", r.TableName, r.ColumnName, actual.DataType, r.ExpectedType))
	}

	if r.Length != "" {
		wantLen, wantScale, err := rules.ParseLength(r.Length)
		if err == nil && (actual.Length != wantLen || actual.Scale != wantScale) {
			item.LengthMatches = false
			fail("SCH_LENGTH", r.Length, fmt.Sprintf("%d,%d", actual.Length, actual.Scale),
				fmt.Sprintf("column %s.%s length is %d,%d, want %s", r.TableName, r.ColumnName, actual.Length, actual.Scale, r.Length))
		}
	}

	if r.NotNull && !actual.NotNull {
		item.NotNullMatches = false
		fail("SCH_NOT_NULL", "NOT NULL", "nullable",
			fmt.Sprintf("column %s.%s is nullable, want NOT NULL", r.TableName, r.ColumnName))
	}

	if r.PrimaryKey && !actual.PrimaryKey {
		item.PrimaryKeyMatches = false
		fail("SCH_PRIMARY_KEY", "primary key", "not a primary key",
			fmt.Sprintf("column %s.%s is not a primary key", r.TableName, r.ColumnName))
	}

	if r.Unique {
		var duplicated []string
		for value, n := range scan.counts[strings.ToLower(r.ColumnName)] {
			if n > 1 {
				duplicated = append(duplicated, value)
			}
		}
		sort.Strings(duplicated) // deterministic samples across runs
		item.DuplicateValueCount = int64(len(duplicated))
		for _, value := range duplicated {
			if len(item.DuplicateSamples) >= e.sampleLimit {
				break
			}
			item.DuplicateSamples = append(item.DuplicateSamples, value)
		}
		if item.DuplicateValueCount > 0 {
			item.UniqueKeyMatches = false
			fail("SCH_UNIQUE", "unique values",
				fmt.Sprintf("%d duplicated", item.DuplicateValueCount),
				fmt.Sprintf("column %s.%s has %d duplicated value(s)", r.TableName, r.ColumnName, item.DuplicateValueCount))
		}
	}

	if bad := scan.domainBad[strings.ToLower(r.ColumnName)]; len(bad) > 0 {
		item.InvalidDomainValueCount = int64(len(bad))
		for _, v := range bad {
			if len(item.DomainSamples) >= e.sampleLimit {
				break
			}
			item.DomainSamples = append(item.DomainSamples, v)
		}
		fail("SCH_DOMAIN", strings.Join(r.DomainValues, "|"),
			fmt.Sprintf("%d invalid", len(bad)),
			fmt.Sprintf("column %s.%s has %d value(s) outside its domain", r.TableName, r.ColumnName, len(bad)))
	}

	if r.ForeignKey != nil {
		refSet, err := refs.get(ctx, src, r.ForeignKey.Table, r.ForeignKey.Column)
		if err != nil {
			item.ForeignKeyMatches = false
			fail("SCH_FK_READ", "", "", fmt.Sprintf("reading reference table %s: %v", r.ForeignKey.Table, err))
		} else {
			for _, v := range scan.fkValues[strings.ToLower(r.ColumnName)] {
				if _, ok := refSet[v]; ok {
					continue
				}
				item.OrphanRecordCount++
				if len(item.OrphanSamples) < e.sampleLimit {
					item.OrphanSamples = append(item.OrphanSamples, v)
				}
			}
			if item.OrphanRecordCount > 0 {
				item.ForeignKeyMatches = false
				fail("SCH_FOREIGN_KEY",
					fmt.Sprintf("values present in %s.%s", r.ForeignKey.Table, r.ForeignKey.Column),
					fmt.Sprintf("%d orphaned", item.OrphanRecordCount),
					fmt.Sprintf("column %s.%s has %d orphaned record(s)", r.TableName, r.ColumnName, item.OrphanRecordCount))
			}
		}
	}

	col.AddSchemaItem(item)
}

// refCache holds foreign-key reference sets, filled once per run. The lock
// covers the fill, so a reference table shared by many rules is read once
// even when table workers race for it; cached sets are read-only afterwards.
type refCache struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

// get streams a reference column into a lookup set, or returns the cached one.
func (c *refCache) get(ctx context.Context, src source.FeatureSource, table, column string) (map[string]struct{}, error) {
	key := strings.ToLower(table) + "." + strings.ToLower(column)

	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.sets[key]; ok {
		return set, nil
	}

	it, err := src.Features(ctx, table)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	set := make(map[string]struct{})
	for it.Next() {
		if v, ok := lookupAttr(it.Feature().Attributes, column); ok {
			set[formatValue(v)] = struct{}{}
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	c.sets[key] = set
	return set, nil
}

// lookupAttr fetches an attribute case-insensitively, reporting false for
// missing or null values.
func lookupAttr(attrs map[string]any, column string) (any, bool) {
	if v, ok := attrs[column]; ok {
		return v, v != nil
	}
	for k, v := range attrs {
		if strings.EqualFold(k, column) {
			return v, v != nil
		}
	}
	return nil, false
}

// formatValue renders an attribute for set membership and samples. Integral
// floats print without a trailing ".0" so INTEGER and REAL key columns
// compare naturally.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// typeFamily normalizes a declared SQL type to one of the compared
// families: INTEGER, TEXT, NUMERIC, CHAR, DATE.
func typeFamily(declared string) string {
	t := strings.ToUpper(strings.TrimSpace(declared))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT", "INT2", "INT4", "INT8", "SERIAL":
		return "INTEGER"
	case "TEXT", "VARCHAR", "NVARCHAR", "CLOB", "STRING":
		return "TEXT"
	case "NUMERIC", "DECIMAL", "REAL", "FLOAT", "DOUBLE", "DOUBLE PRECISION", "NUMBER":
		return "NUMERIC"
	case "CHAR", "NCHAR", "CHARACTER":
		return "CHAR"
	case "DATE", "DATETIME", "TIMESTAMP", "TIME":
		return "DATE"
	default:
		return t
	}
}
