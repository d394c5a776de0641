// Package gpkg reads GeoPackage files as a source.FeatureSource. A
// GeoPackage is a SQLite database with standard metadata tables
// (gpkg_contents, gpkg_geometry_columns) and per-feature geometry blobs.
package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cartolab/geovet/errors"
	"github.com/cartolab/geovet/logger"
	"github.com/cartolab/geovet/source"
	"github.com/cartolab/geovet/sym"
)

// Source is a read-only FeatureSource over one GeoPackage file.
type Source struct {
	db   *sql.DB
	path string
}

var _ source.FeatureSource = (*Source)(nil)

// Open opens a GeoPackage for validation. The file must already exist; an
// unopenable file is a data-access error that fails the whole run for this
// file.
func Open(path string) (*Source, error) {
	logger.Debugw("Opening GeoPackage", "path", path, "symbol", sym.DB)

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, errors.WrapDataAccess(err, "opening %s", path)
	}

	// Reads only, but a busy timeout keeps concurrent access well behaved.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.WrapDataAccess(err, "setting busy timeout on %s", path)
	}

	// Fail now, not on first query, when the path is not a database.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WrapDataAccess(err, "opening %s", path)
	}
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		return nil, errors.WrapDataAccess(err, "reading %s", path)
	}

	return &Source{db: db, path: path}, nil
}

// Path returns the file this source reads.
func (s *Source) Path() string { return s.path }

// Close releases the database handle.
func (s *Source) Close() error { return s.db.Close() }

func (s *Source) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)`,
		table,
	).Scan(&n)
	if err != nil {
		return false, errors.WrapDataAccess(err, "checking table %s", table)
	}
	return n > 0, nil
}

func (s *Source) Schema(ctx context.Context, table string) ([]source.ColumnDef, error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Wrapf(errors.ErrTableNotFound, "table %q", table)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, errors.WrapDataAccess(err, "reading schema of %s", table)
	}
	defer rows.Close()

	var cols []source.ColumnDef
	for rows.Next() {
		var (
			cid     int
			name    string
			decl    string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &decl, &notNull, &dflt, &pk); err != nil {
			return nil, errors.WrapDataAccess(err, "scanning schema of %s", table)
		}
		col := source.ColumnDef{
			Name:       name,
			NotNull:    notNull != 0,
			PrimaryKey: pk != 0,
		}
		col.DataType, col.Length, col.Scale = splitDeclaredType(decl)
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapDataAccess(err, "reading schema of %s", table)
	}

	if err := s.markUniqueColumns(ctx, table, cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// markUniqueColumns flags columns covered by a single-column unique index.
func (s *Source) markUniqueColumns(ctx context.Context, table string, cols []source.ColumnDef) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(table)))
	if err != nil {
		return errors.WrapDataAccess(err, "listing indexes of %s", table)
	}
	defer rows.Close()

	var uniqueIndexes []string
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return errors.WrapDataAccess(err, "listing indexes of %s", table)
		}
		if unique != 0 {
			uniqueIndexes = append(uniqueIndexes, name)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.WrapDataAccess(err, "listing indexes of %s", table)
	}

	for _, ix := range uniqueIndexes {
		cover, err := s.indexColumns(ctx, ix)
		if err != nil {
			return err
		}
		if len(cover) != 1 {
			continue
		}
		for i := range cols {
			if strings.EqualFold(cols[i].Name, cover[0]) {
				cols[i].Unique = true
			}
		}
	}
	for i := range cols {
		if cols[i].PrimaryKey {
			cols[i].Unique = true
		}
	}
	return nil
}

func (s *Source) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteIdent(index)))
	if err != nil {
		return nil, errors.WrapDataAccess(err, "reading index %s", index)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			seqno int
			cid   int
			name  sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, errors.WrapDataAccess(err, "reading index %s", index)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func (s *Source) GeometryType(ctx context.Context, table string) (string, error) {
	var geomType string
	err := s.db.QueryRowContext(ctx,
		`SELECT geometry_type_name FROM gpkg_geometry_columns WHERE lower(table_name) = lower(?)`,
		table,
	).Scan(&geomType)
	switch {
	case err == sql.ErrNoRows:
		return "", nil // attribute-only table
	case err != nil:
		if !s.hasGeometryColumnsTable(ctx) {
			return "", nil
		}
		return "", errors.WrapDataAccess(err, "reading geometry type of %s", table)
	}
	return strings.ToUpper(geomType), nil
}

func (s *Source) hasGeometryColumnsTable(ctx context.Context) bool {
	ok, err := s.TableExists(ctx, "gpkg_geometry_columns")
	return err == nil && ok
}

func (s *Source) FeatureCount(ctx context.Context, table string) (int64, error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, errors.Wrapf(errors.ErrTableNotFound, "table %q", table)
	}
	var n int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(table))).Scan(&n)
	if err != nil {
		return 0, errors.WrapDataAccess(err, "counting features in %s", table)
	}
	return n, nil
}

func (s *Source) Features(ctx context.Context, table string) (source.FeatureIterator, error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Wrapf(errors.ErrTableNotFound, "table %q", table)
	}

	geomCol, err := s.geometryColumn(ctx, table)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT rowid, * FROM %s", quoteIdent(table)))
	if err != nil {
		return nil, errors.WrapDataAccess(err, "reading features of %s", table)
	}
	names, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errors.WrapDataAccess(err, "reading features of %s", table)
	}

	return &iterator{
		rows:    rows,
		columns: names,
		geomCol: strings.ToLower(geomCol),
		table:   table,
	}, nil
}

func (s *Source) geometryColumn(ctx context.Context, table string) (string, error) {
	var col string
	err := s.db.QueryRowContext(ctx,
		`SELECT column_name FROM gpkg_geometry_columns WHERE lower(table_name) = lower(?)`,
		table,
	).Scan(&col)
	switch {
	case err == sql.ErrNoRows:
		return "", nil
	case err != nil:
		if !s.hasGeometryColumnsTable(ctx) {
			return "", nil
		}
		return "", errors.WrapDataAccess(err, "finding geometry column of %s", table)
	}
	return col, nil
}

type iterator struct {
	rows    *sql.Rows
	columns []string
	geomCol string
	table   string

	current source.Feature
	err     error
}

func (it *iterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}

	values := make([]any, len(it.columns))
	ptrs := make([]any, len(it.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = errors.WrapDataAccess(err, "scanning row of %s", it.table)
		return false
	}

	f := source.Feature{Attributes: make(map[string]any, len(it.columns)-1)}
	for i, name := range it.columns {
		lower := strings.ToLower(name)
		if i == 0 && lower == "rowid" {
			f.ID = asInt64(values[i])
			continue
		}
		if lower == it.geomCol && it.geomCol != "" {
			blob, _ := values[i].([]byte)
			g, err := DecodeGeometry(blob)
			if err != nil {
				// A corrupt blob is a finding about this feature, not a
				// reason to stop the scan. Leave the geometry nil so the
				// engine reports it as a basic validation error.
				logger.Debugw("Undecodable geometry blob",
					"table", it.table, "feature", f.ID, "error", err)
				g = nil
			}
			f.Geometry = g
			continue
		}
		f.Attributes[name] = normalizeValue(values[i])
	}
	it.current = f
	return true
}

func (it *iterator) Feature() source.Feature { return it.current }

func (it *iterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *iterator) Close() error { return it.rows.Close() }

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case []byte:
		n, _ := strconv.ParseInt(string(x), 10, 64)
		return n
	default:
		return 0
	}
}

// normalizeValue converts driver byte slices to strings so attribute
// predicates compare naturally.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// splitDeclaredType breaks "VARCHAR(10)" / "NUMERIC(8,2)" into the bare type
// name and its length/scale.
func splitDeclaredType(decl string) (name string, length, scale int) {
	decl = strings.TrimSpace(decl)
	open := strings.IndexByte(decl, '(')
	if open < 0 {
		return strings.ToUpper(decl), 0, 0
	}
	name = strings.ToUpper(strings.TrimSpace(decl[:open]))
	inner := strings.TrimSuffix(decl[open+1:], ")")
	parts := strings.SplitN(inner, ",", 2)
	length, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		scale, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return name, length, scale
}

// quoteIdent wraps an identifier for interpolation into PRAGMA and SELECT
// statements, which cannot take bound parameters for identifiers.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
