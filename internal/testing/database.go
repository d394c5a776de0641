// Package testing provides shared test helpers for sqlite-backed tests.
package testing

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

// CreateTestDB creates a temporary sqlite database and returns its path and
// an open handle. The handle is closed and the file removed with the test.
func CreateTestDB(t *testing.T) (string, *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	return path, db
}

// GeometryEncoder converts an orb geometry into the storage blob a feature
// table carries. Wired to gpkg.EncodeGeometry by the tests that need it,
// declared here to keep this package free of higher-level imports.
type GeometryEncoder func(g orb.Geometry, srsID int32) ([]byte, error)

// SeedGeoPackage creates the GeoPackage metadata tables plus one feature
// table with a geometry column and the given rows. Attribute columns are
// declared as passed in colDefs (e.g. "zone TEXT NOT NULL").
func SeedGeoPackage(t *testing.T, db *sql.DB, table, geomType string, colDefs []string, encode GeometryEncoder, rows []SeedRow) {
	t.Helper()

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS gpkg_contents (
		table_name TEXT PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
		table_name TEXT PRIMARY KEY,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL
	)`)
	require.NoError(t, err)

	cols := "id INTEGER PRIMARY KEY, geom BLOB"
	for _, def := range colDefs {
		cols += ", " + def
	}
	_, err = db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", table, cols))
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO gpkg_contents (table_name, data_type, identifier) VALUES (?, 'features', ?)`, table, table)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id) VALUES (?, 'geom', ?, 0)`, table, geomType)
	require.NoError(t, err)

	for _, row := range rows {
		var blob any
		if row.Geometry != nil {
			encoded, err := encode(row.Geometry, 0)
			require.NoError(t, err)
			blob = encoded
		}
		placeholders := "?, ?"
		args := []any{row.ID, blob}
		for _, v := range row.Attrs {
			placeholders += ", ?"
			args = append(args, v)
		}
		_, err = db.Exec(fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders), args...)
		require.NoError(t, err)
	}
}

// SeedRow is one feature row for SeedGeoPackage. Attrs must follow the
// colDefs order.
type SeedRow struct {
	ID       int64
	Geometry orb.Geometry
	Attrs    []any
}
