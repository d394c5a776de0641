// Package source abstracts feature access for the validation pipeline. A
// FeatureSource exposes table metadata and a lazy feature iterator; engines
// never touch storage directly. The gpkg subpackage implements the interface
// over GeoPackage files, and MemorySource backs tests and embedding.
package source

import (
	"context"

	"github.com/paulmach/orb"
)

// ColumnDef describes one column as the backing store reports it.
type ColumnDef struct {
	Name       string
	DataType   string // raw declared type, e.g. "TEXT", "VARCHAR(10)", "NUMERIC(8,2)"
	Length     int    // 0 = undeclared
	Scale      int
	NotNull    bool
	PrimaryKey bool
	Unique     bool
}

// Feature is one row: id, geometry (nil for attribute-only tables), and the
// attribute map keyed by column name.
type Feature struct {
	ID         int64
	Geometry   orb.Geometry
	Attributes map[string]any
}

// FeatureIterator yields features lazily. It is finite and not restartable;
// reopen through the source to iterate again. The usual loop:
//
//	for it.Next() {
//	    f := it.Feature()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type FeatureIterator interface {
	Next() bool
	Feature() Feature
	Err() error
	Close() error
}

// FeatureSource is the read-only view of one dataset the engines consume.
type FeatureSource interface {
	// TableExists reports whether the named table is present.
	TableExists(ctx context.Context, table string) (bool, error)
	// Schema returns the actual column definitions of a table.
	Schema(ctx context.Context, table string) ([]ColumnDef, error)
	// GeometryType returns the declared geometry type of a table
	// ("POINT", "LINESTRING", "POLYGON", ...), or "" for attribute-only
	// tables.
	GeometryType(ctx context.Context, table string) (string, error)
	// FeatureCount returns the number of rows in a table.
	FeatureCount(ctx context.Context, table string) (int64, error)
	// Features opens a lazy iterator over a table's rows.
	Features(ctx context.Context, table string) (FeatureIterator, error)
	// Close releases the underlying storage.
	Close() error
}
