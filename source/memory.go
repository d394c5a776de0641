package source

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cartolab/geovet/errors"
)

// MemoryTable is one in-memory table: its schema, declared geometry type,
// and rows in insertion order.
type MemoryTable struct {
	Columns      []ColumnDef
	GeometryType string
	Features     []Feature
}

// MemorySource is an in-memory FeatureSource for tests and embedding.
// Reads are safe concurrently once the tables are populated.
type MemorySource struct {
	mu     sync.RWMutex
	tables map[string]*MemoryTable
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{tables: make(map[string]*MemoryTable)}
}

// AddTable registers or replaces a table.
func (m *MemorySource) AddTable(name string, table *MemoryTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[strings.ToLower(name)] = table
}

// TableNames returns the registered table names, sorted.
func (m *MemorySource) TableNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MemorySource) lookup(table string) (*MemoryTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[strings.ToLower(table)]
	if !ok {
		return nil, errors.Wrapf(errors.ErrTableNotFound, "table %q", table)
	}
	return t, nil
}

func (m *MemorySource) TableExists(_ context.Context, table string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[strings.ToLower(table)]
	return ok, nil
}

func (m *MemorySource) Schema(_ context.Context, table string) ([]ColumnDef, error) {
	t, err := m.lookup(table)
	if err != nil {
		return nil, err
	}
	out := make([]ColumnDef, len(t.Columns))
	copy(out, t.Columns)
	return out, nil
}

func (m *MemorySource) GeometryType(_ context.Context, table string) (string, error) {
	t, err := m.lookup(table)
	if err != nil {
		return "", err
	}
	return t.GeometryType, nil
}

func (m *MemorySource) FeatureCount(_ context.Context, table string) (int64, error) {
	t, err := m.lookup(table)
	if err != nil {
		return 0, err
	}
	return int64(len(t.Features)), nil
}

func (m *MemorySource) Features(ctx context.Context, table string) (FeatureIterator, error) {
	t, err := m.lookup(table)
	if err != nil {
		return nil, err
	}
	return &memoryIterator{ctx: ctx, features: t.Features, pos: -1}, nil
}

func (m *MemorySource) Close() error { return nil }

type memoryIterator struct {
	ctx      context.Context
	features []Feature
	pos      int
	err      error
}

func (it *memoryIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.pos++
	return it.pos < len(it.features)
}

func (it *memoryIterator) Feature() Feature { return it.features[it.pos] }
func (it *memoryIterator) Err() error       { return it.err }
func (it *memoryIterator) Close() error     { return nil }
