package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryCatalog is an in-process catalog, used by tests, snapshot files and
// the CLI when no database is configured. It is safe for concurrent use.
type MemoryCatalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
	chunks map[string][]*Chunk
	byID   map[int64]*Chunk
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		tables: make(map[string]*Table),
		chunks: make(map[string][]*Chunk),
		byID:   make(map[int64]*Chunk),
	}
}

// RegisterTable adds or replaces a table definition.
func (m *MemoryCatalog) RegisterTable(_ context.Context, t *Table) error {
	if err := ValidateTable(t); err != nil {
		return err
	}
	cp := *t
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.Name] = &cp
	return nil
}

// RegisterChunk adds or replaces a chunk. Its hypertable must exist.
func (m *MemoryCatalog) RegisterChunk(_ context.Context, c *Chunk) error {
	if err := ValidateChunk(c); err != nil {
		return err
	}
	cp := *c

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[c.Hypertable]
	if !ok || !t.IsHypertable() {
		return inconsistent("chunk %d references unknown hypertable %q", c.ID, c.Hypertable)
	}
	if old, ok := m.byID[c.ID]; ok {
		m.removeLocked(old)
	}

	list := append(m.chunks[c.Hypertable], &cp)
	sort.SliceStable(list, func(i, j int) bool { return list[i].RangeStart < list[j].RangeStart })
	m.chunks[c.Hypertable] = list
	m.byID[c.ID] = &cp
	return nil
}

func (m *MemoryCatalog) removeLocked(c *Chunk) {
	list := m.chunks[c.Hypertable]
	for i, x := range list {
		if x.ID == c.ID {
			m.chunks[c.Hypertable] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	delete(m.byID, c.ID)
}

// Table returns the table definition.
func (m *MemoryCatalog) Table(_ context.Context, name string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, tableNotFound(name)
	}
	cp := *t
	return &cp, nil
}

// Chunks returns copies of a hypertable's chunks ordered by RangeStart.
func (m *MemoryCatalog) Chunks(_ context.Context, table string) ([]*Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tables[table]; !ok {
		return nil, tableNotFound(table)
	}
	list := m.chunks[table]
	out := make([]*Chunk, len(list))
	for i, c := range list {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

// CompressionStats returns the compression metadata of a chunk.
func (m *MemoryCatalog) CompressionStats(_ context.Context, chunkID int64) (*CompressionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[chunkID]
	if !ok {
		return nil, lookupFailed(fmt.Sprintf("chunk %d not found", chunkID), nil)
	}
	return &CompressionStats{
		BatchCount:      c.BatchCount,
		BatchSize:       c.BatchSize,
		CompressedPages: c.CompressedPages,
		Batches:         append([]BatchRange(nil), c.Batches...),
		SortedByKey:     c.SortedByKey,
	}, nil
}

// TableNames returns every registered table name, sorted.
func (m *MemoryCatalog) TableNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for n := range m.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
