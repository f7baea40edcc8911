package catalog

import (
	"context"
	"sort"
	"time"
)

// Snapshot is an immutable view of the catalog entries one planning pass
// reads. Chunks of compressed tables carry their compression statistics.
type Snapshot struct {
	tables  map[string]*Table
	chunks  map[string][]*Chunk
	takenAt time.Time
}

// LoadSnapshot reads the named tables, their chunks and, for compressed
// chunks, their compression statistics. Any lookup error is returned as is.
func LoadSnapshot(ctx context.Context, r Reader, tables ...string) (*Snapshot, error) {
	s := &Snapshot{
		tables:  make(map[string]*Table, len(tables)),
		chunks:  make(map[string][]*Chunk, len(tables)),
		takenAt: time.Now(),
	}

	for _, name := range tables {
		if _, done := s.tables[name]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t, err := r.Table(ctx, name)
		if err != nil {
			return nil, err
		}
		s.tables[name] = t
		if !t.IsHypertable() {
			continue
		}

		chunks, err := r.Chunks(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			if c.Hypertable != name {
				return nil, inconsistent("chunk %d listed for %q belongs to %q", c.ID, name, c.Hypertable)
			}
			if c.Compressed {
				st, err := r.CompressionStats(ctx, c.ID)
				if err != nil {
					return nil, err
				}
				st.Apply(c)
			}
			if err := ValidateChunk(c); err != nil {
				return nil, err
			}
		}
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].RangeStart < chunks[j].RangeStart })
		s.chunks[name] = chunks
	}
	return s, nil
}

// NewSnapshot builds a snapshot from already loaded entries. Chunks are
// grouped by hypertable and validated.
func NewSnapshot(tables []*Table, chunks []*Chunk) (*Snapshot, error) {
	s := &Snapshot{
		tables:  make(map[string]*Table, len(tables)),
		chunks:  make(map[string][]*Chunk),
		takenAt: time.Now(),
	}
	for _, t := range tables {
		if err := ValidateTable(t); err != nil {
			return nil, err
		}
		s.tables[t.Name] = t
	}
	for _, c := range chunks {
		if err := ValidateChunk(c); err != nil {
			return nil, err
		}
		t, ok := s.tables[c.Hypertable]
		if !ok || !t.IsHypertable() {
			return nil, inconsistent("chunk %d references unknown hypertable %q", c.ID, c.Hypertable)
		}
		s.chunks[c.Hypertable] = append(s.chunks[c.Hypertable], c)
	}
	for _, list := range s.chunks {
		sort.SliceStable(list, func(i, j int) bool { return list[i].RangeStart < list[j].RangeStart })
	}
	return s, nil
}

// Table returns a table of the snapshot.
func (s *Snapshot) Table(name string) (*Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Chunks returns the chunks of a hypertable ordered by RangeStart. The
// slice and its elements must not be modified.
func (s *Snapshot) Chunks(table string) []*Chunk {
	return s.chunks[table]
}

// TableNames returns the snapshot's table names, sorted.
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TakenAt returns when the snapshot was read.
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}
