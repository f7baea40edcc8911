package catalog

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedReader memoizes catalog lookups in bounded LRU caches. Errors are
// never cached. It is the only cross-query cache in the planning path.
type CachedReader struct {
	inner       Reader
	tables      *lru.Cache[string, *Table]
	chunks      *lru.Cache[string, []*Chunk]
	compression *lru.Cache[int64, *CompressionStats]
}

// NewCachedReader wraps inner with caches holding up to size entries each.
func NewCachedReader(inner Reader, size int) (*CachedReader, error) {
	tables, err := lru.New[string, *Table](size)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to create table cache: %w", err)
	}
	chunks, err := lru.New[string, []*Chunk](size)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to create chunk cache: %w", err)
	}
	compression, err := lru.New[int64, *CompressionStats](size)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to create compression cache: %w", err)
	}
	return &CachedReader{inner: inner, tables: tables, chunks: chunks, compression: compression}, nil
}

// Table returns the cached table definition, loading it on a miss.
func (r *CachedReader) Table(ctx context.Context, name string) (*Table, error) {
	if t, ok := r.tables.Get(name); ok {
		cp := *t
		return &cp, nil
	}
	t, err := r.inner.Table(ctx, name)
	if err != nil {
		return nil, err
	}
	cp := *t
	r.tables.Add(name, &cp)
	return t, nil
}

// Chunks returns copies of the cached chunk list, loading it on a miss.
func (r *CachedReader) Chunks(ctx context.Context, table string) ([]*Chunk, error) {
	list, ok := r.chunks.Get(table)
	if !ok {
		var err error
		list, err = r.inner.Chunks(ctx, table)
		if err != nil {
			return nil, err
		}
		r.chunks.Add(table, copyChunks(list))
	}
	return copyChunks(list), nil
}

// CompressionStats returns cached compression metadata, loading it on a miss.
func (r *CachedReader) CompressionStats(ctx context.Context, chunkID int64) (*CompressionStats, error) {
	if st, ok := r.compression.Get(chunkID); ok {
		cp := *st
		return &cp, nil
	}
	st, err := r.inner.CompressionStats(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	cp := *st
	r.compression.Add(chunkID, &cp)
	return st, nil
}

// Invalidate drops the cached entries of one table and its chunks.
func (r *CachedReader) Invalidate(table string) {
	r.tables.Remove(table)
	if list, ok := r.chunks.Peek(table); ok {
		for _, c := range list {
			r.compression.Remove(c.ID)
		}
	}
	r.chunks.Remove(table)
}

// Purge drops every cached entry.
func (r *CachedReader) Purge() {
	r.tables.Purge()
	r.chunks.Purge()
	r.compression.Purge()
}

// Len returns the number of cached tables.
func (r *CachedReader) Len() int {
	return r.tables.Len()
}

func copyChunks(list []*Chunk) []*Chunk {
	out := make([]*Chunk, len(list))
	for i, c := range list {
		cp := *c
		out[i] = &cp
	}
	return out
}
