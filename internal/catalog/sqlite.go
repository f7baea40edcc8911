package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
)

// SQLiteCatalog implements Reader and Writer on a SQLite database.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLiteCatalog opens (creating if needed) the catalog database at dbPath.
func NewSQLiteCatalog(dbPath string, logger *slog.Logger) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := newSQLiteCatalog(db, readDB, logger)
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}
	return c, nil
}

func newSQLiteCatalog(db, readDB *sql.DB, logger *slog.Logger) *SQLiteCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteCatalog{db: db, readDB: readDB, logger: logger.With("component", "catalog")}
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// RegisterTable inserts or replaces a table and its column statistics.
func (c *SQLiteCatalog) RegisterTable(ctx context.Context, t *Table) error {
	if err := ValidateTable(t); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return registerFailed("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tables (name, kind, partition_column, row_count, pages)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			partition_column = excluded.partition_column,
			row_count = excluded.row_count,
			pages = excluded.pages`,
		t.Name, string(t.Kind), t.PartitionColumn, t.RowCount, t.Pages)
	if err != nil {
		return registerFailed("failed to insert table", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM column_stats WHERE table_name = ?", t.Name); err != nil {
		return registerFailed("failed to clear column stats", err)
	}
	for col, st := range t.Columns {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO column_stats (table_name, column_name, n_distinct, null_frac) VALUES (?, ?, ?, ?)",
			t.Name, col, st.NDistinct, st.NullFrac)
		if err != nil {
			return registerFailed("failed to insert column stats", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return registerFailed("failed to commit transaction", err)
	}
	return nil
}

// RegisterChunk inserts or replaces a chunk and its batch summaries.
func (c *SQLiteCatalog) RegisterChunk(ctx context.Context, ch *Chunk) error {
	if err := ValidateChunk(ch); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return registerFailed("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var kind string
	err = tx.QueryRowContext(ctx, "SELECT kind FROM tables WHERE name = ?", ch.Hypertable).Scan(&kind)
	if err == sql.ErrNoRows || (err == nil && TableKind(kind) != KindHypertable) {
		return inconsistent("chunk %d references unknown hypertable %q", ch.ID, ch.Hypertable)
	}
	if err != nil {
		return registerFailed("failed to look up hypertable", err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM chunk_batches WHERE chunk_id = ?", ch.ID); err != nil {
		return registerFailed("failed to clear batch summaries", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunks (
			id, name, hypertable, range_start, range_end, compressed,
			row_count, pages, batch_count, batch_size, compressed_pages, sorted_by_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, ch.Hypertable, ch.RangeStart, ch.RangeEnd, ch.Compressed,
		ch.RowCount, ch.Pages, ch.BatchCount, ch.BatchSize, ch.CompressedPages, ch.SortedByKey)
	if err != nil {
		return registerFailed("failed to insert chunk", err)
	}

	for i, b := range ch.Batches {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO chunk_batches (chunk_id, batch_no, min_key, max_key) VALUES (?, ?, ?, ?)",
			ch.ID, i, b.Min, b.Max)
		if err != nil {
			return registerFailed("failed to insert batch summary", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return registerFailed("failed to commit transaction", err)
	}

	c.logger.Debug("chunk registered",
		"chunk", ch.Name, "hypertable", ch.Hypertable, "compressed", ch.Compressed, "batches", ch.BatchCount)
	return nil
}

// Table returns the table definition with its column statistics.
func (c *SQLiteCatalog) Table(ctx context.Context, name string) (*Table, error) {
	var t Table
	var kind string
	err := c.readDB.QueryRowContext(ctx,
		"SELECT name, kind, partition_column, row_count, pages FROM tables WHERE name = ?", name,
	).Scan(&t.Name, &kind, &t.PartitionColumn, &t.RowCount, &t.Pages)
	if err == sql.ErrNoRows {
		return nil, tableNotFound(name)
	}
	if err != nil {
		return nil, lookupFailed(fmt.Sprintf("failed to read table %q", name), err)
	}
	t.Kind = TableKind(kind)

	rows, err := c.readDB.QueryContext(ctx,
		"SELECT column_name, n_distinct, null_frac FROM column_stats WHERE table_name = ?", name)
	if err != nil {
		return nil, lookupFailed(fmt.Sprintf("failed to read column stats of %q", name), err)
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		var st ColumnStats
		if err := rows.Scan(&col, &st.NDistinct, &st.NullFrac); err != nil {
			return nil, lookupFailed("failed to scan column stats", err)
		}
		if t.Columns == nil {
			t.Columns = make(map[string]ColumnStats)
		}
		t.Columns[col] = st
	}
	if err := rows.Err(); err != nil {
		return nil, lookupFailed("error iterating column stats", err)
	}
	return &t, nil
}

// Chunks returns the chunks of a table ordered by RangeStart. Batch
// summaries are not loaded; use CompressionStats.
func (c *SQLiteCatalog) Chunks(ctx context.Context, table string) ([]*Chunk, error) {
	var exists int
	err := c.readDB.QueryRowContext(ctx, "SELECT 1 FROM tables WHERE name = ?", table).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, tableNotFound(table)
	}
	if err != nil {
		return nil, lookupFailed(fmt.Sprintf("failed to read table %q", table), err)
	}

	rows, err := c.readDB.QueryContext(ctx, `
		SELECT id, name, hypertable, range_start, range_end, compressed,
			row_count, pages, batch_count, batch_size, compressed_pages, sorted_by_key
		FROM chunks
		WHERE hypertable = ?
		ORDER BY range_start, id`, table)
	if err != nil {
		return nil, lookupFailed(fmt.Sprintf("failed to query chunks of %q", table), err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var ch Chunk
		if err := rows.Scan(
			&ch.ID, &ch.Name, &ch.Hypertable, &ch.RangeStart, &ch.RangeEnd, &ch.Compressed,
			&ch.RowCount, &ch.Pages, &ch.BatchCount, &ch.BatchSize, &ch.CompressedPages, &ch.SortedByKey,
		); err != nil {
			return nil, lookupFailed("failed to scan chunk", err)
		}
		chunks = append(chunks, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, lookupFailed("error iterating chunks", err)
	}
	return chunks, nil
}

// CompressionStats returns batch statistics and summaries of one chunk.
func (c *SQLiteCatalog) CompressionStats(ctx context.Context, chunkID int64) (*CompressionStats, error) {
	var st CompressionStats
	err := c.readDB.QueryRowContext(ctx,
		"SELECT batch_count, batch_size, compressed_pages, sorted_by_key FROM chunks WHERE id = ?", chunkID,
	).Scan(&st.BatchCount, &st.BatchSize, &st.CompressedPages, &st.SortedByKey)
	if err == sql.ErrNoRows {
		return nil, lookupFailed(fmt.Sprintf("chunk %d not found", chunkID), nil)
	}
	if err != nil {
		return nil, lookupFailed(fmt.Sprintf("failed to read chunk %d", chunkID), err)
	}

	rows, err := c.readDB.QueryContext(ctx,
		"SELECT min_key, max_key FROM chunk_batches WHERE chunk_id = ? ORDER BY batch_no", chunkID)
	if err != nil {
		return nil, lookupFailed(fmt.Sprintf("failed to query batches of chunk %d", chunkID), err)
	}
	defer rows.Close()

	for rows.Next() {
		var b BatchRange
		if err := rows.Scan(&b.Min, &b.Max); err != nil {
			return nil, lookupFailed("failed to scan batch summary", err)
		}
		st.Batches = append(st.Batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, lookupFailed("error iterating batch summaries", err)
	}
	return &st, nil
}

// TableNames returns every table name, sorted.
func (c *SQLiteCatalog) TableNames(ctx context.Context) ([]string, error) {
	rows, err := c.readDB.QueryContext(ctx, "SELECT name FROM tables ORDER BY name")
	if err != nil {
		return nil, lookupFailed("failed to list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, lookupFailed("failed to scan table name", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, lookupFailed("error iterating tables", err)
	}
	return names, nil
}

// Close closes both database connections.
func (c *SQLiteCatalog) Close() error {
	readErr := c.readDB.Close()
	if err := c.db.Close(); err != nil {
		return err
	}
	return readErr
}

func registerFailed(what string, cause error) error {
	return tserrors.NewCatalogError(tserrors.CodeRegisterFailed, what, cause)
}
