package catalog

// Schema of the SQLite catalog database (catalog.db).

// CreateTablesTableSQL stores hypertable and plain table definitions.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    name TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    partition_column TEXT NOT NULL DEFAULT '',
    row_count INTEGER NOT NULL DEFAULT 0,
    pages INTEGER NOT NULL DEFAULT 0
)`

// CreateColumnStatsTableSQL stores per-column statistics.
const CreateColumnStatsTableSQL = `
CREATE TABLE IF NOT EXISTS column_stats (
    table_name TEXT NOT NULL,
    column_name TEXT NOT NULL,
    n_distinct REAL NOT NULL DEFAULT 0,
    null_frac REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (table_name, column_name),
    FOREIGN KEY (table_name) REFERENCES tables(name)
)`

// CreateChunksTableSQL stores one row per chunk. Ranges are half-open.
const CreateChunksTableSQL = `
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    hypertable TEXT NOT NULL,
    range_start INTEGER NOT NULL,
    range_end INTEGER NOT NULL,
    compressed INTEGER NOT NULL DEFAULT 0,
    row_count INTEGER NOT NULL DEFAULT 0,
    pages INTEGER NOT NULL DEFAULT 0,
    batch_count INTEGER NOT NULL DEFAULT 0,
    batch_size INTEGER NOT NULL DEFAULT 0,
    compressed_pages INTEGER NOT NULL DEFAULT 0,
    sorted_by_key INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (hypertable) REFERENCES tables(name)
)`

// CreateChunkBatchesTableSQL stores the optional per-batch key summaries.
const CreateChunkBatchesTableSQL = `
CREATE TABLE IF NOT EXISTS chunk_batches (
    chunk_id INTEGER NOT NULL,
    batch_no INTEGER NOT NULL,
    min_key INTEGER NOT NULL,
    max_key INTEGER NOT NULL,
    PRIMARY KEY (chunk_id, batch_no),
    FOREIGN KEY (chunk_id) REFERENCES chunks(id)
)`

// CreateChunksIndexSQL supports range-ordered chunk listing per hypertable.
const CreateChunksIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_chunks_range ON chunks(hypertable, range_start, range_end)`

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	return []string{
		CreateTablesTableSQL,
		CreateColumnStatsTableSQL,
		CreateChunksTableSQL,
		CreateChunkBatchesTableSQL,
		CreateChunksIndexSQL,
	}
}
