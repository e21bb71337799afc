package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// recordDB is the SQLite sidecar holding compressed tensors and record
// metadata for both collections. The ANN graphs carry only representative
// vectors; every byte needed to reconstruct a full tensor lives here, so
// the sidecar doubles as the source of truth for graph rebuilds.
type recordDB struct {
	db   *sql.DB
	path string
}

const sidecarSchemaVersion = 1

// Batch size for IN (...) queries, well under SQLite's bound-variable cap.
const sidecarQueryBatch = 512

const recordColumns = `id, collection, doc_id, filename, page_number, chunk_index, content_type, created_at, dtype, seq_rows, seq_dim, seq_blob`

// record is one sidecar row.
type record struct {
	id         string
	collection Collection
	meta       Meta
	dtype      string
	seqRows    int
	seqDim     int
	blob       []byte
}

// openRecordDB opens or creates the sidecar database. A corrupted database
// is cleared and recreated empty; the caller is expected to rebuild from
// source documents in that case.
func openRecordDB(path string, logger *slog.Logger) (*recordDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sidecar directory: %w", err)
	}

	if err := validateRecordDB(path); err != nil {
		logger.Warn("store_sidecar_corrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))

		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, fmt.Errorf("sidecar corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, err)
		}
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")

		logger.Info("store_sidecar_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, reindex required"))
	}

	// WAL keeps readers unblocked during upserts; busy_timeout absorbs
	// lock contention from the single writer.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sidecar database: %w", err)
	}

	// Single connection: SQLite allows one writer, and funnelling every
	// statement through one conn avoids lock contention entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN parameters, so the pragmas are
	// applied explicitly as well.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	r := &recordDB{db: db, path: path}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sidecar schema: %w", err)
	}
	return r, nil
}

// validateRecordDB checks an existing sidecar file before opening it for
// real. Returns nil when the file is absent or healthy.
func validateRecordDB(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (r *recordDB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

CREATE TABLE IF NOT EXISTS records (
	id           TEXT PRIMARY KEY,
	collection   TEXT NOT NULL,
	doc_id       TEXT NOT NULL,
	filename     TEXT NOT NULL,
	page_number  INTEGER NOT NULL,
	chunk_index  INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	dtype        TEXT NOT NULL,
	seq_rows     INTEGER NOT NULL,
	seq_dim      INTEGER NOT NULL,
	seq_blob     BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_doc_id ON records(doc_id);
CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("create records schema: %w", err)
	}
	if _, err := r.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`,
		sidecarSchemaVersion,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// upsertRecords replaces all given rows in one transaction.
func (r *recordDB) upsertRecords(ctx context.Context, recs []record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO records (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordColumns,
	))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.id,
			string(rec.collection),
			rec.meta.DocID,
			rec.meta.Filename,
			rec.meta.PageNumber,
			rec.meta.ChunkIndex,
			rec.meta.ContentType,
			rec.meta.CreatedAt.UnixNano(),
			rec.dtype,
			rec.seqRows,
			rec.seqDim,
			rec.blob,
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record, error) {
	var rec record
	var collection string
	var createdAt int64
	if err := row.Scan(
		&rec.id,
		&collection,
		&rec.meta.DocID,
		&rec.meta.Filename,
		&rec.meta.PageNumber,
		&rec.meta.ChunkIndex,
		&rec.meta.ContentType,
		&createdAt,
		&rec.dtype,
		&rec.seqRows,
		&rec.seqDim,
		&rec.blob,
	); err != nil {
		return record{}, err
	}
	rec.collection = Collection(collection)
	rec.meta.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}

// getRecord fetches a single row by id.
func (r *recordDB) getRecord(ctx context.Context, id string) (record, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM records WHERE id = ?`, recordColumns), id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record{}, ErrNotFound
		}
		return record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// getRecords fetches many rows by id. Missing ids are silently absent from
// the result. IDs are queried in batches to stay under the bound-variable
// cap, one statement per batch.
func (r *recordDB) getRecords(ctx context.Context, ids []string) ([]record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]record, 0, len(ids))
	for start := 0; start < len(ids); start += sidecarQueryBatch {
		end := min(start+sidecarQueryBatch, len(ids))
		batch := ids[start:end]

		placeholders := strings.Repeat("?,", len(batch)-1) + "?"
		query := fmt.Sprintf(`SELECT %s FROM records WHERE id IN (%s)`, recordColumns, placeholders)
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("batch get records: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan record: %w", err)
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate records: %w", err)
		}
		rows.Close()
	}
	return out, nil
}

// deleteDoc removes every row belonging to a document across both
// collections and reports how many were removed.
func (r *recordDB) deleteDoc(ctx context.Context, docID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE doc_id = ?`, docID)
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted rows: %w", err)
	}
	return n, nil
}

// scanMeta streams (id, collection, meta) for every row without loading
// tensor blobs. Used to rebuild the in-memory metadata maps on open.
func (r *recordDB) scanMeta(ctx context.Context, fn func(id string, c Collection, m Meta) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, collection, doc_id, filename, page_number, chunk_index, content_type, created_at FROM records`)
	if err != nil {
		return fmt.Errorf("scan metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, collection string
		var m Meta
		var createdAt int64
		if err := rows.Scan(&id, &collection, &m.DocID, &m.Filename,
			&m.PageNumber, &m.ChunkIndex, &m.ContentType, &createdAt); err != nil {
			return fmt.Errorf("scan metadata row: %w", err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		if err := fn(id, Collection(collection), m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// scanAll streams every full row including blobs. Used to rebuild ANN
// graphs when their snapshots are missing or stale.
func (r *recordDB) scanAll(ctx context.Context, fn func(record) error) error {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM records`, recordColumns))
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan record row: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// counts returns the number of rows per collection.
func (r *recordDB) counts(ctx context.Context) (map[Collection]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT collection, COUNT(*) FROM records GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	out := map[Collection]int{CollectionVisual: 0, CollectionText: 0}
	for rows.Next() {
		var collection string
		var n int
		if err := rows.Scan(&collection, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		out[Collection(collection)] = n
	}
	return out, rows.Err()
}

func (r *recordDB) close() error {
	return r.db.Close()
}
