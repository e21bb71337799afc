package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Retention cap for per-search rows. Appends trim the oldest rows beyond it
// so the database stays bounded.
const maxSearchRows = 10000

// Store persists search telemetry in SQLite: one row per executed search
// plus an aggregated term-frequency table. It implements Sink and serves
// the read side of the stats command.
type Store struct {
	db    *sql.DB
	owned bool
}

// Open opens (or creates) the telemetry database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}

	// One writer at a time keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// modernc.org/sqlite ignores some DSN parameters, so the pragmas are
	// applied explicitly as well.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, owned: true}, nil
}

// NewStore wraps an existing database handle. The handle is shared: Close
// leaves it open, and the schema must already exist (see InitSchema).
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &Store{db: db}, nil
}

// InitSchema creates the telemetry tables if they don't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	-- One row per executed search
	CREATE TABLE IF NOT EXISTS searches (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		ts           INTEGER NOT NULL,
		query        TEXT NOT NULL,
		mode         TEXT NOT NULL,
		k            INTEGER NOT NULL,
		latency_ms   REAL NOT NULL,
		result_count INTEGER NOT NULL,
		partial      INTEGER NOT NULL,
		cache_hit    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_searches_ts ON searches(ts);

	-- Top query terms (with frequency count)
	CREATE TABLE IF NOT EXISTS query_terms (
		term      TEXT PRIMARY KEY,
		count     INTEGER NOT NULL DEFAULT 1,
		last_seen INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// AppendSearches appends one row per event and trims rows beyond the
// retention cap, all in one transaction.
func (s *Store) AppendSearches(events []SearchEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO searches (ts, query, mode, k, latency_ms, result_count, partial, cache_hit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		latencyMs := float64(e.Latency) / float64(time.Millisecond)
		if _, err := stmt.Exec(ts.UnixNano(), e.Query, e.Mode, e.K,
			latencyMs, e.ResultCount, e.Partial, e.CacheHit); err != nil {
			return fmt.Errorf("insert search row: %w", err)
		}
	}

	if _, err := tx.Exec(`
		DELETE FROM searches
		WHERE id NOT IN (
			SELECT id FROM searches
			ORDER BY id DESC
			LIMIT ?
		)
	`, maxSearchRows); err != nil {
		return fmt.Errorf("trim search rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpsertTermCounts adds term frequency deltas.
func (s *Store) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for term, count := range terms {
		if _, err := stmt.Exec(term, count, now); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Summary is the aggregate view served by the stats command.
type Summary struct {
	Count         int64   `json:"count"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	PartialRate   float64 `json:"partial_rate"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	ZeroHitCount  int64   `json:"zero_hit_count"`
}

// Summary aggregates rows in [from, to]. A zero from means all history, a
// zero to means now. P95 uses the nearest-rank method.
func (s *Store) Summary(from, to time.Time) (Summary, error) {
	lo, hi := rangeBounds(from, to)

	var sum Summary
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(AVG(partial), 0),
		       COALESCE(AVG(cache_hit), 0),
		       COALESCE(SUM(CASE WHEN result_count = 0 THEN 1 ELSE 0 END), 0)
		FROM searches
		WHERE ts >= ? AND ts <= ?
	`, lo, hi).Scan(&sum.Count, &sum.MeanLatencyMs, &sum.PartialRate,
		&sum.CacheHitRate, &sum.ZeroHitCount)
	if err != nil {
		return Summary{}, fmt.Errorf("query summary: %w", err)
	}

	if sum.Count > 0 {
		offset := sum.Count * 95 / 100
		if offset >= sum.Count {
			offset = sum.Count - 1
		}
		err = s.db.QueryRow(`
			SELECT latency_ms FROM searches
			WHERE ts >= ? AND ts <= ?
			ORDER BY latency_ms
			LIMIT 1 OFFSET ?
		`, lo, hi, offset).Scan(&sum.P95LatencyMs)
		if err != nil {
			return Summary{}, fmt.Errorf("query p95 latency: %w", err)
		}
	}
	return sum, nil
}

// ModeCounts returns per-mode search counts for a time range.
func (s *Store) ModeCounts(from, to time.Time) (map[string]int64, error) {
	lo, hi := rangeBounds(from, to)

	rows, err := s.db.Query(`
		SELECT mode, COUNT(*)
		FROM searches
		WHERE ts >= ? AND ts <= ?
		GROUP BY mode
	`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query mode counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var mode string
		var count int64
		if err := rows.Scan(&mode, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[mode] = count
	}
	return counts, rows.Err()
}

// LatencyBuckets returns the latency histogram for a time range.
func (s *Store) LatencyBuckets(from, to time.Time) (map[LatencyBucket]int64, error) {
	lo, hi := rangeBounds(from, to)

	rows, err := s.db.Query(`
		SELECT CASE
			WHEN latency_ms < 10 THEN 'p10'
			WHEN latency_ms < 50 THEN 'p50'
			WHEN latency_ms < 100 THEN 'p100'
			WHEN latency_ms < 500 THEN 'p500'
			ELSE 'p1000'
		END AS bucket, COUNT(*)
		FROM searches
		WHERE ts >= ? AND ts <= ?
		GROUP BY bucket
	`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query latency buckets: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// ZeroHitQueries retrieves recent searches that returned nothing, most
// recent first.
func (s *Store) ZeroHitQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query
		FROM searches
		WHERE result_count = 0
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-hit queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// TopTerms retrieves the top N query terms by frequency.
func (s *Store) TopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// Close closes the database when the store owns it. Shared handles are
// left open for their owner to close.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func rangeBounds(from, to time.Time) (int64, int64) {
	lo := int64(0)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	hi := time.Now().UnixNano()
	if !to.IsZero() {
		hi = to.UnixNano()
	}
	return lo, hi
}
