package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// zeroResultCapacity bounds the zero-result query buffer.
const zeroResultCapacity = 100

const schema = `
CREATE TABLE IF NOT EXISTS query_daily (
	date TEXT PRIMARY KEY,
	total INTEGER NOT NULL DEFAULT 0,
	zero_results INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP
);

CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 1,
	last_seen TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	build_id TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);
`

const (
	upsertDaily = `INSERT INTO query_daily (date, total, zero_results, last_seen) VALUES (?, 1, ?, ?)
ON CONFLICT(date) DO UPDATE SET total = total + 1, zero_results = zero_results + excluded.zero_results, last_seen = excluded.last_seen`
	upsertLatency = `INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, 1)
ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1`
	upsertTerm = `INSERT INTO query_terms (term, count, last_seen) VALUES (?, 1, ?)
ON CONFLICT(term) DO UPDATE SET count = count + 1, last_seen = excluded.last_seen`
	insertZeroResult = `INSERT INTO zero_result_queries (query, build_id, timestamp) VALUES (?, ?, ?)`
	trimZeroResults  = `DELETE FROM zero_result_queries
WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`
)

// Store persists query history in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open query history: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create query history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record adds one query to the history.
func (s *Store) Record(ctx context.Context, ev QueryEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ts := ev.Timestamp.UTC()
	date := ts.Format(time.DateOnly)
	zero := 0
	if ev.IsZeroResult() {
		zero = 1
	}

	type stmt struct {
		what  string
		query string
		args  []any
	}
	stmts := []stmt{
		{"update daily counts", upsertDaily, []any{date, zero, ts}},
		{"update latency histogram", upsertLatency, []any{date, string(LatencyToBucket(ev.Latency))}},
	}
	for _, term := range ExtractTerms(ev.Query) {
		stmts = append(stmts, stmt{"upsert term count", upsertTerm, []any{term, ts}})
	}
	if zero == 1 {
		stmts = append(stmts,
			stmt{"insert zero-result query", insertZeroResult, []any{ev.Query, ev.BuildID, ts}},
			stmt{"trim zero-result queries", trimZeroResults, []any{zeroResultCapacity}},
		)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("%s: %w", st.what, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Summarize aggregates the whole history. topTerms and recent bound the
// term list and the zero-result list.
func (s *Store) Summarize(ctx context.Context, topTerms, recent int) (*Summary, error) {
	sum := &Summary{LatencyDistribution: make(map[LatencyBucket]int64)}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0), COALESCE(SUM(zero_results), 0), MAX(last_seen)
		FROM query_daily
	`).Scan(&sum.TotalQueries, &sum.ZeroResultCount, &last); err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	if last.Valid {
		sum.LastQueryAt = parseTime(last.String)
	}

	terms, err := s.topTerms(ctx, topTerms)
	if err != nil {
		return nil, err
	}
	sum.TopTerms = terms

	queries, err := s.zeroResultQueries(ctx, recent)
	if err != nil {
		return nil, err
	}
	sum.ZeroResultQueries = queries

	type bucketCount struct {
		bucket string
		count  int64
	}
	counts, err := collect(ctx, s.db, func(rows *sql.Rows) (bc bucketCount, err error) {
		err = rows.Scan(&bc.bucket, &bc.count)
		return bc, err
	}, `SELECT bucket, SUM(count) FROM query_latency_stats GROUP BY bucket`)
	if err != nil {
		return nil, err
	}
	for _, bc := range counts {
		sum.LatencyDistribution[LatencyBucket(bc.bucket)] = bc.count
	}
	return sum, nil
}

func (s *Store) topTerms(ctx context.Context, limit int) ([]TermCount, error) {
	return collect(ctx, s.db, func(rows *sql.Rows) (tc TermCount, err error) {
		err = rows.Scan(&tc.Term, &tc.Count)
		return tc, err
	}, `SELECT term, count FROM query_terms ORDER BY count DESC, term ASC LIMIT ?`, limit)
}

func (s *Store) zeroResultQueries(ctx context.Context, limit int) ([]string, error) {
	return collect(ctx, s.db, func(rows *sql.Rows) (q string, err error) {
		err = rows.Scan(&q)
		return q, err
	}, `SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
}

// collect runs query and scans every row with scan. The result is never nil
// so that JSON output shows an empty list.
func collect[T any](ctx context.Context, db *sql.DB, scan func(*sql.Rows) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Clear deletes the whole history.
func (s *Store) Clear(ctx context.Context) error {
	for _, table := range []string{"query_daily", "query_terms", "zero_result_queries", "query_latency_stats"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// parseTime accepts the layouts the driver uses for stored timestamps.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
