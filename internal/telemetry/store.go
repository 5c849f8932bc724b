package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// SQLiteStore implements OperationMetricsStore using a pure-Go SQLite
// database at a path under the profile's telemetry directory.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) the telemetry database at
// path and ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS operation_stats (
		date TEXT NOT NULL,
		operation TEXT NOT NULL,
		outcome TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, operation, outcome)
	);

	CREATE TABLE IF NOT EXISTS latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	CREATE TABLE IF NOT EXISTS recent_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		object_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveOperationCounts upserts daily per-operation/outcome counts.
func (s *SQLiteStore) SaveOperationCounts(date string, counts map[Operation]map[Outcome]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO operation_stats (date, operation, outcome, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, operation, outcome) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for op, byOutcome := range counts {
		for outcome, count := range byOutcome {
			if _, err := stmt.Exec(date, string(op), string(outcome), count); err != nil {
				return fmt.Errorf("insert operation count: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetOperationCounts retrieves counts for a date range.
func (s *SQLiteStore) GetOperationCounts(from, to string) (map[Operation]map[Outcome]int64, error) {
	rows, err := s.db.Query(`
		SELECT operation, outcome, SUM(count)
		FROM operation_stats
		WHERE date >= ? AND date <= ?
		GROUP BY operation, outcome
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query operation counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Operation]map[Outcome]int64)
	for rows.Next() {
		var op, outcome string
		var count int64
		if err := rows.Scan(&op, &outcome, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if counts[Operation(op)] == nil {
			counts[Operation(op)] = make(map[Outcome]int64)
		}
		counts[Operation(op)][Outcome(outcome)] = count
	}
	return counts, rows.Err()
}

// SaveLatencyCounts upserts daily latency histogram counts.
func (s *SQLiteStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for bucket, count := range counts {
		if _, err := stmt.Exec(date, string(bucket), count); err != nil {
			return fmt.Errorf("insert latency count: %w", err)
		}
	}

	return tx.Commit()
}

// GetLatencyCounts retrieves latency distribution for a date range.
func (s *SQLiteStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count)
		FROM latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
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

// AddFailure records a failed operation, trimming to the most recent 100.
func (s *SQLiteStore) AddFailure(op Operation, id string, timestamp time.Time) error {
	if _, err := s.db.Exec(`
		INSERT INTO recent_failures (operation, object_id, timestamp)
		VALUES (?, ?, ?)
	`, string(op), id, timestamp); err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}

	_, err := s.db.Exec(`
		DELETE FROM recent_failures
		WHERE id NOT IN (SELECT id FROM recent_failures ORDER BY id DESC LIMIT 100)
	`)
	if err != nil {
		return fmt.Errorf("trim failures: %w", err)
	}
	return nil
}

// GetRecentFailures retrieves the most recent failures, newest first.
func (s *SQLiteStore) GetRecentFailures(limit int) ([]FailureRecord, error) {
	rows, err := s.db.Query(`
		SELECT operation, object_id, timestamp
		FROM recent_failures
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent failures: %w", err)
	}
	defer rows.Close()

	var failures []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var op string
		if err := rows.Scan(&op, &f.ID, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		f.Operation = Operation(op)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
