// Package journal records resolved gateway calls in SQLite for offline
// inspection. The journal is advisory observability: no resilience state
// (cache, circuit, rate) is persisted or restored from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/loran-ai/loran/pkg/models"
)

// Journal stores call records in a SQLite database.
type Journal struct {
	db *sql.DB
}

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS call_records (
	id TEXT PRIMARY KEY,
	operation TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL,
	cache_hit INTEGER NOT NULL,
	batched INTEGER NOT NULL,
	fallback INTEGER NOT NULL,
	success INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_records_op_time ON call_records(operation, created_at);
`

// New opens a Journal at dbPath and runs auto-migration.
func New(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record stores one call record.
func (j *Journal) Record(ctx context.Context, rec models.CallRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO call_records (id, operation, kind, attempts, cache_hit, batched, fallback, success, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Operation, rec.Kind, rec.Attempts,
		boolInt(rec.CacheHit), boolInt(rec.Batched), boolInt(rec.Fallback), boolInt(rec.Success),
		rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Recent returns the most recent call records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.CallRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, operation, kind, attempts, cache_hit, batched, fallback, success, latency_ms, created_at
		 FROM call_records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent calls: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var cacheHit, batched, fallback, success int
		if err := rows.Scan(&r.ID, &r.Operation, &r.Kind, &r.Attempts,
			&cacheHit, &batched, &fallback, &success, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		r.CacheHit = cacheHit != 0
		r.Batched = batched != 0
		r.Fallback = fallback != 0
		r.Success = success != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns per-operation aggregates across all recorded calls.
func (j *Journal) Summary(ctx context.Context) ([]models.OperationSummary, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT operation, COUNT(*), SUM(success), SUM(1 - success), SUM(cache_hit), AVG(latency_ms)
		 FROM call_records GROUP BY operation ORDER BY operation`)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.OperationSummary
	for rows.Next() {
		var s models.OperationSummary
		if err := rows.Scan(&s.Operation, &s.Calls, &s.Successes, &s.Failures, &s.CacheHits, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
