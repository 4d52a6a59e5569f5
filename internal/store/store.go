// Package store is the durable sqlite layer: translation memory (a
// second-level cache that outlives the process), the api_metrics sink the
// flusher drains monitor snapshots into, and the service_locks table whose
// atomic insert-if-absent elects a single metrics writer cluster-wide.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

// ErrLockHeld is returned by AcquireLock when another instance owns the lock.
var ErrLockHeld = errors.New("service lock held by another instance")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translation_memory (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		strategy TEXT,
		service_used TEXT,
		usage_count INTEGER DEFAULT 1,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_text, target_lang)
	);

	-- api_metrics holds flushed monitor snapshots. The primary key is a
	-- record id assigned when the snapshot is taken, so re-inserting a
	-- pending batch after a failed flush skips duplicates.
	CREATE TABLE IF NOT EXISTS api_metrics (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		window_span_ms INTEGER NOT NULL,
		sample_size INTEGER NOT NULL,
		failure_rate REAL NOT NULL,
		p95_duration_ms INTEGER NOT NULL,
		status_counts TEXT,
		captured_at TIMESTAMP NOT NULL
	);

	-- service_locks: existence of a row implies ownership. Acquisition is
	-- a plain INSERT against the primary key, which sqlite makes atomic.
	CREATE TABLE IF NOT EXISTS service_locks (
		service TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		acquired_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_memory_lookup ON translation_memory(source_text, target_lang);
	CREATE INDEX IF NOT EXISTS idx_metrics_operation ON api_metrics(operation, captured_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- translation memory ---

// MemoryEntry is a row from the translation_memory table.
type MemoryEntry struct {
	ID             string
	SourceText     string
	TargetLang     string
	TranslatedText string
	Strategy       string
	ServiceUsed    string
	UsageCount     int
	LastUsed       time.Time
}

// MemoryStats summarises translation memory usage.
type MemoryStats struct {
	TotalEntries int
	TotalUsage   int
}

// GetCachedTranslation looks up a durable translation for (text, targetLang)
// and bumps its usage counters on a hit.
func (s *Store) GetCachedTranslation(ctx context.Context, sourceText, targetLang string) (string, bool, error) {
	var translated string

	err := s.db.QueryRowContext(ctx,
		`SELECT translated_text FROM translation_memory WHERE source_text = ? AND target_lang = ?`,
		normalizeText(sourceText), targetLang).Scan(&translated)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE translation_memory SET usage_count = usage_count + 1, last_used = ? WHERE source_text = ? AND target_lang = ?`,
		time.Now(), normalizeText(sourceText), targetLang)

	return translated, true, err
}

// SaveToMemory stores an accepted translation result.
func (s *Store) SaveToMemory(ctx context.Context, sourceText, targetLang, translatedText, strategy, serviceUsed string) error {
	id := fmt.Sprintf("mem_%d", time.Now().UnixNano())
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO translation_memory (id, source_text, target_lang, translated_text, strategy, service_used, usage_count, last_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		id, normalizeText(sourceText), targetLang, translatedText, strategy, serviceUsed, time.Now(), time.Now())
	return err
}

// ListMemory returns all translation memory entries ordered by most recently used.
func (s *Store) ListMemory(ctx context.Context) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_text, target_lang, translated_text, strategy, service_used, usage_count, last_used FROM translation_memory ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.SourceText, &e.TargetLang, &e.TranslatedText, &e.Strategy, &e.ServiceUsed, &e.UsageCount, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// ClearMemory removes all translation memory entries.
func (s *Store) ClearMemory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MemoryUsage returns summary statistics for the translation memory.
func (s *Store) MemoryUsage(ctx context.Context) (*MemoryStats, error) {
	stats := &MemoryStats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(usage_count), 0) FROM translation_memory`).
		Scan(&stats.TotalEntries, &stats.TotalUsage)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// --- metrics sink ---

// MetricRecord is one flushed window snapshot. IDs are assigned when the
// snapshot is taken and reused on retry, making batch inserts idempotent.
type MetricRecord struct {
	ID            string    `json:"id"`
	Operation     string    `json:"operation"`
	WindowSpanMS  int64     `json:"window_span_ms"`
	SampleSize    int       `json:"sample_size"`
	FailureRate   float64   `json:"failure_rate"`
	P95DurationMS int64     `json:"p95_duration_ms"`
	StatusCounts  string    `json:"status_counts"`
	CapturedAt    time.Time `json:"captured_at"`
}

// InsertMetricRecords writes a batch with duplicate-skip semantics and
// returns how many rows were actually inserted.
func (s *Store) InsertMetricRecords(ctx context.Context, records []MetricRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin metrics batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO api_metrics (id, operation, window_span_ms, sample_size, failure_rate, p95_duration_ms, status_counts, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare metrics insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range records {
		res, err := stmt.ExecContext(ctx, r.ID, r.Operation, r.WindowSpanMS, r.SampleSize, r.FailureRate, r.P95DurationMS, r.StatusCounts, r.CapturedAt)
		if err != nil {
			return inserted, fmt.Errorf("insert metric record %s: %w", r.ID, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit metrics batch: %w", err)
	}
	return inserted, nil
}

// CollectMetric inserts a single record outside the periodic flush path.
func (s *Store) CollectMetric(ctx context.Context, record MetricRecord) error {
	_, err := s.InsertMetricRecords(ctx, []MetricRecord{record})
	return err
}

// ListMetricRecords returns the most recently captured snapshots, newest
// first.
func (s *Store) ListMetricRecords(ctx context.Context, limit int) ([]MetricRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, window_span_ms, sample_size, failure_rate, p95_duration_ms, status_counts, captured_at
		 FROM api_metrics ORDER BY captured_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MetricRecord
	for rows.Next() {
		var r MetricRecord
		var counts sql.NullString
		if err := rows.Scan(&r.ID, &r.Operation, &r.WindowSpanMS, &r.SampleSize, &r.FailureRate, &r.P95DurationMS, &counts, &r.CapturedAt); err != nil {
			return nil, err
		}
		r.StatusCounts = counts.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountMetricRecords reports how many snapshot rows the sink holds.
func (s *Store) CountMetricRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_metrics`).Scan(&n)
	return n, err
}

// --- service locks ---

// ServiceLock is a row in service_locks; its existence implies ownership.
type ServiceLock struct {
	Service    string
	InstanceID string
	AcquiredAt time.Time
}

// AcquireLock atomically inserts the lock row for service. A primary-key
// conflict means another instance is authoritative and ErrLockHeld is
// returned; contention is a designed outcome, not a failure.
func (s *Store) AcquireLock(ctx context.Context, service, instanceID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_locks (service, instance_id, acquired_at) VALUES (?, ?, ?)`,
		service, instanceID, time.Now())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY constraint") {
			return ErrLockHeld
		}
		return fmt.Errorf("acquire lock %s: %w", service, err)
	}
	return nil
}

// ReleaseLock deletes the lock row, but only when owned by instanceID.
func (s *Store) ReleaseLock(ctx context.Context, service, instanceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM service_locks WHERE service = ? AND instance_id = ?`,
		service, instanceID)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", service, err)
	}
	return nil
}

// GetLock returns the current lock row for service, if any.
func (s *Store) GetLock(ctx context.Context, service string) (*ServiceLock, error) {
	var lock ServiceLock
	err := s.db.QueryRowContext(ctx,
		`SELECT service, instance_id, acquired_at FROM service_locks WHERE service = ?`,
		service).Scan(&lock.Service, &lock.InstanceID, &lock.AcquiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText trims whitespace and applies Unicode NFC normalization for
// consistent cache key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
