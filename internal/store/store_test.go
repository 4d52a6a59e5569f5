package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemory_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToMemory(ctx, "Hello world", "fr", "Bonjour le monde", "simple", "llm"); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := s.GetCachedTranslation(ctx, "Hello world", "fr")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected a hit")
	}
	if got != "Bonjour le monde" {
		t.Errorf("expected translation, got %q", got)
	}

	// Different target language is a miss.
	if _, found, _ := s.GetCachedTranslation(ctx, "Hello world", "de"); found {
		t.Error("unexpected hit for different target language")
	}
}

func TestMemory_NormalizedLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToMemory(ctx, "  Hello  ", "fr", "Bonjour", "simple", "llm"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, found, _ := s.GetCachedTranslation(ctx, "Hello", "fr"); !found {
		t.Error("lookup should be whitespace-insensitive")
	}
}

func TestMemory_UsageCountAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.SaveToMemory(ctx, "a", "fr", "à", "simple", "llm")
	_, _, _ = s.GetCachedTranslation(ctx, "a", "fr")
	_, _, _ = s.GetCachedTranslation(ctx, "a", "fr")

	stats, err := s.MemoryUsage(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalEntries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.TotalEntries)
	}
	if stats.TotalUsage != 3 {
		t.Errorf("expected usage 3 (1 insert + 2 hits), got %d", stats.TotalUsage)
	}

	removed, err := s.ClearMemory(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
}

func TestInsertMetricRecords_DuplicateSkip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []MetricRecord{
		{ID: "r1", Operation: "translate", WindowSpanMS: 60000, SampleSize: 10, FailureRate: 0.1, P95DurationMS: 480, CapturedAt: time.Now()},
		{ID: "r2", Operation: "translate", WindowSpanMS: 300000, SampleSize: 40, FailureRate: 0.05, P95DurationMS: 510, CapturedAt: time.Now()},
	}

	inserted, err := s.InsertMetricRecords(ctx, batch)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", inserted)
	}

	// Retrying the same batch must be a no-op.
	inserted, err = s.InsertMetricRecords(ctx, batch)
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if inserted != 0 {
		t.Errorf("expected 0 inserted on retry, got %d", inserted)
	}

	count, err := s.CountMetricRecords(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AcquireLock(ctx, "metrics-persistence", "instance-a"); err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}

	err := s.AcquireLock(ctx, "metrics-persistence", "instance-b")
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	lock, err := s.GetLock(ctx, "metrics-persistence")
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if lock == nil || lock.InstanceID != "instance-a" {
		t.Errorf("lock should belong to instance-a, got %+v", lock)
	}
}

func TestReleaseLock_OnlyOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.AcquireLock(ctx, "metrics-persistence", "instance-a")

	// A non-owner release is a no-op.
	if err := s.ReleaseLock(ctx, "metrics-persistence", "instance-b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if lock, _ := s.GetLock(ctx, "metrics-persistence"); lock == nil {
		t.Fatal("lock should still be held")
	}

	if err := s.ReleaseLock(ctx, "metrics-persistence", "instance-a"); err != nil {
		t.Fatalf("release by owner: %v", err)
	}
	if lock, _ := s.GetLock(ctx, "metrics-persistence"); lock != nil {
		t.Errorf("lock should be gone, got %+v", lock)
	}

	// Re-acquisition after release succeeds.
	if err := s.AcquireLock(ctx, "metrics-persistence", "instance-b"); err != nil {
		t.Errorf("reacquire: %v", err)
	}
}
