package metricflush_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoplingo/shoplingo/internal/metricflush"
	"github.com/shoplingo/shoplingo/internal/monitor"
	"github.com/shoplingo/shoplingo/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func recordedMonitor(samples int) *monitor.Monitor {
	mon := monitor.New(monitor.Options{})
	for i := 0; i < samples; i++ {
		mon.Record(monitor.Sample{
			Operation:  "translate",
			Success:    i%2 == 0,
			Duration:   time.Duration(100+i) * time.Millisecond,
			StatusCode: 200,
			Method:     "POST",
		})
	}
	return mon
}

func TestStart_SingleWriter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	opts := metricflush.Options{Interval: time.Hour, DumpDir: t.TempDir()}

	first := metricflush.New(recordedMonitor(0), st, zerolog.Nop(), opts)
	ok, err := first.Start(ctx)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if !ok {
		t.Fatal("first instance should win the lock")
	}

	second := metricflush.New(recordedMonitor(0), st, zerolog.Nop(), opts)
	ok, err = second.Start(ctx)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if ok {
		t.Fatal("second instance must lose the lock race")
	}

	first.Stop(ctx)

	// After release, the role is claimable again.
	ok, err = second.Start(ctx)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !ok {
		t.Fatal("lock should be claimable after release")
	}
	second.Stop(ctx)
}

func TestFlush_PersistsWindowSnapshots(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := metricflush.New(recordedMonitor(4), st, zerolog.Nop(), metricflush.Options{
		Interval: time.Hour,
		DumpDir:  t.TempDir(),
	})
	if ok, err := f.Start(ctx); err != nil || !ok {
		t.Fatalf("start: ok=%v err=%v", ok, err)
	}
	defer f.Stop(ctx)

	if err := f.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	count, err := st.CountMetricRecords(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	// One record per populated window (1m and 5m).
	if count != 2 {
		t.Errorf("expected 2 records, got %d", count)
	}
	if f.Pending() != 0 {
		t.Errorf("pending should drain after a successful flush, got %d", f.Pending())
	}
}

func TestFlush_DumpFallbackOnSinkFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dumpDir := t.TempDir()

	f := metricflush.New(recordedMonitor(3), st, zerolog.Nop(), metricflush.Options{
		Interval:   time.Hour,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		DumpDir:    dumpDir,
	})
	if ok, err := f.Start(ctx); err != nil || !ok {
		t.Fatalf("start: ok=%v err=%v", ok, err)
	}

	// Kill the sink out from under the flusher.
	st.Close()

	if err := f.Flush(ctx); err != nil {
		t.Fatalf("flush should degrade to a dump, got %v", err)
	}
	if f.Pending() != 0 {
		t.Errorf("pending should clear once the dump lands, got %d", f.Pending())
	}

	entries, err := os.ReadDir(dumpDir)
	if err != nil {
		t.Fatalf("read dump dir: %v", err)
	}
	var dumpFile string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "metrics-") && strings.HasSuffix(e.Name(), ".json") {
			dumpFile = filepath.Join(dumpDir, e.Name())
		}
	}
	if dumpFile == "" {
		t.Fatal("expected a timestamped dump file")
	}

	data, err := os.ReadFile(dumpFile)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	var records []store.MetricRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("dump is not valid JSON: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("dump should carry the pending records")
	}
	if records[0].Operation != "translate" {
		t.Errorf("unexpected record %+v", records[0])
	}

	f.Stop(ctx)
}

func TestFlush_RequiresStart(t *testing.T) {
	st := newTestStore(t)
	f := metricflush.New(recordedMonitor(1), st, zerolog.Nop(), metricflush.Options{DumpDir: t.TempDir()})

	if err := f.Flush(context.Background()); err == nil {
		t.Error("flush before start should be rejected")
	}
}

func TestFlush_RetrySafeDuplicateSkip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := metricflush.New(recordedMonitor(2), st, zerolog.Nop(), metricflush.Options{
		Interval: time.Hour,
		DumpDir:  t.TempDir(),
	})
	if ok, err := f.Start(ctx); err != nil || !ok {
		t.Fatalf("start: ok=%v err=%v", ok, err)
	}
	defer f.Stop(ctx)

	if err := f.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	before, _ := st.CountMetricRecords(ctx)

	// A second flush snapshots fresh records with fresh IDs; the earlier
	// rows are untouched and not duplicated.
	if err := f.Flush(ctx); err != nil {
		t.Fatalf("reflush: %v", err)
	}
	after, _ := st.CountMetricRecords(ctx)
	if after != before*2 {
		t.Errorf("expected %d records after second snapshot, got %d", before*2, after)
	}
}
