// Package metricflush drains monitor snapshots into the durable sqlite sink.
// At most one process instance flushes at a time: ownership is claimed
// through the store's service lock, and losing the race is a normal outcome.
// When the sink is unreachable past the retry budget, pending records are
// dumped to a timestamped JSON file so no snapshot is silently lost.
package metricflush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shoplingo/shoplingo/internal/monitor"
	"github.com/shoplingo/shoplingo/internal/store"
)

// lockService is the service_locks key guarding the metrics write path.
const lockService = "metrics-persistence"

// Options tune the flush cadence and failure handling.
type Options struct {
	Interval   time.Duration // tick period, default 1m
	MaxRetries int           // insert retries per flush beyond the first attempt
	RetryDelay time.Duration // pause between insert retries
	DumpDir    string        // local fallback directory for unflushable records
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
	if o.DumpDir == "" {
		o.DumpDir = "."
	}
	return o
}

// Flusher owns the periodic snapshot → insert loop. Build with New, claim
// the write role with Start, release it with Stop.
type Flusher struct {
	mon        *monitor.Monitor
	store      *store.Store
	log        zerolog.Logger
	opts       Options
	instanceID string

	mu      sync.Mutex
	pending []store.MetricRecord
	started bool
	stop    chan struct{}
	done    chan struct{}

	now   func() time.Time
	newID func() string
}

func New(mon *monitor.Monitor, st *store.Store, log zerolog.Logger, opts Options) *Flusher {
	return &Flusher{
		mon:        mon,
		store:      st,
		log:        log,
		opts:       opts.withDefaults(),
		instanceID: uuid.NewString(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// InstanceID identifies this flusher in the service lock table.
func (f *Flusher) InstanceID() string { return f.instanceID }

// Start claims the metrics write lock and launches the periodic loop. It
// returns false when another instance already holds the lock; the caller
// then runs without persistence and must not retry in a loop.
func (f *Flusher) Start(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return true, nil
	}

	err := f.store.AcquireLock(ctx, lockService, f.instanceID)
	if errors.Is(err, store.ErrLockHeld) {
		f.log.Info().Str("instance", f.instanceID).Msg("metrics lock held elsewhere, persistence disabled")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire metrics lock: %w", err)
	}

	f.started = true
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.loop()

	f.log.Info().Str("instance", f.instanceID).Dur("interval", f.opts.Interval).Msg("metrics flusher started")
	return true, nil
}

func (f *Flusher) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			if err := f.Flush(context.Background()); err != nil {
				f.log.Error().Err(err).Msg("periodic metrics flush failed")
			}
		}
	}
}

// Stop halts the loop, performs a final flush and releases the lock.
func (f *Flusher) Stop(ctx context.Context) {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	close(f.stop)
	f.mu.Unlock()

	<-f.done

	if err := f.flushPending(ctx, f.snapshot()); err != nil {
		f.log.Warn().Err(err).Msg("final metrics flush failed")
	}
	if err := f.store.ReleaseLock(ctx, lockService, f.instanceID); err != nil {
		f.log.Warn().Err(err).Msg("metrics lock release failed")
	}
}

// Flush snapshots the monitor and pushes everything pending to the sink.
// Records keep their IDs across retries, so a batch that half-landed before
// an error is safe to submit again.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return fmt.Errorf("flusher not started")
	}
	f.mu.Unlock()

	return f.flushPending(ctx, f.snapshot())
}

// Pending reports how many records await a successful flush or dump.
func (f *Flusher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// snapshot converts the monitor's current window stats into records and
// appends them to the pending batch, returning a copy of the whole batch.
func (f *Flusher) snapshot() []store.MetricRecord {
	capturedAt := f.now().UTC()

	var fresh []store.MetricRecord
	for _, metrics := range f.mon.AllMetrics() {
		for _, w := range metrics.Windows {
			if w.SampleSize == 0 {
				continue
			}
			counts, err := json.Marshal(w.StatusCounts)
			if err != nil {
				counts = []byte("{}")
			}
			fresh = append(fresh, store.MetricRecord{
				ID:            f.newID(),
				Operation:     metrics.Operation,
				WindowSpanMS:  w.Span.Milliseconds(),
				SampleSize:    w.SampleSize,
				FailureRate:   w.FailureRate,
				P95DurationMS: w.P95Duration.Milliseconds(),
				StatusCounts:  string(counts),
				CapturedAt:    capturedAt,
			})
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, fresh...)
	batch := make([]store.MetricRecord, len(f.pending))
	copy(batch, f.pending)
	return batch
}

// flushPending tries the batch insert, falling back to a local JSON dump
// after the retry budget. Pending records are only cleared once one of the
// two paths has durably accepted them.
func (f *Flusher) flushPending(ctx context.Context, batch []store.MetricRecord) error {
	if len(batch) == 0 {
		return nil
	}

	var insertErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(f.opts.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var inserted int64
		inserted, insertErr = f.store.InsertMetricRecords(ctx, batch)
		if insertErr == nil {
			f.clearPending(len(batch))
			f.log.Debug().Int64("inserted", inserted).Int("batch", len(batch)).Msg("metrics flushed")
			return nil
		}
	}

	path, dumpErr := f.dump(batch)
	if dumpErr != nil {
		return fmt.Errorf("flush failed (%v) and dump failed: %w", insertErr, dumpErr)
	}
	f.clearPending(len(batch))
	f.log.Warn().Err(insertErr).Str("dump", path).Msg("metrics sink unreachable, records dumped locally")
	return nil
}

func (f *Flusher) clearPending(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n >= len(f.pending) {
		f.pending = nil
		return
	}
	f.pending = f.pending[n:]
}

// dump writes the batch to a timestamped JSON file under DumpDir.
func (f *Flusher) dump(batch []store.MetricRecord) (string, error) {
	if err := os.MkdirAll(f.opts.DumpDir, 0o755); err != nil {
		return "", fmt.Errorf("create dump dir: %w", err)
	}

	name := fmt.Sprintf("metrics-%s-%s.json", f.now().UTC().Format("20060102T150405"), f.newID()[:8])
	path := filepath.Join(f.opts.DumpDir, name)

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write dump: %w", err)
	}
	return path, nil
}
