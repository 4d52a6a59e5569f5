// Package monitor records per-operation call outcomes into rolling in-memory
// windows and evaluates alert thresholds over them. Recording is synchronous,
// allocation-light and never performs I/O; durable persistence is the
// metricflush package's job.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// Severity of an evaluated alert.
type Severity string

const (
	SeverityNone  Severity = "none"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Window spans evaluated by Metrics. Samples older than the largest span are
// discarded.
var windowSpans = []time.Duration{time.Minute, 5 * time.Minute}

// Sample is one recorded call outcome. Append-only and immutable.
type Sample struct {
	Operation  string        `json:"operation"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	StatusCode int           `json:"status_code"`
	Method     string        `json:"method"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Totals are process-lifetime counters per operation; they survive window
// pruning.
type Totals struct {
	Count       int           `json:"count"`
	Failures    int           `json:"failures"`
	FailureRate float64       `json:"failure_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// WindowStats are recomputed per read over one sliding span.
type WindowStats struct {
	Span         time.Duration `json:"span"`
	SampleSize   int           `json:"sample_size"`
	StatusCounts map[int]int   `json:"status_counts"`
	P95Duration  time.Duration `json:"p95_duration"`
	FailureRate  float64       `json:"failure_rate"`
}

// Metrics is the read model for one operation.
type Metrics struct {
	Operation string        `json:"operation"`
	Totals    Totals        `json:"totals"`
	Windows   []WindowStats `json:"windows"`
}

// AlertState is the evaluated alert level for one operation.
type AlertState struct {
	Operation string   `json:"operation"`
	Failure   Severity `json:"failure"`
	Latency   Severity `json:"latency"`
}

// Options configure threshold evaluation.
type Options struct {
	Operations    []string
	MinSample     int
	FailureWarn   float64
	FailureError  float64
	P95WarnRatio  float64
	P95ErrorRatio float64
	P95Baseline   time.Duration
	MaxSamples    int // ring capacity per operation
}

func (o Options) withDefaults() Options {
	if o.MinSample <= 0 {
		o.MinSample = 5
	}
	if o.FailureWarn <= 0 {
		o.FailureWarn = 0.1
	}
	if o.FailureError <= 0 {
		o.FailureError = 0.2
	}
	if o.P95WarnRatio <= 0 {
		o.P95WarnRatio = 1.5
	}
	if o.P95ErrorRatio <= 0 {
		o.P95ErrorRatio = 3.0
	}
	if o.P95Baseline <= 0 {
		o.P95Baseline = 2 * time.Second
	}
	if o.MaxSamples <= 0 {
		o.MaxSamples = 1024
	}
	return o
}

type ring struct {
	buf   []Sample
	head  int
	count int
}

func (r *ring) push(s Sample) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = s
		r.count++
		return
	}
	// Full: overwrite the oldest.
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

// dropOlderThan discards samples before cutoff. Samples are pushed in
// timestamp order, so dropping from the head suffices.
func (r *ring) dropOlderThan(cutoff time.Time) {
	for r.count > 0 && r.buf[r.head].Timestamp.Before(cutoff) {
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
}

func (r *ring) snapshot() []Sample {
	out := make([]Sample, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

type opTotals struct {
	count    int
	failures int
	sum      time.Duration
}

// Monitor holds per-operation rings and totals. Safe for concurrent use.
type Monitor struct {
	mu     sync.RWMutex
	opts   Options
	rings  map[string]*ring
	totals map[string]*opTotals
	now    func() time.Time
}

// New builds a monitor with the given options.
func New(opts Options) *Monitor {
	m := &Monitor{now: time.Now}
	m.Configure(opts)
	return m
}

// Configure replaces the monitor's options. Recorded samples are kept.
func (m *Monitor) Configure(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts.withDefaults()
	if m.rings == nil {
		m.rings = make(map[string]*ring)
		m.totals = make(map[string]*opTotals)
	}
	for _, op := range m.opts.Operations {
		if _, ok := m.rings[op]; !ok {
			m.rings[op] = &ring{buf: make([]Sample, m.opts.MaxSamples)}
			m.totals[op] = &opTotals{}
		}
	}
}

// Reset discards all recorded state. Intended for test isolation.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rings = make(map[string]*ring)
	m.totals = make(map[string]*opTotals)
	for _, op := range m.opts.Operations {
		m.rings[op] = &ring{buf: make([]Sample, m.opts.MaxSamples)}
		m.totals[op] = &opTotals{}
	}
}

// Record appends one sample to the operation's ring. Unknown operations are
// tracked on first use. Never blocks on I/O.
func (m *Monitor) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rings[s.Operation]
	if !ok {
		r = &ring{buf: make([]Sample, m.opts.MaxSamples)}
		m.rings[s.Operation] = r
		m.totals[s.Operation] = &opTotals{}
	}
	r.dropOlderThan(m.now().Add(-windowSpans[len(windowSpans)-1]))
	r.push(s)

	t := m.totals[s.Operation]
	t.count++
	t.sum += s.Duration
	if !s.Success {
		t.failures++
	}
}

// MetricsFor recomputes totals and window stats for one operation.
func (m *Monitor) MetricsFor(operation string) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metricsLocked(operation)
}

// AllMetrics returns metrics for every tracked operation, sorted by name.
func (m *Monitor) AllMetrics() []Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]string, 0, len(m.rings))
	for op := range m.rings {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	out := make([]Metrics, 0, len(ops))
	for _, op := range ops {
		out = append(out, m.metricsLocked(op))
	}
	return out
}

func (m *Monitor) metricsLocked(operation string) Metrics {
	metrics := Metrics{Operation: operation}

	if t, ok := m.totals[operation]; ok && t.count > 0 {
		metrics.Totals = Totals{
			Count:       t.count,
			Failures:    t.failures,
			FailureRate: float64(t.failures) / float64(t.count),
			AvgDuration: t.sum / time.Duration(t.count),
		}
	}

	r, ok := m.rings[operation]
	if !ok {
		return metrics
	}
	samples := r.snapshot()
	now := m.now()

	for _, span := range windowSpans {
		cutoff := now.Add(-span)
		stats := WindowStats{Span: span, StatusCounts: make(map[int]int)}
		var durations []time.Duration
		failures := 0
		for _, s := range samples {
			if s.Timestamp.Before(cutoff) {
				continue
			}
			stats.SampleSize++
			stats.StatusCounts[s.StatusCode]++
			durations = append(durations, s.Duration)
			if !s.Success {
				failures++
			}
		}
		if stats.SampleSize > 0 {
			stats.P95Duration = percentile(durations, 0.95)
			stats.FailureRate = float64(failures) / float64(stats.SampleSize)
		}
		metrics.Windows = append(metrics.Windows, stats)
	}

	return metrics
}

// AlertStates evaluates failure-rate and latency thresholds for every
// operation with enough samples. When both thresholds fire, the higher
// severity wins per dimension.
func (m *Monitor) AlertStates() []AlertState {
	all := m.AllMetrics()

	m.mu.RLock()
	opts := m.opts
	m.mu.RUnlock()

	var states []AlertState
	for _, metrics := range all {
		if metrics.Totals.Count < opts.MinSample {
			continue
		}
		state := AlertState{Operation: metrics.Operation, Failure: SeverityNone, Latency: SeverityNone}

		switch {
		case metrics.Totals.FailureRate >= opts.FailureError:
			state.Failure = SeverityError
		case metrics.Totals.FailureRate >= opts.FailureWarn:
			state.Failure = SeverityWarn
		}

		// Latency is judged over the largest window's p95 against baseline.
		largest := metrics.Windows[len(metrics.Windows)-1]
		if largest.SampleSize > 0 && opts.P95Baseline > 0 {
			ratio := float64(largest.P95Duration) / float64(opts.P95Baseline)
			switch {
			case ratio >= opts.P95ErrorRatio:
				state.Latency = SeverityError
			case ratio >= opts.P95WarnRatio:
				state.Latency = SeverityWarn
			}
		}

		states = append(states, state)
	}
	return states
}

// percentile returns the p-th percentile (0 < p ≤ 1) using the
// nearest-rank method.
func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(float64(len(sorted))*p + 0.9999999)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
