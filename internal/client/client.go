// Package client owns every outbound call to the translation endpoint. It
// layers a TTL response cache, in-flight request deduplication, bounded
// retry with backoff, and an ordered fallback walk over a single
// translator.TranslationService, and mirrors every attempt into the API
// monitor. Ordinary remote failures never surface as errors; they are
// mapped into a failed Result.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoplingo/shoplingo/internal/monitor"
	"github.com/shoplingo/shoplingo/internal/translator"
)

// Options tune the resilience behavior of one Client.
type Options struct {
	MaxRetries            int
	RetryDelay            time.Duration
	MaxRetryDelay         time.Duration
	UseExponentialBackoff bool
	CacheTTL              time.Duration
	MaxEntries            int
	MaxInFlight           int
	AttemptTimeout        time.Duration
	Operation             string // monitor operation name
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 10 * time.Second
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 30 * time.Minute
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 1000
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 64
	}
	if o.Operation == "" {
		o.Operation = "translate"
	}
	return o
}

// Request is one unit of outbound work, already shaped by the orchestrator
// (protection and chunking happen upstream).
type Request struct {
	Text         string
	SourceLang   string
	TargetLang   string
	SystemPrompt string
	Strategy     string
}

// Result is the terminal outcome of Execute. Remote failures populate Error
// and leave Success false; they are not returned as Go errors.
type Result struct {
	Success    bool
	Text       string
	Error      string
	Service    string
	Fallback   string // name of the fallback that produced the result
	CacheHit   bool
	RetryCount int
	Duration   time.Duration
}

// Fallback produces a modified request shape tried after the primary path
// exhausts its retries. Implementations embed NopFallback for defaults.
type Fallback interface {
	Name() string
	Prepare(ctx context.Context, req translator.TranslateRequest) translator.TranslateRequest
	Service() translator.TranslationService // nil means the primary service
}

// NopFallback is the explicit no-op base: request unchanged, primary service.
type NopFallback struct{}

func (NopFallback) Prepare(_ context.Context, req translator.TranslateRequest) translator.TranslateRequest {
	return req
}

func (NopFallback) Service() translator.TranslationService { return nil }

// SimplifiedPromptFallback retries the primary service with the minimal
// prompt, shedding terminology and context that long system prompts carry.
type SimplifiedPromptFallback struct{ NopFallback }

func (SimplifiedPromptFallback) Name() string { return "simplified-prompt" }

func (SimplifiedPromptFallback) Prepare(_ context.Context, req translator.TranslateRequest) translator.TranslateRequest {
	req.SystemPrompt = translator.SimplePrompt(req.SourceLang, req.TargetLang)
	return req
}

// ServiceFallback reroutes the request to an alternate service, e.g. machine
// translation when the LLM endpoint is down.
type ServiceFallback struct {
	NopFallback
	name string
	svc  translator.TranslationService
}

func NewServiceFallback(name string, svc translator.TranslationService) *ServiceFallback {
	return &ServiceFallback{name: name, svc: svc}
}

func (f *ServiceFallback) Name() string                           { return f.name }
func (f *ServiceFallback) Service() translator.TranslationService { return f.svc }

// Client is the single point of contact with the remote endpoint.
type Client struct {
	service   translator.TranslationService
	fallbacks []Fallback
	cache     *responseCache
	inflight  *inflightTable
	mon       *monitor.Monitor
	log       zerolog.Logger
	opts      Options
}

func New(service translator.TranslationService, fallbacks []Fallback, mon *monitor.Monitor, log zerolog.Logger, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		service:   service,
		fallbacks: fallbacks,
		cache:     newResponseCache(opts.CacheTTL, opts.MaxEntries),
		inflight:  newInflightTable(opts.MaxInFlight),
		mon:       mon,
		log:       log,
		opts:      opts,
	}
}

// Execute runs one request through cache, dedup, retry and fallback. The
// returned error is non-nil only for malformed requests; every remote
// outcome, success or failure, arrives as a Result.
func (c *Client) Execute(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.TargetLang) == "" {
		return Result{}, fmt.Errorf("target language is required")
	}

	start := time.Now()
	key := Fingerprint(req.Text, req.TargetLang, req.SystemPrompt, req.Strategy)

	if cached, ok := c.cache.get(key); ok {
		cached.CacheHit = true
		cached.Duration = time.Since(start)
		return cached, nil
	}

	handle, joined, ok := c.inflight.join(key)
	if !ok {
		// Dedup table at capacity; execute without joining.
		c.log.Warn().Str("fingerprint", key[:12]).Msg("in-flight table full, bypassing dedup")
		result := c.run(ctx, req)
		if result.Success {
			c.cache.set(key, result)
		}
		return result, nil
	}

	if joined {
		select {
		case <-handle.done:
			result := handle.result
			result.Duration = time.Since(start)
			return result, nil
		case <-ctx.Done():
			c.inflight.leave(handle)
			return Result{
				Success:  false,
				Error:    fmt.Sprintf("request cancelled: %v", ctx.Err()),
				Duration: time.Since(start),
			}, nil
		}
	}

	result := c.run(ctx, req)
	if result.Success {
		c.cache.set(key, result)
	}
	c.inflight.settle(key, handle, result)
	return result, nil
}

// SweepCache evicts expired cache entries and returns how many were dropped.
// Lazy eviction on read covers hot keys; this covers the rest.
func (c *Client) SweepCache() int {
	return c.cache.sweep()
}

// CacheLen reports the live cache entry count.
func (c *Client) CacheLen() int { return c.cache.len() }

// InFlight reports the number of distinct requests currently executing.
func (c *Client) InFlight() int { return c.inflight.len() }

// run executes the primary attempt sequence and then the fallback walk.
func (c *Client) run(ctx context.Context, req Request) Result {
	start := time.Now()
	treq := translator.TranslateRequest{
		Text:         req.Text,
		SourceLang:   req.SourceLang,
		TargetLang:   req.TargetLang,
		SystemPrompt: req.SystemPrompt,
	}

	retries := 0
	lastErr := "no attempts made"
	delay := c.opts.RetryDelay

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++
			if !sleepContext(ctx, delay) {
				lastErr = fmt.Sprintf("cancelled during retry delay: %v", ctx.Err())
				break
			}
			if c.opts.UseExponentialBackoff {
				delay *= 2
				if delay > c.opts.MaxRetryDelay {
					delay = c.opts.MaxRetryDelay
				}
			}
		}

		text, service, errMsg := c.attempt(ctx, c.service, treq, "primary", attempt)
		if errMsg == "" {
			return Result{
				Success:    true,
				Text:       text,
				Service:    service,
				RetryCount: retries,
				Duration:   time.Since(start),
			}
		}
		lastErr = errMsg
		if ctx.Err() != nil {
			break
		}
	}

	for _, fb := range c.fallbacks {
		if ctx.Err() != nil {
			break
		}
		svc := fb.Service()
		if svc == nil {
			svc = c.service
		}
		retries++
		text, service, errMsg := c.attempt(ctx, svc, fb.Prepare(ctx, treq), fb.Name(), retries)
		if errMsg == "" {
			c.log.Info().Str("fallback", fb.Name()).Msg("fallback succeeded")
			return Result{
				Success:    true,
				Text:       text,
				Service:    service,
				Fallback:   fb.Name(),
				RetryCount: retries,
				Duration:   time.Since(start),
			}
		}
		lastErr = errMsg
	}

	return Result{
		Success:    false,
		Error:      lastErr,
		RetryCount: retries,
		Duration:   time.Since(start),
	}
}

// attempt performs a single bounded call and records one monitor sample,
// whatever the outcome.
func (c *Client) attempt(ctx context.Context, svc translator.TranslationService, treq translator.TranslateRequest, label string, attempt int) (text, service, errMsg string) {
	actx := ctx
	if c.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.opts.AttemptTimeout)
		defer cancel()
	}

	started := time.Now()
	sres, err := svc.Translate(actx, treq)
	duration := time.Since(started)

	status := 0
	if sres != nil {
		status = sres.StatusCode
	}
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded)
	if timedOut {
		status = http.StatusRequestTimeout
	}

	success := err == nil && sres != nil && strings.TrimSpace(sres.TranslatedText) != ""
	c.mon.Record(monitor.Sample{
		Operation:  c.opts.Operation,
		Success:    success,
		Duration:   duration,
		StatusCode: status,
		Method:     http.MethodPost,
		Timestamp:  started,
	})

	event := c.log.Debug().
		Str("path", label).
		Int("attempt", attempt).
		Str("service", svc.Name()).
		Dur("duration", duration).
		Int("status", status)

	switch {
	case success:
		event.Msg("attempt succeeded")
		return sres.TranslatedText, sres.ServiceName, ""
	case err != nil:
		event.Str("error", err.Error()).Msg("attempt failed")
		if timedOut {
			return "", "", fmt.Sprintf("attempt timed out after %s", duration.Round(time.Millisecond))
		}
		return "", "", err.Error()
	case sres != nil && sres.Error != "":
		event.Str("error", sres.Error).Msg("attempt failed")
		return "", "", sres.Error
	default:
		event.Msg("attempt returned empty translation")
		return "", "", "empty translation returned"
	}
}

// sleepContext waits for d or until ctx is cancelled; it reports whether the
// full delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
