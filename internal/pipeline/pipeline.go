// Package pipeline is the strategy orchestrator: it selects how a text is
// translated (simple, enhanced or long-text), drives protection, chunking and
// the resilient client, and gates the outcome before it reaches the caller.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoplingo/shoplingo/internal/chunker"
	"github.com/shoplingo/shoplingo/internal/client"
	"github.com/shoplingo/shoplingo/internal/detector"
	"github.com/shoplingo/shoplingo/internal/protect"
	"github.com/shoplingo/shoplingo/internal/quality"
	"github.com/shoplingo/shoplingo/internal/store"
	"github.com/shoplingo/shoplingo/internal/translator"
)

// Strategy names. Selection is deterministic: the same input always maps to
// the same strategy.
const (
	StrategySimple   = "simple"
	StrategyEnhanced = "enhanced"
	StrategyLongText = "long_text"
)

// TranslationRequest is one caller-facing unit of work.
type TranslationRequest struct {
	Text         string
	SourceLang   string // empty means auto-detect
	TargetLang   string
	StrategyHint string // overrides automatic selection when set
}

// Meta carries execution details alongside the translated text.
type Meta struct {
	Strategy   string
	Service    string
	Fallback   string
	CacheHit   bool
	MemoryHit  bool
	RetryCount int
	Chunks     int
	Duration   time.Duration
}

// TranslationResult is the terminal outcome. IsOriginal marks degraded or
// short-circuited results whose Text is not a real translation.
type TranslationResult struct {
	Success    bool
	Text       string
	Error      string
	IsOriginal bool
	Meta       Meta
}

// Options tune strategy selection and long-text execution.
type Options struct {
	LongTextThreshold int
	ChunkSize         int
	ChunkParallelism  int
	Glossary          map[string]string
}

func (o Options) withDefaults() Options {
	if o.LongTextThreshold <= 0 {
		o.LongTextThreshold = 1000
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1500
	}
	if o.ChunkParallelism <= 0 {
		o.ChunkParallelism = 4
	}
	return o
}

// Pipeline wires the codec, chunker, client and quality gate together.
// The store is optional; a nil store disables the durable translation memory.
type Pipeline struct {
	client *client.Client
	codec  *protect.Codec
	gate   *quality.Gate
	store  *store.Store
	det    *detector.Detector
	log    zerolog.Logger
	opts   Options
}

func New(c *client.Client, codec *protect.Codec, gate *quality.Gate, st *store.Store, log zerolog.Logger, opts Options) *Pipeline {
	return &Pipeline{
		client: c,
		codec:  codec,
		gate:   gate,
		store:  st,
		det:    detector.Shared(),
		log:    log,
		opts:   opts.withDefaults(),
	}
}

// SelectStrategy maps a text to its strategy: markup plus length beyond the
// threshold selects long-text, markup alone selects enhanced, everything else
// simple. Pure function of its inputs.
func SelectStrategy(text string, longTextThreshold int) string {
	markup := chunker.IsLikelyMarkup(text)
	switch {
	case markup && len(text) > longTextThreshold:
		return StrategyLongText
	case markup:
		return StrategyEnhanced
	default:
		return StrategySimple
	}
}

// Translate runs one request through preflight, strategy execution and the
// quality gate. The returned error is non-nil only for malformed requests.
func (p *Pipeline) Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error) {
	if strings.TrimSpace(req.TargetLang) == "" {
		return TranslationResult{}, fmt.Errorf("target language is required")
	}

	start := time.Now()
	strategy := p.resolveStrategy(req)
	result := TranslationResult{Meta: Meta{Strategy: strategy}}

	finish := func(r TranslationResult) (TranslationResult, error) {
		r.Meta.Duration = time.Since(start)
		return r, nil
	}

	// Empty input translates to itself.
	if strings.TrimSpace(req.Text) == "" {
		result.Success = true
		result.Text = req.Text
		result.IsOriginal = true
		return finish(result)
	}

	// Brand-only texts never reach the network.
	if p.gate.IsBrandOnly(req.Text) {
		p.log.Debug().Str("target", req.TargetLang).Msg("brand-only text, returning source")
		result.Success = true
		result.Text = req.Text
		result.IsOriginal = true
		return finish(result)
	}

	source := p.resolveSource(req)

	if p.store != nil {
		if cached, found, err := p.store.GetCachedTranslation(ctx, req.Text, req.TargetLang); err != nil {
			p.log.Warn().Err(err).Msg("translation memory lookup failed")
		} else if found {
			result.Success = true
			result.Text = cached
			result.Meta.MemoryHit = true
			return finish(result)
		}
	}

	exec := p.execute(ctx, req, source, strategy, false)
	if exec.errMsg != "" {
		result.Error = exec.errMsg
		result.Meta = exec.mergeMeta(result.Meta)
		return finish(result)
	}

	// Degraded sentinel from upstream: substitute, succeed, mark original.
	if text, substituted := p.gate.ApplyFallback(req.Text, exec.raw); substituted {
		p.log.Warn().Str("target", req.TargetLang).Msg("protection-failed sentinel substituted")
		result.Success = true
		result.Text = text
		result.IsOriginal = true
		result.Meta = exec.mergeMeta(result.Meta)
		return finish(result)
	}

	verdict := p.gate.Evaluate(exec.sent, exec.raw, req.TargetLang, exec.wantTokens())
	if !verdict.Complete {
		p.log.Warn().Str("reason", verdict.Reason).Msg("incomplete translation, retrying with strict prompt")
		retry := p.execute(ctx, req, source, strategy, true)
		if retry.errMsg == "" {
			if rv := p.gate.Evaluate(retry.sent, retry.raw, req.TargetLang, retry.wantTokens()); rv.Complete {
				exec = retry
				verdict = rv
			}
		}
		// Still incomplete: accept as-is, the reason travels in the log only.
	}

	final := exec.raw
	if exec.pmap != nil {
		if missing := p.codec.Missing(exec.raw, exec.pmap); len(missing) > 0 {
			p.log.Warn().Ints("tokens", missing).Msg("placeholders lost in translation")
		}
		final = p.codec.Restore(exec.raw, exec.pmap)
	}

	result.Success = true
	result.Text = final
	result.Meta = exec.mergeMeta(result.Meta)

	if p.store != nil && verdict.Complete {
		if err := p.store.SaveToMemory(ctx, req.Text, req.TargetLang, final, strategy, exec.meta.Service); err != nil {
			p.log.Warn().Err(err).Msg("translation memory write failed")
		}
	}

	return finish(result)
}

func (p *Pipeline) resolveStrategy(req TranslationRequest) string {
	switch req.StrategyHint {
	case StrategySimple, StrategyEnhanced, StrategyLongText:
		return req.StrategyHint
	case "":
	default:
		p.log.Warn().Str("hint", req.StrategyHint).Msg("unknown strategy hint ignored")
	}
	return SelectStrategy(req.Text, p.opts.LongTextThreshold)
}

func (p *Pipeline) resolveSource(req TranslationRequest) string {
	if req.SourceLang != "" {
		return req.SourceLang
	}
	if iso, ok := p.det.DetectReliableISO(req.Text); ok {
		return iso
	}
	return "auto"
}

// execution is the raw outcome of one strategy pass, before gating and
// placeholder restore.
type execution struct {
	raw    string // endpoint output, placeholders still masked
	sent   string // text actually sent (protected form for enhanced/long)
	pmap   *protect.Map
	meta   Meta
	errMsg string
}

func (e execution) wantTokens() int {
	if e.pmap == nil {
		return 0
	}
	return e.pmap.Len()
}

func (e execution) mergeMeta(base Meta) Meta {
	base.Service = e.meta.Service
	base.Fallback = e.meta.Fallback
	base.CacheHit = e.meta.CacheHit
	base.RetryCount = e.meta.RetryCount
	base.Chunks = e.meta.Chunks
	return base
}

func (p *Pipeline) execute(ctx context.Context, req TranslationRequest, source, strategy string, strict bool) execution {
	switch strategy {
	case StrategyEnhanced:
		return p.executeSingle(ctx, req, source, strategy, strict, true)
	case StrategyLongText:
		return p.executeLongText(ctx, req, source, strict)
	default:
		return p.executeSingle(ctx, req, source, strategy, strict, false)
	}
}

func (p *Pipeline) prompt(source, target string, strict, enhanced bool) string {
	if strict {
		return translator.StrictPrompt(source, target)
	}
	if enhanced {
		return translator.EnhancedPrompt(source, target, p.opts.Glossary)
	}
	return translator.SimplePrompt(source, target)
}

func (p *Pipeline) executeSingle(ctx context.Context, req TranslationRequest, source, strategy string, strict, protected bool) execution {
	text := req.Text
	var pmap *protect.Map
	if protected {
		text, pmap = p.codec.Protect(req.Text)
	}

	res, err := p.client.Execute(ctx, client.Request{
		Text:         text,
		SourceLang:   source,
		TargetLang:   req.TargetLang,
		SystemPrompt: p.prompt(source, req.TargetLang, strict, protected),
		Strategy:     strategy,
	})
	if err != nil {
		return execution{errMsg: err.Error()}
	}

	exec := execution{
		sent: text,
		pmap: pmap,
		meta: Meta{
			Service:    res.Service,
			Fallback:   res.Fallback,
			CacheHit:   res.CacheHit,
			RetryCount: res.RetryCount,
		},
	}
	if !res.Success {
		exec.errMsg = res.Error
		return exec
	}
	exec.raw = res.Text
	return exec
}

// executeLongText protects, chunks, translates chunks with bounded
// parallelism and reassembles in segment order.
func (p *Pipeline) executeLongText(ctx context.Context, req TranslationRequest, source string, strict bool) execution {
	protected, pmap := p.codec.Protect(req.Text)
	segments := chunker.Chunk(protected, p.opts.ChunkSize)

	prompt := p.prompt(source, req.TargetLang, strict, true)

	results := make([]client.Result, len(segments))
	errs := make([]error, len(segments))
	sem := make(chan struct{}, p.opts.ChunkParallelism)
	var wg sync.WaitGroup

	for i, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			// Pure whitespace between blocks travels as-is.
			results[i] = client.Result{Success: true, Text: seg.Text}
			continue
		}
		wg.Add(1)
		go func(i int, seg chunker.Segment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i], errs[i] = p.client.Execute(ctx, client.Request{
				Text:         seg.Text,
				SourceLang:   source,
				TargetLang:   req.TargetLang,
				SystemPrompt: prompt,
				Strategy:     StrategyLongText,
			})
		}(i, seg)
	}
	wg.Wait()

	exec := execution{
		sent: protected,
		pmap: pmap,
		meta: Meta{CacheHit: len(segments) > 0, Chunks: len(segments)},
	}

	translated := make([]chunker.Segment, len(segments))
	for i, seg := range segments {
		if errs[i] != nil {
			exec.errMsg = errs[i].Error()
			exec.meta.CacheHit = false
			return exec
		}
		res := results[i]
		exec.meta.RetryCount += res.RetryCount
		if res.Service != "" {
			exec.meta.Service = res.Service
		}
		if res.Fallback != "" {
			exec.meta.Fallback = res.Fallback
		}
		if !res.CacheHit && strings.TrimSpace(seg.Text) != "" {
			exec.meta.CacheHit = false
		}
		if !res.Success {
			exec.errMsg = fmt.Sprintf("chunk %d/%d failed: %s", seg.Index+1, len(segments), res.Error)
			return exec
		}
		translated[i] = chunker.Segment{Index: seg.Index, Text: res.Text}
	}

	exec.raw = chunker.Join(translated)
	return exec
}
