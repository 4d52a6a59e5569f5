package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoplingo/shoplingo/internal/client"
	"github.com/shoplingo/shoplingo/internal/monitor"
	"github.com/shoplingo/shoplingo/internal/pipeline"
	"github.com/shoplingo/shoplingo/internal/protect"
	"github.com/shoplingo/shoplingo/internal/quality"
	"github.com/shoplingo/shoplingo/internal/store"
	"github.com/shoplingo/shoplingo/internal/translator"
)

// scriptedService records every request and answers via the translate func.
type scriptedService struct {
	mu        sync.Mutex
	requests  []translator.TranslateRequest
	translate func(call int, req translator.TranslateRequest) (*translator.ServiceResult, error)
}

func (s *scriptedService) Name() string { return "scripted" }

func (s *scriptedService) Translate(_ context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
	s.mu.Lock()
	call := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.translate(call, req)
}

func (s *scriptedService) IsAvailable(_ context.Context) error { return nil }

func (s *scriptedService) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedService) request(i int) translator.TranslateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

type pipelineConfig struct {
	brandWords   []string
	fallbackText string
	store        *store.Store
	opts         pipeline.Options
}

func newTestPipeline(svc translator.TranslationService, cfg pipelineConfig) *pipeline.Pipeline {
	c := client.New(svc, nil, monitor.New(monitor.Options{}), zerolog.Nop(), client.Options{
		RetryDelay: time.Millisecond,
	})
	return pipeline.New(c, protect.NewCodec(nil), quality.New(cfg.brandWords, cfg.fallbackText), cfg.store, zerolog.Nop(), cfg.opts)
}

func echoTranslation(translated string) func(int, translator.TranslateRequest) (*translator.ServiceResult, error) {
	return func(_ int, _ translator.TranslateRequest) (*translator.ServiceResult, error) {
		return &translator.ServiceResult{ServiceName: "scripted", TranslatedText: translated, StatusCode: 200}, nil
	}
}

func TestSelectStrategy(t *testing.T) {
	const threshold = 100
	longMarkup := "<p>" + strings.Repeat("word ", 30) + "</p>"
	longPlain := strings.Repeat("word ", 30)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain short", "Color options", pipeline.StrategySimple},
		{"markup short", "<b>Hello</b>", pipeline.StrategyEnhanced},
		{"markup long", longMarkup, pipeline.StrategyLongText},
		{"plain long", longPlain, pipeline.StrategySimple},
		{"empty", "", pipeline.StrategySimple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pipeline.SelectStrategy(tt.text, threshold); got != tt.want {
				t.Errorf("SelectStrategy(%q) = %q, want %q", tt.text, got, tt.want)
			}
			// Determinism: repeated selection agrees.
			if again := pipeline.SelectStrategy(tt.text, threshold); again != tt.want {
				t.Errorf("selection not deterministic: %q then %q", tt.want, again)
			}
		})
	}
}

func TestTranslate_EmptyText(t *testing.T) {
	svc := &scriptedService{translate: func(_ int, _ translator.TranslateRequest) (*translator.ServiceResult, error) {
		t.Fatal("empty text must not reach the service")
		return nil, nil
	}}
	p := newTestPipeline(svc, pipelineConfig{})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{Text: "   ", TargetLang: "fr"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !res.Success || !res.IsOriginal {
		t.Errorf("empty text should be an original success, got %+v", res)
	}
	if res.Text != "   " {
		t.Errorf("empty text should round-trip unchanged, got %q", res.Text)
	}
}

func TestTranslate_BrandOnlySkipsNetwork(t *testing.T) {
	svc := &scriptedService{translate: func(_ int, _ translator.TranslateRequest) (*translator.ServiceResult, error) {
		t.Fatal("brand-only text must not reach the service")
		return nil, nil
	}}
	p := newTestPipeline(svc, pipelineConfig{brandWords: []string{"ShopLingo"}})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{Text: "shoplingo", TargetLang: "fr"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !res.Success || !res.IsOriginal || res.Text != "shoplingo" {
		t.Errorf("brand-only text should come back untouched, got %+v", res)
	}
}

func TestTranslate_SimpleStrategy(t *testing.T) {
	svc := &scriptedService{translate: echoTranslation("Options de couleur")}
	p := newTestPipeline(svc, pipelineConfig{})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{
		Text: "Color options", SourceLang: "en", TargetLang: "fr",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !res.Success || res.Text != "Options de couleur" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Meta.Strategy != pipeline.StrategySimple {
		t.Errorf("expected simple strategy, got %q", res.Meta.Strategy)
	}
	if res.IsOriginal {
		t.Error("a real translation must not be marked original")
	}
	if got := svc.request(0).SystemPrompt; strings.Contains(got, protect.InstructionHint()) {
		t.Error("simple strategy should use the minimal prompt")
	}
}

func TestTranslate_EnhancedRoundTrip(t *testing.T) {
	svc := &scriptedService{translate: func(_ int, req translator.TranslateRequest) (*translator.ServiceResult, error) {
		// A well-behaved endpoint: translates the words, keeps the tokens.
		out := strings.Replace(req.Text, "Hello", "Bonjour", 1)
		return &translator.ServiceResult{ServiceName: "scripted", TranslatedText: out, StatusCode: 200}, nil
	}}
	p := newTestPipeline(svc, pipelineConfig{})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{
		Text: "<b>Hello</b>", SourceLang: "en", TargetLang: "fr",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Meta.Strategy != pipeline.StrategyEnhanced {
		t.Errorf("expected enhanced strategy, got %q", res.Meta.Strategy)
	}
	if res.Text != "<b>Bonjour</b>" {
		t.Errorf("tags should be restored around the translation, got %q", res.Text)
	}

	sent := svc.request(0)
	if strings.Contains(sent.Text, "<b>") {
		t.Errorf("raw tags must never reach the endpoint, sent %q", sent.Text)
	}
	if !strings.Contains(sent.SystemPrompt, protect.InstructionHint()) {
		t.Error("enhanced prompt should carry the placeholder instruction")
	}
}

func TestTranslate_LongTextChunks(t *testing.T) {
	svc := &scriptedService{translate: func(_ int, req translator.TranslateRequest) (*translator.ServiceResult, error) {
		return &translator.ServiceResult{ServiceName: "scripted", TranslatedText: "TX " + req.Text, StatusCode: 200}, nil
	}}
	p := newTestPipeline(svc, pipelineConfig{opts: pipeline.Options{
		LongTextThreshold: 50,
		ChunkSize:         80,
		ChunkParallelism:  2,
	}})

	var sb strings.Builder
	for i := 0; i < 6; i++ {
		sb.WriteString("<p>Paragraph about product details and shipping terms.</p>\n")
	}
	text := sb.String()

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{
		Text: text, SourceLang: "en", TargetLang: "en",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Meta.Strategy != pipeline.StrategyLongText {
		t.Errorf("expected long-text strategy, got %q", res.Meta.Strategy)
	}
	if res.Meta.Chunks < 2 {
		t.Errorf("expected multiple chunks, got %d", res.Meta.Chunks)
	}
	if svc.calls() < 2 {
		t.Errorf("expected one call per chunk, got %d", svc.calls())
	}
	if !strings.Contains(res.Text, "<p>") || !strings.Contains(res.Text, "</p>") {
		t.Errorf("tags should be restored in reassembled output: %q", res.Text)
	}
	if !strings.Contains(res.Text, "TX ") {
		t.Errorf("chunk translations missing from output: %q", res.Text)
	}
}

func TestTranslate_IncompleteRetriesStrict(t *testing.T) {
	svc := &scriptedService{translate: func(call int, req translator.TranslateRequest) (*translator.ServiceResult, error) {
		if call == 0 {
			// Drop the closing token: incomplete.
			out := strings.Replace(req.Text, "Hello world", "Greetings wonderful world", 1)
			out = strings.TrimSuffix(out, protect.Token(1))
			return &translator.ServiceResult{ServiceName: "scripted", TranslatedText: out, StatusCode: 200}, nil
		}
		out := strings.Replace(req.Text, "Hello world", "Greetings wonderful world", 1)
		return &translator.ServiceResult{ServiceName: "scripted", TranslatedText: out, StatusCode: 200}, nil
	}}
	p := newTestPipeline(svc, pipelineConfig{})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{
		Text: "<b>Hello world</b>", SourceLang: "en", TargetLang: "en",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if svc.calls() != 2 {
		t.Fatalf("expected the strict retry, got %d calls", svc.calls())
	}
	if !strings.Contains(svc.request(1).SystemPrompt, "ENTIRE") {
		t.Error("retry should use the strict prompt")
	}
	if res.Text != "<b>Greetings wonderful world</b>" {
		t.Errorf("retry result should win, got %q", res.Text)
	}
}

func TestTranslate_SentinelSubstitution(t *testing.T) {
	svc := &scriptedService{translate: echoTranslation(quality.ProtectionFailedSentinel)}
	p := newTestPipeline(svc, pipelineConfig{fallbackText: "Description unavailable"})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{
		Text: "Some product description", SourceLang: "en", TargetLang: "fr",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !res.Success || !res.IsOriginal {
		t.Fatalf("sentinel should degrade to an original success, got %+v", res)
	}
	if res.Text != "Description unavailable" {
		t.Errorf("expected fallback text, got %q", res.Text)
	}
}

func TestTranslate_SentinelWithoutFallbackText(t *testing.T) {
	svc := &scriptedService{translate: echoTranslation(quality.ProtectionFailedSentinel)}
	p := newTestPipeline(svc, pipelineConfig{})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{
		Text: "Some product description", SourceLang: "en", TargetLang: "fr",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !res.Success || !res.IsOriginal {
		t.Fatalf("sentinel should degrade to an original success, got %+v", res)
	}
	if res.Text != "Some product description" {
		t.Errorf("expected the source text back, got %q", res.Text)
	}
}

func TestTranslate_MemoryHit(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	svc := &scriptedService{translate: echoTranslation("Greetings wonderful world of testing")}
	p := newTestPipeline(svc, pipelineConfig{store: st})

	req := pipeline.TranslationRequest{
		Text: "Hello world, nice to meet you", SourceLang: "en", TargetLang: "en",
	}

	first, err := p.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !first.Success || first.Meta.MemoryHit {
		t.Fatalf("first pass should be a fresh translation, got %+v", first)
	}

	// A fresh pipeline shares no in-memory cache, only the durable store.
	svc2 := &scriptedService{translate: func(_ int, _ translator.TranslateRequest) (*translator.ServiceResult, error) {
		t.Fatal("memory hit must not reach the service")
		return nil, nil
	}}
	p2 := newTestPipeline(svc2, pipelineConfig{store: st})

	second, err := p2.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !second.Success || !second.Meta.MemoryHit {
		t.Fatalf("second pass should hit the translation memory, got %+v", second)
	}
	if second.Text != first.Text {
		t.Errorf("memory should return the stored translation, got %q", second.Text)
	}
}

func TestTranslate_RemoteFailure(t *testing.T) {
	svc := &scriptedService{translate: func(_ int, _ translator.TranslateRequest) (*translator.ServiceResult, error) {
		return nil, errors.New("connection refused")
	}}
	p := newTestPipeline(svc, pipelineConfig{})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{
		Text: "Hello world", TargetLang: "fr",
	})
	if err != nil {
		t.Fatalf("remote failures must not surface as errors, got %v", err)
	}
	if res.Success {
		t.Fatal("expected a failed result")
	}
	if res.Error == "" {
		t.Error("failed result should carry the last error")
	}
}

func TestTranslate_MissingTargetLang(t *testing.T) {
	p := newTestPipeline(&scriptedService{translate: echoTranslation("x")}, pipelineConfig{})
	if _, err := p.Translate(context.Background(), pipeline.TranslationRequest{Text: "Hello"}); err == nil {
		t.Error("missing target language should be rejected")
	}
}

func TestTranslate_StrategyHintOverride(t *testing.T) {
	svc := &scriptedService{translate: echoTranslation("Bonjour")}
	p := newTestPipeline(svc, pipelineConfig{})

	res, err := p.Translate(context.Background(), pipeline.TranslationRequest{
		Text: "Hello", SourceLang: "en", TargetLang: "fr", StrategyHint: pipeline.StrategyEnhanced,
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Meta.Strategy != pipeline.StrategyEnhanced {
		t.Errorf("hint should override selection, got %q", res.Meta.Strategy)
	}
}
