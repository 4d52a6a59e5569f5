package translator

import (
	"context"
	"time"
)

// TranslateRequest describes one outbound translation attempt.
type TranslateRequest struct {
	Text         string `json:"text"`
	SourceLang   string `json:"source_lang"`
	TargetLang   string `json:"target_lang"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ServiceResult carries the outcome of one attempt, success or failure.
// Error is populated instead of returning a raw transport error so callers
// can persist and report failed attempts uniformly.
type ServiceResult struct {
	ServiceName    string            `json:"service_name"`
	TranslatedText string            `json:"translated_text"`
	StatusCode     int               `json:"status_code"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Latency        time.Duration     `json:"latency"`
	Error          string            `json:"error,omitempty"`
}

// TranslationService is a remote text-generation or machine-translation
// endpoint.
type TranslationService interface {
	Name() string
	Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error)
	IsAvailable(ctx context.Context) error
}
