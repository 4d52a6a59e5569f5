package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shoplingo/shoplingo/internal/postprocess"
)

const defaultLLMTimeout = 120 * time.Second

// LLMService translates text by calling an OpenAI-compatible chat
// completions endpoint.
type LLMService struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewLLMService builds a service for the given endpoint base URL and model.
// apiKey may be empty for unauthenticated local endpoints.
func NewLLMService(baseURL, model, apiKey string, timeout time.Duration) *LLMService {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &LLMService{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *LLMService) Name() string {
	return "llm"
}

// ModelName returns the configured model identifier.
func (s *LLMService) ModelName() string {
	if s == nil {
		return ""
	}
	return s.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *LLMService) Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = SimplePrompt(req.SourceLang, req.TargetLang)
	}

	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Text},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		result.Error = fmt.Sprintf("failed to marshal request: %v", err)
		return result, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		return result, err
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		result.Error = fmt.Sprintf("endpoint returned status %d: %v", resp.StatusCode, errResp)
		return result, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		result.Error = fmt.Sprintf("failed to decode response: %v", err)
		return result, err
	}
	if len(parsed.Choices) == 0 {
		result.Error = "empty response from endpoint"
		return result, fmt.Errorf("empty response from endpoint")
	}

	result.TranslatedText = postprocess.Clean(parsed.Choices[0].Message.Content)
	result.Metadata = map[string]string{
		"model":             s.model,
		"prompt_tokens":     fmt.Sprintf("%d", parsed.Usage.PromptTokens),
		"completion_tokens": fmt.Sprintf("%d", parsed.Usage.CompletionTokens),
	}

	return result, nil
}

func (s *LLMService) IsAvailable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("endpoint not available: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
