package translator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// GoogleService is the machine-translation fallback used when the LLM
// endpoint exhausts its retries. It needs no prompt and ignores
// SystemPrompt; protection tokens pass through it as opaque symbols.
type GoogleService struct {
	credentials string
}

func NewGoogleService(credentials string) *GoogleService {
	return &GoogleService{credentials: credentials}
}

func (s *GoogleService) Name() string {
	return "google"
}

func (s *GoogleService) Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	targetTag, err := language.Parse(req.TargetLang)
	if err != nil {
		result.Error = fmt.Sprintf("invalid target language: %v", err)
		return result, fmt.Errorf("invalid target language: %v", err)
	}

	opts := []option.ClientOption{}
	if s.credentials != "" {
		opts = append(opts, option.WithCredentialsFile(s.credentials))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create client: %v", err)
		return result, err
	}
	defer client.Close()

	translateOpts := &translate.Options{Format: translate.Text}
	if req.SourceLang != "" && req.SourceLang != "auto" {
		if sourceTag, parseErr := language.Parse(req.SourceLang); parseErr == nil {
			translateOpts.Source = sourceTag
		}
	}

	translations, err := client.Translate(ctx, []string{req.Text}, targetTag, translateOpts)
	if err != nil {
		result.Error = fmt.Sprintf("translation failed: %v", err)
		return result, err
	}
	if len(translations) == 0 {
		result.Error = "empty response from Google Translate"
		return result, fmt.Errorf("empty response from Google Translate")
	}

	result.StatusCode = http.StatusOK
	result.TranslatedText = translations[0].Text
	result.Metadata = map[string]string{"source": translations[0].Source.String()}

	return result, nil
}

func (s *GoogleService) IsAvailable(ctx context.Context) error {
	if s.credentials == "" {
		return fmt.Errorf("Google credentials not configured")
	}
	return nil
}
