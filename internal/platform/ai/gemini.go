package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/yungbote/kanda-backend/internal/observability"
	"github.com/yungbote/kanda-backend/internal/pkg/httpx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

const defaultGeminiModel = "gemini-2.0-flash"

type geminiClient struct {
	log        *logger.Logger
	client     *genai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

func NewGeminiClient(ctx context.Context, log *logger.Logger, cfg Config) (Client, error) {
	apiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	model := strings.TrimSpace(cfg.GeminiModel)
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &geminiClient{
		log:        log.With("client", "GeminiClient"),
		client:     client,
		model:      model,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryDelay: time.Second,
	}, nil
}

func (c *geminiClient) Provider() string { return ProviderGemini }
func (c *geminiClient) Model() string    { return c.model }

func (c *geminiClient) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("empty prompt")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{}
	if s := strings.TrimSpace(p.System); s != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}
	if p.Temperature != nil {
		t := float32(*p.Temperature)
		cfg.Temperature = &t
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	start := time.Now()
	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
		if err == nil {
			break
		}
		err = normalizeGeminiError(err)
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			observability.Current().ObserveAIRequest(ProviderGemini, c.model, geminiStatus(err), time.Since(start))
			return "", err
		}
		c.log.Warn("Gemini request retrying", "attempt", attempt+1, "max_retries", c.maxRetries, "error", err.Error())
		if sErr := httpx.Sleep(ctx, httpx.JitterSleep(c.retryDelay<<attempt)); sErr != nil {
			return "", sErr
		}
	}
	observability.Current().ObserveAIRequest(ProviderGemini, c.model, "200", time.Since(start))

	if resp == nil {
		return "", ErrEmptyResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// normalizeGeminiError maps SDK API errors onto HTTPError so retry
// classification is shared with the other providers.
func normalizeGeminiError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return &HTTPError{Provider: ProviderGemini, StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	return err
}

func geminiStatus(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return strconv.Itoa(httpErr.StatusCode)
	}
	return statusFromRespErr(nil, err)
}
