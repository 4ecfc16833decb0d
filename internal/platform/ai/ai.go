package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

var (
	// ErrEmptyResponse is returned when the provider answered without text.
	ErrEmptyResponse = errors.New("ai: empty response")
	// ErrBlocked is returned when the provider refused the prompt.
	ErrBlocked = errors.New("ai: prompt blocked by provider")
)

// Params are per-call generation settings. Zero values fall back to the
// provider defaults.
type Params struct {
	System      string
	Temperature *float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Client turns a prompt into completion text.
type Client interface {
	Complete(ctx context.Context, prompt string, p Params) (string, error)
	Provider() string
	Model() string
}

type Config struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GeminiAPIKey  string
	GeminiModel   string
	Timeout       time.Duration
	MaxRetries    int
	RatePerSecond float64
	RateBurst     int
}

// HTTPError carries a non-2xx provider status.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 512))
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// New builds the configured provider client, wrapped in the process-wide
// rate limiter when RatePerSecond is positive.
func New(ctx context.Context, log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	var (
		c   Client
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		c, err = NewOpenAIClient(log, cfg)
	case ProviderGemini:
		c, err = NewGeminiClient(ctx, log, cfg)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RatePerSecond > 0 {
		c = WithRateLimit(c, cfg.RatePerSecond, cfg.RateBurst)
	}
	return c, nil
}

// truncate bounds s to n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
