package services

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/platform/ai"
)

const narrativeSystemPrompt = "You are the narrator of a collaborative role-playing story. Write vivid prose in the second person plural, one chapter at a time, and never decide the players' next moves for them."

var narrativeTemplate = template.Must(template.New("chapter").Funcs(template.FuncMap{"join": strings.Join}).Parse(`Write chapter {{.Number}} of {{.Total}} of the story "{{.Title}}".

Universe: {{.Universe.Name}}
{{- if .Universe.Description}}
Setting: {{.Universe.Description}}
{{- end}}
{{- if .Universe.Context}}
Context: {{.Universe.Context}}
{{- end}}
{{- if .Universe.Rules}}
Rules: {{.Universe.Rules}}
{{- end}}
{{- if .Characters}}
Protagonists: {{join .Characters ", "}}
{{- end}}
{{- if .Actions}}

What the players did in the previous chapter:
{{- range .Actions}}
- {{.}}
{{- end}}
{{- end}}

{{if .Last}}This is the final chapter: bring the story to a close.{{else}}End the chapter on an open situation the players can react to.{{end}}
Reply with the chapter text only.
`))

type narrativeInput struct {
	Number     int
	Total      int
	Title      string
	Universe   *types.Universe
	Characters []string
	Actions    []string
	Last       bool
}

func renderNarrativePrompt(in narrativeInput) (string, error) {
	var b strings.Builder
	if err := narrativeTemplate.Execute(&b, in); err != nil {
		return "", err
	}
	return b.String(), nil
}

// fallbackNarrative builds a chapter without a model, so rooms keep playing
// when no provider is configured.
func fallbackNarrative(in narrativeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d: ", in.Number)
	if in.Universe != nil && in.Universe.Description != "" {
		desc := []rune(in.Universe.Description)
		if len(desc) > 200 {
			desc = desc[:200]
		}
		fmt.Fprintf(&b, "In the universe of %s, %s... ", in.Universe.Name, string(desc))
	}
	if len(in.Characters) > 0 {
		fmt.Fprintf(&b, "The protagonists: %s. ", strings.Join(in.Characters, ", "))
	}
	b.WriteString("The story moves on through unexpected turns and crucial decisions, and the fate of the world hangs by a thread.")
	if len(in.Actions) > 0 {
		fmt.Fprintf(&b, "\n\nPlayer actions: %s", strings.Join(in.Actions, "; "))
	}
	return b.String()
}

// writeChapter asks the model for the chapter text and falls back to the
// template when the model is missing or fails.
func (s *storytellingService) writeChapter(ctx context.Context, in narrativeInput) (string, error) {
	if s.ai == nil {
		return fallbackNarrative(in), nil
	}
	prompt, err := renderNarrativePrompt(in)
	if err != nil {
		return "", fmt.Errorf("render narrative prompt: %w", err)
	}
	aiCtx, cancel := context.WithTimeout(ctx, s.cfg.AITimeout)
	defer cancel()
	temp := s.cfg.Temperature
	text, err := s.ai.Complete(aiCtx, prompt, ai.Params{
		System:      narrativeSystemPrompt,
		Temperature: &temp,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		s.log.Warn("narrative generation failed, using template", "error", err, "chapter", in.Number)
		return fallbackNarrative(in), nil
	}
	return strings.TrimSpace(text), nil
}

// StorytellingConfig tunes narrative generation. Zero values use defaults.
type StorytellingConfig struct {
	Temperature float64
	MaxTokens   int
	AITimeout   time.Duration
	LockTTL     time.Duration
}

func (c StorytellingConfig) withDefaults() StorytellingConfig {
	if c.Temperature <= 0 {
		c.Temperature = 0.8
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1200
	}
	if c.AITimeout <= 0 {
		c.AITimeout = 90 * time.Second
	}
	if c.LockTTL <= c.AITimeout {
		c.LockTTL = c.AITimeout + time.Minute
	}
	return c
}
