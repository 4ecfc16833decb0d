package character_enrich

import (
	"strings"
	"text/template"
)

const systemPrompt = "You are an assistant specialized in creating detailed profiles of fictional characters. Reply with a single JSON object and nothing else."

var promptTemplate = template.Must(template.New("character").Parse(`Create a detailed profile for a fictional character named "{{.Name}}" with the following initial description: "{{.Description}}".

Generate detailed information in JSON format for these categories:

1. Personality: character traits, values, motivations, fears, desires.
2. Background: origin, important life events, traumas or defining moments.
3. Appearance: detailed physical description, usual clothing, distinguishing features.
4. Relationships: connections with other characters, family, friends, rivals, romantic interests.
5. Abilities: special talents, knowledge, powers (if any), limitations.

The response must be a valid JSON object with exactly these keys: personality, background, appearance, relationships, abilities.
personality, background and appearance are objects. relationships and abilities are arrays of objects.
Each section should be detailed but concise.
`))

type promptData struct {
	Name        string
	Description string
}

// RenderPrompt fills the enrichment template. Quotes in user text are
// escaped so they cannot close the quoted fields.
func RenderPrompt(name, description string) (string, error) {
	var b strings.Builder
	err := promptTemplate.Execute(&b, promptData{
		Name:        escapeQuoted(name),
		Description: escapeQuoted(description),
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func escapeQuoted(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `"`, `\"`)
}
