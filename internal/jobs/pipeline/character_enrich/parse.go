package character_enrich

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/kanda-backend/internal/domain/character"
)

var contentKeys = []string{"personality", "background", "appearance", "relationships", "abilities"}

// ParseContent decodes an AI reply into the five content sections. The reply
// must be one JSON object, optionally wrapped in a markdown code fence.
// Missing or null sections become empty containers; wrongly typed sections
// are rejected.
func ParseContent(raw string) (character.Content, error) {
	var out character.Content
	body := stripCodeFence(raw)
	if body == "" {
		return out, errors.New("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc map[string]json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return out, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return out, errors.New("invalid JSON: trailing data after object")
	}
	if doc == nil {
		return out, errors.New("invalid JSON: expected an object")
	}

	found := false
	for _, k := range contentKeys {
		if _, ok := doc[k]; ok {
			found = true
			break
		}
	}
	if !found {
		return out, fmt.Errorf("missing keys: expected any of %s", strings.Join(contentKeys, ", "))
	}

	var err error
	if out.Personality, err = decodeObject(doc, "personality"); err != nil {
		return out, err
	}
	if out.Background, err = decodeObject(doc, "background"); err != nil {
		return out, err
	}
	if out.Appearance, err = decodeObject(doc, "appearance"); err != nil {
		return out, err
	}
	if out.Relationships, err = decodeEntries(doc, "relationships"); err != nil {
		return out, err
	}
	if out.Abilities, err = decodeEntries(doc, "abilities"); err != nil {
		return out, err
	}
	return out, nil
}

func decodeObject(doc map[string]json.RawMessage, key string) (map[string]any, error) {
	raw, ok := doc[key]
	if !ok || isNull(raw) {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := decodeStrict(raw, &m); err != nil {
		return nil, fmt.Errorf("%s: expected an object", key)
	}
	return m, nil
}

func decodeEntries(doc map[string]json.RawMessage, key string) ([]character.Entry, error) {
	raw, ok := doc[key]
	if !ok || isNull(raw) {
		return []character.Entry{}, nil
	}
	var items []json.RawMessage
	if err := decodeStrict(raw, &items); err != nil {
		return nil, fmt.Errorf("%s: expected an array", key)
	}
	out := make([]character.Entry, 0, len(items))
	for i, item := range items {
		var m map[string]any
		if err := decodeStrict(item, &m); err != nil || m == nil {
			return nil, fmt.Errorf("%s[%d]: expected an object", key, i)
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
