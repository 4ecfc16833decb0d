package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"token", "abc123",
		"password", "hunter2",
		"character_id", "c-1",
		"user_id", "u-42",
	})

	assert.Equal(t, "[REDACTED]", out[1])
	assert.Equal(t, "[REDACTED]", out[3])
	assert.Equal(t, "c-1", out[5])
	hashed, ok := out[7].(string)
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(hashed, "hash:"))
	assert.NotContains(t, hashed, "u-42")
}

func TestSanitizeKVsNestedMap(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"payload", map[string]interface{}{"api_key": "k", "name": "Aria"},
	})
	m, ok := out[1].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "[REDACTED]", m["api_key"])
	assert.Equal(t, "Aria", m["name"])
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"stage", "load", "dangling"})
	assert.Len(t, out, 3)
	assert.Equal(t, "dangling", out[2])
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	l := Nop().With("component", "test")
	l.Info("hello", "k", "v")
	l.Sync()
}
