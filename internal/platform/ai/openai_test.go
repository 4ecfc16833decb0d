package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/pkg/pointers"
)

func newTestOpenAI(t *testing.T, srv *httptest.Server, retries int) *openAIClient {
	t.Helper()
	c, err := NewOpenAIClient(logger.Nop(), Config{
		OpenAIAPIKey:  "sk-test",
		OpenAIBaseURL: srv.URL,
		OpenAIModel:   "test-model",
		MaxRetries:    retries,
		Timeout:       5 * time.Second,
	})
	require.NoError(t, err)
	oc := c.(*openAIClient)
	oc.baseDelay = time.Millisecond
	return oc
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func TestOpenAICompleteSendsChatRequest(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, ` {"personality":{}} `)
	}))
	defer srv.Close()

	c := newTestOpenAI(t, srv, 0)
	out, err := c.Complete(context.Background(), "describe Aria", Params{
		System:      "sys",
		Temperature: pointers.Ptr(0.7),
		MaxTokens:   2000,
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"personality":{}}`, out)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "describe Aria", got.Messages[1].Content)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	assert.Equal(t, 2000, got.MaxTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeCompletion(w, "ok")
	}))
	defer srv.Close()

	out, err := newTestOpenAI(t, srv, 3).Complete(context.Background(), "p", Params{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := newTestOpenAI(t, srv, 3).Complete(context.Background(), "p", Params{})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestOpenAIDropsRejectedTemperature(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		atomic.AddInt32(&calls, 1)
		if req.Temperature != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Unsupported parameter: 'temperature' is not supported with this model."}}`))
			return
		}
		writeCompletion(w, "done")
	}))
	defer srv.Close()

	out, err := newTestOpenAI(t, srv, 0).Complete(context.Background(), "p", Params{Temperature: pointers.Ptr(0.7)})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestOpenAI(t, srv, 0).Complete(context.Background(), "p", Params{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), logger.Nop(), Config{Provider: "llama"})
	assert.Error(t, err)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), logger.Nop(), Config{Provider: ProviderOpenAI})
	assert.Error(t, err)
}

func TestHTTPErrorTruncatesOnRuneBoundary(t *testing.T) {
	err := &HTTPError{Provider: ProviderOpenAI, StatusCode: 500, Body: "x" + strings.Repeat("é", 600)}
	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "é..."))
	assert.LessOrEqual(t, len(msg), len("openai http 500: ")+512+3)
}
