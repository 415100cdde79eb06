package digitalocean

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "cmpl-1",
  "object": "chat.completion",
  "created": 0,
  "model": "test-model",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "[{\"chapter_number\":1}]"}}]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*InferenceClient, *RateLimiter) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1000, Burst: 100})
	client := NewInferenceClient(InferenceConfig{
		APIKey:      "test-key",
		BaseURL:     server.URL + "/v1",
		Model:       "test-model",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		Limiter:     limiter,
	})
	return client, limiter
}

func TestCompleteSendsBothMessages(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	})

	content, err := client.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "You detect chapters.",
		UserPrompt:   "Page 1: Chapter 1",
		MaxTokens:    512,
		Temperature:  0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"chapter_number":1}]`, content)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Page 1: Chapter 1", got.Messages[1].Content)
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client, limiter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	// success restores the configured rate
	assert.EqualValues(t, 1000, limiter.Limit())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, IsRateLimited(err))
}

func TestCompleteGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"down"}}`))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCompleteEmptyChoices(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":0,"model":"m","choices":[]}`))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestHealthCheck(t *testing.T) {
	var maxTokens int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MaxTokens int `json:"max_tokens"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		maxTokens = body.MaxTokens
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	})
	require.NoError(t, client.HealthCheck(context.Background()))
	assert.Equal(t, 10, maxTokens)

	down, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	})
	assert.Error(t, down.HealthCheck(context.Background()))
}
