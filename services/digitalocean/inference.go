package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gofiber/fiber/v2/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// InferenceBaseURL is the DigitalOcean AI Inference API base URL (OpenAI-compatible)
	InferenceBaseURL = "https://inference.do-ai.run/v1/"
	// DefaultCompletionTimeout bounds a single completion call
	DefaultCompletionTimeout = 30 * time.Second
	// DefaultInferenceModel is the default model for inference
	DefaultInferenceModel = "openai-gpt-oss-120b"
	// DefaultMaxAttempts covers the first call plus retries on 429/5xx
	DefaultMaxAttempts = 3
)

// ErrEmptyCompletion is returned when the API answers without any choices
var ErrEmptyCompletion = errors.New("no choices returned from inference API")

// CompletionRequest is a single-turn completion: one system and one user message
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// InferenceClient handles direct LLM inference API calls (not agent-based)
type InferenceClient struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	maxAttempts uint
	retryDelay  time.Duration
	limiter     *RateLimiter
}

// InferenceConfig holds configuration for the inference client
type InferenceConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration // per call
	MaxAttempts uint
	RetryDelay  time.Duration
	Limiter     *RateLimiter // shared across the process; created when nil
	HTTPClient  *http.Client
}

// NewInferenceClient creates a new DigitalOcean AI Inference client
func NewInferenceClient(config InferenceConfig) *InferenceClient {
	if config.BaseURL == "" {
		config.BaseURL = InferenceBaseURL
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultCompletionTimeout
	}
	if config.Model == "" {
		config.Model = DefaultInferenceModel
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 2 * time.Second
	}
	if config.Limiter == nil {
		config.Limiter = NewRateLimiter(DefaultRateLimiterConfig())
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(config.BaseURL),
		// retries are driven here so that every attempt passes the shared limiter
		option.WithMaxRetries(0),
	}
	if config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	}

	return &InferenceClient{
		client:      openai.NewClient(opts...),
		model:       config.Model,
		timeout:     config.Timeout,
		maxAttempts: config.MaxAttempts,
		retryDelay:  config.RetryDelay,
		limiter:     config.Limiter,
	}
}

// Complete sends one chat completion and returns the first choice's text.
// Each attempt waits on the shared limiter and runs under its own timeout.
func (c *InferenceClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	var content string
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			completion, err := c.client.Chat.Completions.New(callCtx, params)
			if err != nil {
				if IsRateLimited(err) {
					c.limiter.SetBackoffMultiplier(2)
				}
				return err
			}
			c.limiter.ResetToDefaults()

			if len(completion.Choices) == 0 {
				return retry.Unrecoverable(ErrEmptyCompletion)
			}
			content = completion.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("[Inference] Attempt %d failed, retrying: %v", n+1, err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return content, nil
}

// HealthCheck verifies the inference API is accessible
func (c *InferenceClient) HealthCheck(ctx context.Context) error {
	_, err := c.Complete(ctx, CompletionRequest{
		UserPrompt: "Say 'ok' if you can hear me.",
		MaxTokens:  10,
	})
	return err
}

// IsRateLimited reports a 429 from the API
func IsRateLimited(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports errors worth another attempt: 429, 5xx and per-call
// timeouts. Client errors and cancellation of the caller's context are final.
func IsRetryable(err error) bool {
	if err == nil || !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	// Transport errors and per-attempt deadline expiry
	return true
}
