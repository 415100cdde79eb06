// Package client talks to the textbook API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/sahilchouksey/study-textbook-api/services"
	"github.com/sahilchouksey/study-textbook-api/utils/response"
)

// Client is an HTTP client for the textbook API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. token is sent as a bearer token when set.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			// Uploads of large textbooks take a while
			Timeout: 10 * time.Minute,
		},
	}
}

// envelope mirrors response.Response with a typed payload
type envelope[T any] struct {
	Success bool                  `json:"success"`
	Data    T                     `json:"data"`
	Error   *response.ErrorDetail `json:"error"`
}

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Upload sends the PDF at path as a new textbook
func (c *Client) Upload(ctx context.Context, title, path string) (*model.Textbook, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("title", title); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/textbooks", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var textbook model.Textbook
	if err := c.do(req, &textbook); err != nil {
		return nil, err
	}
	return &textbook, nil
}

// Status fetches the current pipeline status of a textbook
func (c *Client) Status(ctx context.Context, id uuid.UUID) (*services.TextbookStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/textbooks/"+id.String()+"/status", nil)
	if err != nil {
		return nil, err
	}
	var status services.TextbookStatus
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Watch polls the status until both tracks settle, calling onChange for
// every status that differs from the one before.
func (c *Client) Watch(ctx context.Context, id uuid.UUID, interval time.Duration, onChange func(*services.TextbookStatus) error) (*services.TextbookStatus, error) {
	fetch := func(ctx context.Context) (*services.TextbookStatus, error) {
		return c.Status(ctx, id)
	}
	return services.PollUntilSettled(ctx, fetch, interval, onChange)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope[json.RawMessage]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if result == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, result)
}
