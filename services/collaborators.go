package services

import (
	"context"
	"time"

	"github.com/sahilchouksey/study-textbook-api/services/digitalocean"
)

// Completer is the completion service boundary. The DigitalOcean inference
// client satisfies it; tests substitute scripted fakes.
type Completer interface {
	Complete(ctx context.Context, req digitalocean.CompletionRequest) (string, error)
}

// BlobStore reads and writes source PDFs
type BlobStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// instrumentedCompleter records latency and failures of every completion call
type instrumentedCompleter struct {
	next      Completer
	operation string
}

// WithCompletionMetrics wraps c so each call is observed under operation
func WithCompletionMetrics(c Completer, operation string) Completer {
	if c == nil {
		return nil
	}
	return &instrumentedCompleter{next: c, operation: operation}
}

func (i *instrumentedCompleter) Complete(ctx context.Context, req digitalocean.CompletionRequest) (string, error) {
	start := time.Now()
	text, err := i.next.Complete(ctx, req)
	completionDuration.WithLabelValues(i.operation).Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "error"
		if digitalocean.IsRateLimited(err) {
			reason = "rate_limited"
		}
		completionErrors.WithLabelValues(i.operation, reason).Inc()
	}
	return text, err
}
