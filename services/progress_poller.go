package services

import (
	"context"
	"time"
)

// DefaultPollInterval matches the interval clients poll status at
const DefaultPollInterval = 2500 * time.Millisecond

// StatusFetcher loads the current status of one textbook
type StatusFetcher func(ctx context.Context) (*TextbookStatus, error)

// PollUntilSettled fetches status every interval and calls onChange for the
// first snapshot and every snapshot that differs from the previous one. It
// returns the settled snapshot, the first fetch error, or ctx.Err().
func PollUntilSettled(ctx context.Context, fetch StatusFetcher, interval time.Duration, onChange func(*TextbookStatus) error) (*TextbookStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *TextbookStatus
	for {
		status, err := fetch(ctx)
		if err != nil {
			return last, err
		}

		if status.Changed(last) && onChange != nil {
			if err := onChange(status); err != nil {
				return status, err
			}
		}
		last = status

		if status.Settled {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
