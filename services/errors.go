package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNoChapters is fatal to the AI track only; raw text stays readable
	ErrNoChapters = errors.New("no chapters found")
	// ErrInsufficientText rejects page content generation for near-empty pages
	ErrInsufficientText = errors.New("insufficient text on page")
	// ErrNoPages means extraction has not produced any page yet
	ErrNoPages = errors.New("no pages extracted")
	// ErrStageBusy is returned when a stage is already running for a textbook
	ErrStageBusy = errors.New("stage already running")
	// ErrCompletionUnavailable means no completion service is configured
	ErrCompletionUnavailable = errors.New("completion service is not configured")
)

// ExtractionError is fatal to the textbook: processing_status is failed and
// no later stage runs.
type ExtractionError struct {
	TextbookID uuid.UUID
	Step       string // download, parse, store
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for textbook %s at %s: %v", e.TextbookID, e.Step, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// FallbackError is returned by on-demand page extraction. Nothing is
// persisted on failure so the caller may simply retry.
type FallbackError struct {
	TextbookID uuid.UUID
	PageNumber int
	Retryable  bool
	Err        error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("page %d of textbook %s not available: %v", e.PageNumber, e.TextbookID, e.Err)
}

func (e *FallbackError) Unwrap() error { return e.Err }

// DetectionError means chapter detection could not start
type DetectionError struct {
	TextbookID uuid.UUID
	Err        error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("chapter detection failed for textbook %s: %v", e.TextbookID, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }
