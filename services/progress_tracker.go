package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/sahilchouksey/study-textbook-api/utils/cache"
)

// DefaultStatusTTL is how long a status snapshot may be served from cache
const DefaultStatusTTL = 2 * time.Second

// StatusCache stores status snapshots. *cache.RedisCache satisfies it.
type StatusCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// StageStatus is the durable record of one pipeline stage
type StageStatus struct {
	Stage    model.PipelineStage     `json:"stage"`
	Status   model.PipelineJobStatus `json:"status"`
	Attempts int                     `json:"attempts"`
	Error    string                  `json:"error,omitempty"`
}

// TextbookStatus is the pollable view of both processing tracks. It is
// at most MaxStalenessMs old when returned.
type TextbookStatus struct {
	TextbookID           uuid.UUID              `json:"textbook_id"`
	Title                string                 `json:"title"`
	TotalPages           int                    `json:"total_pages"`
	ProcessingStatus     model.ProcessingStatus `json:"processing_status"`
	ProcessingProgress   int                    `json:"processing_progress"`
	ProcessingError      *string                `json:"processing_error"`
	AIProcessingStatus   model.ProcessingStatus `json:"ai_processing_status"`
	AIProcessingProgress int                    `json:"ai_processing_progress"`
	AIProcessingError    *string                `json:"ai_processing_error"`
	Stages               []StageStatus          `json:"stages"`
	Settled              bool                   `json:"settled"`
	ObservedAt           time.Time              `json:"observed_at"`
	MaxStalenessMs       int64                  `json:"max_staleness_ms"`
}

// Changed reports whether other differs in any polled field
func (s *TextbookStatus) Changed(other *TextbookStatus) bool {
	if other == nil {
		return true
	}
	return s.ProcessingStatus != other.ProcessingStatus ||
		s.ProcessingProgress != other.ProcessingProgress ||
		s.AIProcessingStatus != other.AIProcessingStatus ||
		s.AIProcessingProgress != other.AIProcessingProgress ||
		s.TotalPages != other.TotalPages
}

// ProgressTracker serves textbook status snapshots, reading through a
// short-lived cache in front of the store
type ProgressTracker struct {
	store *database.TextbookStore
	cache StatusCache
	ttl   time.Duration
}

// NewProgressTracker creates a tracker. statusCache may be nil, in which
// case every read goes to the store.
func NewProgressTracker(store *database.TextbookStore, statusCache StatusCache, ttl time.Duration) *ProgressTracker {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &ProgressTracker{store: store, cache: statusCache, ttl: ttl}
}

// GetStatus returns the cached snapshot when one exists, otherwise a fresh one
func (pt *ProgressTracker) GetStatus(ctx context.Context, textbookID uuid.UUID) (*TextbookStatus, error) {
	if pt.cache != nil {
		var status TextbookStatus
		err := pt.cache.GetJSON(ctx, statusKey(textbookID), &status)
		if err == nil {
			status.MaxStalenessMs = pt.ttl.Milliseconds()
			return &status, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.Debugf("[ProgressTracker] Cache read failed for %s: %v", textbookID, err)
		}
	}

	status, err := pt.FreshStatus(ctx, textbookID)
	if err != nil {
		return nil, err
	}

	if pt.cache != nil {
		if err := pt.cache.SetJSON(ctx, statusKey(textbookID), status, pt.ttl); err != nil {
			log.Debugf("[ProgressTracker] Cache write failed for %s: %v", textbookID, err)
		}
	}
	return status, nil
}

// FreshStatus builds a snapshot straight from the store
func (pt *ProgressTracker) FreshStatus(ctx context.Context, textbookID uuid.UUID) (*TextbookStatus, error) {
	textbook, err := pt.store.GetTextbook(ctx, textbookID)
	if err != nil {
		return nil, err
	}

	jobs, err := pt.store.ListJobs(ctx, textbookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages: %w", err)
	}

	stages := make([]StageStatus, 0, len(jobs))
	for _, job := range jobs {
		stages = append(stages, StageStatus{
			Stage:    job.Stage,
			Status:   job.Status,
			Attempts: job.Attempts,
			Error:    job.Error,
		})
	}

	return &TextbookStatus{
		TextbookID:           textbook.ID,
		Title:                textbook.Title,
		TotalPages:           textbook.TotalPages,
		ProcessingStatus:     textbook.ProcessingStatus,
		ProcessingProgress:   textbook.ProcessingProgress,
		ProcessingError:      textbook.ProcessingError,
		AIProcessingStatus:   textbook.AIProcessingStatus,
		AIProcessingProgress: textbook.AIProcessingProgress,
		AIProcessingError:    textbook.AIProcessingError,
		Stages:               stages,
		Settled:              textbook.IsSettled(),
		ObservedAt:           time.Now().UTC(),
	}, nil
}

// Invalidate drops the cached snapshot so the next read is fresh
func (pt *ProgressTracker) Invalidate(ctx context.Context, textbookID uuid.UUID) {
	if pt.cache == nil {
		return
	}
	if err := pt.cache.Delete(ctx, statusKey(textbookID)); err != nil {
		log.Debugf("[ProgressTracker] Cache delete failed for %s: %v", textbookID, err)
	}
}

func statusKey(textbookID uuid.UUID) string {
	return fmt.Sprintf(model.RedisKeyTextbookStatus, textbookID)
}
