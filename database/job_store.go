package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureJob creates the pending record for a stage if none exists and
// returns the stored record. An existing record is returned as-is.
func (s *TextbookStore) EnsureJob(ctx context.Context, textbookID uuid.UUID, stage model.PipelineStage, source string) (*model.PipelineJob, error) {
	exists, err := s.TextbookExists(ctx, textbookID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrTextbookNotFound
	}

	job := &model.PipelineJob{
		TextbookID: textbookID,
		Stage:      stage,
		Status:     model.JobStatusPending,
		Source:     source,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "textbook_id"}, {Name: "stage"}},
			DoNothing: true,
		}).
		Create(job).Error
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, textbookID, stage)
}

// ResetJob puts a stage back to pending with a fresh attempt count so it can
// be claimed again. A job that is running with a fresh heartbeat is left
// alone and ErrInvalidTransition is returned.
func (s *TextbookStore) ResetJob(ctx context.Context, textbookID uuid.UUID, stage model.PipelineStage, source string, staleBefore time.Time) (*model.PipelineJob, error) {
	job, err := s.EnsureJob(ctx, textbookID, stage, source)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"status":       model.JobStatusPending,
		"attempts":     0,
		"error":        "",
		"completed_at": nil,
	}
	if source != "" {
		updates["source"] = source
	}
	result := s.db.WithContext(ctx).Model(&model.PipelineJob{}).
		Where("id = ?", job.ID).
		Where("status <> ? OR heartbeat_at IS NULL OR heartbeat_at < ?", model.JobStatusRunning, staleBefore).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrInvalidTransition
	}
	return s.GetJob(ctx, textbookID, stage)
}

// GetJob loads the record for one stage, or ErrNotFound
func (s *TextbookStore) GetJob(ctx context.Context, textbookID uuid.UUID, stage model.PipelineStage) (*model.PipelineJob, error) {
	var job model.PipelineJob
	err := s.db.WithContext(ctx).
		Where("textbook_id = ? AND stage = ?", textbookID, stage).
		First(&job).Error
	if err != nil {
		return nil, normalize(err)
	}
	return &job, nil
}

// ListJobs returns every stage record for a textbook
func (s *TextbookStore) ListJobs(ctx context.Context, textbookID uuid.UUID) ([]model.PipelineJob, error) {
	var jobs []model.PipelineJob
	err := s.db.WithContext(ctx).
		Where("textbook_id = ?", textbookID).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// ClaimJob atomically takes ownership of a pending job, or of a running job
// whose heartbeat is older than staleBefore. It returns false when another
// worker holds the job.
func (s *TextbookStore) ClaimJob(ctx context.Context, jobID uuid.UUID, staleBefore time.Time) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&model.PipelineJob{}).
		Where("id = ?", jobID).
		Where("status = ? OR (status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?))",
			model.JobStatusPending, model.JobStatusRunning, staleBefore).
		Updates(map[string]interface{}{
			"status":       model.JobStatusRunning,
			"attempts":     gorm.Expr("attempts + 1"),
			"claimed_at":   now,
			"heartbeat_at": now,
			"error":        "",
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// HeartbeatJob refreshes the liveness timestamp of a running job
func (s *TextbookStore) HeartbeatJob(ctx context.Context, jobID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&model.PipelineJob{}).
		Where("id = ? AND status = ?", jobID, model.JobStatusRunning).
		Update("heartbeat_at", time.Now()).Error
}

// CompleteJob marks a stage finished
func (s *TextbookStore) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.PipelineJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       model.JobStatusCompleted,
			"completed_at": now,
			"error":        "",
		}).Error
}

// FailJob marks a stage failed. Failed stages are not picked up by recovery.
func (s *TextbookStore) FailJob(ctx context.Context, jobID uuid.UUID, message string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.PipelineJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       model.JobStatusFailed,
			"completed_at": now,
			"error":        message,
		}).Error
}

// ListRecoverableJobs returns jobs that were never dispatched (pending since
// before pendingBefore) or whose worker stopped heartbeating before staleBefore.
func (s *TextbookStore) ListRecoverableJobs(ctx context.Context, pendingBefore, staleBefore time.Time, limit int) ([]model.PipelineJob, error) {
	var jobs []model.PipelineJob
	err := s.db.WithContext(ctx).
		Where("(status = ? AND updated_at < ?) OR (status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?))",
			model.JobStatusPending, pendingBefore, model.JobStatusRunning, staleBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
