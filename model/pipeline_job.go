package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PipelineStage names one step of the textbook pipeline, in execution order
type PipelineStage string

const (
	StageExtraction        PipelineStage = "extraction"
	StageChapterDetection  PipelineStage = "chapter_detection"
	StageContentGeneration PipelineStage = "content_generation"
)

// Next returns the stage that follows s, or "" for the last stage
func (s PipelineStage) Next() PipelineStage {
	switch s {
	case StageExtraction:
		return StageChapterDetection
	case StageChapterDetection:
		return StageContentGeneration
	default:
		return ""
	}
}

// PipelineJobStatus represents the status of a single stage record
type PipelineJobStatus string

const (
	JobStatusPending   PipelineJobStatus = "pending"
	JobStatusRunning   PipelineJobStatus = "running"
	JobStatusCompleted PipelineJobStatus = "completed"
	JobStatusFailed    PipelineJobStatus = "failed"
)

// PipelineJob is the durable record of one stage transition for a textbook.
// A running job whose heartbeat goes stale is considered abandoned (process
// crash) and may be claimed again by the recovery sweeper.
type PipelineJob struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	TextbookID  uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_pipeline_jobs_textbook_stage" json:"textbook_id"`
	Stage       PipelineStage     `gorm:"type:varchar(30);not null;uniqueIndex:idx_pipeline_jobs_textbook_stage" json:"stage"`
	Status      PipelineJobStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	Attempts    int               `gorm:"default:0" json:"attempts"`
	Source      string            `gorm:"type:text" json:"source,omitempty"` // PDF location for the extraction stage
	ClaimedAt   *time.Time        `json:"claimed_at,omitempty"`
	HeartbeatAt *time.Time        `gorm:"index" json:"heartbeat_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `gorm:"type:text" json:"error,omitempty"`

	Textbook *Textbook `gorm:"foreignKey:TextbookID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for PipelineJob
func (PipelineJob) TableName() string {
	return "pipeline_jobs"
}

// BeforeCreate assigns a UUID when the caller did not
func (j *PipelineJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	return nil
}

// IsComplete returns true if the stage has finished (success or failure)
func (j *PipelineJob) IsComplete() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Redis key patterns for status snapshots
const (
	// RedisKeyTextbookStatus stores the latest status snapshot as JSON
	// Usage: fmt.Sprintf(RedisKeyTextbookStatus, textbookID)
	RedisKeyTextbookStatus = "textbook:status:%s"
)
