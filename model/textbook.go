package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProcessingStatus is shared by the raw-text track and the AI track of a textbook
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// IsTerminal reports whether no further transition is expected on this track
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Textbook is the top-level document tracked through the pipeline.
// The two status/progress pairs are independent: the AI track only leaves
// pending once the raw-text track has completed.
type Textbook struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Title       string    `gorm:"type:varchar(500);not null" json:"title"`
	TotalPages  int       `gorm:"default:0" json:"total_pages"`
	PDFLocation string    `gorm:"column:pdf_location;type:text;not null" json:"pdf_location"` // Spaces key or absolute URL
	PDFURL      string    `gorm:"column:pdf_url;type:text" json:"pdf_url,omitempty"`          // Public/CDN URL for the viewer
	FileSize    int64     `gorm:"default:0" json:"file_size"`
	UploadedBy  string    `gorm:"type:varchar(255);index" json:"uploaded_by,omitempty"`

	ProcessingStatus   ProcessingStatus `gorm:"type:varchar(20);default:'pending';index" json:"processing_status"`
	ProcessingProgress int              `gorm:"default:0" json:"processing_progress"`
	ProcessingError    *string          `gorm:"type:text" json:"processing_error"`

	// Explicit column names: the default naming splits "AIP" as "a_ip"
	AIProcessingStatus   ProcessingStatus `gorm:"column:ai_processing_status;type:varchar(20);default:'pending';index" json:"ai_processing_status"`
	AIProcessingProgress int              `gorm:"column:ai_processing_progress;default:0" json:"ai_processing_progress"`
	AIProcessingError    *string          `gorm:"column:ai_processing_error;type:text" json:"ai_processing_error"`

	// Relationships
	Chapters []Chapter `gorm:"foreignKey:TextbookID;constraint:OnDelete:CASCADE" json:"chapters,omitempty"`
}

// TableName specifies the table name for Textbook
func (Textbook) TableName() string {
	return "textbooks"
}

// BeforeCreate assigns a UUID when the caller did not
func (t *Textbook) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ProcessingStatus == "" {
		t.ProcessingStatus = StatusPending
	}
	if t.AIProcessingStatus == "" {
		t.AIProcessingStatus = StatusPending
	}
	return nil
}

// IsSettled returns true once both tracks reached a terminal state, or the
// raw-text track failed (the AI track never starts in that case)
func (t *Textbook) IsSettled() bool {
	if t.ProcessingStatus == StatusFailed {
		return true
	}
	return t.ProcessingStatus.IsTerminal() && t.AIProcessingStatus.IsTerminal()
}
