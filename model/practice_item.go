package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PracticeItemKind distinguishes recall questions from real-world applications
type PracticeItemKind string

const (
	PracticeItemQuestion    PracticeItemKind = "question"
	PracticeItemApplication PracticeItemKind = "application"
)

// PracticeItem is generated study material attached either to a chapter
// (recall questions) or to a single page (applications and questions).
// Items are appended; regenerating content does not dedupe earlier rows.
type PracticeItem struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	ChapterID   *uuid.UUID       `gorm:"type:uuid;index" json:"chapter_id,omitempty"`
	PageID      *uuid.UUID       `gorm:"type:uuid;index" json:"page_id,omitempty"`
	Kind        PracticeItemKind `gorm:"type:varchar(20);not null" json:"kind"`
	Question    string           `gorm:"type:text" json:"question,omitempty"`
	Answer      string           `gorm:"type:text" json:"answer,omitempty"`
	Application string           `gorm:"type:text" json:"application,omitempty"`
	Difficulty  string           `gorm:"type:varchar(20)" json:"difficulty,omitempty"` // easy, medium, hard
	OrderIndex  int              `gorm:"default:0" json:"order_index"`

	Page *Page `gorm:"foreignKey:PageID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for PracticeItem
func (PracticeItem) TableName() string {
	return "practice_items"
}

// BeforeCreate assigns a UUID when the caller did not
func (p *PracticeItem) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
