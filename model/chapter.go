package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chapter is a detected contiguous page range. Chapters of a textbook never
// overlap and the last one ends on the textbook's final page.
type Chapter struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	TextbookID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chapters_textbook_number" json:"textbook_id"`
	ChapterNumber int       `gorm:"not null;uniqueIndex:idx_chapters_textbook_number" json:"chapter_number"`
	Title         string    `gorm:"type:varchar(500);not null" json:"title"`
	PageStart     int       `gorm:"not null" json:"page_start"`
	PageEnd       int       `gorm:"not null" json:"page_end"`

	// Relationships
	Summary       *ChapterSummary `gorm:"foreignKey:ChapterID;constraint:OnDelete:CASCADE" json:"summary,omitempty"`
	PracticeItems []PracticeItem  `gorm:"foreignKey:ChapterID;constraint:OnDelete:CASCADE" json:"practice_items,omitempty"`
}

// TableName specifies the table name for Chapter
func (Chapter) TableName() string {
	return "chapters"
}

// BeforeCreate assigns a UUID when the caller did not
func (c *Chapter) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// PageCount returns the number of pages covered by the chapter
func (c *Chapter) PageCount() int {
	return c.PageEnd - c.PageStart + 1
}

// ChapterSummary is 1:1 with Chapter and upserted on (re)generation
type ChapterSummary struct {
	ID          uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	ChapterID   uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex" json:"chapter_id"`
	SummaryText string                      `gorm:"type:text" json:"summary_text"`
	KeyConcepts datatypes.JSONSlice[string] `json:"key_concepts"`
}

// TableName specifies the table name for ChapterSummary
func (ChapterSummary) TableName() string {
	return "chapter_summaries"
}

// BeforeCreate assigns a UUID when the caller did not
func (s *ChapterSummary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
