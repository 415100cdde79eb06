package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmptyPageText is stored for pages without extractable text so that page
// numbers stay contiguous from 1 to total_pages
const EmptyPageText = "[No extractable text on this page]"

// Page holds one physical page's raw text. Rows are written once, either by
// the background extraction or by the on-demand fallback, and never updated.
type Page struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	TextbookID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_pages_textbook_page" json:"textbook_id"`
	PageNumber int       `gorm:"not null;uniqueIndex:idx_pages_textbook_page" json:"page_number"`
	RawText    string    `gorm:"type:text" json:"raw_text"`
	Extracted  bool      `gorm:"default:false" json:"extracted"`

	Textbook *Textbook `gorm:"foreignKey:TextbookID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Page
func (Page) TableName() string {
	return "pages"
}

// BeforeCreate assigns a UUID when the caller did not
func (p *Page) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// HasText reports whether the page carries real extracted text
func (p *Page) HasText() bool {
	return p.Extracted && p.RawText != EmptyPageText
}
