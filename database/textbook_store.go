package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TextbookStore is the single access layer for textbooks, pages, chapters,
// generated content and pipeline jobs. Every write that targets a textbook
// returns ErrTextbookNotFound once the textbook has been deleted.
type TextbookStore struct {
	db *gorm.DB
}

// NewTextbookStore creates a store on an open connection
func NewTextbookStore(db *gorm.DB) *TextbookStore {
	return &TextbookStore{db: db}
}

// DB exposes the underlying connection for health checks and tests
func (s *TextbookStore) DB() *gorm.DB {
	return s.db
}

// ============================================================================
// Textbooks
// ============================================================================

// CreateTextbook inserts a new textbook with both tracks pending
func (s *TextbookStore) CreateTextbook(ctx context.Context, textbook *model.Textbook) error {
	textbook.ProcessingStatus = model.StatusPending
	textbook.AIProcessingStatus = model.StatusPending
	textbook.ProcessingProgress = 0
	textbook.AIProcessingProgress = 0
	return normalize(s.db.WithContext(ctx).Create(textbook).Error)
}

// GetTextbook loads a textbook without relations
func (s *TextbookStore) GetTextbook(ctx context.Context, id uuid.UUID) (*model.Textbook, error) {
	var textbook model.Textbook
	if err := s.db.WithContext(ctx).First(&textbook, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTextbookNotFound
		}
		return nil, err
	}
	return &textbook, nil
}

// TextbookExists reports whether the textbook row is still present
func (s *TextbookStore) TextbookExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Textbook{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// DeleteTextbook removes a textbook and everything derived from it
func (s *TextbookStore) DeleteTextbook(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chapterIDs := tx.Model(&model.Chapter{}).Select("id").Where("textbook_id = ?", id)
		pageIDs := tx.Model(&model.Page{}).Select("id").Where("textbook_id = ?", id)

		if err := tx.Where("chapter_id IN (?) OR page_id IN (?)", chapterIDs, pageIDs).Delete(&model.PracticeItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chapter_id IN (?)", chapterIDs).Delete(&model.ChapterSummary{}).Error; err != nil {
			return err
		}
		for _, m := range []interface{}{&model.Chapter{}, &model.Page{}, &model.PipelineJob{}} {
			if err := tx.Where("textbook_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		result := tx.Where("id = ?", id).Delete(&model.Textbook{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrTextbookNotFound
		}
		return nil
	})
}

// ============================================================================
// Status tracks
// ============================================================================

// track names the column set for one of the two status/progress pairs
type track struct {
	status   string
	progress string
	error    string
}

var (
	rawTrack = track{"processing_status", "processing_progress", "processing_error"}
	aiTrack  = track{"ai_processing_status", "ai_processing_progress", "ai_processing_error"}
)

// update applies updates to the textbook matched by where. A miss is
// resolved into ErrTextbookNotFound or, when the row exists, ErrInvalidTransition.
func (s *TextbookStore) update(ctx context.Context, id uuid.UUID, where map[string]interface{}, updates map[string]interface{}) error {
	q := s.db.WithContext(ctx).Model(&model.Textbook{}).Where("id = ?", id)
	for cond, arg := range where {
		q = q.Where(cond, arg)
	}
	result := q.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	exists, err := s.TextbookExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTextbookNotFound
	}
	return ErrInvalidTransition
}

// advance raises progress on a track. Lower or equal values are ignored so
// progress never decreases, even when a recovered run replays a stage.
func (s *TextbookStore) advance(ctx context.Context, id uuid.UUID, t track, progress int) error {
	err := s.update(ctx, id,
		map[string]interface{}{t.progress + " < ?": progress},
		map[string]interface{}{t.progress: progress, "updated_at": time.Now()},
	)
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

// StartProcessing moves the raw-text track to processing. Progress is kept.
func (s *TextbookStore) StartProcessing(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id, nil, map[string]interface{}{
		rawTrack.status: model.StatusProcessing,
		rawTrack.error:  nil,
	})
}

// AdvanceProcessing records raw-text extraction progress (monotonic)
func (s *TextbookStore) AdvanceProcessing(ctx context.Context, id uuid.UUID, progress int) error {
	return s.advance(ctx, id, rawTrack, progress)
}

// CompleteProcessing marks extraction done and records the page count
func (s *TextbookStore) CompleteProcessing(ctx context.Context, id uuid.UUID, totalPages int) error {
	return s.update(ctx, id, nil, map[string]interface{}{
		rawTrack.status:   model.StatusCompleted,
		rawTrack.progress: 100,
		rawTrack.error:    nil,
		"total_pages":     totalPages,
	})
}

// FailProcessing marks extraction failed with a message
func (s *TextbookStore) FailProcessing(ctx context.Context, id uuid.UUID, message string) error {
	return s.update(ctx, id, nil, map[string]interface{}{
		rawTrack.status: model.StatusFailed,
		rawTrack.error:  message,
	})
}

// StartAIProcessing moves the AI track to processing. It is only allowed
// once the raw-text track has completed.
func (s *TextbookStore) StartAIProcessing(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id,
		map[string]interface{}{rawTrack.status + " = ?": model.StatusCompleted},
		map[string]interface{}{
			aiTrack.status: model.StatusProcessing,
			aiTrack.error:  nil,
		},
	)
}

// AdvanceAIProcessing records content generation progress (monotonic)
func (s *TextbookStore) AdvanceAIProcessing(ctx context.Context, id uuid.UUID, progress int) error {
	return s.advance(ctx, id, aiTrack, progress)
}

// CompleteAIProcessing marks content generation done
func (s *TextbookStore) CompleteAIProcessing(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id, nil, map[string]interface{}{
		aiTrack.status:   model.StatusCompleted,
		aiTrack.progress: 100,
		aiTrack.error:    nil,
	})
}

// FailAIProcessing marks content generation failed with a message
func (s *TextbookStore) FailAIProcessing(ctx context.Context, id uuid.UUID, message string) error {
	return s.update(ctx, id, nil, map[string]interface{}{
		aiTrack.status: model.StatusFailed,
		aiTrack.error:  message,
	})
}

// ============================================================================
// Pages
// ============================================================================

// InsertPage writes a single page. A concurrent writer that already stored
// the same (textbook, page number) surfaces as ErrDuplicateKey.
func (s *TextbookStore) InsertPage(ctx context.Context, page *model.Page) error {
	exists, err := s.TextbookExists(ctx, page.TextbookID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTextbookNotFound
	}
	return normalize(s.db.WithContext(ctx).Create(page).Error)
}

// InsertPagesIgnoreConflicts batch-inserts pages, skipping page numbers that
// are already stored. It returns the number of rows actually written.
func (s *TextbookStore) InsertPagesIgnoreConflicts(ctx context.Context, textbookID uuid.UUID, pages []model.Page) (int64, error) {
	if len(pages) == 0 {
		return 0, nil
	}
	exists, err := s.TextbookExists(ctx, textbookID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrTextbookNotFound
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "textbook_id"}, {Name: "page_number"}},
			DoNothing: true,
		}).
		Create(&pages)
	return result.RowsAffected, result.Error
}

// GetPage loads one page, or ErrNotFound
func (s *TextbookStore) GetPage(ctx context.Context, textbookID uuid.UUID, pageNumber int) (*model.Page, error) {
	var page model.Page
	err := s.db.WithContext(ctx).
		Where("textbook_id = ? AND page_number = ?", textbookID, pageNumber).
		First(&page).Error
	if err != nil {
		return nil, normalize(err)
	}
	return &page, nil
}

// ListPages returns pages in [from, to] ordered by page number
func (s *TextbookStore) ListPages(ctx context.Context, textbookID uuid.UUID, from, to int) ([]model.Page, error) {
	var pages []model.Page
	err := s.db.WithContext(ctx).
		Where("textbook_id = ? AND page_number BETWEEN ? AND ?", textbookID, from, to).
		Order("page_number ASC").
		Find(&pages).Error
	return pages, err
}

// CountPages returns the number of stored pages for a textbook
func (s *TextbookStore) CountPages(ctx context.Context, textbookID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Page{}).Where("textbook_id = ?", textbookID).Count(&count).Error
	return count, err
}

// ============================================================================
// Chapters and generated content
// ============================================================================

// ListChapters returns chapters ordered by number, without content
func (s *TextbookStore) ListChapters(ctx context.Context, textbookID uuid.UUID) ([]model.Chapter, error) {
	var chapters []model.Chapter
	err := s.db.WithContext(ctx).
		Where("textbook_id = ?", textbookID).
		Order("chapter_number ASC").
		Find(&chapters).Error
	return chapters, err
}

// ListChaptersWithContent returns chapters with their summary and practice items
func (s *TextbookStore) ListChaptersWithContent(ctx context.Context, textbookID uuid.UUID) ([]model.Chapter, error) {
	var chapters []model.Chapter
	err := s.db.WithContext(ctx).
		Preload("Summary").
		Preload("PracticeItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		}).
		Where("textbook_id = ?", textbookID).
		Order("chapter_number ASC").
		Find(&chapters).Error
	return chapters, err
}

// GetChapter loads one chapter, or ErrNotFound
func (s *TextbookStore) GetChapter(ctx context.Context, id uuid.UUID) (*model.Chapter, error) {
	var chapter model.Chapter
	if err := s.db.WithContext(ctx).First(&chapter, "id = ?", id).Error; err != nil {
		return nil, normalize(err)
	}
	return &chapter, nil
}

// CreateChapters persists a full chapter set in one transaction. When the
// textbook already has chapters (a replayed detection stage) the existing set
// is returned untouched and created is false.
func (s *TextbookStore) CreateChapters(ctx context.Context, textbookID uuid.UUID, chapters []model.Chapter) (stored []model.Chapter, created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Textbook{}).Where("id = ?", textbookID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrTextbookNotFound
		}

		if err := tx.Where("textbook_id = ?", textbookID).Order("chapter_number ASC").Find(&stored).Error; err != nil {
			return err
		}
		if len(stored) > 0 {
			return nil
		}

		for i := range chapters {
			chapters[i].TextbookID = textbookID
		}
		if err := tx.Create(&chapters).Error; err != nil {
			return normalize(err)
		}
		stored = chapters
		created = true
		return nil
	})
	return stored, created, err
}

// HasChapterSummary reports whether content was already generated for a chapter
func (s *TextbookStore) HasChapterSummary(ctx context.Context, chapterID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ChapterSummary{}).Where("chapter_id = ?", chapterID).Count(&count).Error
	return count > 0, err
}

// UpsertChapterSummary inserts or replaces the summary for a chapter
func (s *TextbookStore) UpsertChapterSummary(ctx context.Context, summary *model.ChapterSummary) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chapter_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"summary_text", "key_concepts", "updated_at"}),
		}).
		Create(summary).Error
}

// GetChapterSummary loads the summary for a chapter, or ErrNotFound
func (s *TextbookStore) GetChapterSummary(ctx context.Context, chapterID uuid.UUID) (*model.ChapterSummary, error) {
	var summary model.ChapterSummary
	if err := s.db.WithContext(ctx).First(&summary, "chapter_id = ?", chapterID).Error; err != nil {
		return nil, normalize(err)
	}
	return &summary, nil
}

// AppendPracticeItems inserts practice items. Earlier items are kept.
func (s *TextbookStore) AppendPracticeItems(ctx context.Context, items []model.PracticeItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&items).Error
}

// ListPagePracticeItems returns items attached to a page
func (s *TextbookStore) ListPagePracticeItems(ctx context.Context, pageID uuid.UUID) ([]model.PracticeItem, error) {
	var items []model.PracticeItem
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("created_at ASC, order_index ASC").
		Find(&items).Error
	return items, err
}
