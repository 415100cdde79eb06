package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/model"
)

// DefaultPageBatchSize is the number of pages written per insert
const DefaultPageBatchSize = 10

// ExtractionResult is the outcome of a completed extraction
type ExtractionResult struct {
	PageCount    int   `json:"page_count"`
	PagesWritten int64 `json:"pages_written"`
}

// ExtractionService writes one Page row per physical page of a textbook
type ExtractionService struct {
	store     *database.TextbookStore
	source    *PDFSource
	pdf       PageTextSource
	batchSize int
}

// NewExtractionService creates the text extraction stage
func NewExtractionService(store *database.TextbookStore, source *PDFSource, pdf PageTextSource) *ExtractionService {
	if pdf == nil {
		pdf = NewPDFExtractor()
	}
	return &ExtractionService{
		store:     store,
		source:    source,
		pdf:       pdf,
		batchSize: DefaultPageBatchSize,
	}
}

// ExtractFromLocation downloads the textbook's PDF and extracts it
func (s *ExtractionService) ExtractFromLocation(ctx context.Context, textbookID uuid.UUID, location string) (*ExtractionResult, error) {
	if err := s.store.StartProcessing(ctx, textbookID); err != nil {
		return nil, err
	}

	content, err := s.source.Fetch(ctx, location)
	if err != nil {
		return nil, s.fail(ctx, textbookID, "download", err)
	}
	return s.extract(ctx, textbookID, content)
}

// Extract parses content and stores every page of the textbook. Pages that
// the on-demand fallback already wrote are left untouched.
func (s *ExtractionService) Extract(ctx context.Context, textbookID uuid.UUID, content []byte) (*ExtractionResult, error) {
	if err := s.store.StartProcessing(ctx, textbookID); err != nil {
		return nil, err
	}
	return s.extract(ctx, textbookID, content)
}

func (s *ExtractionService) extract(ctx context.Context, textbookID uuid.UUID, content []byte) (*ExtractionResult, error) {
	start := time.Now()

	pages, err := s.pdf.ExtractPages(content)
	if err != nil {
		return nil, s.fail(ctx, textbookID, "parse", err)
	}
	if len(pages) == 0 {
		return nil, s.fail(ctx, textbookID, "parse", errors.New("PDF has no pages"))
	}

	total := len(pages)
	result := &ExtractionResult{PageCount: total}

	for from := 0; from < total; from += s.batchSize {
		to := from + s.batchSize
		if to > total {
			to = total
		}

		batch := make([]model.Page, 0, to-from)
		for _, p := range pages[from:to] {
			text := p.Text
			if text == "" {
				text = model.EmptyPageText
			}
			batch = append(batch, model.Page{
				TextbookID: textbookID,
				PageNumber: p.Number,
				RawText:    text,
				Extracted:  true,
			})
		}

		written, err := s.store.InsertPagesIgnoreConflicts(ctx, textbookID, batch)
		if err != nil {
			return nil, s.fail(ctx, textbookID, "store", err)
		}
		result.PagesWritten += written
		pagesExtracted.Add(float64(written))

		if err := s.store.AdvanceProcessing(ctx, textbookID, extractionProgress(to, total)); err != nil {
			return nil, s.fail(ctx, textbookID, "store", err)
		}
	}

	if err := s.store.CompleteProcessing(ctx, textbookID, total); err != nil {
		return nil, s.fail(ctx, textbookID, "store", err)
	}

	log.Infof("[Extraction] Textbook %s: %d pages (%d new) in %v",
		textbookID, total, result.PagesWritten, time.Since(start).Round(time.Millisecond))
	return result, nil
}

// fail records the failure on the textbook and wraps it. A deleted textbook
// or a cancelled context (shutdown) is returned as-is without touching the
// row, so recovery can resume the stage.
func (s *ExtractionService) fail(ctx context.Context, textbookID uuid.UUID, step string, err error) error {
	if errors.Is(err, database.ErrTextbookNotFound) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.Errorf("[Extraction] Textbook %s failed at %s: %v", textbookID, step, err)

	extErr := &ExtractionError{TextbookID: textbookID, Step: step, Err: err}
	if ferr := s.store.FailProcessing(ctx, textbookID, extErr.Error()); ferr != nil && !errors.Is(ferr, database.ErrTextbookNotFound) {
		log.Errorf("[Extraction] Failed to record failure for %s: %v", textbookID, ferr)
	}
	return extErr
}

// extractionProgress stays below 100 until the stage completes
func extractionProgress(done, total int) int {
	p := int(math.Round(float64(done) / float64(total) * 100))
	if p > 99 {
		p = 99
	}
	return p
}
