package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/model"
	"golang.org/x/sync/singleflight"
)

// SinglePageResult is the text of one page. Cached is true when the page
// was already stored before this request.
type SinglePageResult struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	Cached     bool   `json:"cached"`
}

// PageFallbackService serves a page that background extraction has not
// written yet by extracting it on demand and caching it in the store.
type PageFallbackService struct {
	store  *database.TextbookStore
	source *PDFSource
	pdf    PageTextSource
	group  singleflight.Group
}

// NewPageFallbackService creates the on-demand extraction fallback
func NewPageFallbackService(store *database.TextbookStore, source *PDFSource, pdf PageTextSource) *PageFallbackService {
	if pdf == nil {
		pdf = NewPDFExtractor()
	}
	return &PageFallbackService{store: store, source: source, pdf: pdf}
}

// ExtractSinglePage returns the stored page or extracts it. Failures carry
// no persisted state and come back as *FallbackError; ErrPageOutOfRange and
// database.ErrTextbookNotFound are returned unwrapped.
func (s *PageFallbackService) ExtractSinglePage(ctx context.Context, textbookID uuid.UUID, pageNumber int) (*SinglePageResult, error) {
	if pageNumber < 1 {
		return nil, fmt.Errorf("%w: page %d", ErrPageOutOfRange, pageNumber)
	}

	page, err := s.store.GetPage(ctx, textbookID, pageNumber)
	if err == nil {
		fallbackRequests.WithLabelValues("cached").Inc()
		return &SinglePageResult{PageNumber: pageNumber, Text: page.RawText, Cached: true}, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, s.wrap(textbookID, pageNumber, err)
	}

	key := fmt.Sprintf("%s:%d", textbookID, pageNumber)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.extractAndStore(ctx, textbookID, pageNumber)
	})
	if err != nil {
		fallbackRequests.WithLabelValues("failed").Inc()
		if errors.Is(err, ErrPageOutOfRange) || errors.Is(err, database.ErrTextbookNotFound) {
			return nil, err
		}
		return nil, s.wrap(textbookID, pageNumber, err)
	}
	if shared {
		log.Debugf("[PageFallback] Shared extraction of page %d for %s", pageNumber, textbookID)
	}

	fallbackRequests.WithLabelValues("extracted").Inc()
	return &SinglePageResult{PageNumber: pageNumber, Text: v.(string)}, nil
}

func (s *PageFallbackService) extractAndStore(ctx context.Context, textbookID uuid.UUID, pageNumber int) (string, error) {
	textbook, err := s.store.GetTextbook(ctx, textbookID)
	if err != nil {
		return "", err
	}
	if textbook.TotalPages > 0 && pageNumber > textbook.TotalPages {
		return "", fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, pageNumber, textbook.TotalPages)
	}

	content, err := s.source.Fetch(ctx, textbook.PDFLocation)
	if err != nil {
		return "", err
	}

	text, _, err := s.pdf.ExtractPage(content, pageNumber)
	if err != nil {
		return "", err
	}
	if text == "" {
		text = model.EmptyPageText
	}

	err = s.store.InsertPage(ctx, &model.Page{
		TextbookID: textbookID,
		PageNumber: pageNumber,
		RawText:    text,
		Extracted:  true,
	})
	if database.IsDuplicateKey(err) {
		// Another writer stored the page first; serve its row
		winner, getErr := s.store.GetPage(ctx, textbookID, pageNumber)
		if getErr != nil {
			return "", getErr
		}
		return winner.RawText, nil
	}
	if err != nil {
		return "", err
	}

	log.Infof("[PageFallback] Extracted page %d of %s on demand", pageNumber, textbookID)
	return text, nil
}

func (s *PageFallbackService) wrap(textbookID uuid.UUID, pageNumber int, err error) error {
	return &FallbackError{
		TextbookID: textbookID,
		PageNumber: pageNumber,
		Retryable:  true,
		Err:        err,
	}
}
