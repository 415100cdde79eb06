package textbook

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/sahilchouksey/study-textbook-api/services"
	"github.com/sahilchouksey/study-textbook-api/services/digitalocean"
	"github.com/sahilchouksey/study-textbook-api/utils/middleware"
	"github.com/sahilchouksey/study-textbook-api/utils/pdfvalidation"
	"github.com/sahilchouksey/study-textbook-api/utils/response"
	"github.com/sahilchouksey/study-textbook-api/utils/validation"
)

// BlobStore is the object storage textbooks are uploaded to.
// *digitalocean.SpacesClient satisfies it.
type BlobStore interface {
	services.BlobStore
	Delete(ctx context.Context, key string) error
}

// TextbookHandler handles textbook resource requests
type TextbookHandler struct {
	store        *database.TextbookStore
	blobs        BlobStore
	orchestrator *services.Orchestrator
	tracker      *services.ProgressTracker
	fallback     *services.PageFallbackService
	pollInterval time.Duration
}

// NewTextbookHandler creates a new textbook handler. blobs may be nil, in
// which case uploads are refused.
func NewTextbookHandler(
	store *database.TextbookStore,
	blobs BlobStore,
	orchestrator *services.Orchestrator,
	tracker *services.ProgressTracker,
	fallback *services.PageFallbackService,
	pollInterval time.Duration,
) *TextbookHandler {
	if pollInterval <= 0 {
		pollInterval = services.DefaultPollInterval
	}
	return &TextbookHandler{
		store:        store,
		blobs:        blobs,
		orchestrator: orchestrator,
		tracker:      tracker,
		fallback:     fallback,
		pollInterval: pollInterval,
	}
}

// UploadTextbook handles POST /api/v1/textbooks
func (h *TextbookHandler) UploadTextbook(c *fiber.Ctx) error {
	if h.blobs == nil {
		return response.ServiceUnavailable(c, "File storage is not configured")
	}

	title := validation.SanitizeString(c.FormValue("title"))
	if title == "" {
		return response.BadRequest(c, "Title is required")
	}
	if len(title) > 500 {
		return response.BadRequest(c, "Title must be at most 500 characters")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.BadRequest(c, "File is required")
	}

	content, result, err := pdfvalidation.ReadPDFFile(file, pdfvalidation.TextbookLimits)
	if err != nil {
		return response.InternalServerError(c, "Failed to read uploaded file")
	}
	if !result.Valid {
		return response.BadRequest(c, result.Error)
	}

	ctx := c.UserContext()
	key := digitalocean.GenerateKey("textbooks", file.Filename)
	url, err := h.blobs.Upload(ctx, key, content, "application/pdf")
	if err != nil {
		log.Errorf("[Textbooks] Upload of %s failed: %v", file.Filename, err)
		return response.InternalServerError(c, "Failed to store textbook")
	}

	textbook := &model.Textbook{
		ID:          uuid.New(),
		Title:       title,
		TotalPages:  result.PageCount,
		PDFLocation: key,
		PDFURL:      url,
		FileSize:    result.FileSize,
		UploadedBy:  middleware.UserID(c),
	}
	if err := h.store.CreateTextbook(ctx, textbook); err != nil {
		if delErr := h.blobs.Delete(ctx, key); delErr != nil {
			log.Warnf("[Textbooks] Could not remove orphaned upload %s: %v", key, delErr)
		}
		return response.InternalServerError(c, "Failed to create textbook")
	}

	if err := h.orchestrator.Submit(ctx, textbook.ID, key); err != nil {
		log.Errorf("[Textbooks] Could not schedule pipeline for %s: %v", textbook.ID, err)
		return response.InternalServerError(c, "Textbook stored but processing could not be scheduled")
	}

	log.Infow("[Textbooks] Textbook uploaded", "textbook_id", textbook.ID, "pages", result.PageCount, "bytes", result.FileSize)
	return response.Created(c, textbook)
}

// GetTextbook handles GET /api/v1/textbooks/:id
func (h *TextbookHandler) GetTextbook(c *fiber.Ctx) error {
	id, ok := textbookID(c)
	if !ok {
		return response.BadRequest(c, "Invalid textbook ID")
	}

	textbook, err := h.store.GetTextbook(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Failed to fetch textbook")
	}
	return response.Success(c, textbook)
}

// GetStatus handles GET /api/v1/textbooks/:id/status
func (h *TextbookHandler) GetStatus(c *fiber.Ctx) error {
	id, ok := textbookID(c)
	if !ok {
		return response.BadRequest(c, "Invalid textbook ID")
	}

	status, err := h.tracker.GetStatus(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Failed to fetch status")
	}
	return response.Success(c, status)
}

// GetPage handles GET /api/v1/textbooks/:id/pages/:page_number
// Pages that are not stored yet are extracted on demand.
func (h *TextbookHandler) GetPage(c *fiber.Ctx) error {
	id, ok := textbookID(c)
	if !ok {
		return response.BadRequest(c, "Invalid textbook ID")
	}
	pageNumber, err := strconv.Atoi(c.Params("page_number"))
	if err != nil || pageNumber < 1 {
		return response.BadRequest(c, "Invalid page number")
	}

	page, err := h.fallback.ExtractSinglePage(c.UserContext(), id, pageNumber)
	if err != nil {
		var fallbackErr *services.FallbackError
		switch {
		case errors.Is(err, services.ErrPageOutOfRange):
			return response.Error(c, fiber.StatusBadRequest, "Page number is out of range", response.CodePageOutOfRange)
		case errors.As(err, &fallbackErr):
			log.Warnf("[Textbooks] Page %d of %s unavailable: %v", pageNumber, id, err)
			return response.Error(c, fiber.StatusServiceUnavailable, "Page text is not available yet, try again shortly", response.CodeTextNotExtracted)
		default:
			return storeError(c, err, "Failed to fetch page")
		}
	}
	return response.Success(c, page)
}

// ListChapters handles GET /api/v1/textbooks/:id/chapters
func (h *TextbookHandler) ListChapters(c *fiber.Ctx) error {
	id, ok := textbookID(c)
	if !ok {
		return response.BadRequest(c, "Invalid textbook ID")
	}

	ctx := c.UserContext()
	exists, err := h.store.TextbookExists(ctx, id)
	if err != nil {
		return response.InternalServerError(c, "Failed to fetch chapters")
	}
	if !exists {
		return response.NotFound(c, "Textbook not found")
	}

	chapters, err := h.store.ListChaptersWithContent(ctx, id)
	if err != nil {
		return response.InternalServerError(c, "Failed to fetch chapters")
	}
	return response.Success(c, chapters)
}

// DeleteTextbook handles DELETE /api/v1/textbooks/:id
// Stages still running for the textbook stop at their next write.
func (h *TextbookHandler) DeleteTextbook(c *fiber.Ctx) error {
	id, ok := textbookID(c)
	if !ok {
		return response.BadRequest(c, "Invalid textbook ID")
	}

	ctx := c.UserContext()
	textbook, err := h.store.GetTextbook(ctx, id)
	if err != nil {
		return storeError(c, err, "Failed to fetch textbook")
	}
	if err := h.store.DeleteTextbook(ctx, id); err != nil {
		return storeError(c, err, "Failed to delete textbook")
	}
	h.tracker.Invalidate(ctx, id)

	if h.blobs != nil && !strings.HasPrefix(textbook.PDFLocation, "http") {
		if err := h.blobs.Delete(ctx, textbook.PDFLocation); err != nil {
			log.Warnf("[Textbooks] Could not delete %s from storage: %v", textbook.PDFLocation, err)
		}
	}

	return response.SuccessWithMessage(c, "Textbook deleted", fiber.Map{"id": id})
}

func textbookID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	return id, err == nil
}

func storeError(c *fiber.Ctx, err error, message string) error {
	if errors.Is(err, database.ErrTextbookNotFound) || errors.Is(err, database.ErrNotFound) {
		return response.NotFound(c, "Textbook not found")
	}
	log.Errorf("[Textbooks] %s: %v", message, err)
	return response.InternalServerError(c, message)
}
