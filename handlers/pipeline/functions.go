package pipeline

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/services"
	"github.com/sahilchouksey/study-textbook-api/utils/response"
	"github.com/sahilchouksey/study-textbook-api/utils/validation"
)

// FunctionsHandler serves the /functions endpoints that drive each pipeline
// stage directly
type FunctionsHandler struct {
	orchestrator *services.Orchestrator
	fallback     *services.PageFallbackService
	detector     *services.ChapterDetector
	generator    *services.ContentGenerator
	validator    *validation.Validator
}

// NewFunctionsHandler creates a new functions handler
func NewFunctionsHandler(
	orchestrator *services.Orchestrator,
	fallback *services.PageFallbackService,
	detector *services.ChapterDetector,
	generator *services.ContentGenerator,
) *FunctionsHandler {
	return &FunctionsHandler{
		orchestrator: orchestrator,
		fallback:     fallback,
		detector:     detector,
		generator:    generator,
		validator:    validation.NewValidator(),
	}
}

type processPDFRequest struct {
	TextbookID string `json:"textbook_id" validate:"required,uuid"`
	PDFURL     string `json:"pdf_url" validate:"required"`
}

type extractTextRequest struct {
	TextbookID string `json:"textbook_id" validate:"required,uuid"`
	FilePath   string `json:"file_path" validate:"required"`
}

type textbookRequest struct {
	TextbookID string `json:"textbook_id" validate:"required,uuid"`
}

type pageRequest struct {
	TextbookID string `json:"textbook_id" validate:"required,uuid"`
	PageNumber int    `json:"page_number" validate:"required,gte=1"`
}

type chapterRequest struct {
	ChapterID string `json:"chapter_id" validate:"required,uuid"`
}

// ProcessPDF handles POST /api/v1/functions/process-pdf
// Extracts all pages synchronously, then schedules the AI stages.
func (h *FunctionsHandler) ProcessPDF(c *fiber.Ctx) error {
	var req processPDFRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}
	textbookID := uuid.MustParse(req.TextbookID)

	result, err := h.orchestrator.RunExtractionNow(c.UserContext(), textbookID, strings.TrimSpace(req.PDFURL), true)
	if err != nil {
		log.Errorf("[Functions] process-pdf failed for %s: %v", textbookID, err)
		return functionError(c, err)
	}

	return response.FunctionResult(c, fiber.Map{
		"success":     true,
		"total_pages": result.PageCount,
	})
}

// ExtractPDFText handles POST /api/v1/functions/extract-pdf-text
// Runs extraction only; the AI stages are left untouched.
func (h *FunctionsHandler) ExtractPDFText(c *fiber.Ctx) error {
	var req extractTextRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}
	textbookID := uuid.MustParse(req.TextbookID)

	result, err := h.orchestrator.RunExtractionNow(c.UserContext(), textbookID, strings.TrimSpace(req.FilePath), false)
	if err != nil {
		log.Errorf("[Functions] extract-pdf-text failed for %s: %v", textbookID, err)
		return functionError(c, err)
	}

	return response.FunctionResult(c, fiber.Map{
		"success": true,
		"pages":   result.PageCount,
	})
}

// ExtractSinglePage handles POST /api/v1/functions/extract-single-page
func (h *FunctionsHandler) ExtractSinglePage(c *fiber.Ctx) error {
	var req pageRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	result, err := h.fallback.ExtractSinglePage(c.UserContext(), uuid.MustParse(req.TextbookID), req.PageNumber)
	if err != nil {
		return functionError(c, err)
	}

	return response.FunctionResult(c, fiber.Map{
		"text":   result.Text,
		"cached": result.Cached,
	})
}

// DetectChapters handles POST /api/v1/functions/detect-chapters
func (h *FunctionsHandler) DetectChapters(c *fiber.Ctx) error {
	var req textbookRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	chapters, err := h.detector.DetectChapters(c.UserContext(), uuid.MustParse(req.TextbookID))
	if err != nil {
		return functionError(c, err)
	}

	return response.FunctionResult(c, fiber.Map{
		"success":  true,
		"chapters": chapters,
		"count":    len(chapters),
	})
}

// GenerateChapterContent handles POST /api/v1/functions/generate-chapter-content
func (h *FunctionsHandler) GenerateChapterContent(c *fiber.Ctx) error {
	var req chapterRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	content, err := h.generator.GenerateChapterContent(c.UserContext(), uuid.MustParse(req.ChapterID))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return response.FunctionFailure(c, fiber.StatusNotFound, "Chapter not found", response.CodeChapterNotFound, "")
		}
		return functionError(c, err)
	}

	return response.FunctionResult(c, fiber.Map{
		"success":         true,
		"summary":         content.Summary,
		"key_concepts":    content.KeyConcepts,
		"questions_count": len(content.Questions),
	})
}

// ProcessPDFAI handles POST /api/v1/functions/process-pdf-ai
// Detects chapters when needed and generates content for every chapter.
func (h *FunctionsHandler) ProcessPDFAI(c *fiber.Ctx) error {
	var req textbookRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}
	textbookID := uuid.MustParse(req.TextbookID)

	summary, err := h.orchestrator.RunContentGenerationNow(c.UserContext(), textbookID)
	if err != nil {
		log.Errorf("[Functions] process-pdf-ai failed for %s: %v", textbookID, err)
		return functionError(c, err)
	}

	return response.FunctionResult(c, fiber.Map{
		"success":           true,
		"chaptersProcessed": summary.Processed,
		"chaptersFailed":    summary.Failed,
		"chaptersTotal":     summary.Total,
	})
}

// GeneratePageContent handles POST /api/v1/functions/generate-page-content
func (h *FunctionsHandler) GeneratePageContent(c *fiber.Ctx) error {
	var req pageRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	content, err := h.generator.GeneratePageContent(c.UserContext(), uuid.MustParse(req.TextbookID), req.PageNumber)
	if err != nil {
		return functionError(c, err)
	}

	applications := make([]string, len(content.Applications))
	for i, app := range content.Applications {
		applications[i] = app.Application
	}
	return response.FunctionResult(c, fiber.Map{
		"applications": applications,
		"questions":    content.Questions,
	})
}

// bind parses and validates the body. When it reports false the failure
// response has been written and the returned error is the write result.
func (h *FunctionsHandler) bind(c *fiber.Ctx, dst interface{}) (bool, error) {
	fieldErrors, err := h.validator.BindJSON(c, dst)
	if err == nil {
		return true, nil
	}
	if fieldErrors != nil {
		return false, response.FunctionFailure(c, fiber.StatusBadRequest, "Validation failed", response.CodeValidation, validation.Summary(fieldErrors))
	}
	return false, response.FunctionFailure(c, fiber.StatusBadRequest, "Invalid request body", response.CodeBadRequest, err.Error())
}

// functionError maps service errors onto the flat {error, code, details} body
func functionError(c *fiber.Ctx, err error) error {
	var fallbackErr *services.FallbackError
	var extractionErr *services.ExtractionError

	switch {
	case errors.Is(err, database.ErrTextbookNotFound):
		return response.FunctionFailure(c, fiber.StatusNotFound, "Textbook not found", response.CodeTextbookNotFound, "")
	case errors.Is(err, services.ErrPageOutOfRange):
		return response.FunctionFailure(c, fiber.StatusBadRequest, "Page number is out of range", response.CodePageOutOfRange, err.Error())
	case errors.Is(err, services.ErrInsufficientText):
		return response.FunctionFailure(c, fiber.StatusBadRequest, "Page has too little text to generate content", response.CodeInsufficientText, "")
	case errors.Is(err, services.ErrStageBusy):
		return response.FunctionFailure(c, fiber.StatusConflict, "This stage is already running for the textbook", response.CodeStageBusy, "")
	case errors.Is(err, services.ErrCompletionUnavailable):
		return response.FunctionFailure(c, fiber.StatusServiceUnavailable, "Content generation is not configured", response.CodeCompletionUnavailable, "")
	case errors.As(err, &fallbackErr):
		return response.FunctionFailure(c, fiber.StatusServiceUnavailable, "Page text is not available yet, try again shortly", response.CodeTextNotExtracted, fallbackErr.Err.Error())
	case errors.Is(err, services.ErrNoPages), errors.Is(err, database.ErrInvalidTransition):
		return response.FunctionFailure(c, fiber.StatusServiceUnavailable, "Text extraction has not completed", response.CodeTextNotExtracted, err.Error())
	case errors.As(err, &extractionErr):
		return response.FunctionFailure(c, fiber.StatusInternalServerError, "Failed to process PDF", response.CodeProcessingFailed, extractionErr.Err.Error())
	default:
		return response.FunctionFailure(c, fiber.StatusInternalServerError, "Processing failed", response.CodeProcessingFailed, err.Error())
	}
}
