package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/study-textbook-api/handlers"
	pipeline_handlers "github.com/sahilchouksey/study-textbook-api/handlers/pipeline"
	textbook_handlers "github.com/sahilchouksey/study-textbook-api/handlers/textbook"
	"github.com/sahilchouksey/study-textbook-api/utils/middleware"
)

// Handlers groups everything the routes dispatch to
type Handlers struct {
	Health    *handlers.HealthHandler
	Textbooks *textbook_handlers.TextbookHandler
	Functions *pipeline_handlers.FunctionsHandler
	Auth      *middleware.AuthMiddleware
}

// Config holds the HTTP-level settings of the router
type Config struct {
	AllowedOrigins    string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func SetupRoutes(app *fiber.App, h Handlers, config Config) {
	if config.RateLimitWindow == 0 {
		config.RateLimitWindow = time.Minute
	}

	// Apply security middleware
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    config.AllowedOrigins,
		RateLimitRequests: config.RateLimitRequests,
		RateLimitWindow:   config.RateLimitWindow,
	})

	// Health check and metrics (public)
	app.Get("/ping", h.Health.HandleCheckHealth)
	app.Get("/metrics", handlers.Metrics())

	// API v1 group
	api := app.Group("/api/v1", h.Auth.Required())

	// Stage functions
	functions := api.Group("/functions")
	functions.Post("/process-pdf", h.Functions.ProcessPDF)
	functions.Post("/extract-pdf-text", h.Functions.ExtractPDFText)
	functions.Post("/extract-single-page", h.Functions.ExtractSinglePage)
	functions.Post("/detect-chapters", h.Functions.DetectChapters)
	functions.Post("/generate-chapter-content", h.Functions.GenerateChapterContent)
	functions.Post("/process-pdf-ai", h.Functions.ProcessPDFAI)
	functions.Post("/generate-page-content", h.Functions.GeneratePageContent)

	// Textbook resources
	textbooks := api.Group("/textbooks")
	textbooks.Post("/", h.Textbooks.UploadTextbook)
	textbooks.Get("/:id", h.Textbooks.GetTextbook)
	textbooks.Get("/:id/status", h.Textbooks.GetStatus)
	textbooks.Get("/:id/status/stream", h.Textbooks.StreamStatus)
	textbooks.Get("/:id/pages/:page_number", h.Textbooks.GetPage)
	textbooks.Get("/:id/chapters", h.Textbooks.ListChapters)
	textbooks.Delete("/:id", h.Textbooks.DeleteTextbook)
}
