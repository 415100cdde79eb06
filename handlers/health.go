package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sahilchouksey/study-textbook-api/database"
)

// Pinger is a dependency that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// InferenceChecker issues a minimal completion against the model API
type InferenceChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports the health of the database and the status cache
type HealthHandler struct {
	store     database.Storage
	cache     Pinger
	inference InferenceChecker
}

// NewHealthHandler creates a health handler. cache may be nil when Redis is
// not configured.
func NewHealthHandler(store database.Storage, cache Pinger) *HealthHandler {
	return &HealthHandler{store: store, cache: cache}
}

// WithInference adds the model API to deep health checks
func (h *HealthHandler) WithInference(checker InferenceChecker) *HealthHandler {
	h.inference = checker
	return h
}

// HandleCheckHealth handles GET /ping
// With ?deep=true the model API is checked too. That costs one completion,
// so it is not part of the default check.
func (h *HealthHandler) HandleCheckHealth(c *fiber.Ctx) error {
	checks := fiber.Map{"database": "ok"}
	status := fiber.StatusOK

	if err := h.store.HealthCheck(); err != nil {
		checks["database"] = err.Error()
		status = fiber.StatusServiceUnavailable
	}

	if h.cache == nil {
		checks["cache"] = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.cache.Ping(ctx); err != nil {
			// The status cache is optional; reads fall through to the database
			checks["cache"] = err.Error()
		} else {
			checks["cache"] = "ok"
		}
	}

	if c.QueryBool("deep") {
		switch {
		case h.inference == nil:
			checks["inference"] = "disabled"
		default:
			ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
			defer cancel()
			// Raw text keeps working without the model API
			if err := h.inference.HealthCheck(ctx); err != nil {
				checks["inference"] = err.Error()
			} else {
				checks["inference"] = "ok"
			}
		}
	}

	overall := "ok"
	if status != fiber.StatusOK {
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": overall, "checks": checks})
}

// Metrics serves the Prometheus registry
func Metrics() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
