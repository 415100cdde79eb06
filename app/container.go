package app

import (
	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/study-textbook-api/config"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/handlers"
	pipeline_handlers "github.com/sahilchouksey/study-textbook-api/handlers/pipeline"
	textbook_handlers "github.com/sahilchouksey/study-textbook-api/handlers/textbook"
	"github.com/sahilchouksey/study-textbook-api/router"
	"github.com/sahilchouksey/study-textbook-api/services"
	"github.com/sahilchouksey/study-textbook-api/services/digitalocean"
	"github.com/sahilchouksey/study-textbook-api/utils/auth"
	"github.com/sahilchouksey/study-textbook-api/utils/cache"
	"github.com/sahilchouksey/study-textbook-api/utils/middleware"
)

// Dependencies are the external systems the pipeline talks to. Each one is
// optional; a nil field disables what depends on it.
type Dependencies struct {
	Completer services.Completer
	Blobs     textbook_handlers.BlobStore
	Cache     *cache.RedisCache
	JWT       *auth.JWTManager
}

// ConnectDependencies builds the external clients from the environment.
// Missing configuration is logged and leaves the field nil.
func ConnectDependencies(env *config.EnviornmentVariable) Dependencies {
	var deps Dependencies

	if env.MODEL_ACCESS_KEY != "" {
		limiter := digitalocean.NewRateLimiter(digitalocean.RateLimiterConfig{
			RequestsPerSecond: env.COMPLETION_RPS,
			Burst:             env.COMPLETION_BURST,
		})
		deps.Completer = digitalocean.NewInferenceClient(digitalocean.InferenceConfig{
			APIKey:  env.MODEL_ACCESS_KEY,
			BaseURL: env.INFERENCE_BASE_URL,
			Model:   env.INFERENCE_MODEL,
			Timeout: env.COMPLETION_TIMEOUT,
			Limiter: limiter,
		})
	} else {
		log.Warn("MODEL_ACCESS_KEY is not set. Chapter detection falls back to a single chapter and the AI track fails.")
	}

	if spaces, err := digitalocean.NewSpacesClientFromEnv(env); err != nil {
		log.Warnf("Spaces storage disabled: %v", err)
	} else {
		deps.Blobs = spaces
	}

	if redisCache, err := cache.NewRedisCache(cache.Config{
		URL:       env.REDIS_URL,
		Namespace: env.REDIS_NAMESPACE,
	}); err != nil {
		log.Warnf("Failed to connect to Redis: %v. Status reads go straight to the database.", err)
	} else {
		deps.Cache = redisCache
	}

	if env.JWT_SECRET != "" {
		deps.JWT = auth.NewJWTManager(auth.JWTConfig{
			Secret: env.JWT_SECRET,
			Issuer: env.JWT_ISSUER,
		})
	} else {
		log.Warn("JWT_SECRET is not set. API routes are unauthenticated.")
	}

	return deps
}

// Close releases connections held by the dependencies
func (d Dependencies) Close() {
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			log.Warnf("Closing Redis: %v", err)
		}
	}
}

// Container wires the pipeline services together
type Container struct {
	Store        *database.TextbookStore
	Source       *services.PDFSource
	Extraction   *services.ExtractionService
	Fallback     *services.PageFallbackService
	Detector     *services.ChapterDetector
	Generator    *services.ContentGenerator
	Tracker      *services.ProgressTracker
	Orchestrator *services.Orchestrator

	storage database.Storage
	deps    Dependencies
}

// NewContainer builds every service on top of storage
func NewContainer(storage database.Storage, env *config.EnviornmentVariable, deps Dependencies) *Container {
	store := database.NewTextbookStore(storage.GetDB())

	var blobs services.BlobStore
	if deps.Blobs != nil {
		blobs = deps.Blobs
	}
	var statusCache services.StatusCache
	if deps.Cache != nil {
		statusCache = deps.Cache
	}

	source := services.NewPDFSource(blobs)
	fallback := services.NewPageFallbackService(store, source, nil)
	extraction := services.NewExtractionService(store, source, nil)
	detector := services.NewChapterDetector(store, deps.Completer)
	generator := services.NewContentGenerator(store, deps.Completer, fallback, services.ContentGeneratorConfig{
		ChapterDelay: env.CHAPTER_DELAY,
	})
	tracker := services.NewProgressTracker(store, statusCache, env.STATUS_CACHE_TTL)
	orchestrator := services.NewOrchestrator(store, extraction, detector, generator, tracker, services.OrchestratorConfig{
		MaxConcurrent: env.PIPELINE_MAX_CONCURRENT,
		StaleAfter:    env.PIPELINE_STALE_AFTER,
	})

	return &Container{
		Store:        store,
		Source:       source,
		Extraction:   extraction,
		Fallback:     fallback,
		Detector:     detector,
		Generator:    generator,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		storage:      storage,
		deps:         deps,
	}
}

// Handlers builds the HTTP handlers over the container's services
func (c *Container) Handlers() router.Handlers {
	var pinger handlers.Pinger
	if c.deps.Cache != nil {
		pinger = c.deps.Cache
	}

	health := handlers.NewHealthHandler(c.storage, pinger)
	if checker, ok := c.deps.Completer.(handlers.InferenceChecker); ok {
		health = health.WithInference(checker)
	}

	return router.Handlers{
		Health:    health,
		Textbooks: textbook_handlers.NewTextbookHandler(c.Store, c.deps.Blobs, c.Orchestrator, c.Tracker, c.Fallback, services.DefaultPollInterval),
		Functions: pipeline_handlers.NewFunctionsHandler(c.Orchestrator, c.Fallback, c.Detector, c.Generator),
		Auth:      middleware.NewAuthMiddleware(c.deps.JWT),
	}
}
