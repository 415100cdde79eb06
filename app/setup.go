package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/study-textbook-api/api"
	"github.com/sahilchouksey/study-textbook-api/config"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/router"
	"github.com/sahilchouksey/study-textbook-api/services/cron"
)

// shutdownTimeout bounds draining HTTP connections and in-flight pipelines
const shutdownTimeout = 30 * time.Second

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		print("If not running, run the following command:\n")
		print("  make docker-up   (for Docker setup)\n")
		print("  make db-up       (for local PostgreSQL)\n")
		return err
	}

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		print("Error running migrations:\n")
		return err
	}

	deps := ConnectDependencies(getEnv)
	container := NewContainer(store, getEnv, deps)

	// Initialize Cron Manager (only if enabled via environment variable)
	var cronManager *cron.CronManager
	if getEnv.CRON_ENABLED {
		cronManager = cron.NewCronManager(store.GetDB(), container.Orchestrator)
		if err := cronManager.Start(); err != nil {
			// Don't fail the app, startup recovery below still runs
			log.Warnf("Failed to start cron jobs: %v", err)
			cronManager = nil
		}
	}

	// Pick up stages left behind by the previous process
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	if cronManager != nil {
		cronManager.RecoverOnStartup(startupCtx)
	} else if n, err := container.Orchestrator.Recover(startupCtx, time.Now()); err != nil {
		log.Warnf("Startup recovery failed: %v", err)
	} else {
		log.Infof("Startup recovery dispatched %d pipelines", n)
	}
	cancelStartup()

	// Defer Closing DB, cache and stopping cron jobs
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		deps.Close()
		store.Close()
	}()

	// Init API
	var server *api.APIServer = api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	app := server.GetEngine()

	// Setup Routes
	router.SetupRoutes(app, container.Handlers(), router.Config{
		AllowedOrigins:    getEnv.ALLOWED_ORIGINS,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	})

	// Stop on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	// Unfinished stages keep their job rows and are recovered on next start
	if err := container.Orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Pipeline shutdown: %v", err)
	}
	return nil
}
