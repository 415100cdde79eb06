package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sahilchouksey/study-textbook-api/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// staleAfter matches the default PIPELINE_STALE_AFTER
const staleAfter = 10 * time.Minute

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Build database URL from individual variables
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER_NAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}

	dbURL := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPassword, dbName)

	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	fmt.Println("========================================")
	fmt.Println("TEXTBOOK PIPELINE STATUS CHECK")
	fmt.Println("========================================")

	var textbooks []model.Textbook
	if err := db.Order("created_at DESC").Limit(20).Find(&textbooks).Error; err != nil {
		log.Fatalf("Failed to fetch textbooks: %v", err)
	}

	if len(textbooks) == 0 {
		fmt.Println("\nNo textbooks found in database")
	}
	for _, tb := range textbooks {
		fmt.Printf("─────────────────────────────────────\n")
		fmt.Printf("%s %s\n", statusIcon(tb.IsSettled(), tb.ProcessingStatus, tb.AIProcessingStatus), truncate(tb.Title, 60))
		fmt.Printf("   ID: %s (%d pages)\n", tb.ID, tb.TotalPages)
		fmt.Printf("   Extraction: %-10s %3d%%\n", tb.ProcessingStatus, tb.ProcessingProgress)
		if tb.ProcessingError != nil {
			fmt.Printf("     Error: %s\n", truncate(*tb.ProcessingError, 80))
		}
		fmt.Printf("   AI:         %-10s %3d%%\n", tb.AIProcessingStatus, tb.AIProcessingProgress)
		if tb.AIProcessingError != nil {
			fmt.Printf("     Error: %s\n", truncate(*tb.AIProcessingError, 80))
		}
		fmt.Printf("   Uploaded: %s\n", tb.CreatedAt.Format("2006-01-02 15:04:05"))

		var jobs []model.PipelineJob
		db.Where("textbook_id = ?", tb.ID).Order("created_at ASC").Find(&jobs)
		for _, job := range jobs {
			fmt.Printf("     [%-9s] %-18s attempts=%d\n", job.Status, job.Stage, job.Attempts)
			if job.Error != "" {
				fmt.Printf("       Error: %s\n", truncate(job.Error, 70))
			}
		}
	}

	// Stages a sweeper run would pick up
	staleBefore := time.Now().Add(-staleAfter)
	var stuck []model.PipelineJob
	db.Where("status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)", model.JobStatusRunning, staleBefore).
		Or("status = ? AND updated_at < ?", model.JobStatusPending, staleBefore).
		Find(&stuck)

	fmt.Println("\n========================================")
	fmt.Printf("STALLED STAGES: %d\n", len(stuck))
	fmt.Println("========================================")

	if len(stuck) == 0 {
		fmt.Println("No stalled stages")
	}
	for _, job := range stuck {
		last := job.UpdatedAt
		if job.HeartbeatAt != nil {
			last = *job.HeartbeatAt
		}
		fmt.Printf("⚠️  %s %s - %s (idle %s)\n", job.TextbookID, job.Stage, job.Status, time.Since(last).Round(time.Second))
	}

	// Recent sweeper runs
	fmt.Println("\n========================================")
	fmt.Println("RECENT CRON RUNS")
	fmt.Println("========================================")

	var runs []model.CronJobLog
	db.Order("started_at DESC").Limit(10).Find(&runs)
	if len(runs) == 0 {
		fmt.Println("No cron runs recorded")
	}
	for _, run := range runs {
		detail := run.Message
		if run.ErrorMsg != "" {
			detail = run.ErrorMsg
		}
		fmt.Printf("[%-9s] %-26s %s %s\n", run.Status, run.JobName, run.StartedAt.Format("2006-01-02 15:04:05"), truncate(detail, 50))
	}

	fmt.Println("\n========================================")
}

func statusIcon(settled bool, extraction, ai model.ProcessingStatus) string {
	switch {
	case extraction == model.StatusFailed || ai == model.StatusFailed:
		return "❌"
	case settled:
		return "✅"
	case extraction == model.StatusProcessing || ai == model.StatusProcessing:
		return "🔄"
	default:
		return "⏳"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
