package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("Usage: %s <textbook-id>", os.Args[0])
	}
	textbookID, err := uuid.Parse(os.Args[1])
	if err != nil {
		log.Fatalf("Invalid textbook ID %q: %v", os.Args[1], err)
	}

	// Connect to database
	db, err := connectDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var textbook model.Textbook
	if err := db.First(&textbook, "id = ?", textbookID).Error; err != nil {
		log.Fatalf("Failed to find textbook %s: %v", textbookID, err)
	}

	fmt.Println("══════════════════════════════════════════════════════════════")
	fmt.Printf("  TEXTBOOK %s - PIPELINE REPORT\n", textbook.ID)
	fmt.Println("══════════════════════════════════════════════════════════════")

	fmt.Printf("\n📋 TEXTBOOK:\n")
	fmt.Printf("   Title:       %s\n", textbook.Title)
	fmt.Printf("   Pages:       %d\n", textbook.TotalPages)
	fmt.Printf("   Location:    %s\n", textbook.PDFLocation)
	fmt.Printf("   Size:        %d bytes\n", textbook.FileSize)
	fmt.Printf("   Extraction:  %s (%d%%)\n", textbook.ProcessingStatus, textbook.ProcessingProgress)
	fmt.Printf("   AI:          %s (%d%%)\n", textbook.AIProcessingStatus, textbook.AIProcessingProgress)

	// Stage timing
	var jobs []model.PipelineJob
	db.Where("textbook_id = ?", textbook.ID).Order("created_at ASC").Find(&jobs)

	fmt.Printf("\n⏱️  STAGES:\n")
	for _, job := range jobs {
		fmt.Printf("   %-18s %-9s attempts=%d\n", job.Stage, job.Status, job.Attempts)
		fmt.Printf("      Created:   %s\n", job.CreatedAt.Format("2006-01-02 15:04:05.000"))
		if job.ClaimedAt != nil {
			fmt.Printf("      Claimed:   %s (queued %s)\n", job.ClaimedAt.Format("2006-01-02 15:04:05.000"), job.ClaimedAt.Sub(job.CreatedAt))
		}
		if job.CompletedAt != nil && job.ClaimedAt != nil {
			fmt.Printf("      Completed: %s (ran %s)\n", job.CompletedAt.Format("2006-01-02 15:04:05.000"), job.CompletedAt.Sub(*job.ClaimedAt))
		}
		if job.Error != "" {
			fmt.Printf("      ⚠️  Error: %s\n", truncate(job.Error, 60))
		}
	}

	// Stored output
	var pages, chapters, summaries, practice int64
	db.Model(&model.Page{}).Where("textbook_id = ?", textbook.ID).Count(&pages)
	db.Model(&model.Chapter{}).Where("textbook_id = ?", textbook.ID).Count(&chapters)
	db.Model(&model.ChapterSummary{}).
		Joins("JOIN chapters ON chapters.id = chapter_summaries.chapter_id").
		Where("chapters.textbook_id = ?", textbook.ID).
		Count(&summaries)
	db.Model(&model.PracticeItem{}).
		Where("chapter_id IN (?)", db.Model(&model.Chapter{}).Select("id").Where("textbook_id = ?", textbook.ID)).
		Or("page_id IN (?)", db.Model(&model.Page{}).Select("id").Where("textbook_id = ?", textbook.ID)).
		Count(&practice)

	fmt.Printf("\n📦 OUTPUT:\n")
	fmt.Printf("   Pages stored:      %d / %d\n", pages, textbook.TotalPages)
	fmt.Printf("   Chapters:          %d\n", chapters)
	fmt.Printf("   Chapter summaries: %d\n", summaries)
	fmt.Printf("   Practice items:    %d\n", practice)

	fmt.Println("\n══════════════════════════════════════════════════════════════")
	switch {
	case textbook.ProcessingStatus == model.StatusFailed || textbook.AIProcessingStatus == model.StatusFailed:
		fmt.Println("  ❌ PIPELINE FAILED")
	case textbook.IsSettled():
		fmt.Println("  ✅ PIPELINE COMPLETED")
	default:
		fmt.Println("  ⏳ PIPELINE IN PROGRESS")
	}
	fmt.Println("══════════════════════════════════════════════════════════════")
}

func connectDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_USER_NAME", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "study_textbooks"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_SSL_MODE", "disable"),
	)

	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
