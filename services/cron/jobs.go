package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/study-textbook-api/model"
)

// cronLogRetention is how long cron job logs are kept
const cronLogRetention = 90 * 24 * time.Hour

// RecoverStalledPipelines re-dispatches stages that were never started or
// whose worker stopped heartbeating.
// Runs every minute.
func (m *CronManager) RecoverStalledPipelines() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cronLog := m.logJobStart("recover_pipelines")

	n, err := m.recoverer.Recover(ctx, time.Now().Add(-m.recoverer.StaleAfter()))
	if err != nil {
		m.logJobError(cronLog, err)
		return
	}
	m.logJobComplete(cronLog, fmt.Sprintf("Dispatched %d pipelines", n))
}

// RecoverOnStartup dispatches every pending stage and every stage abandoned
// by a previous process. Nothing is running yet, so all pending stages are
// eligible.
func (m *CronManager) RecoverOnStartup(ctx context.Context) {
	cronLog := m.logJobStart("recover_pipelines_startup")

	n, err := m.recoverer.Recover(ctx, time.Now())
	if err != nil {
		m.logJobError(cronLog, err)
		return
	}
	m.logJobComplete(cronLog, fmt.Sprintf("Dispatched %d pipelines", n))
}

// CleanupOldLogs removes cron job logs past retention
// Runs daily at 2 AM
func (m *CronManager) CleanupOldLogs() {
	cronLog := m.logJobStart("cleanup_cron_logs")

	cutoff := time.Now().Add(-cronLogRetention)
	result := m.db.Where("created_at < ?", cutoff).Delete(&model.CronJobLog{})
	if result.Error != nil {
		m.logJobError(cronLog, fmt.Errorf("failed to clean cron logs: %w", result.Error))
		return
	}

	log.Infof("[CRON] Cleaned %d old cron logs", result.RowsAffected)
	m.logJobComplete(cronLog, fmt.Sprintf("Cleaned %d old cron logs", result.RowsAffected))
}
