package cron

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/study-textbook-api/model"
	"gorm.io/gorm"
)

// Recoverer re-dispatches abandoned pipeline stages
type Recoverer interface {
	Recover(ctx context.Context, pendingBefore time.Time) (int, error)
	StaleAfter() time.Duration
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron      *cron.Cron
	db        *gorm.DB
	recoverer Recoverer
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, recoverer Recoverer) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:      c,
		db:        db,
		recoverer: recoverer,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Info("[CRON] Starting cron jobs...")

	// Register all jobs
	if err := m.registerJobs(); err != nil {
		return err
	}

	// Start the cron scheduler
	m.cron.Start()

	log.Info("[CRON] Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs
func (m *CronManager) Stop() {
	log.Info("[CRON] Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Info("[CRON] Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// 1. Every minute: re-dispatch stalled pipelines
	_, err := m.cron.AddFunc("0 * * * * *", func() {
		m.RecoverStalledPipelines()
	})
	if err != nil {
		return err
	}

	// 2. Daily at 2 AM: Cleanup old cron logs
	_, err = m.cron.AddFunc("0 0 2 * * *", func() {
		m.CleanupOldLogs()
	})
	if err != nil {
		return err
	}

	log.Info("[CRON] All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) *model.CronJobLog {
	log.Debugf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	// Log to database
	cronLog := &model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now(),
	}
	if err := m.db.Create(cronLog).Error; err != nil {
		log.Warnf("[CRON] Failed to record start of %s: %v", jobName, err)
	}
	return cronLog
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(cronLog *model.CronJobLog, message string) {
	log.Debugf("[CRON] Completed job: %s - %s", cronLog.JobName, message)
	m.finishLog(cronLog, map[string]interface{}{
		"status":  "completed",
		"message": message,
	})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(cronLog *model.CronJobLog, err error) {
	log.Errorf("[CRON] Error in job: %s - %v", cronLog.JobName, err)
	m.finishLog(cronLog, map[string]interface{}{
		"status":    "failed",
		"error_msg": err.Error(),
	})
}

func (m *CronManager) finishLog(cronLog *model.CronJobLog, updates map[string]interface{}) {
	if cronLog.ID == 0 {
		return
	}
	now := time.Now()
	updates["completed_at"] = now
	updates["duration"] = int(now.Sub(cronLog.StartedAt).Milliseconds())
	if err := m.db.Model(&model.CronJobLog{}).Where("id = ?", cronLog.ID).Updates(updates).Error; err != nil {
		log.Warnf("[CRON] Failed to update log for %s: %v", cronLog.JobName, err)
	}
}
