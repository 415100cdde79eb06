package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/model"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxConcurrentPipelines bounds pipelines running at once
	DefaultMaxConcurrentPipelines = 4
	// DefaultStaleAfter is how long a running stage may go without a heartbeat
	DefaultStaleAfter = 10 * time.Minute
	// recoveryBatchSize bounds jobs re-dispatched per sweep
	recoveryBatchSize = 100
)

// OrchestratorConfig tunes the pipeline orchestrator
type OrchestratorConfig struct {
	MaxConcurrent     int
	StaleAfter        time.Duration
	HeartbeatInterval time.Duration // defaults to StaleAfter/4
}

// Orchestrator runs the pipeline of each textbook: extraction, chapter
// detection and content generation, in that order. Every stage is backed by
// a PipelineJob row so a crashed run can be claimed again by Recover.
type Orchestrator struct {
	store      *database.TextbookStore
	extraction *ExtractionService
	detector   *ChapterDetector
	generator  *ContentGenerator
	tracker    *ProgressTracker

	sem        *semaphore.Weighted
	staleAfter time.Duration
	heartbeat  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// NewOrchestrator creates the orchestrator. tracker may be nil.
func NewOrchestrator(store *database.TextbookStore, extraction *ExtractionService, detector *ChapterDetector, generator *ContentGenerator, tracker *ProgressTracker, config OrchestratorConfig) *Orchestrator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrentPipelines
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.StaleAfter / 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      store,
		extraction: extraction,
		detector:   detector,
		generator:  generator,
		tracker:    tracker,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
		staleAfter: config.StaleAfter,
		heartbeat:  config.HeartbeatInterval,
		ctx:        ctx,
		cancel:     cancel,
		inflight:   make(map[uuid.UUID]struct{}),
	}
}

// Submit records the extraction stage of a new textbook and schedules its
// pipeline in the background
func (o *Orchestrator) Submit(ctx context.Context, textbookID uuid.UUID, pdfLocation string) error {
	if _, err := o.store.EnsureJob(ctx, textbookID, model.StageExtraction, pdfLocation); err != nil {
		return fmt.Errorf("failed to record extraction job: %w", err)
	}
	o.dispatch(textbookID)
	return nil
}

// RunExtractionNow runs extraction in the caller's goroutine. When
// scheduleAI is set the AI stages are reset and scheduled in the background
// on success.
func (o *Orchestrator) RunExtractionNow(ctx context.Context, textbookID uuid.UUID, pdfLocation string, scheduleAI bool) (*ExtractionResult, error) {
	job, err := o.claimFresh(ctx, textbookID, model.StageExtraction, pdfLocation)
	if err != nil {
		return nil, err
	}

	var result *ExtractionResult
	err = o.runJob(ctx, job, func(ctx context.Context) error {
		result, err = o.extraction.ExtractFromLocation(ctx, textbookID, pdfLocation)
		return err
	})
	if err != nil {
		return nil, err
	}

	if scheduleAI {
		for _, stage := range []model.PipelineStage{model.StageChapterDetection, model.StageContentGeneration} {
			if _, err := o.store.ResetJob(ctx, textbookID, stage, "", o.staleBefore()); err != nil && !errors.Is(err, database.ErrInvalidTransition) {
				log.Warnf("[Pipeline] Could not reset %s for %s: %v", stage, textbookID, err)
			}
		}
		o.dispatch(textbookID)
	}
	return result, nil
}

// RunContentGenerationNow detects chapters when needed and generates content
// for all of them in the caller's goroutine
func (o *Orchestrator) RunContentGenerationNow(ctx context.Context, textbookID uuid.UUID) (*ProcessSummary, error) {
	job, err := o.claimFresh(ctx, textbookID, model.StageContentGeneration, "")
	if err != nil {
		return nil, err
	}

	var summary *ProcessSummary
	err = o.runJob(ctx, job, func(ctx context.Context) error {
		if err := o.detectChapters(ctx, textbookID); err != nil {
			return err
		}
		summary, err = o.generator.ProcessAllChapters(ctx, textbookID)
		return err
	})
	return summary, err
}

// Recover dispatches pipelines whose stage was never started (pending since
// before pendingBefore) or whose worker stopped heartbeating. It returns the
// number of textbooks dispatched.
func (o *Orchestrator) Recover(ctx context.Context, pendingBefore time.Time) (int, error) {
	jobs, err := o.store.ListRecoverableJobs(ctx, pendingBefore, o.staleBefore(), recoveryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list recoverable jobs: %w", err)
	}

	dispatched := 0
	seen := make(map[uuid.UUID]struct{}, len(jobs))
	for _, job := range jobs {
		if _, ok := seen[job.TextbookID]; ok {
			continue
		}
		seen[job.TextbookID] = struct{}{}
		if o.dispatch(job.TextbookID) {
			dispatched++
		}
	}
	if dispatched > 0 {
		log.Infof("[Pipeline] Recovered %d pipelines", dispatched)
	}
	return dispatched, nil
}

// StaleAfter returns the heartbeat age after which a running stage is abandoned
func (o *Orchestrator) StaleAfter() time.Duration {
	return o.staleAfter
}

// Shutdown cancels running pipelines and waits for their goroutines to exit.
// Interrupted stages keep their running status and are recovered once their
// heartbeat goes stale.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch starts the pipeline goroutine unless one is already running for
// the textbook in this process
func (o *Orchestrator) dispatch(textbookID uuid.UUID) bool {
	if o.ctx.Err() != nil {
		return false
	}

	o.mu.Lock()
	if _, ok := o.inflight[textbookID]; ok {
		o.mu.Unlock()
		return false
	}
	o.inflight[textbookID] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(textbookID)
	return true
}

// run walks the stages in order, running each pending or abandoned one
func (o *Orchestrator) run(textbookID uuid.UUID) {
	defer func() {
		o.mu.Lock()
		delete(o.inflight, textbookID)
		o.mu.Unlock()
		o.wg.Done()
	}()

	if err := o.sem.Acquire(o.ctx, 1); err != nil {
		return
	}
	defer o.sem.Release(1)

	pipelinesInFlight.Inc()
	defer pipelinesInFlight.Dec()

	for stage := model.StageExtraction; stage != ""; stage = stage.Next() {
		if o.ctx.Err() != nil {
			return
		}

		job, err := o.store.GetJob(o.ctx, textbookID, stage)
		if errors.Is(err, database.ErrNotFound) {
			return
		}
		if err != nil {
			log.Errorf("[Pipeline] Failed to load %s job for %s: %v", stage, textbookID, err)
			return
		}

		switch job.Status {
		case model.JobStatusCompleted:
			continue
		case model.JobStatusFailed:
			return
		}

		claimed, err := o.store.ClaimJob(o.ctx, job.ID, o.staleBefore())
		if err != nil {
			log.Errorf("[Pipeline] Failed to claim %s for %s: %v", stage, textbookID, err)
			return
		}
		if !claimed {
			// Another worker owns this stage
			return
		}
		job.Attempts++
		if job.Attempts > 1 {
			log.Infof("[Pipeline] Resuming %s for %s (attempt %d)", stage, textbookID, job.Attempts)
		}

		if err := o.runJob(o.ctx, job, o.stageFunc(job)); err != nil {
			return
		}

		if next := stage.Next(); next != "" {
			if _, err := o.store.EnsureJob(o.ctx, textbookID, next, ""); err != nil {
				log.Errorf("[Pipeline] Failed to record %s for %s: %v", next, textbookID, err)
				return
			}
		}
	}
}

func (o *Orchestrator) stageFunc(job *model.PipelineJob) func(context.Context) error {
	textbookID := job.TextbookID
	switch job.Stage {
	case model.StageExtraction:
		return func(ctx context.Context) error {
			location := job.Source
			if location == "" {
				textbook, err := o.store.GetTextbook(ctx, textbookID)
				if err != nil {
					return err
				}
				location = textbook.PDFLocation
			}
			_, err := o.extraction.ExtractFromLocation(ctx, textbookID, location)
			return err
		}
	case model.StageChapterDetection:
		return func(ctx context.Context) error {
			return o.detectChapters(ctx, textbookID)
		}
	default:
		resume := job.Attempts > 1
		return func(ctx context.Context) error {
			var err error
			if resume {
				_, err = o.generator.ResumeAllChapters(ctx, textbookID)
			} else {
				_, err = o.generator.ProcessAllChapters(ctx, textbookID)
			}
			return err
		}
	}
}

// detectChapters opens the AI track and detects chapters. A detection
// failure fails the AI track only.
func (o *Orchestrator) detectChapters(ctx context.Context, textbookID uuid.UUID) error {
	if err := o.store.StartAIProcessing(ctx, textbookID); err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			return fmt.Errorf("text extraction has not completed: %w", err)
		}
		return err
	}
	if _, err := o.detector.DetectChapters(ctx, textbookID); err != nil {
		if !errors.Is(err, database.ErrTextbookNotFound) && ctx.Err() == nil {
			if ferr := o.store.FailAIProcessing(ctx, textbookID, err.Error()); ferr != nil {
				log.Errorf("[Pipeline] Failed to record detection failure for %s: %v", textbookID, ferr)
			}
		}
		return err
	}
	return nil
}

// claimFresh resets a stage and claims it for a synchronous run
func (o *Orchestrator) claimFresh(ctx context.Context, textbookID uuid.UUID, stage model.PipelineStage, source string) (*model.PipelineJob, error) {
	job, err := o.store.ResetJob(ctx, textbookID, stage, source, o.staleBefore())
	if errors.Is(err, database.ErrInvalidTransition) {
		return nil, ErrStageBusy
	}
	if err != nil {
		return nil, err
	}

	claimed, err := o.store.ClaimJob(ctx, job.ID, o.staleBefore())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrStageBusy
	}
	job.Attempts = 1
	return job, nil
}

// runJob executes fn for a claimed job while heartbeating, and records the
// outcome on the job. Panics become failures.
func (o *Orchestrator) runJob(ctx context.Context, job *model.PipelineJob, fn func(context.Context) error) (err error) {
	start := time.Now()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go o.keepAlive(hbCtx, job.ID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s stage: %v", job.Stage, r)
			log.Errorf("[Pipeline] %v", err)
			o.recordTrackFailure(job, err)
		}

		status := "completed"
		if err != nil {
			status = "failed"
		}
		stageDuration.WithLabelValues(string(job.Stage), status).Observe(time.Since(start).Seconds())

		o.finishJob(ctx, job, err)
		if o.tracker != nil {
			o.tracker.Invalidate(context.Background(), job.TextbookID)
		}
	}()

	return fn(ctx)
}

// finishJob records the stage outcome. Interrupted stages are left running
// so that recovery picks them up; stages of a deleted textbook need no record.
func (o *Orchestrator) finishJob(ctx context.Context, job *model.PipelineJob, err error) {
	if err == nil {
		if cerr := o.store.CompleteJob(ctx, job.ID); cerr != nil {
			log.Errorf("[Pipeline] Failed to complete %s job for %s: %v", job.Stage, job.TextbookID, cerr)
		}
		return
	}

	switch {
	case ctx.Err() != nil:
		log.Warnf("[Pipeline] %s for %s interrupted: %v", job.Stage, job.TextbookID, err)
	case errors.Is(err, database.ErrTextbookNotFound):
		log.Infof("[Pipeline] Textbook %s deleted during %s, stopping", job.TextbookID, job.Stage)
	default:
		log.Errorf("[Pipeline] %s failed for %s: %v", job.Stage, job.TextbookID, err)
		if ferr := o.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			log.Errorf("[Pipeline] Failed to record %s failure for %s: %v", job.Stage, job.TextbookID, ferr)
		}
	}
}

// recordTrackFailure makes a panic visible on the textbook's status
func (o *Orchestrator) recordTrackFailure(job *model.PipelineJob, err error) {
	ctx := context.Background()
	var ferr error
	if job.Stage == model.StageExtraction {
		ferr = o.store.FailProcessing(ctx, job.TextbookID, err.Error())
	} else {
		ferr = o.store.FailAIProcessing(ctx, job.TextbookID, err.Error())
	}
	if ferr != nil && !errors.Is(ferr, database.ErrTextbookNotFound) {
		log.Errorf("[Pipeline] Failed to record panic for %s: %v", job.TextbookID, ferr)
	}
}

func (o *Orchestrator) keepAlive(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(o.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.store.HeartbeatJob(ctx, jobID); err != nil && ctx.Err() == nil {
				log.Warnf("[Pipeline] Heartbeat failed for job %s: %v", jobID, err)
			}
		}
	}
}

func (o *Orchestrator) staleBefore() time.Time {
	return time.Now().Add(-o.staleAfter)
}
