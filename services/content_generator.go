package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/sahilchouksey/study-textbook-api/services/digitalocean"
	"github.com/sahilchouksey/study-textbook-api/utils"
)

const (
	// MaxChapterChars bounds the chapter text sent to the completion service
	MaxChapterChars = 30000
	// DefaultQuestionsPerChapter is the number of recall questions requested
	DefaultQuestionsPerChapter = 5
	// DefaultChapterDelay spaces out chapters to stay under provider limits
	DefaultChapterDelay = 2 * time.Second
	// MinPageTextChars is the least page text worth generating content for
	MinPageTextChars = 100
)

const summarySystemPrompt = `You are an expert teacher writing study notes.
Respond with ONLY a JSON object in this exact format:
{"summary": "3-5 paragraph summary of the chapter", "key_concepts": ["concept", "..."]}`

const questionsSystemPrompt = `You write recall questions that test understanding of a textbook chapter.
Respond with ONLY a JSON array in this exact format:
[{"question": "...", "answer": "...", "difficulty": "easy|medium|hard"}]`

const pageContentSystemPrompt = `You help students connect a textbook page to the real world.
Respond with ONLY a JSON object in this exact format:
{"applications": ["real-world application", "..."], "questions": [{"question": "...", "answer": "...", "difficulty": "easy|medium|hard"}]}`

// ChapterContent is the generated study material of one chapter
type ChapterContent struct {
	ChapterID   uuid.UUID            `json:"chapter_id"`
	Summary     string               `json:"summary"`
	KeyConcepts []string             `json:"key_concepts"`
	Questions   []model.PracticeItem `json:"questions"`
}

// ProcessSummary counts the outcome of a content generation run
type ProcessSummary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// PageContent is the generated material of one page
type PageContent struct {
	Applications []model.PracticeItem `json:"applications"`
	Questions    []model.PracticeItem `json:"questions"`
}

type summaryPayload struct {
	Summary     string          `json:"summary"`
	KeyConcepts json.RawMessage `json:"key_concepts"`
}

type questionPayload struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Difficulty string `json:"difficulty"`
}

type pagePayload struct {
	Applications []string          `json:"applications"`
	Questions    []questionPayload `json:"questions"`
}

// ContentGeneratorConfig tunes the content generator
type ContentGeneratorConfig struct {
	ChapterDelay        time.Duration
	QuestionsPerChapter int
}

// ContentGenerator produces chapter summaries, key concepts and practice
// questions. A failing chapter never stops the others.
type ContentGenerator struct {
	store     *database.TextbookStore
	completer Completer
	fallback  *PageFallbackService
	delay     time.Duration
	questions int
}

// NewContentGenerator creates the per-chapter content generator
func NewContentGenerator(store *database.TextbookStore, completer Completer, fallback *PageFallbackService, config ContentGeneratorConfig) *ContentGenerator {
	if config.ChapterDelay < 0 {
		config.ChapterDelay = 0
	}
	if config.QuestionsPerChapter <= 0 {
		config.QuestionsPerChapter = DefaultQuestionsPerChapter
	}
	return &ContentGenerator{
		store:     store,
		completer: WithCompletionMetrics(completer, "generate_content"),
		fallback:  fallback,
		delay:     config.ChapterDelay,
		questions: config.QuestionsPerChapter,
	}
}

// ProcessAllChapters generates content for every chapter of a textbook,
// replacing earlier summaries
func (g *ContentGenerator) ProcessAllChapters(ctx context.Context, textbookID uuid.UUID) (*ProcessSummary, error) {
	return g.processChapters(ctx, textbookID, false)
}

// ResumeAllChapters is ProcessAllChapters for a recovered run: chapters that
// already have a summary are skipped
func (g *ContentGenerator) ResumeAllChapters(ctx context.Context, textbookID uuid.UUID) (*ProcessSummary, error) {
	return g.processChapters(ctx, textbookID, true)
}

func (g *ContentGenerator) processChapters(ctx context.Context, textbookID uuid.UUID, skipExisting bool) (*ProcessSummary, error) {
	if err := g.store.StartAIProcessing(ctx, textbookID); err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			return nil, fmt.Errorf("text extraction has not completed: %w", err)
		}
		return nil, err
	}

	if g.completer == nil {
		return nil, g.fail(ctx, textbookID, ErrCompletionUnavailable)
	}

	chapters, err := g.store.ListChapters(ctx, textbookID)
	if err != nil {
		return nil, g.fail(ctx, textbookID, err)
	}
	if len(chapters) == 0 {
		return nil, g.fail(ctx, textbookID, ErrNoChapters)
	}

	summary := &ProcessSummary{Total: len(chapters)}
	for i := range chapters {
		chapter := &chapters[i]

		if err := ctx.Err(); err != nil {
			return summary, err
		}

		skip := false
		if skipExisting {
			skip, err = g.store.HasChapterSummary(ctx, chapter.ID)
			if err != nil {
				log.Warnf("[ContentGenerator] Could not check chapter %d of %s: %v", chapter.ChapterNumber, textbookID, err)
				skip = false
			}
		}

		switch {
		case skip:
			summary.Skipped++
			chaptersProcessed.WithLabelValues("skipped").Inc()
		default:
			if _, err := g.generateSafely(ctx, chapter); err != nil {
				if errors.Is(err, database.ErrTextbookNotFound) {
					return summary, err
				}
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				log.Errorf("[ContentGenerator] Chapter %d of %s failed, continuing: %v", chapter.ChapterNumber, textbookID, err)
				summary.Failed++
				chaptersProcessed.WithLabelValues("failed").Inc()
			} else {
				summary.Processed++
				chaptersProcessed.WithLabelValues("generated").Inc()
			}
		}

		progress := int(math.Round(float64(i+1) / float64(len(chapters)) * 100))
		if err := g.store.AdvanceAIProcessing(ctx, textbookID, progress); err != nil {
			return summary, err
		}

		if !skip && i < len(chapters)-1 {
			if err := sleepContext(ctx, g.delay); err != nil {
				return summary, err
			}
		}
	}

	if err := g.store.CompleteAIProcessing(ctx, textbookID); err != nil {
		return summary, err
	}

	log.Infof("[ContentGenerator] Textbook %s: %d generated, %d skipped, %d failed of %d chapters",
		textbookID, summary.Processed, summary.Skipped, summary.Failed, summary.Total)
	return summary, nil
}

func (g *ContentGenerator) fail(ctx context.Context, textbookID uuid.UUID, err error) error {
	if ferr := g.store.FailAIProcessing(ctx, textbookID, err.Error()); ferr != nil {
		log.Errorf("[ContentGenerator] Failed to record failure for %s: %v", textbookID, ferr)
	}
	return err
}

// generateSafely isolates panics raised while handling one chapter
func (g *ContentGenerator) generateSafely(ctx context.Context, chapter *model.Chapter) (content *ChapterContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic generating chapter %d: %v", chapter.ChapterNumber, r)
		}
	}()
	return g.generate(ctx, chapter)
}

// GenerateChapterContent generates and stores the content of one chapter
func (g *ContentGenerator) GenerateChapterContent(ctx context.Context, chapterID uuid.UUID) (*ChapterContent, error) {
	chapter, err := g.store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	return g.generate(ctx, chapter)
}

func (g *ContentGenerator) generate(ctx context.Context, chapter *model.Chapter) (*ChapterContent, error) {
	if g.completer == nil {
		return nil, ErrCompletionUnavailable
	}

	text, err := g.chapterText(ctx, chapter)
	if err != nil {
		return nil, err
	}

	content := &ChapterContent{ChapterID: chapter.ID, KeyConcepts: []string{}}

	if text != "" {
		summaryResp, err := g.completer.Complete(ctx, digitalocean.CompletionRequest{
			SystemPrompt: summarySystemPrompt,
			UserPrompt:   fmt.Sprintf("Chapter %d: %s\n\n%s", chapter.ChapterNumber, chapter.Title, text),
			MaxTokens:    2000,
			Temperature:  0.3,
		})
		if err != nil {
			return nil, fmt.Errorf("summary completion: %w", err)
		}

		questionsResp, err := g.completer.Complete(ctx, digitalocean.CompletionRequest{
			SystemPrompt: questionsSystemPrompt,
			UserPrompt: fmt.Sprintf("Write %d recall questions with answers for chapter %d: %s\n\n%s",
				g.questions, chapter.ChapterNumber, chapter.Title, text),
			MaxTokens:   2000,
			Temperature: 0.5,
		})
		if err != nil {
			return nil, fmt.Errorf("questions completion: %w", err)
		}

		content.Summary, content.KeyConcepts = parseSummary(summaryResp)
		content.Questions = questionItems(parseQuestions(questionsResp), g.questions)
	}

	if err := g.store.UpsertChapterSummary(ctx, &model.ChapterSummary{
		ChapterID:   chapter.ID,
		SummaryText: content.Summary,
		KeyConcepts: content.KeyConcepts,
	}); err != nil {
		return nil, normalizeWriteError(ctx, g.store, chapter.TextbookID, err)
	}

	for i := range content.Questions {
		content.Questions[i].ChapterID = &chapter.ID
	}
	if err := g.store.AppendPracticeItems(ctx, content.Questions); err != nil {
		return nil, normalizeWriteError(ctx, g.store, chapter.TextbookID, err)
	}

	return content, nil
}

// chapterText concatenates the chapter's pages up to MaxChapterChars
func (g *ContentGenerator) chapterText(ctx context.Context, chapter *model.Chapter) (string, error) {
	pages, err := g.store.ListPages(ctx, chapter.TextbookID, chapter.PageStart, chapter.PageEnd)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, page := range pages {
		if !page.HasText() {
			continue
		}
		fmt.Fprintf(&b, "--- Page %d ---\n%s\n\n", page.PageNumber, page.RawText)
		if b.Len() >= MaxChapterChars {
			break
		}
	}
	return truncateRunes(strings.TrimSpace(b.String()), MaxChapterChars), nil
}

// GeneratePageContent generates real-world applications and questions for a
// single page. The page is extracted on demand when it is not stored yet.
func (g *ContentGenerator) GeneratePageContent(ctx context.Context, textbookID uuid.UUID, pageNumber int) (*PageContent, error) {
	result, err := g.fallback.ExtractSinglePage(ctx, textbookID, pageNumber)
	if err != nil {
		return nil, err
	}
	if result.Text == model.EmptyPageText || len([]rune(strings.TrimSpace(result.Text))) < MinPageTextChars {
		return nil, ErrInsufficientText
	}
	if g.completer == nil {
		return nil, ErrCompletionUnavailable
	}

	page, err := g.store.GetPage(ctx, textbookID, pageNumber)
	if err != nil {
		return nil, err
	}

	response, err := g.completer.Complete(ctx, digitalocean.CompletionRequest{
		SystemPrompt: pageContentSystemPrompt,
		UserPrompt:   fmt.Sprintf("Page %d:\n\n%s", pageNumber, truncateRunes(result.Text, MaxChapterChars)),
		MaxTokens:    1500,
		Temperature:  0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("page content completion: %w", err)
	}

	parsed := utils.ParseJSON[pagePayload](response)
	if parsed.IsMalformed() {
		log.Warnf("[ContentGenerator] Unparseable page content for page %d of %s: %q", pageNumber, textbookID, responseExcerpt(parsed.Raw()))
	}
	payload := parsed.OrElse(pagePayload{})

	content := &PageContent{
		Applications: []model.PracticeItem{},
		Questions:    questionItems(payload.Questions, 0),
	}
	for i, app := range payload.Applications {
		app = strings.TrimSpace(app)
		if app == "" {
			continue
		}
		content.Applications = append(content.Applications, model.PracticeItem{
			Kind:        model.PracticeItemApplication,
			Application: app,
			OrderIndex:  i,
		})
	}

	items := make([]model.PracticeItem, 0, len(content.Applications)+len(content.Questions))
	for i := range content.Applications {
		content.Applications[i].PageID = &page.ID
		items = append(items, content.Applications[i])
	}
	for i := range content.Questions {
		content.Questions[i].PageID = &page.ID
		items = append(items, content.Questions[i])
	}
	if err := g.store.AppendPracticeItems(ctx, items); err != nil {
		return nil, err
	}
	return content, nil
}

// parseSummary extracts the summary and key concepts. Key concepts that are
// not a list of strings become an empty list without discarding the summary.
func parseSummary(response string) (string, []string) {
	result := utils.ParseJSON[summaryPayload](response)
	payload, ok := result.Get()
	if !ok {
		log.Warnf("[ContentGenerator] Unparseable summary response, storing placeholder: %q", responseExcerpt(result.Raw()))
		return "", []string{}
	}

	concepts := []string{}
	if len(payload.KeyConcepts) > 0 {
		var parsed []string
		if err := json.Unmarshal(payload.KeyConcepts, &parsed); err != nil {
			log.Warnf("[ContentGenerator] Unparseable key concepts, storing empty list")
		} else {
			for _, c := range parsed {
				if c = strings.TrimSpace(c); c != "" {
					concepts = append(concepts, c)
				}
			}
		}
	}
	return strings.TrimSpace(payload.Summary), concepts
}

func parseQuestions(response string) []questionPayload {
	result := utils.ParseJSONArray[questionPayload](response)
	if result.IsMalformed() {
		log.Warnf("[ContentGenerator] Unparseable questions response, storing none: %q", responseExcerpt(result.Raw()))
	}
	return result.OrElse(nil)
}

// questionItems converts parsed questions into practice items, dropping
// blank questions. limit <= 0 keeps all.
func questionItems(questions []questionPayload, limit int) []model.PracticeItem {
	items := make([]model.PracticeItem, 0, len(questions))
	for _, q := range questions {
		question := strings.TrimSpace(q.Question)
		if question == "" {
			continue
		}
		if limit > 0 && len(items) == limit {
			break
		}
		items = append(items, model.PracticeItem{
			Kind:       model.PracticeItemQuestion,
			Question:   question,
			Answer:     strings.TrimSpace(q.Answer),
			Difficulty: normalizeDifficulty(q.Difficulty),
			OrderIndex: len(items),
		})
	}
	return items
}

func normalizeDifficulty(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "easy":
		return "easy"
	case "hard":
		return "hard"
	default:
		return "medium"
	}
}

// normalizeWriteError reports a write that failed because the textbook was
// deleted mid-run as database.ErrTextbookNotFound
func normalizeWriteError(ctx context.Context, store *database.TextbookStore, textbookID uuid.UUID, err error) error {
	if exists, existsErr := store.TextbookExists(ctx, textbookID); existsErr == nil && !exists {
		return database.ErrTextbookNotFound
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
