package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/sahilchouksey/study-textbook-api/services/digitalocean"
	"github.com/sahilchouksey/study-textbook-api/utils"
)

const (
	// DetectionSamplePages bounds how many leading pages are sent for detection.
	// Chapters starting after this sample are only found if the table of
	// contents lists them.
	DetectionSamplePages = 50
	// DetectionCharsPerPage truncates each sampled page
	DetectionCharsPerPage = 1500
	// FullDocumentTitle names the synthetic chapter used when detection finds nothing
	FullDocumentTitle = "Full Document"
)

const chapterDetectionSystemPrompt = `You analyze textbook structure. Identify where each chapter begins using headings and the table of contents.
Respond with ONLY a JSON array, no prose, in this exact format:
[{"chapter_number": 1, "title": "Introduction", "page_start": 1}]
page_start is the physical page number shown in the "--- Page N ---" markers. Return [] if no chapters can be identified.`

// ChapterEntry is one chapter start as reported by the completion service
type ChapterEntry struct {
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	PageStart     int    `json:"page_start"`
}

// ChapterDetector derives chapter boundaries from a sample of page text
type ChapterDetector struct {
	store     *database.TextbookStore
	completer Completer
}

// NewChapterDetector creates the chapter boundary detector
func NewChapterDetector(store *database.TextbookStore, completer Completer) *ChapterDetector {
	return &ChapterDetector{
		store:     store,
		completer: WithCompletionMetrics(completer, "detect_chapters"),
	}
}

// DetectChapters stores and returns the chapters of a textbook. Chapters
// that already exist are returned unchanged. Detection requires a completed
// text extraction so ranges always cover the full page count.
func (d *ChapterDetector) DetectChapters(ctx context.Context, textbookID uuid.UUID) ([]model.Chapter, error) {
	textbook, err := d.store.GetTextbook(ctx, textbookID)
	if err != nil {
		return nil, err
	}

	existing, err := d.store.ListChapters(ctx, textbookID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	if textbook.ProcessingStatus != model.StatusCompleted {
		return nil, &DetectionError{TextbookID: textbookID, Err: database.ErrInvalidTransition}
	}
	stored, err := d.store.CountPages(ctx, textbookID)
	if err != nil {
		return nil, err
	}
	if stored == 0 || textbook.TotalPages == 0 {
		return nil, &DetectionError{TextbookID: textbookID, Err: ErrNoPages}
	}
	totalPages := textbook.TotalPages

	sample, err := d.store.ListPages(ctx, textbookID, 1, DetectionSamplePages)
	if err != nil {
		return nil, err
	}

	entries := d.requestEntries(ctx, textbookID, sample)
	chapters := BuildChapterRanges(entries, totalPages)

	saved, created, err := d.store.CreateChapters(ctx, textbookID, chapters)
	if err != nil {
		return nil, err
	}
	if created {
		log.Infof("[ChapterDetector] Textbook %s: %d chapters over %d pages", textbookID, len(saved), totalPages)
	}
	return saved, nil
}

// requestEntries asks the completion service for chapter starts. Any failure
// yields nil so the caller falls back to a single chapter.
func (d *ChapterDetector) requestEntries(ctx context.Context, textbookID uuid.UUID, sample []model.Page) []ChapterEntry {
	if d.completer == nil {
		return nil
	}

	var prompt strings.Builder
	prompt.WriteString("Identify the chapters of this textbook from its first pages.\n\n")
	for _, page := range sample {
		if !page.HasText() {
			continue
		}
		fmt.Fprintf(&prompt, "--- Page %d ---\n%s\n\n", page.PageNumber, truncateRunes(page.RawText, DetectionCharsPerPage))
	}

	response, err := d.completer.Complete(ctx, digitalocean.CompletionRequest{
		SystemPrompt: chapterDetectionSystemPrompt,
		UserPrompt:   prompt.String(),
		MaxTokens:    2000,
		Temperature:  0.1,
	})
	if err != nil {
		log.Warnf("[ChapterDetector] Completion failed for %s, using a single chapter: %v", textbookID, err)
		return nil
	}

	parsed := utils.ParseJSONArray[ChapterEntry](response)
	entries, ok := parsed.Get()
	if !ok {
		log.Warnf("[ChapterDetector] Unparseable chapter list for %s, using a single chapter: %q", textbookID, responseExcerpt(parsed.Raw()))
		return nil
	}
	return entries
}

// BuildChapterRanges turns chapter starts into contiguous page ranges
// covering 1..totalPages. Starts are clamped into 1..totalPages before
// sorting, duplicates keep the first entry and the first chapter always
// begins on page 1. No usable entry yields one chapter
// spanning the whole document.
func BuildChapterRanges(entries []ChapterEntry, totalPages int) []model.Chapter {
	if totalPages < 1 {
		totalPages = 1
	}

	valid := make([]ChapterEntry, 0, len(entries))
	for _, e := range entries {
		if e.PageStart > totalPages {
			e.PageStart = totalPages
		}
		if e.PageStart < 1 {
			e.PageStart = 1
		}
		valid = append(valid, e)
	}

	if len(valid) == 0 {
		return []model.Chapter{{
			ChapterNumber: 1,
			Title:         FullDocumentTitle,
			PageStart:     1,
			PageEnd:       totalPages,
		}}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].PageStart < valid[j].PageStart
	})

	deduped := valid[:1]
	for _, e := range valid[1:] {
		if e.PageStart != deduped[len(deduped)-1].PageStart {
			deduped = append(deduped, e)
		}
	}
	deduped[0].PageStart = 1

	chapters := make([]model.Chapter, len(deduped))
	for i, e := range deduped {
		end := totalPages
		if i+1 < len(deduped) {
			end = deduped[i+1].PageStart - 1
		}
		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		chapters[i] = model.Chapter{
			ChapterNumber: i + 1,
			Title:         truncateRunes(title, 500),
			PageStart:     e.PageStart,
			PageEnd:       end,
		}
	}
	return chapters
}

// IsDetectionError reports whether err is a *DetectionError
func IsDetectionError(err error) bool {
	var detErr *DetectionError
	return errors.As(err, &detErr)
}

// truncateRunes cuts s to at most n runes
// responseExcerpt shortens a model response for log lines
func responseExcerpt(raw string) string {
	const max = 200
	raw = strings.TrimSpace(raw)
	if short := truncateRunes(raw, max); len(short) < len(raw) {
		return short + "..."
	}
	return raw
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
