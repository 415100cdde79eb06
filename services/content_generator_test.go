package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/database/dbtest"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/sahilchouksey/study-textbook-api/services/digitalocean"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	summaryJSON   = `{"summary": "Cells are the unit of life.", "key_concepts": ["cell", "membrane"]}`
	questionsJSON = "```json\n" + `[
  {"question": "What is a cell?", "answer": "The basic unit of life.", "difficulty": "Easy"},
  {"question": "What does the membrane do?", "answer": "Controls transport.", "difficulty": "extreme"},
  {"question": "", "answer": "dropped"}
]` + "\n```"
)

func newGenerator(store *database.TextbookStore, completer Completer) *ContentGenerator {
	return NewContentGenerator(store, completer, nil, ContentGeneratorConfig{})
}

func threeChapterTextbook(t *testing.T, store *database.TextbookStore) (*model.Textbook, []model.Chapter) {
	t.Helper()
	textbook := extractedTextbook(t, store, pageTexts(9))
	chapters := withChapters(t, store, textbook.ID,
		model.Chapter{Title: "First", PageStart: 1, PageEnd: 3},
		model.Chapter{Title: "Second", PageStart: 4, PageEnd: 6},
		model.Chapter{Title: "Third", PageStart: 7, PageEnd: 9},
	)
	return textbook, chapters
}

func TestProcessAllChaptersGeneratesContent(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook, chapters := threeChapterTextbook(t, store)

	gen := newGenerator(store, scriptedCompleter("", summaryJSON, questionsJSON))
	summary, err := gen.ProcessAllChapters(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, ProcessSummary{Total: 3, Processed: 3}, *summary)

	got, err := store.GetTextbook(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.AIProcessingStatus)
	assert.Equal(t, 100, got.AIProcessingProgress)

	withContent, err := store.ListChaptersWithContent(ctx, textbook.ID)
	require.NoError(t, err)
	require.Len(t, withContent, 3)
	for _, c := range withContent {
		require.NotNil(t, c.Summary)
		assert.Equal(t, "Cells are the unit of life.", c.Summary.SummaryText)
		assert.Equal(t, []string{"cell", "membrane"}, []string(c.Summary.KeyConcepts))
		require.Len(t, c.PracticeItems, 2)
		assert.Equal(t, "easy", c.PracticeItems[0].Difficulty)
		assert.Equal(t, "medium", c.PracticeItems[1].Difficulty)
		assert.Equal(t, model.PracticeItemQuestion, c.PracticeItems[0].Kind)
	}
	assert.Equal(t, chapters[0].ID, withContent[0].ID)
}

func TestProcessAllChaptersIsolatesFailingChapter(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook, chapters := threeChapterTextbook(t, store)

	completer := &fakeCompleter{respond: func(req digitalocean.CompletionRequest) (string, error) {
		if strings.Contains(req.UserPrompt, "Second") {
			return "", errors.New("completion timed out")
		}
		if req.SystemPrompt == questionsSystemPrompt {
			return questionsJSON, nil
		}
		return summaryJSON, nil
	}}

	summary, err := newGenerator(store, completer).ProcessAllChapters(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	for i, c := range chapters {
		has, err := store.HasChapterSummary(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, i != 1, has, "chapter %d", c.ChapterNumber)
	}

	got, err := store.GetTextbook(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.AIProcessingStatus)
	assert.Equal(t, 100, got.AIProcessingProgress)
	assert.Nil(t, got.AIProcessingError)
}

func TestProcessAllChaptersUnparseableKeyConcepts(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook, chapters := threeChapterTextbook(t, store)

	completer := scriptedCompleter("", `{"summary": "Still useful.", "key_concepts": "cells; membranes"}`, "not json at all")
	summary, err := newGenerator(store, completer).ProcessAllChapters(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)

	stored, err := store.GetChapterSummary(ctx, chapters[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "Still useful.", stored.SummaryText)
	assert.Empty(t, stored.KeyConcepts)
}

func TestGenerateChapterContentMalformedSummaryStoresPlaceholder(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	_, chapters := threeChapterTextbook(t, store)

	completer := scriptedCompleter("", "Sorry, I cannot summarise this.", "[]")
	content, err := newGenerator(store, completer).GenerateChapterContent(ctx, chapters[0].ID)
	require.NoError(t, err)
	assert.Empty(t, content.Summary)
	assert.Equal(t, []string{}, content.KeyConcepts)
	assert.Empty(t, content.Questions)

	stored, err := store.GetChapterSummary(ctx, chapters[0].ID)
	require.NoError(t, err)
	assert.Empty(t, stored.SummaryText)
}

func TestGenerateChapterContentLimitsQuestionsAndText(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()

	texts := make([]string, 20)
	for i := range texts {
		texts[i] = strings.Repeat("Photosynthesis converts light. ", 100)
	}
	textbook := extractedTextbook(t, store, texts)
	chapters := withChapters(t, store, textbook.ID, model.Chapter{Title: "All", PageStart: 1, PageEnd: 20})

	var many strings.Builder
	many.WriteString("[")
	for i := 0; i < 8; i++ {
		if i > 0 {
			many.WriteString(",")
		}
		many.WriteString(`{"question": "Q?", "answer": "A", "difficulty": "hard"}`)
	}
	many.WriteString("]")

	completer := scriptedCompleter("", summaryJSON, many.String())
	content, err := newGenerator(store, completer).GenerateChapterContent(ctx, chapters[0].ID)
	require.NoError(t, err)
	assert.Len(t, content.Questions, DefaultQuestionsPerChapter)

	for _, req := range completer.calls() {
		assert.Less(t, len([]rune(req.UserPrompt)), MaxChapterChars+500)
	}
}

func TestProcessAllChaptersWithoutChaptersFailsAITrack(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := extractedTextbook(t, store, pageTexts(3))

	_, err := newGenerator(store, scriptedCompleter("", summaryJSON, questionsJSON)).ProcessAllChapters(ctx, textbook.ID)
	assert.ErrorIs(t, err, ErrNoChapters)

	got, err := store.GetTextbook(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.AIProcessingStatus)
	require.NotNil(t, got.AIProcessingError)
	assert.Equal(t, model.StatusCompleted, got.ProcessingStatus, "raw text stays usable")
}

func TestProcessAllChaptersWithoutCompleterFailsAITrack(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook, _ := threeChapterTextbook(t, store)

	_, err := newGenerator(store, nil).ProcessAllChapters(ctx, textbook.ID)
	assert.ErrorIs(t, err, ErrCompletionUnavailable)

	got, err := store.GetTextbook(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.AIProcessingStatus)
	require.NotNil(t, got.AIProcessingError)
	assert.Equal(t, "completion service is not configured", *got.AIProcessingError)

	withContent, err := store.ListChaptersWithContent(ctx, textbook.ID)
	require.NoError(t, err)
	for _, c := range withContent {
		assert.Nil(t, c.Summary)
	}
}

func TestProcessAllChaptersRequiresCompletedExtraction(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := dbtest.CreateTextbook(t, store, "not-extracted")

	_, err := newGenerator(store, scriptedCompleter("", summaryJSON, questionsJSON)).ProcessAllChapters(ctx, textbook.ID)
	assert.ErrorIs(t, err, database.ErrInvalidTransition)

	got, err := store.GetTextbook(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.AIProcessingStatus)
}

func TestResumeAllChaptersSkipsGeneratedChapters(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook, chapters := threeChapterTextbook(t, store)

	require.NoError(t, store.UpsertChapterSummary(ctx, &model.ChapterSummary{
		ChapterID:   chapters[0].ID,
		SummaryText: "done before the crash",
	}))

	completer := scriptedCompleter("", summaryJSON, questionsJSON)
	summary, err := newGenerator(store, completer).ResumeAllChapters(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Processed)
	assert.Len(t, completer.calls(), 4)

	kept, err := store.GetChapterSummary(ctx, chapters[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "done before the crash", kept.SummaryText)
}

func TestProcessAllChaptersStopsForDeletedTextbook(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook, _ := threeChapterTextbook(t, store)

	completer := &fakeCompleter{}
	completer.respond = func(req digitalocean.CompletionRequest) (string, error) {
		// The textbook disappears while its first chapter is being generated
		require.NoError(t, store.DeleteTextbook(ctx, textbook.ID))
		completer.respond = scriptedCompleter("", summaryJSON, questionsJSON).respond
		return summaryJSON, nil
	}

	_, err := newGenerator(store, completer).ProcessAllChapters(ctx, textbook.ID)
	assert.ErrorIs(t, err, database.ErrTextbookNotFound)
}

func TestGeneratePageContent(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	texts := pageTexts(3)
	texts[1] = "Too short."
	textbook := extractedTextbook(t, store, texts)

	fallback := NewPageFallbackService(store, NewPDFSource(nil), &fakePages{texts: texts})
	completer := &fakeCompleter{respond: func(req digitalocean.CompletionRequest) (string, error) {
		return `{"applications": ["Solar panels", " "], "questions": [{"question": "Why?", "answer": "Because.", "difficulty": "hard"}]}`, nil
	}}
	gen := NewContentGenerator(store, completer, fallback, ContentGeneratorConfig{})

	content, err := gen.GeneratePageContent(ctx, textbook.ID, 1)
	require.NoError(t, err)
	require.Len(t, content.Applications, 1)
	assert.Equal(t, "Solar panels", content.Applications[0].Application)
	require.Len(t, content.Questions, 1)
	assert.Equal(t, "hard", content.Questions[0].Difficulty)

	page, err := store.GetPage(ctx, textbook.ID, 1)
	require.NoError(t, err)
	items, err := store.ListPagePracticeItems(ctx, page.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = gen.GeneratePageContent(ctx, textbook.ID, 2)
	assert.ErrorIs(t, err, ErrInsufficientText)
	assert.Len(t, completer.calls(), 1)
}

func TestGeneratePageContentSurfacesFallbackErrors(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := dbtest.CreateTextbook(t, store, "unextracted")

	fallback := NewPageFallbackService(store, NewPDFSource(newFakeBlobStore()), &fakePages{texts: pageTexts(2)})
	gen := NewContentGenerator(store, scriptedCompleter("", "", ""), fallback, ContentGeneratorConfig{})

	_, err := gen.GeneratePageContent(ctx, textbook.ID, 1)
	var fbErr *FallbackError
	assert.ErrorAs(t, err, &fbErr)
}
