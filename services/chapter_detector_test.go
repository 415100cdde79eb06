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

type chapterRange struct {
	number, start, end int
}

func ranges(chapters []model.Chapter) []chapterRange {
	out := make([]chapterRange, len(chapters))
	for i, c := range chapters {
		out[i] = chapterRange{c.ChapterNumber, c.PageStart, c.PageEnd}
	}
	return out
}

func TestBuildChapterRanges(t *testing.T) {
	tests := []struct {
		name    string
		entries []ChapterEntry
		total   int
		want    []chapterRange
	}{
		{
			name:  "no chapters synthesizes one",
			total: 10,
			want:  []chapterRange{{1, 1, 10}},
		},
		{
			name: "two chapters",
			entries: []ChapterEntry{
				{ChapterNumber: 1, Title: "Chapter 1", PageStart: 1},
				{ChapterNumber: 2, Title: "Chapter 2", PageStart: 6},
			},
			total: 10,
			want:  []chapterRange{{1, 1, 5}, {2, 6, 10}},
		},
		{
			name: "unsorted input is sorted and renumbered",
			entries: []ChapterEntry{
				{ChapterNumber: 3, Title: "C", PageStart: 30},
				{ChapterNumber: 1, Title: "A", PageStart: 1},
				{ChapterNumber: 2, Title: "B", PageStart: 12},
			},
			total: 40,
			want:  []chapterRange{{1, 1, 11}, {2, 12, 29}, {3, 30, 40}},
		},
		{
			name: "duplicate starts keep the first",
			entries: []ChapterEntry{
				{Title: "A", PageStart: 1},
				{Title: "B", PageStart: 5},
				{Title: "B again", PageStart: 5},
			},
			total: 8,
			want:  []chapterRange{{1, 1, 4}, {2, 5, 8}},
		},
		{
			name: "starts past the end are clamped to the last page",
			entries: []ChapterEntry{
				{Title: "A", PageStart: 1},
				{Title: "Appendix", PageStart: 400},
			},
			total: 20,
			want:  []chapterRange{{1, 1, 19}, {2, 20, 20}},
		},
		{
			name: "clamped starts dedupe against the last page",
			entries: []ChapterEntry{
				{Title: "A", PageStart: 1},
				{Title: "Glossary", PageStart: 20},
				{Title: "Index", PageStart: 250},
			},
			total: 20,
			want:  []chapterRange{{1, 1, 19}, {2, 20, 20}},
		},
		{
			name: "first chapter always starts on page 1",
			entries: []ChapterEntry{
				{Title: "A", PageStart: 4},
				{Title: "B", PageStart: 9},
			},
			total: 12,
			want:  []chapterRange{{1, 1, 8}, {2, 9, 12}},
		},
		{
			name: "negative starts are clamped",
			entries: []ChapterEntry{
				{Title: "A", PageStart: -3},
				{Title: "B", PageStart: 2},
			},
			total: 3,
			want:  []chapterRange{{1, 1, 1}, {2, 2, 3}},
		},
		{
			name:    "only out of range entries",
			entries: []ChapterEntry{{Title: "Index", PageStart: 99}},
			total:   5,
			want:    []chapterRange{{1, 1, 5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildChapterRanges(tt.entries, tt.total)
			assert.Equal(t, tt.want, ranges(got))
		})
	}
}

func TestBuildChapterRangesAreContiguous(t *testing.T) {
	inputs := [][]int{
		{1, 2, 3},
		{50, 10, 10, 90, 0, 300},
		{7},
		{100, 99, 98, 97},
	}
	for _, starts := range inputs {
		entries := make([]ChapterEntry, len(starts))
		for i, s := range starts {
			entries[i] = ChapterEntry{PageStart: s}
		}
		chapters := BuildChapterRanges(entries, 100)

		require.NotEmpty(t, chapters)
		assert.Equal(t, 1, chapters[0].PageStart)
		assert.Equal(t, 100, chapters[len(chapters)-1].PageEnd)
		for i := 0; i < len(chapters)-1; i++ {
			assert.Equal(t, chapters[i].PageEnd+1, chapters[i+1].PageStart)
			assert.LessOrEqual(t, chapters[i].PageStart, chapters[i].PageEnd)
		}
		for i, c := range chapters {
			assert.Equal(t, i+1, c.ChapterNumber)
			assert.NotEmpty(t, c.Title)
		}
	}
}

func TestResponseExcerpt(t *testing.T) {
	assert.Equal(t, "not json", responseExcerpt("  not json\n"))

	long := strings.Repeat("é", 250)
	got := responseExcerpt(long)
	assert.Equal(t, strings.Repeat("é", 200)+"...", got)
}

func TestBuildChapterRangesTitles(t *testing.T) {
	chapters := BuildChapterRanges([]ChapterEntry{{PageStart: 1, Title: "  "}, {PageStart: 3, Title: "Cells"}}, 4)
	assert.Equal(t, "Chapter 1", chapters[0].Title)
	assert.Equal(t, "Cells", chapters[1].Title)

	synthetic := BuildChapterRanges(nil, 4)
	assert.Equal(t, FullDocumentTitle, synthetic[0].Title)
}

func TestDetectChaptersStoresParsedChapters(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := extractedTextbook(t, store, pageTexts(10))

	completer := scriptedCompleter("Here you go:\n```json\n[{\"chapter_number\":1,\"title\":\"Chapter 1\",\"page_start\":1},{\"chapter_number\":2,\"title\":\"Chapter 2\",\"page_start\":6}]\n```", "", "")
	detector := NewChapterDetector(store, completer)

	chapters, err := detector.DetectChapters(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, []chapterRange{{1, 1, 5}, {2, 6, 10}}, ranges(chapters))

	stored, err := store.ListChapters(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, ranges(chapters), ranges(stored))
	assert.Equal(t, "Chapter 2", stored[1].Title)
}

func TestDetectChaptersWithoutMarkersSynthesizesOne(t *testing.T) {
	store := dbtest.NewStore(t)
	textbook := extractedTextbook(t, store, pageTexts(10))

	detector := NewChapterDetector(store, scriptedCompleter("[]", "", ""))
	chapters, err := detector.DetectChapters(context.Background(), textbook.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	assert.Equal(t, chapterRange{1, 1, 10}, ranges(chapters)[0])
	assert.Equal(t, FullDocumentTitle, chapters[0].Title)
}

func TestDetectChaptersMalformedOrFailedCompletion(t *testing.T) {
	responders := map[string]func(digitalocean.CompletionRequest) (string, error){
		"malformed": func(digitalocean.CompletionRequest) (string, error) {
			return "I could not find any chapters, sorry.", nil
		},
		"error": func(digitalocean.CompletionRequest) (string, error) {
			return "", errors.New("upstream unavailable")
		},
	}
	for name, respond := range responders {
		t.Run(name, func(t *testing.T) {
			store := dbtest.NewStore(t)
			textbook := extractedTextbook(t, store, pageTexts(7))

			detector := NewChapterDetector(store, &fakeCompleter{respond: respond})
			chapters, err := detector.DetectChapters(context.Background(), textbook.ID)
			require.NoError(t, err)
			assert.Equal(t, []chapterRange{{1, 1, 7}}, ranges(chapters))
		})
	}
}

func TestDetectChaptersNoPages(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := dbtest.CreateTextbook(t, store, "blank")
	require.NoError(t, store.StartProcessing(ctx, textbook.ID))
	require.NoError(t, store.CompleteProcessing(ctx, textbook.ID, 0))

	completer := scriptedCompleter("[]", "", "")
	_, err := NewChapterDetector(store, completer).DetectChapters(context.Background(), textbook.ID)

	var detErr *DetectionError
	require.ErrorAs(t, err, &detErr)
	assert.ErrorIs(t, err, ErrNoPages)
	assert.True(t, IsDetectionError(err))
	assert.Empty(t, completer.calls())
}

func TestDetectChaptersRequiresCompletedExtraction(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := dbtest.CreateTextbook(t, store, "partial")

	// A single page fetched on demand while bulk extraction never ran
	require.NoError(t, store.InsertPage(ctx, &model.Page{
		TextbookID: textbook.ID, PageNumber: 3, RawText: "Chapter 1 Cells", Extracted: true,
	}))

	completer := scriptedCompleter(`[{"chapter_number":1,"title":"Cells","page_start":1}]`, "", "")
	_, err := NewChapterDetector(store, completer).DetectChapters(ctx, textbook.ID)

	var detErr *DetectionError
	require.ErrorAs(t, err, &detErr)
	assert.ErrorIs(t, err, database.ErrInvalidTransition)
	assert.Empty(t, completer.calls())

	chapters, err := store.ListChapters(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Empty(t, chapters)
}

func TestDetectChaptersUsesRecordedPageCount(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := dbtest.CreateTextbook(t, store, "sparse")

	require.NoError(t, store.StartProcessing(ctx, textbook.ID))
	_, err := store.InsertPagesIgnoreConflicts(ctx, textbook.ID, []model.Page{
		{TextbookID: textbook.ID, PageNumber: 1, RawText: "Chapter 1", Extracted: true},
		{TextbookID: textbook.ID, PageNumber: 2, RawText: "Chapter 2", Extracted: true},
	})
	require.NoError(t, err)
	require.NoError(t, store.CompleteProcessing(ctx, textbook.ID, 9))

	completer := scriptedCompleter(`[{"chapter_number":1,"title":"A","page_start":1},{"chapter_number":2,"title":"B","page_start":2}]`, "", "")
	chapters, err := NewChapterDetector(store, completer).DetectChapters(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, []chapterRange{{1, 1, 1}, {2, 2, 9}}, ranges(chapters))
}

func TestDetectChaptersReturnsExistingChapters(t *testing.T) {
	store := dbtest.NewStore(t)
	textbook := extractedTextbook(t, store, pageTexts(6))
	withChapters(t, store, textbook.ID,
		model.Chapter{Title: "First", PageStart: 1, PageEnd: 3},
		model.Chapter{Title: "Second", PageStart: 4, PageEnd: 6},
	)

	completer := scriptedCompleter("[]", "", "")
	chapters, err := NewChapterDetector(store, completer).DetectChapters(context.Background(), textbook.ID)
	require.NoError(t, err)
	assert.Len(t, chapters, 2)
	assert.Empty(t, completer.calls())
}

func TestDetectChaptersSamplesLeadingPages(t *testing.T) {
	store := dbtest.NewStore(t)
	texts := make([]string, 60)
	for i := range texts {
		texts[i] = strings.Repeat("x", 2000)
	}
	textbook := extractedTextbook(t, store, texts)

	completer := scriptedCompleter("[]", "", "")
	_, err := NewChapterDetector(store, completer).DetectChapters(context.Background(), textbook.ID)
	require.NoError(t, err)

	calls := completer.calls()
	require.Len(t, calls, 1)
	prompt := calls[0].UserPrompt
	assert.Contains(t, prompt, "--- Page 50 ---")
	assert.NotContains(t, prompt, "--- Page 51 ---")
	assert.NotContains(t, prompt, strings.Repeat("x", DetectionCharsPerPage+1))

	chapters, err := store.ListChapters(context.Background(), textbook.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	assert.Equal(t, 60, chapters[0].PageEnd)
}
