package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/database/dbtest"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/sahilchouksey/study-textbook-api/services/digitalocean"
	"github.com/sahilchouksey/study-textbook-api/utils/cache"
	"github.com/stretchr/testify/require"
)

// fakeCompleter answers with respond and records every request
type fakeCompleter struct {
	mu       sync.Mutex
	requests []digitalocean.CompletionRequest
	respond  func(req digitalocean.CompletionRequest) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req digitalocean.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.respond(req)
}

func (f *fakeCompleter) calls() []digitalocean.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]digitalocean.CompletionRequest(nil), f.requests...)
}

// scriptedCompleter routes by system prompt the way the real prompts differ
func scriptedCompleter(chapters, summary, questions string) *fakeCompleter {
	return &fakeCompleter{respond: func(req digitalocean.CompletionRequest) (string, error) {
		switch req.SystemPrompt {
		case chapterDetectionSystemPrompt:
			return chapters, nil
		case summarySystemPrompt:
			return summary, nil
		case questionsSystemPrompt:
			return questions, nil
		default:
			return `{"applications": [], "questions": []}`, nil
		}
	}}
}

// fakeBlobStore keeps objects in memory
type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	downloads atomic.Int32
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	f.downloads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", key)
	}
	return data, nil
}

func (f *fakeBlobStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return "https://cdn.example.com/" + key, nil
}

// fakePages serves fixed page texts regardless of the PDF bytes
type fakePages struct {
	texts   []string
	err     error
	delay   time.Duration
	panics  bool
	extract atomic.Int32
}

func (f *fakePages) ExtractPages(content []byte) ([]PageText, error) {
	f.extract.Add(1)
	if f.panics {
		panic("corrupt content stream")
	}
	if f.err != nil {
		return nil, f.err
	}
	pages := make([]PageText, len(f.texts))
	for i, text := range f.texts {
		pages[i] = PageText{Number: i + 1, Text: text}
	}
	return pages, nil
}

func (f *fakePages) ExtractPage(content []byte, pageNumber int) (string, int, error) {
	f.extract.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return "", 0, f.err
	}
	if pageNumber < 1 || pageNumber > len(f.texts) {
		return "", len(f.texts), fmt.Errorf("%w: page %d", ErrPageOutOfRange, pageNumber)
	}
	return f.texts[pageNumber-1], len(f.texts), nil
}

// fakeStatusCache is an in-memory StatusCache without expiry
type fakeStatusCache struct {
	mu     sync.Mutex
	values map[string]*TextbookStatus
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{values: map[string]*TextbookStatus{}}
}

func (f *fakeStatusCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return cache.ErrNotFound
	}
	out, ok := dest.(*TextbookStatus)
	if !ok {
		return errors.New("unexpected destination")
	}
	*out = *v
	return nil
}

func (f *fakeStatusCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := *value.(*TextbookStatus)
	f.values[key] = &status
	return nil
}

func (f *fakeStatusCache) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

// pageTexts returns n distinct page texts long enough for content generation
func pageTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("Page %d discusses cell biology. %s", i+1, strings.Repeat("Mitochondria produce energy. ", 5))
	}
	return texts
}

// extractedTextbook creates a textbook whose extraction has completed
func extractedTextbook(t *testing.T, store *database.TextbookStore, texts []string) *model.Textbook {
	t.Helper()
	ctx := context.Background()
	textbook := dbtest.CreateTextbook(t, store, "biology-"+uuid.NewString()[:8])

	pages := make([]model.Page, len(texts))
	for i, text := range texts {
		if text == "" {
			text = model.EmptyPageText
		}
		pages[i] = model.Page{TextbookID: textbook.ID, PageNumber: i + 1, RawText: text, Extracted: true}
	}
	require.NoError(t, store.StartProcessing(ctx, textbook.ID))
	_, err := store.InsertPagesIgnoreConflicts(ctx, textbook.ID, pages)
	require.NoError(t, err)
	require.NoError(t, store.CompleteProcessing(ctx, textbook.ID, len(texts)))
	return textbook
}

// withChapters stores chapters with the given (title, start, end) ranges
func withChapters(t *testing.T, store *database.TextbookStore, textbookID uuid.UUID, ranges ...model.Chapter) []model.Chapter {
	t.Helper()
	for i := range ranges {
		ranges[i].ChapterNumber = i + 1
	}
	stored, created, err := store.CreateChapters(context.Background(), textbookID, ranges)
	require.NoError(t, err)
	require.True(t, created)
	return stored
}
