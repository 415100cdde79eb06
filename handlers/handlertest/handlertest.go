// Package handlertest builds pipeline services over a throwaway store with
// in-memory collaborators for handler tests.
package handlertest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/database/dbtest"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/sahilchouksey/study-textbook-api/services"
	"github.com/sahilchouksey/study-textbook-api/services/digitalocean"
	"github.com/stretchr/testify/require"
)

const (
	ChaptersJSON  = `[{"chapter_number": 1, "title": "Cells", "page_start": 1}, {"chapter_number": 2, "title": "Energy", "page_start": 4}]`
	SummaryJSON   = `{"summary": "Cells are the unit of life.", "key_concepts": ["cell", "membrane"]}`
	QuestionsJSON = `[{"question": "What is a cell?", "answer": "The unit of life.", "difficulty": "easy"}]`
	PageJSON      = `{"applications": ["Vaccines"], "questions": [{"question": "Why?", "answer": "Because.", "difficulty": "medium"}]}`
)

// Completer answers each prompt kind with a canned response
type Completer struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (c *Completer) Complete(ctx context.Context, req digitalocean.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	switch {
	case strings.Contains(req.SystemPrompt, "textbook structure"):
		return ChaptersJSON, nil
	case strings.Contains(req.SystemPrompt, "study notes"):
		return SummaryJSON, nil
	case strings.Contains(req.SystemPrompt, "recall questions"):
		return QuestionsJSON, nil
	default:
		return PageJSON, nil
	}
}

// Calls returns how many completions were requested
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Blobs is an in-memory blob store
type Blobs struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func (b *Blobs) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Objects[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (b *Blobs) Download(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.Objects[key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", key)
	}
	return data, nil
}

func (b *Blobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.Objects, key)
	return nil
}

// Has reports whether key is stored
func (b *Blobs) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.Objects[key]
	return ok
}

// Pages serves fixed page texts for any PDF content
type Pages struct {
	Texts []string
	Err   error
}

func (p *Pages) ExtractPages(content []byte) ([]services.PageText, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	pages := make([]services.PageText, len(p.Texts))
	for i, text := range p.Texts {
		pages[i] = services.PageText{Number: i + 1, Text: text}
	}
	return pages, nil
}

func (p *Pages) ExtractPage(content []byte, pageNumber int) (string, int, error) {
	if p.Err != nil {
		return "", 0, p.Err
	}
	if pageNumber < 1 || pageNumber > len(p.Texts) {
		return "", len(p.Texts), services.ErrPageOutOfRange
	}
	return p.Texts[pageNumber-1], len(p.Texts), nil
}

// PageTexts returns n page texts long enough for content generation
func PageTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("Page %d covers cell biology. %s", i+1, strings.Repeat("Mitochondria produce energy. ", 5))
	}
	return texts
}

// Env is a full set of pipeline services over one store
type Env struct {
	Store        *database.TextbookStore
	Blobs        *Blobs
	Pages        *Pages
	Completer    *Completer
	Fallback     *services.PageFallbackService
	Detector     *services.ChapterDetector
	Generator    *services.ContentGenerator
	Tracker      *services.ProgressTracker
	Orchestrator *services.Orchestrator
}

// NewEnv builds services whose PDFs always contain pageCount pages
func NewEnv(t *testing.T, pageCount int) *Env {
	t.Helper()
	store := dbtest.NewStore(t)
	env := &Env{
		Store:     store,
		Blobs:     &Blobs{Objects: map[string][]byte{}},
		Pages:     &Pages{Texts: PageTexts(pageCount)},
		Completer: &Completer{},
	}

	source := services.NewPDFSource(env.Blobs)
	env.Fallback = services.NewPageFallbackService(store, source, env.Pages)
	env.Detector = services.NewChapterDetector(store, env.Completer)
	env.Generator = services.NewContentGenerator(store, env.Completer, env.Fallback, services.ContentGeneratorConfig{})
	env.Tracker = services.NewProgressTracker(store, nil, time.Second)
	env.Orchestrator = services.NewOrchestrator(
		store,
		services.NewExtractionService(store, source, env.Pages),
		env.Detector,
		env.Generator,
		env.Tracker,
		services.OrchestratorConfig{},
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.Orchestrator.Shutdown(ctx)
	})
	return env
}

// StoredTextbook creates a textbook whose PDF is in the blob store
func (e *Env) StoredTextbook(t *testing.T, title string) *model.Textbook {
	t.Helper()
	textbook := dbtest.CreateTextbook(t, e.Store, title)
	_, err := e.Blobs.Upload(context.Background(), textbook.PDFLocation, []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	return textbook
}

// WaitSettled blocks until both tracks of the textbook are terminal
func (e *Env) WaitSettled(t *testing.T, textbook *model.Textbook) *model.Textbook {
	t.Helper()
	var got *model.Textbook
	require.Eventually(t, func() bool {
		tb, err := e.Store.GetTextbook(context.Background(), textbook.ID)
		if err != nil {
			return false
		}
		got = tb
		return tb.IsSettled()
	}, 10*time.Second, 10*time.Millisecond)
	return got
}

// DecodeBody reads a JSON response body into a map
func DecodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return body
}

// BlankPDF writes a minimal valid PDF with n empty pages
func BlankPDF(n int) []byte {
	var buf bytes.Buffer
	var offsets []int
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i := 0; i < n; i++ {
		writeObj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}
