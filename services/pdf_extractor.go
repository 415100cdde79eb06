package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/ledongthuc/pdf"
	"github.com/sahilchouksey/study-textbook-api/utils/pdfvalidation"
)

// ErrPageOutOfRange is returned when a page number is outside 1..page count
var ErrPageOutOfRange = errors.New("page number out of range")

// PageText is the raw text of one physical page. Text is empty when the page
// has no extractable text.
type PageText struct {
	Number int
	Text   string
}

// PageTextSource turns PDF bytes into per-page text
type PageTextSource interface {
	// ExtractPages returns every page in order, 1..page count
	ExtractPages(content []byte) ([]PageText, error)
	// ExtractPage decodes a single page and reports the document's page count
	ExtractPage(content []byte, pageNumber int) (text string, pageCount int, err error)
}

// PDFExtractor handles PDF text extraction using ledongthuc/pdf (MIT license)
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDF extractor
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func openPDF(content []byte) (*pdf.Reader, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty PDF content")
	}

	// Many PDFs downloaded from web have HTML or other data appended after %%EOF
	content = pdfvalidation.SanitizePDF(content)

	pdfReader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}
	return pdfReader, nil
}

// ExtractPages extracts the text of every page. A page that fails to decode
// is returned with empty text so numbering stays contiguous.
func (p *PDFExtractor) ExtractPages(content []byte) ([]PageText, error) {
	pdfReader, err := openPDF(content)
	if err != nil {
		return nil, err
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	log.Infof("[PDF Extractor] Processing PDF with %d pages", numPages)

	pages := make([]PageText, 0, numPages)
	for i := 1; i <= numPages; i++ {
		pages = append(pages, PageText{Number: i, Text: pageText(pdfReader, i)})
	}
	return pages, nil
}

// ExtractPage decodes only the requested page
func (p *PDFExtractor) ExtractPage(content []byte, pageNumber int) (string, int, error) {
	pdfReader, err := openPDF(content)
	if err != nil {
		return "", 0, err
	}

	numPages := pdfReader.NumPage()
	if pageNumber < 1 || pageNumber > numPages {
		return "", numPages, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, pageNumber, numPages)
	}

	return pageText(pdfReader, pageNumber), numPages, nil
}

// pageText extracts one page by rows, falling back to plain text. The
// parser panics on some malformed content streams; that page is treated as
// empty.
func pageText(pdfReader *pdf.Reader, i int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("[PDF Extractor] Page %d could not be decoded: %v", i, r)
			text = ""
		}
	}()

	page := pdfReader.Page(i)
	if page.V.IsNull() {
		return ""
	}

	// Try to extract text by row for better structure preservation
	rows, err := page.GetTextByRow()
	if err != nil {
		plain, plainErr := page.GetPlainText(nil)
		if plainErr != nil {
			log.Warnf("[PDF Extractor] Failed to extract page %d: %v", i, plainErr)
			return ""
		}
		return strings.TrimSpace(plain)
	}

	var textBuilder strings.Builder
	for _, row := range rows {
		var rowText strings.Builder
		for _, word := range row.Content {
			rowText.WriteString(word.S)
		}
		line := strings.TrimSpace(rowText.String())
		if line != "" {
			textBuilder.WriteString(line)
			textBuilder.WriteString("\n")
		}
	}
	return strings.TrimSpace(textBuilder.String())
}
