package services

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal PDF with one Helvetica text line per page. An
// empty string produces a page with an empty content stream.
func buildPDF(pages []string) []byte {
	var buf bytes.Buffer
	offsets := []int{}

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pages {
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := ""
		if text != "" {
			stream = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
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

func TestExtractPages(t *testing.T) {
	content := buildPDF([]string{"Chapter One", "", "Photosynthesis"})

	pages, err := NewPDFExtractor().ExtractPages(content)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i+1, p.Number)
	}
	assert.Contains(t, pages[0].Text, "Chapter")
	assert.Empty(t, pages[1].Text)
	assert.Contains(t, pages[2].Text, "Photosynthesis")
}

func TestExtractPageIsBounded(t *testing.T) {
	content := buildPDF([]string{"first", "second", "third"})
	extractor := NewPDFExtractor()

	text, total, err := extractor.ExtractPage(content, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Contains(t, text, "second")

	_, total, err = extractor.ExtractPage(content, 4)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	assert.Equal(t, 3, total)
}

func TestExtractPagesIgnoresTrailingGarbage(t *testing.T) {
	content := append(buildPDF([]string{"tail"}), []byte("<html>not pdf</html>")...)

	_, total, err := NewPDFExtractor().ExtractPage(content, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestExtractPagesRejectsGarbage(t *testing.T) {
	_, err := NewPDFExtractor().ExtractPages([]byte("definitely not a pdf"))
	assert.Error(t, err)

	_, err = NewPDFExtractor().ExtractPages(nil)
	assert.Error(t, err)
}
