package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxSourceBytes caps remote PDF downloads
const maxSourceBytes = 100 << 20

// ErrNoBlobStore is returned for storage keys when Spaces is not configured
var ErrNoBlobStore = errors.New("blob storage is not configured")

// PDFSource resolves a textbook's pdf_location to bytes. Absolute http(s)
// URLs are downloaded directly, anything else is a blob store key.
type PDFSource struct {
	blobs  BlobStore
	client *http.Client
}

// NewPDFSource creates a source. blobs may be nil when only URLs are used.
func NewPDFSource(blobs BlobStore) *PDFSource {
	return &PDFSource{
		blobs:  blobs,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Fetch returns the PDF bytes at location
func (s *PDFSource) Fetch(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		return nil, errors.New("empty pdf location")
	}
	if isRemoteURL(location) {
		return s.download(ctx, location)
	}
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	data, err := s.blobs.Download(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s from storage: %w", location, err)
	}
	return data, nil
}

func (s *PDFSource) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; StudyTextbook/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if n > maxSourceBytes {
		return nil, fmt.Errorf("pdf exceeds %d bytes", maxSourceBytes)
	}
	return buf.Bytes(), nil
}

func isRemoteURL(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
