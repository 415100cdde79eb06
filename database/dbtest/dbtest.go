// Package dbtest opens throwaway SQLite-backed stores for tests.
package dbtest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/stretchr/testify/require"
)

// NewStore returns a migrated store backed by a file in t.TempDir()
func NewStore(t testing.TB) *database.TextbookStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		filepath.Join(t.TempDir(), "test.db"))

	store, err := database.OpenGORM(sqlite.Open(dsn), nil)
	require.NoError(t, err)

	sqlDB, err := store.GetDB().DB()
	require.NoError(t, err)
	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, store.Init())
	t.Cleanup(func() { _ = store.Close() })

	return database.NewTextbookStore(store.GetDB())
}

// CreateTextbook inserts a textbook with sensible defaults for tests
func CreateTextbook(t testing.TB, store *database.TextbookStore, title string) *model.Textbook {
	t.Helper()
	textbook := &model.Textbook{
		Title:       title,
		PDFLocation: "textbooks/" + title + ".pdf",
	}
	require.NoError(t, store.CreateTextbook(context.Background(), textbook))
	return textbook
}
