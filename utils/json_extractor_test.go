package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summaryPayload struct {
	Summary     string   `json:"summary"`
	KeyConcepts []string `json:"key_concepts"`
}

type chapterEntry struct {
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	PageStart     int    `json:"page_start"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantOK   bool
		wantText string
	}{
		{
			name:     "plain object",
			input:    `{"summary":"cells divide","key_concepts":["mitosis"]}`,
			wantOK:   true,
			wantText: "cells divide",
		},
		{
			name:     "fenced object",
			input:    "```json\n{\"summary\":\"fenced\",\"key_concepts\":[]}\n```",
			wantOK:   true,
			wantText: "fenced",
		},
		{
			name:     "prose around object",
			input:    "Sure! Here you go: {\"summary\":\"wrapped\",\"key_concepts\":[\"a\"]} Hope this helps.",
			wantOK:   true,
			wantText: "wrapped",
		},
		{
			name:   "not json",
			input:  "I cannot summarize this chapter.",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "   ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseJSON[summaryPayload](tt.input)
			value, ok := result.Get()
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantText, value.Summary)
				assert.False(t, result.IsMalformed())
			} else {
				assert.True(t, result.IsMalformed())
				assert.Equal(t, tt.input, result.Raw())
			}
		})
	}
}

func TestParseJSONArray(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		result := ParseJSONArray[chapterEntry](`[{"chapter_number":1,"title":"Intro","page_start":1}]`)
		items, ok := result.Get()
		require.True(t, ok)
		require.Len(t, items, 1)
		assert.Equal(t, "Intro", items[0].Title)
	})

	t.Run("fenced", func(t *testing.T) {
		result := ParseJSONArray[chapterEntry]("```\n[{\"chapter_number\":2,\"title\":\"Next\",\"page_start\":9}]\n```")
		items, ok := result.Get()
		require.True(t, ok)
		require.Len(t, items, 1)
		assert.Equal(t, 9, items[0].PageStart)
	})

	t.Run("regex extracted", func(t *testing.T) {
		input := "The chapters are: [{\"chapter_number\":1,\"title\":\"A\",\"page_start\":1},{\"chapter_number\":2,\"title\":\"B\",\"page_start\":5}] as requested."
		items, ok := ParseJSONArray[chapterEntry](input).Get()
		require.True(t, ok)
		assert.Len(t, items, 2)
	})

	t.Run("trailing bracket prose", func(t *testing.T) {
		input := "[{\"chapter_number\":1,\"title\":\"A\",\"page_start\":1}] see [note]"
		items, ok := ParseJSONArray[chapterEntry](input).Get()
		require.True(t, ok)
		assert.Len(t, items, 1)
	})

	t.Run("empty array is ok", func(t *testing.T) {
		items, ok := ParseJSONArray[chapterEntry]("[]").Get()
		require.True(t, ok)
		assert.Empty(t, items)
	})

	t.Run("malformed", func(t *testing.T) {
		result := ParseJSONArray[chapterEntry]("no chapters here")
		assert.True(t, result.IsMalformed())
		assert.Empty(t, result.OrElse(nil))
	})
}

func TestOrElse(t *testing.T) {
	assert.Equal(t, 3, Ok(3).OrElse(7))
	assert.Equal(t, 7, Malformed[int]("x").OrElse(7))
}
