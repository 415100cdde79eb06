package utils

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// ErrNoJSONFound is returned when no valid JSON object/array is found in the input
var ErrNoJSONFound = errors.New("no valid JSON object or array found in response")

// ParseResult is the outcome of decoding free-text model output: either a
// decoded value or the raw text that could not be decoded. Call sites must
// handle both variants.
type ParseResult[T any] struct {
	value T
	raw   string
	ok    bool
}

// Ok wraps a successfully decoded value
func Ok[T any](value T) ParseResult[T] {
	return ParseResult[T]{value: value, ok: true}
}

// Malformed records output that could not be decoded
func Malformed[T any](raw string) ParseResult[T] {
	return ParseResult[T]{raw: raw}
}

// Get returns the decoded value and whether decoding succeeded
func (r ParseResult[T]) Get() (T, bool) {
	return r.value, r.ok
}

// IsMalformed reports whether the output could not be decoded
func (r ParseResult[T]) IsMalformed() bool {
	return !r.ok
}

// Raw returns the undecodable text of a Malformed result
func (r ParseResult[T]) Raw() string {
	return r.raw
}

// OrElse returns the decoded value, or fallback when malformed
func (r ParseResult[T]) OrElse(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// ParseJSON decodes a JSON value from model output that may be wrapped in
// markdown fences or surrounded by prose.
func ParseJSON[T any](response string) ParseResult[T] {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return Malformed[T](response)
	}
	var value T
	if err := json.Unmarshal([]byte(jsonStr), &value); err != nil {
		log.Debugf("[JSON Extractor] Unmarshal failed: %v", err)
		return Malformed[T](response)
	}
	return Ok(value)
}

var arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// ParseJSONArray decodes a JSON array: fences are stripped, a direct parse
// is attempted, then the outermost [...] span is extracted and parsed.
func ParseJSONArray[T any](response string) ParseResult[[]T] {
	cleaned := extractFromMarkdown(response)

	var items []T
	if err := json.Unmarshal([]byte(cleaned), &items); err == nil {
		return Ok(items)
	}

	if match := arrayPattern.FindString(cleaned); match != "" {
		if err := json.Unmarshal([]byte(match), &items); err == nil {
			return Ok(items)
		}
		// Greedy match may swallow trailing prose brackets; retry with bracket matching
		if candidate := extractJSONByBrackets(match); candidate != "" {
			if err := json.Unmarshal([]byte(candidate), &items); err == nil {
				return Ok(items)
			}
		}
	}

	log.Debugf("[JSON Extractor] No JSON array found (%d chars)", len(response))
	return Malformed[[]T](response)
}

// ExtractJSON extracts and validates JSON from LLM responses that may contain
// garbage characters, markdown formatting, or other non-JSON content.
//
// It handles common issues like:
// - Markdown code blocks (```json ... ```)
// - Garbage characters before/after valid JSON
// - Mixed content with valid JSON embedded
func ExtractJSON(response string) (string, error) {
	if strings.TrimSpace(response) == "" {
		return "", ErrNoJSONFound
	}

	// Step 1: Try to extract from markdown code blocks first
	cleaned := extractFromMarkdown(response)

	// Step 2: The cleaned response may already be valid
	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	// Step 3: Try to find valid JSON by bracket matching
	if jsonStr := extractJSONByBrackets(cleaned); jsonStr != "" && json.Valid([]byte(jsonStr)) {
		return jsonStr, nil
	}

	// Step 4: Aggressive extraction - find first { or [ and last } or ]
	if jsonStr := aggressiveExtract(response); jsonStr != "" {
		return jsonStr, nil
	}

	// Step 5: Try to fix common JSON issues
	if jsonStr := tryFixJSON(cleaned); jsonStr != "" && json.Valid([]byte(jsonStr)) {
		return jsonStr, nil
	}

	log.Debugf("[JSON Extractor] No valid JSON found in response (%d chars)", len(response))
	return "", ErrNoJSONFound
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// extractFromMarkdown removes markdown code block formatting
func extractFromMarkdown(s string) string {
	s = strings.TrimSpace(s)

	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	// Unterminated fence
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// extractJSONByBrackets uses bracket matching to find complete JSON
func extractJSONByBrackets(s string) string {
	startObj := strings.Index(s, "{")
	startArr := strings.Index(s, "[")

	var start int
	var openChar, closeChar byte

	switch {
	case startObj == -1 && startArr == -1:
		return ""
	case startObj == -1 || (startArr != -1 && startArr < startObj):
		start, openChar, closeChar = startArr, '[', ']'
	default:
		start, openChar, closeChar = startObj, '{', '}'
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}

// aggressiveExtract tries to find JSON by looking for first { and last }
func aggressiveExtract(s string) string {
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		first := strings.Index(s, pair[0])
		last := strings.LastIndex(s, pair[1])
		if first != -1 && last > first {
			candidate := s[first : last+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	return ""
}

// tryFixJSON trims garbage around the outermost object and drops control characters
func tryFixJSON(s string) string {
	if lastBrace := strings.LastIndex(s, "}"); lastBrace > 0 {
		s = s[:lastBrace+1]
	}
	if firstBrace := strings.Index(s, "{"); firstBrace > 0 {
		s = s[firstBrace:]
	}

	var cleaned strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			cleaned.WriteRune(r)
		}
	}
	return cleaned.String()
}
