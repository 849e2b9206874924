// Package jsonutil provides utilities for extracting and parsing JSON from
// LLM responses that may be wrapped in markdown code fences or embedded in prose.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoObject is returned when text contains no {...} span.
var ErrNoObject = errors.New("no JSON object found")

// fencePattern matches a whole response wrapped in ``` or ```lang fences.
var fencePattern = regexp.MustCompile("(?s)^```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)\r?\n?[ \t]*```$")

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
// Returns the trimmed content between the fences, or the trimmed text if it is
// not fenced.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// ExtractObject returns the substring from the first '{' to the last '}'.
func ExtractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", ErrNoObject
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("%w: no closing brace", ErrNoObject)
	}
	return text[start : end+1], nil
}

// Stage reports which step of Decode produced the value.
type Stage int

const (
	// StageStrict means the fence-stripped text decoded as is.
	StageStrict Stage = iota
	// StageExtracted means only the outermost brace span decoded.
	StageExtracted
)

// Decode strips fences from raw, decodes it into T, and on failure retries on
// the outermost {...} span. The returned error wraps the last decode failure.
func Decode[T any](raw string) (T, Stage, error) {
	text := StripMarkdownFences(raw)

	var result T
	strictErr := json.Unmarshal([]byte(text), &result)
	if strictErr == nil {
		return result, StageStrict, nil
	}

	span, err := ExtractObject(text)
	if err != nil {
		var zero T
		return zero, StageExtracted, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var extracted T
	if err := json.Unmarshal([]byte(span), &extracted); err != nil {
		var zero T
		return zero, StageExtracted, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(span, 200))
	}
	return extracted, StageExtracted, nil
}

// ParseJSON is Decode without the stage.
func ParseJSON[T any](raw string) (T, error) {
	v, _, err := Decode[T](raw)
	return v, err
}

// Preview truncates s to n bytes for log and error messages.
func Preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
