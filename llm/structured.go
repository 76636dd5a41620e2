package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError describes a structured-output response that did not match
// the declared schema. Raw keeps the original model text for logging
// and retry prompts.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("structured output parse failed: %s", e.Reason)
}

// ParseResult is the tagged outcome of decoding a model response
// against a schema: either Value is populated or Err explains why not.
// Callers branch on Ok instead of catching exceptions.
type ParseResult[T any] struct {
	Value T
	Err   *ParseError
}

// Ok reports whether the decode succeeded.
func (r ParseResult[T]) Ok() bool {
	return r.Err == nil
}

// DecodeJSON decodes a model response as JSON into T. Markdown code
// fences around the payload are tolerated and stripped first. Unknown
// fields are rejected so a drifting response shape fails loudly.
func DecodeJSON[T any](raw string) ParseResult[T] {
	cleaned := StripCodeFences(raw)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()

	var value T
	if err := dec.Decode(&value); err != nil {
		return ParseResult[T]{Err: &ParseError{Raw: raw, Reason: err.Error()}}
	}
	return ParseResult[T]{Value: value}
}

// StripCodeFences removes a surrounding Markdown code fence, with or
// without a language tag, from a model response.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop a language tag like "json" on the opening fence line.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}[]\"") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
