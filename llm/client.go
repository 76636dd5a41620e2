// Package llm defines the LLM client surface the pipeline depends on
// and adapters for langchaingo models and the OpenAI API.
package llm

import "context"

// StreamFunc receives one generated chunk. Returning an error stops
// the stream and surfaces from Stream.
type StreamFunc func(ctx context.Context, chunk string) error

// Client is the minimal LLM contract the pipeline consumes: a blocking
// completion and a token-streaming completion. Implementations carry
// their own model, temperature and retry configuration.
type Client interface {
	// Invoke sends the prompt and blocks until the full completion
	// is available.
	Invoke(ctx context.Context, prompt string) (string, error)

	// Stream sends the prompt and delivers chunks to onChunk as they
	// arrive, returning the accumulated text.
	Stream(ctx context.Context, prompt string, onChunk StreamFunc) (string, error)
}
