package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// LangChainClient adapts a langchaingo llms.Model to the Client
// interface used across the pipeline.
type LangChainClient struct {
	model llms.Model
	opts  []llms.CallOption
}

var _ Client = (*LangChainClient)(nil)

// NewLangChainClient wraps a langchaingo model. Extra call options
// (temperature, max tokens) apply to every request.
func NewLangChainClient(model llms.Model, opts ...llms.CallOption) *LangChainClient {
	return &LangChainClient{model: model, opts: opts}
}

// Invoke sends the prompt and blocks until the completion is done.
func (c *LangChainClient) Invoke(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := c.model.GenerateContent(ctx, messages, c.opts...)
	if err != nil {
		return "", fmt.Errorf("llm invoke: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm invoke: empty response")
	}
	return resp.Choices[0].Content, nil
}

// Stream sends the prompt with token streaming enabled, forwarding
// each chunk to onChunk and returning the accumulated text.
func (c *LangChainClient) Stream(ctx context.Context, prompt string, onChunk StreamFunc) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var full string
	streamingFunc := func(ctx context.Context, chunk []byte) error {
		text := string(chunk)
		full += text
		if onChunk != nil {
			return onChunk(ctx, text)
		}
		return nil
	}

	opts := append([]llms.CallOption{llms.WithStreamingFunc(streamingFunc)}, c.opts...)
	_, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return full, fmt.Errorf("llm stream: %w", err)
	}
	return full, nil
}
