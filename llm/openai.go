package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client directly on the OpenAI chat API, for
// deployments that do not go through langchaingo.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for the given API key and model.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewOpenAIClientWithConfig creates a client from a full config,
// useful for Azure or proxy endpoints.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// SetTemperature sets the sampling temperature for all requests.
func (c *OpenAIClient) SetTemperature(t float32) {
	c.temperature = t
}

func (c *OpenAIClient) request(prompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
}

// Invoke sends the prompt and blocks until the completion is done.
func (c *OpenAIClient) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt))
	if err != nil {
		return "", fmt.Errorf("openai invoke: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai invoke: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends the prompt over the streaming API, forwarding each
// delta to onChunk and returning the accumulated text.
func (c *OpenAIClient) Stream(ctx context.Context, prompt string, onChunk StreamFunc) (string, error) {
	req := c.request(prompt)
	req.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var full string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full, nil
		}
		if err != nil {
			return full, fmt.Errorf("openai stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		full += chunk
		if onChunk != nil {
			if err := onChunk(ctx, chunk); err != nil {
				return full, err
			}
		}
	}
}
