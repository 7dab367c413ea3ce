// Package genai provides GenAI-enhanced operations using OpenAI API.
//
// It wraps the chat completions service for the two calls AssessPipe makes:
// schema-constrained structured generation and streamed free-text chat.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = openai.ChatModelGPT4oMini

var (
	// ErrMissingAPIKey is returned by NewClient when no credential is available.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")
	// ErrNoChoicesReturned is returned when the provider answers without any choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyContent is returned when the first choice carries no content.
	ErrEmptyContent = errors.New("empty content returned")
)

// chatService defines the subset of the chat completions service used here.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// ClientInterface is implemented by Client and by test doubles.
type ClientInterface interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (string, error)
	StreamChat(ctx context.Context, req ChatRequest, onDelta func(string) error) error
}

// StructuredRequest describes one schema-constrained generation call.
type StructuredRequest struct {
	Model             string
	System            string
	Messages          []models.ChatMessage
	SchemaName        string
	SchemaDescription string
	Schema            map[string]interface{}
}

// ChatRequest describes one streamed chat call.
type ChatRequest struct {
	Model    string
	System   string
	Messages []models.ChatMessage
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the provider credential.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at a different endpoint (proxies, tests).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithMaxRetries overrides the retry count. The default is zero: a failed call
// goes straight to the caller's fallback path.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat chatService
}

// NewClient initializes a new GenAI client. The API key comes from the options,
// falling back to the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	slog.Debug("GenAI client configured", "base_url_set", cfg.BaseURL != "", "max_retries", cfg.MaxRetries)

	cli := openai.NewClient(reqOpts...)
	return &Client{chat: &cli.Chat.Completions}, nil
}

// GenerateStructured asks the model for a JSON document matching req.Schema and
// returns the raw JSON text. Shape validation is left to the caller.
func (c *Client) GenerateStructured(ctx context.Context, req StructuredRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    modelOrDefault(req.Model),
		Messages: buildMessages(req.System, req.Messages),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.SchemaName,
					Description: openai.String(req.SchemaDescription),
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("structured generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", ErrEmptyContent
	}
	slog.Debug("Client.GenerateStructured: completion received", "model", resp.Model, "length", len(content))
	return content, nil
}

// StreamChat streams plain-text deltas to onDelta until the model finishes.
// An error from onDelta stops the stream and is returned as is.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onDelta func(string) error) error {
	params := openai.ChatCompletionNewParams{
		Model:    modelOrDefault(req.Model),
		Messages: buildMessages(req.System, req.Messages),
	}

	stream := c.chat.NewStreaming(ctx, params)
	defer stream.Close()

	chunks := 0
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		chunks++
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("chat stream failed: %w", err)
	}
	slog.Debug("Client.StreamChat: stream finished", "chunks", chunks)
	return nil
}

func modelOrDefault(model string) openai.ChatModel {
	if model == "" {
		return DefaultModel
	}
	return openai.ChatModel(model)
}

// buildMessages prepends the system prompt to the caller's conversation.
func buildMessages(system string, history []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, m := range history {
		switch m.Role {
		case models.ChatRoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case models.ChatRoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}
