package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
)

// CompletionRequest is a single system+user chat turn.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	JSON        bool
}

// Completer sends one chat completion and returns the text content, or ""
// when the backend returned none.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// NewCompleter builds the completer matching p.Kind.
func NewCompleter(p Provider) Completer {
	if p.Kind == AnthropicMessages {
		return NewAnthropicCompleter(p)
	}
	return NewOpenAICompleter(p)
}

type openAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter talks to any OpenAI-compatible chat completions API.
func NewOpenAICompleter(p Provider) Completer {
	cfg := openai.DefaultConfig(p.APIKey)
	if p.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(p.BaseURL, "/")
	}
	return &openAICompleter{client: openai.NewClientWithConfig(cfg), model: p.Model}
}

func (c *openAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if req.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", c.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

type anthropicCompleter struct {
	api   anthropic.Client
	model anthropic.Model
}

// NewAnthropicCompleter talks to the Anthropic Messages API.
func NewAnthropicCompleter(p Provider) Completer {
	opts := []option.RequestOption{option.WithAPIKey(p.APIKey)}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	return &anthropicCompleter{
		api:   anthropic.NewClient(opts...),
		model: anthropic.Model(p.Model),
	}
}

func (c *anthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system := req.System
	if req.JSON {
		system += "\n\nReturn valid JSON only, no markdown fencing or explanation."
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	return stripFence(text), nil
}

// stripFence removes a surrounding ``` block if the model added one.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
