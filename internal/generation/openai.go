package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the OpenAI chat model.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxPromptTokens is the maximum prompt length before truncation (in tokens).
	DefaultMaxPromptTokens = 16000
)

// OpenAI generates answers with OpenAI chat completions.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAI creates a generator with the given OpenAI client. Empty model
// and zero maxPromptTokens use the defaults.
func NewOpenAI(client *openai.Client, model string, maxPromptTokens int, logger *slog.Logger) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	if maxPromptTokens <= 0 {
		maxPromptTokens = DefaultMaxPromptTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client:    client,
		model:     model,
		maxTokens: maxPromptTokens,
		logger:    logger.With("component", "generation", "provider", ProviderOpenAI),
	}
}

// Model implements Generator.
func (g *OpenAI) Model() string { return g.model }

// Generate implements Generator.
func (g *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.History {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(g.truncateContent(req.Prompt)))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       g.model,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}
	return &Response{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
		Model:      model,
	}, nil
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (g *OpenAI) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	r := []rune(content)
	if len(r) <= maxChars {
		return content
	}

	g.logger.Warn("Truncating prompt",
		"from_chars", len(r), "to_chars", maxChars, "max_tokens", g.maxTokens)

	return string(r[:maxChars])
}
