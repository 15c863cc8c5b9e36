// Package generation produces chat answers from a prompt and recent
// conversation history.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kanishk2004/plug-rag/internal/embedding"
)

var (
	// ErrEmptyResponse is returned when the model answers without content.
	ErrEmptyResponse = errors.New("model returned no content")
	// ErrUnknownProvider is returned when Config names no supported provider.
	ErrUnknownProvider = errors.New("unknown generation provider")
)

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    Role
	Content string
}

// Request is a single generation call.
type Request struct {
	System  string
	History []Message
	Prompt  string
	// MaxTokens caps the completion. Zero leaves the provider default.
	MaxTokens   int
	Temperature float64
}

// Response is a generated answer.
type Response struct {
	Content    string
	TokensUsed int
	Model      string
}

// Generator answers a Request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// Config selects and configures a Generator.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	// MaxPromptTokens truncates oversized prompts. Zero uses DefaultMaxPromptTokens.
	MaxPromptTokens int
	Timeout         time.Duration
}

// New builds the Generator named by cfg.Provider. An empty provider means
// OpenAI.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		client, err := embedding.NewClient(embedding.ClientOptions{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, RequestTimeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		return NewOpenAI(client.Client(), cfg.Model, cfg.MaxPromptTokens, nil), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
