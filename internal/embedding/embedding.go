// Package embedding turns fragment text into vectors. OpenAI is the default
// provider; Gemini and a local hashing embedder are alternates.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	// ProviderHash embeds locally without network access.
	ProviderHash = "hash"
)

// Embedder generates one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model names the embedding model, recorded alongside stored vectors.
	Model() string
}

// Config selects and configures an Embedder.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	// BatchSize is the number of texts sent per request.
	BatchSize int
	// Timeout bounds each provider call.
	Timeout time.Duration
	// Dimension is used by the hash provider only.
	Dimension int
}

// New builds the Embedder named by cfg.Provider. An empty provider means
// OpenAI.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		client, err := NewClient(ClientOptions{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		e := NewEmbedder(client, cfg.BatchSize)
		if cfg.Model != "" {
			e.model = cfg.Model
		}
		if cfg.Timeout > 0 {
			e.timeout = cfg.Timeout
		}
		return e, nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderHash:
		return NewHash(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
