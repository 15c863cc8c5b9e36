package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is the Gemini embedding model.
const DefaultGeminiModel = "text-embedding-004"

// geminiMaxBatch is the request limit of BatchEmbedContents.
const geminiMaxBatch = 100

// GeminiEmbedder generates embeddings with the Gemini API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	name      string
	batchSize int
	timeout   time.Duration
}

// NewGemini creates a Gemini embedder for cfg.APIKey.
func NewGemini(ctx context.Context, cfg Config) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini client: %w", ErrMissingAPIKey)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = DefaultGeminiModel
	}
	batch := cfg.BatchSize
	if batch <= 0 || batch > geminiMaxBatch {
		batch = geminiMaxBatch
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &GeminiEmbedder{
		client:    client,
		model:     client.EmbeddingModel(name),
		name:      name,
		batchSize: batch,
		timeout:   timeout,
	}, nil
}

// Model implements Embedder.
func (g *GeminiEmbedder) Model() string { return g.name }

// Embed implements Embedder.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += g.batchSize {
		end := min(i+g.batchSize, len(texts))

		var vectors [][]float32
		op := func() error {
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()

			b := g.model.NewBatch()
			for _, t := range texts[i:end] {
				b.AddContent(genai.Text(t))
			}
			resp, err := g.model.BatchEmbedContents(callCtx, b)
			if err != nil {
				return err
			}
			if len(resp.Embeddings) != end-i {
				return backoff.Permanent(fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, end-i, len(resp.Embeddings)))
			}
			vectors = make([][]float32, len(resp.Embeddings))
			for j, e := range resp.Embeddings {
				vectors[j] = e.Values
			}
			return nil
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = retryInitialInterval
		b.MaxInterval = retryMaxInterval
		b.MaxElapsedTime = retryMaxElapsed
		if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Close releases the underlying client.
func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}
