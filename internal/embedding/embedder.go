package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
	DefaultBatchSize = 500

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second
)

// Retry policy for rate limited requests.
var (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API.
// It batches requests for efficiency and implements exponential backoff on rate limit errors.
type OpenAIEmbedder struct {
	client    *Client
	model     string
	batchSize int
	timeout   time.Duration
}

// NewEmbedder creates a new OpenAIEmbedder with the given client and optional batch size.
// If batchSize is 0, DefaultBatchSize (500) is used.
func NewEmbedder(client *Client, batchSize int) *OpenAIEmbedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &OpenAIEmbedder{
		client:    client,
		model:     DefaultModel,
		batchSize: batchSize,
		timeout:   DefaultTimeout,
	}
}

// Model implements Embedder.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed generates embeddings for the given texts.
// Batches requests and retries with exponential backoff on rate limit errors.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	allEmbeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := texts[i:end]

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// embedBatchWithRetry generates embeddings for a single batch with retry logic.
// Retries with exponential backoff on rate limit errors (HTTP 429).
// Other errors fail immediately.
func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.client.Embeddings.New(callCtx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: e.model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			if isAuthError(err) {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, err))
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, len(texts), len(resp.Data)))
		}

		// Data is ordered by Index; place each vector explicitly.
		embeddings = make([][]float32, len(resp.Data))
		for _, data := range resp.Data {
			if data.Index < 0 || int(data.Index) >= len(embeddings) {
				return backoff.Permanent(fmt.Errorf("%w: index %d out of range", ErrCountMismatch, data.Index))
			}
			embeddings[data.Index] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsed

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func isAuthError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
