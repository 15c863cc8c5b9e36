// Package tokenizer provides the two token measures used by the pipeline:
// a cheap character based estimate for splitting decisions and an accurate
// BPE count for accounting and cost.
package tokenizer

import (
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by the OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// Estimate approximates the token count of s as one token per four
// characters, rounded up.
func Estimate(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// Counter counts tokens accurately enough for billing.
type Counter interface {
	Count(text string) int
}

// EstimateCounter is a Counter backed by Estimate.
type EstimateCounter struct{}

// Count implements Counter.
func (EstimateCounter) Count(text string) int { return Estimate(text) }

// BPECounter counts tokens with a tiktoken encoding.
type BPECounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewBPECounter loads the named encoding. Loading may fetch the ranks file
// on first use, so callers should be prepared for an error when offline.
func NewBPECounter(encoding string) (*BPECounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &BPECounter{enc: enc}, nil
}

// Count implements Counter.
func (c *BPECounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.EncodeOrdinary(text))
}

// New returns a BPE counter for encoding, or the estimate counter when the
// encoding cannot be loaded.
func New(encoding string, logger *slog.Logger) Counter {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := NewBPECounter(encoding)
	if err != nil {
		logger.Warn("Falling back to estimated token counts", "encoding", encoding, "error", err)
		return EstimateCounter{}
	}
	return c
}
