package embedding

import (
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the OpenAI client shared by embedding and chat generation.
type Client struct {
	client *openai.Client
}

// ClientOptions configures an OpenAI client.
type ClientOptions struct {
	APIKey string
	// BaseURL points the client at a compatible endpoint. Empty uses the
	// OpenAI default.
	BaseURL string
	// RequestTimeout bounds each HTTP attempt. Zero leaves the SDK default.
	RequestTimeout time.Duration
}

// NewClient creates an OpenAI client for an explicit key. SDK level retries
// are disabled; callers retry with their own backoff policy.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai client: %w", ErrMissingAPIKey)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.RequestTimeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.RequestTimeout))
	}

	client := openai.NewClient(reqOpts...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., chat generation).
func (c *Client) Client() *openai.Client {
	return c.client
}
