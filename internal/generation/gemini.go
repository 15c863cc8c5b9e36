package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/Kanishk2004/plug-rag/internal/embedding"
)

// DefaultGeminiModel is the Gemini chat model.
const DefaultGeminiModel = "gemini-1.5-flash"

// Gemini generates answers with the Gemini API.
type Gemini struct {
	client *genai.Client
	name   string
}

// NewGemini creates a Gemini generator for cfg.APIKey.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini client: %w", embedding.ErrMissingAPIKey)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = DefaultGeminiModel
	}
	return &Gemini{client: client, name: name}, nil
}

// Model implements Generator.
func (g *Gemini) Model() string { return g.name }

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	model := g.client.GenerativeModel(g.name)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	cs := model.StartChat()
	for _, m := range req.History {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	var b strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return nil, ErrEmptyResponse
	}

	out := &Response{Content: b.String(), Model: g.name}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
