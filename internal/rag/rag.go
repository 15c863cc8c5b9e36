// Package rag answers questions from a bot's knowledge base. It never
// returns an error: failures become a fallback answer that keeps the cause
// for observability.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Kanishk2004/plug-rag/internal/clientcache"
	"github.com/Kanishk2004/plug-rag/internal/credentials"
	"github.com/Kanishk2004/plug-rag/internal/generation"
	"github.com/Kanishk2004/plug-rag/internal/knowledge"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

// Defaults.
const (
	DefaultTopK            = 4
	DefaultHistoryMessages = 6
	DefaultMaxContextChars = 12000
	DefaultMaxTokens       = 800
	DefaultTemperature     = 0.2
	DefaultGenerateTimeout = 45 * time.Second
	DefaultRetrieveTimeout = 20 * time.Second
)

// NoContextAnswer is returned, without calling the model, when retrieval
// finds nothing.
const NoContextAnswer = "I couldn't find anything about that in the documents I have been given, " +
	"so I can't answer it reliably. Try asking about topics covered in the uploaded documents, " +
	"such as their policies, procedures, products or other facts they describe."

// ErrorAnswer is returned when retrieval or generation fails.
const ErrorAnswer = "Sorry, I ran into a problem while preparing an answer. Please try again in a moment."

// TenantStore reports who owns an active bot.
type TenantStore interface {
	BotOwner(ctx context.Context, botID string) (string, error)
}

// Retriever searches a bot's knowledge and resolves its credentials.
type Retriever interface {
	Search(ctx context.Context, tenantID, botID, query string, k int) ([]knowledge.SearchHit, error)
	Credential(ctx context.Context, tenantID, botID string) (*credentials.Credential, error)
}

// GeneratorFactory builds a generator for a resolved credential.
type GeneratorFactory func(ctx context.Context, cred *credentials.Credential) (generation.Generator, error)

// DefaultGeneratorFactory overrides base with the credential's key, model
// and provider. Credentials naming an embedding-only provider keep the base
// provider.
func DefaultGeneratorFactory(base generation.Config) GeneratorFactory {
	return func(ctx context.Context, cred *credentials.Credential) (generation.Generator, error) {
		cfg := base
		switch cred.Provider {
		case generation.ProviderOpenAI, generation.ProviderGemini:
			cfg.Provider = cred.Provider
		}
		cfg.APIKey = cred.APIKey
		if cred.ChatModel != "" {
			cfg.Model = cred.ChatModel
		}
		return generation.New(ctx, cfg)
	}
}

// Config tunes the orchestrator.
type Config struct {
	TopK            int
	HistoryMessages int
	MaxContextChars int
	MaxTokens       int
	Temperature     float64
	// MinScore drops hits scoring below it. Zero keeps every hit.
	MinScore        float64
	GenerateTimeout time.Duration
	RetrieveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.HistoryMessages < 0 {
		c.HistoryMessages = 0
	} else if c.HistoryMessages == 0 {
		c.HistoryMessages = DefaultHistoryMessages
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = DefaultMaxContextChars
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.RetrieveTimeout <= 0 {
		c.RetrieveTimeout = DefaultRetrieveTimeout
	}
	return c
}

// Source attributes an answer to a document fragment.
type Source struct {
	FileName   string   `json:"fileName"`
	PageNumber *int     `json:"pageNumber,omitempty"`
	ChunkIndex *int     `json:"chunkIndex,omitempty"`
	Score      *float64 `json:"score,omitempty"`
}

// Answer is the result of one question.
type Answer struct {
	Content            string        `json:"content"`
	Sources            []Source      `json:"sources"`
	TokensUsed         int           `json:"tokensUsed"`
	ResponseTime       time.Duration `json:"-"`
	ResponseTimeMS     int64         `json:"responseTimeMs"`
	Model              string        `json:"model,omitempty"`
	HasRelevantContext bool          `json:"hasRelevantContext"`
	Error              string        `json:"error,omitempty"`
}

// Orchestrator runs retrieval and generation for one question at a time.
type Orchestrator struct {
	tenants    TenantStore
	retriever  Retriever
	factory    GeneratorFactory
	generators *clientcache.Cache[generation.Generator]
	usage      *UsageTracker
	cfg        Config
	logger     *slog.Logger
}

// NewOrchestrator wires an orchestrator. usage may be nil to disable
// tracking; a nil cache gets a fresh one.
func NewOrchestrator(tenants TenantStore, retriever Retriever, factory GeneratorFactory,
	cache *clientcache.Cache[generation.Generator], usage *UsageTracker, cfg Config, logger *slog.Logger) *Orchestrator {
	if cache == nil {
		cache = clientcache.New[generation.Generator]()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		tenants:    tenants,
		retriever:  retriever,
		factory:    factory,
		generators: cache,
		usage:      usage,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "rag"),
	}
}

// Answer answers question for botID using history as prior conversation.
func (o *Orchestrator) Answer(ctx context.Context, botID, question string, history []generation.Message) *Answer {
	start := time.Now()
	logger := o.logger.With("bot_id", botID)

	if strings.TrimSpace(question) == "" {
		return o.fallback(start, errors.New("empty question"), logger)
	}

	owner, err := o.tenants.BotOwner(ctx, botID)
	if err != nil {
		return o.fallback(start, fmt.Errorf("resolve owner: %w", err), logger)
	}

	hits, err := o.retrieve(ctx, owner, botID, question)
	if err != nil {
		return o.fallback(start, err, logger)
	}
	if len(hits) == 0 {
		logger.Info("No relevant context, answering without generation")
		elapsed := time.Since(start)
		if o.usage != nil {
			o.usage.Track(records.UsageEvent{
				BotID:      botID,
				OwnerID:    owner,
				Kind:       "no_context",
				ResponseMS: elapsed.Milliseconds(),
			})
		}
		return &Answer{
			Content:        NoContextAnswer,
			Sources:        []Source{},
			ResponseTime:   elapsed,
			ResponseTimeMS: elapsed.Milliseconds(),
		}
	}

	cred, err := o.retriever.Credential(ctx, owner, botID)
	if err != nil {
		return o.fallback(start, fmt.Errorf("resolve credentials: %w", err), logger)
	}
	gen, err := o.generator(ctx, owner, botID, cred)
	if err != nil {
		return o.fallback(start, fmt.Errorf("create generator: %w", err), logger)
	}

	req := generation.Request{
		System:      systemPrompt,
		History:     TrimHistory(history, question, o.cfg.HistoryMessages),
		Prompt:      BuildPrompt(FormatContext(hits, o.cfg.MaxContextChars), question),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()
	resp, err := gen.Generate(genCtx, req)
	if err != nil {
		return o.fallback(start, fmt.Errorf("generate: %w", err), logger)
	}

	content := StripCitations(resp.Content)
	if content == "" {
		return o.fallback(start, fmt.Errorf("generate: %w", generation.ErrEmptyResponse), logger)
	}

	elapsed := time.Since(start)
	answer := &Answer{
		Content:            content,
		Sources:            attribute(hits),
		TokensUsed:         resp.TokensUsed,
		ResponseTime:       elapsed,
		ResponseTimeMS:     elapsed.Milliseconds(),
		Model:              resp.Model,
		HasRelevantContext: true,
	}

	if o.usage != nil {
		o.usage.Track(records.UsageEvent{
			BotID:      botID,
			OwnerID:    owner,
			Kind:       "answer",
			Model:      resp.Model,
			Tokens:     resp.TokensUsed,
			ResponseMS: elapsed.Milliseconds(),
		})
	}

	logger.Info("Answered question",
		"hits", len(hits),
		"sources", len(answer.Sources),
		"tokens", answer.TokensUsed,
		"model", answer.Model,
		"duration", elapsed,
	)
	return answer
}

func (o *Orchestrator) retrieve(ctx context.Context, owner, botID, question string) ([]knowledge.SearchHit, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RetrieveTimeout)
	defer cancel()

	hits, err := o.retriever.Search(ctx, owner, botID, question, o.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if o.cfg.MinScore <= 0 {
		return hits, nil
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= o.cfg.MinScore {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

func (o *Orchestrator) generator(ctx context.Context, owner, botID string, cred *credentials.Credential) (generation.Generator, error) {
	key := clientcache.Key{
		TenantID:    owner,
		BotID:       botID,
		Fingerprint: cred.Fingerprint() + "/" + cred.ChatModel,
	}
	return o.generators.GetOrCreate(key, func() (generation.Generator, error) {
		o.logger.Debug("Creating generation client", "tenant_id", owner, "bot_id", botID, "source", cred.Source)
		return o.factory(ctx, cred)
	})
}

func (o *Orchestrator) fallback(start time.Time, err error, logger *slog.Logger) *Answer {
	logger.Error("Answer failed, returning fallback", "error", err)
	elapsed := time.Since(start)
	return &Answer{
		Content:        ErrorAnswer,
		Sources:        []Source{},
		ResponseTime:   elapsed,
		ResponseTimeMS: elapsed.Milliseconds(),
		Error:          err.Error(),
	}
}
