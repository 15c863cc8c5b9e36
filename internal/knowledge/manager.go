// Package knowledge embeds fragments into per-bot vector collections and
// searches them. Each bot owns exactly one collection; clients are cached
// per tenant, bot and credential.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Kanishk2004/plug-rag/internal/chunker"
	"github.com/Kanishk2004/plug-rag/internal/clientcache"
	"github.com/Kanishk2004/plug-rag/internal/credentials"
	"github.com/Kanishk2004/plug-rag/internal/embedding"
	"github.com/Kanishk2004/plug-rag/internal/storage"
	"github.com/Kanishk2004/plug-rag/internal/tokenizer"
)

// DefaultUnitPrice is the embedding price in USD per 1K tokens.
const DefaultUnitPrice = 0.00002

// pointNamespace scopes the deterministic fragment ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("plug-rag/fragment"))

// EmbedderFactory builds an embedder for a resolved credential.
type EmbedderFactory func(ctx context.Context, cred *credentials.Credential) (embedding.Embedder, error)

// DefaultEmbedderFactory builds embedders from base, overriding provider,
// key and model with the credential's.
func DefaultEmbedderFactory(base embedding.Config) EmbedderFactory {
	return func(ctx context.Context, cred *credentials.Credential) (embedding.Embedder, error) {
		cfg := base
		if cred.Provider != "" {
			cfg.Provider = cred.Provider
		}
		cfg.APIKey = cred.APIKey
		if cred.EmbeddingModel != "" {
			cfg.Model = cred.EmbeddingModel
		}
		return embedding.New(ctx, cfg)
	}
}

// Config tunes a Manager.
type Config struct {
	// UnitPrice is USD per 1K tokens. Zero uses DefaultUnitPrice.
	UnitPrice float64
	// BatchSize is the number of fragments per embedding call.
	BatchSize int
	// Concurrency bounds parallel embedding calls per document.
	Concurrency int
}

// StoreResult summarizes one EmbedAndStore call.
type StoreResult struct {
	DocumentsStored int
	TotalTokens     int
	TotalCharacters int
	EstimatedCost   float64
	ProcessingTime  time.Duration
	Model           string
}

// SearchHit is one retrieved fragment.
type SearchHit struct {
	Content      string  `json:"content"`
	DocumentID   string  `json:"documentId"`
	FileName     string  `json:"fileName"`
	FragmentType string  `json:"fragmentType"`
	Heading      string  `json:"heading,omitempty"`
	Ordinal      float64 `json:"ordinal"`
	Index        int     `json:"chunkIndex"`
	Page         int     `json:"pageNumber,omitempty"`
	Score        float64 `json:"score"`
}

// Manager embeds and retrieves fragments.
type Manager struct {
	index     storage.VectorIndex
	resolver  credentials.Resolver
	factory   EmbedderFactory
	embedders *clientcache.Cache[embedding.Embedder]
	counter   tokenizer.Counter
	cfg       Config
	logger    *slog.Logger
}

// NewManager wires a Manager. The cache is injected so callers decide its
// lifetime; a nil cache gets a fresh one.
func NewManager(index storage.VectorIndex, resolver credentials.Resolver, factory EmbedderFactory,
	cache *clientcache.Cache[embedding.Embedder], counter tokenizer.Counter, cfg Config, logger *slog.Logger) *Manager {
	if cache == nil {
		cache = clientcache.New[embedding.Embedder]()
	}
	if counter == nil {
		counter = tokenizer.EstimateCounter{}
	}
	if cfg.UnitPrice <= 0 {
		cfg.UnitPrice = DefaultUnitPrice
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		index:     index,
		resolver:  resolver,
		factory:   factory,
		embedders: cache,
		counter:   counter,
		cfg:       cfg,
		logger:    logger.With("component", "knowledge"),
	}
}

// Credential resolves the credential used for a bot.
func (m *Manager) Credential(ctx context.Context, tenantID, botID string) (*credentials.Credential, error) {
	return m.resolver.Resolve(ctx, botID, tenantID)
}

// embedder returns the cached embedder for the bot's current credential.
func (m *Manager) embedder(ctx context.Context, tenantID, botID string) (embedding.Embedder, error) {
	cred, err := m.Credential(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}
	key := clientcache.Key{
		TenantID:    tenantID,
		BotID:       botID,
		Fingerprint: cred.Fingerprint() + "/" + cred.EmbeddingModel,
	}
	return m.embedders.GetOrCreate(key, func() (embedding.Embedder, error) {
		m.logger.Debug("Creating embedding client", "tenant_id", tenantID, "bot_id", botID, "source", cred.Source)
		return m.factory(ctx, cred)
	})
}

// EmbedAndStore embeds fragments and upserts them into the bot's
// collection, creating it on first write. Point ids derive from document id
// and ordinal, so reprocessing a document overwrites its earlier vectors.
func (m *Manager) EmbedAndStore(ctx context.Context, tenantID, botID string, frags []chunker.Fragment) (*StoreResult, error) {
	start := time.Now()
	if len(frags) == 0 {
		return &StoreResult{}, nil
	}

	emb, err := m.embedder(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(frags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i := 0; i < len(frags); i += m.cfg.BatchSize {
		end := min(i+m.cfg.BatchSize, len(frags))
		g.Go(func() error {
			texts := make([]string, 0, end-i)
			for _, f := range frags[i:end] {
				texts = append(texts, f.Content)
			}
			vecs, err := emb.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed fragments %d-%d: %w", i, end, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed fragments %d-%d: %w", i, end, embedding.ErrCountMismatch)
			}
			copy(vectors[i:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	collection := storage.CollectionName(botID)
	if err := m.index.EnsureCollection(ctx, collection, len(vectors[0])); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	res := &StoreResult{Model: emb.Model()}
	points := make([]storage.Point, len(frags))
	for i, f := range frags {
		tokens := m.counter.Count(f.Content)
		res.TotalTokens += tokens
		res.TotalCharacters += len([]rune(f.Content))
		points[i] = storage.Point{
			ID:     PointID(f.DocumentID, f.Ordinal),
			Vector: vectors[i],
			Payload: storage.Payload{
				DocumentID:     f.DocumentID,
				TenantID:       tenantID,
				BotID:          botID,
				FileName:       f.FileName,
				FragmentType:   string(f.Type),
				Ordinal:        f.Ordinal,
				Index:          f.Index,
				Tokens:         tokens,
				Page:           f.PageNumber,
				Heading:        f.Heading,
				Content:        f.Content,
				EmbeddingModel: emb.Model(),
			},
		}
	}
	if err := m.index.Upsert(ctx, collection, points); err != nil {
		return nil, fmt.Errorf("store vectors: %w", err)
	}

	res.DocumentsStored = len(points)
	res.EstimatedCost = float64(res.TotalTokens) / 1000 * m.cfg.UnitPrice
	res.ProcessingTime = time.Since(start)

	m.logger.Info("Stored fragments",
		"bot_id", botID, "collection", collection, "fragments", res.DocumentsStored,
		"tokens", res.TotalTokens, "cost_usd", res.EstimatedCost, "duration", res.ProcessingTime)
	return res, nil
}

// Search returns the k fragments of the bot's collection nearest to query.
// A bot without a collection has no knowledge and yields no hits.
func (m *Manager) Search(ctx context.Context, tenantID, botID, query string, k int) ([]SearchHit, error) {
	collection := storage.CollectionName(botID)
	exists, err := m.index.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	emb, err := m.embedder(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}
	vecs, err := emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: %w", embedding.ErrCountMismatch)
	}

	points, err := m.index.Search(ctx, collection, vecs[0], k, storage.Filter{TenantID: tenantID})
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	hits := make([]SearchHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, SearchHit{
			Content:      p.Payload.Content,
			DocumentID:   p.Payload.DocumentID,
			FileName:     p.Payload.FileName,
			FragmentType: p.Payload.FragmentType,
			Heading:      p.Payload.Heading,
			Ordinal:      p.Payload.Ordinal,
			Index:        p.Payload.Index,
			Page:         p.Payload.Page,
			Score:        p.Score,
		})
	}
	return hits, nil
}

// DeleteKnowledge drops the bot's collection and nothing else.
func (m *Manager) DeleteKnowledge(ctx context.Context, botID string) error {
	collection := storage.CollectionName(botID)
	if err := m.index.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("delete knowledge for bot %s: %w", botID, err)
	}
	m.logger.Info("Deleted knowledge base", "bot_id", botID, "collection", collection)
	return nil
}

// DeleteDocument removes one document's vectors from the bot's collection.
func (m *Manager) DeleteDocument(ctx context.Context, botID, documentID string) error {
	if err := m.index.DeleteByDocument(ctx, storage.CollectionName(botID), documentID); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

// CountVectors returns how many vectors a document has in the bot's
// collection.
func (m *Manager) CountVectors(ctx context.Context, botID, documentID string) (int, error) {
	return m.index.CountByDocument(ctx, storage.CollectionName(botID), documentID)
}

// Health checks the vector index.
func (m *Manager) Health(ctx context.Context) error {
	return m.index.Health(ctx)
}

// PointID is the deterministic vector id of a fragment.
func PointID(documentID string, ordinal float64) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID+"#"+strconv.FormatFloat(ordinal, 'f', -1, 64))).String()
}
