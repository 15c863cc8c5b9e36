package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig locates a Qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStorage wraps the Qdrant client with connection management and health checks.
type QdrantStorage struct {
	client *qdrant.Client
	host   string
	port   int
}

var _ VectorIndex = (*QdrantStorage)(nil)

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(cfg QdrantConfig) (*QdrantStorage, error) {
	// Create Qdrant client using gRPC
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client: client,
		host:   cfg.Host,
		port:   cfg.Port,
	}

	ctx := context.Background()
	err = storage.healthCheckWithRetry(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, backoff.WithContext(newBackoff(), ctx))
}

// Health performs a single health check against Qdrant.
// Returns nil if Qdrant is healthy, error otherwise.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// CollectionExists implements VectorIndex.
func (s *QdrantStorage) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	return ok, nil
}

// EnsureCollection ensures the collection exists with cosine distance and
// payload indexes. Safe to call concurrently from several workers.
func (s *QdrantStorage) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Lost a creation race with another worker.
		if exists, checkErr := s.CollectionExists(ctx, name); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	if err := s.createPayloadIndexes(ctx, name); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}
	return nil
}

// createPayloadIndexes creates indexes for all filterable fields.
// Without these indexes, filtering becomes 10-100x slower.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context, name string) error {
	fields := []string{
		"document_id", // Delete and count a document's vectors
		"tenant_id",   // Scope searches to the owning tenant
	}

	for _, field := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	return nil
}

// DeleteCollection implements VectorIndex.
func (s *QdrantStorage) DeleteCollection(ctx context.Context, name string) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return err
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Upsert stores points in batches of 100, retrying each batch with
// exponential backoff.
func (s *QdrantStorage) Upsert(ctx context.Context, name string, points []Point) error {
	const batchSize = 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))

		batch := make([]*qdrant.PointStruct, 0, end-i)
		for _, p := range points[i:end] {
			payload, err := qdrant.TryValueMap(encodePayload(p.Payload))
			if err != nil {
				return fmt.Errorf("encode payload for point %s: %w", p.ID, err)
			}
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: payload,
			})
		}

		operation := func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Wait:           qdrant.PtrOf(true),
				Points:         batch,
			})
			return err
		}
		if err := backoff.Retry(operation, backoff.WithContext(newBackoff(), ctx)); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// Search performs vector similarity search in one collection.
// Returns top N points ordered by similarity score.
func (s *QdrantStorage) Search(ctx context.Context, name string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", name, err)
	}

	hits := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		hits = append(hits, ScoredPoint{
			ID:      r.Id.GetUuid(),
			Score:   float64(r.Score), // Qdrant returns float32, convert to float64
			Payload: decodePayload(r.Payload),
		})
	}
	return hits, nil
}

// DeleteByDocument removes every point of one document.
func (s *QdrantStorage) DeleteByDocument(ctx context.Context, name, documentID string) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return err
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s from %s: %w", documentID, name, err)
	}
	return nil
}

// CountByDocument returns the number of points stored for a document.
func (s *QdrantStorage) CountByDocument(ctx context.Context, name, documentID string) (int, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		},
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count document %s in %s: %w", documentID, name, err)
	}
	return int(n), nil
}

func qdrantFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.TenantID != "" {
		must = append(must, qdrant.NewMatch("tenant_id", f.TenantID))
	}
	if f.DocumentID != "" {
		must = append(must, qdrant.NewMatch("document_id", f.DocumentID))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func encodePayload(p Payload) map[string]any {
	return map[string]any{
		"document_id":     p.DocumentID,
		"tenant_id":       p.TenantID,
		"bot_id":          p.BotID,
		"file_name":       p.FileName,
		"fragment_type":   p.FragmentType,
		"ordinal":         p.Ordinal,
		"chunk_index":     p.Index,
		"token_count":     p.Tokens,
		"page":            p.Page,
		"heading":         p.Heading,
		"content":         p.Content,
		"embedding_model": p.EmbeddingModel,
	}
}

func decodePayload(m map[string]*qdrant.Value) Payload {
	return Payload{
		DocumentID:     m["document_id"].GetStringValue(),
		TenantID:       m["tenant_id"].GetStringValue(),
		BotID:          m["bot_id"].GetStringValue(),
		FileName:       m["file_name"].GetStringValue(),
		FragmentType:   m["fragment_type"].GetStringValue(),
		Ordinal:        m["ordinal"].GetDoubleValue(),
		Index:          int(m["chunk_index"].GetIntegerValue()),
		Tokens:         int(m["token_count"].GetIntegerValue()),
		Page:           int(m["page"].GetIntegerValue()),
		Heading:        m["heading"].GetStringValue(),
		Content:        m["content"].GetStringValue(),
		EmbeddingModel: m["embedding_model"].GetStringValue(),
	}
}
