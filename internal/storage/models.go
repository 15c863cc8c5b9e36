package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Payload is the metadata stored with every vector.
type Payload struct {
	DocumentID     string
	TenantID       string
	BotID          string
	FileName       string
	FragmentType   string
	Ordinal        float64
	Index          int
	Tokens         int
	Page           int
	Heading        string
	Content        string
	EmbeddingModel string
}

// Point is one vector entry.
type Point struct {
	ID      string // UUID
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter narrows a search. Empty fields do not filter.
type Filter struct {
	TenantID   string
	DocumentID string
}

// VectorIndex stores vectors in named collections, one per bot.
type VectorIndex interface {
	// EnsureCollection creates the collection with dim dimensions when it
	// does not exist. Idempotent.
	EnsureCollection(ctx context.Context, name string, dim int) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	Upsert(ctx context.Context, name string, points []Point) error
	// Search returns ErrCollectionNotFound when the collection is absent.
	Search(ctx context.Context, name string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error)
	// DeleteCollection is a no-op for absent collections.
	DeleteCollection(ctx context.Context, name string) error
	DeleteByDocument(ctx context.Context, name, documentID string) error
	CountByDocument(ctx context.Context, name, documentID string) (int, error)
	Health(ctx context.Context) error
	Close() error
}

// CollectionPrefix starts every bot collection name.
const CollectionPrefix = "bot_"

// CollectionName returns the collection owned by botID. Ids that need
// sanitizing get a hash suffix so two bots never share a collection.
func CollectionName(botID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(botID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name != botID {
		sum := sha1.Sum([]byte(botID))
		name += "_" + hex.EncodeToString(sum[:4])
	}
	return CollectionPrefix + name
}
