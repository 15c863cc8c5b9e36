//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStorage creates a test storage instance.
// Skips test if Qdrant is not running.
func setupTestStorage(t *testing.T) *QdrantStorage {
	storage, err := NewQdrantStorage(QdrantConfig{Host: "localhost", Port: 6334})
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	return storage
}

func TestQdrant_PerBotCollectionRoundTrip(t *testing.T) {
	storage := setupTestStorage(t)
	defer storage.Close()

	ctx := context.Background()
	name := CollectionName("it-" + uuid.NewString())
	t.Cleanup(func() { _ = storage.DeleteCollection(context.Background(), name) })

	_, err := storage.Search(ctx, name, []float32{1, 0, 0}, 4, Filter{})
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	require.NoError(t, storage.EnsureCollection(ctx, name, 3))
	require.NoError(t, storage.EnsureCollection(ctx, name, 3), "second ensure is a no-op")

	points := []Point{
		{ID: uuid.NewString(), Vector: []float32{1, 0, 0}, Payload: Payload{DocumentID: "doc-1", TenantID: "t1", Content: "refunds", Ordinal: 0.01, Index: 1, Page: 2}},
		{ID: uuid.NewString(), Vector: []float32{0, 1, 0}, Payload: Payload{DocumentID: "doc-2", TenantID: "t1", Content: "shipping"}},
	}
	require.NoError(t, storage.Upsert(ctx, name, points))

	hits, err := storage.Search(ctx, name, []float32{1, 0, 0}, 1, Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "refunds", hits[0].Payload.Content)
	assert.Equal(t, 2, hits[0].Payload.Page)
	assert.InDelta(t, 0.01, hits[0].Payload.Ordinal, 1e-9)

	n, err := storage.CountByDocument(ctx, name, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, storage.DeleteByDocument(ctx, name, "doc-1"))
	n, err = storage.CountByDocument(ctx, name, "doc-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, storage.DeleteCollection(ctx, name))
	exists, err := storage.CollectionExists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)
}
