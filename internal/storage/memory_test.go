package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "bot_abc-123", CollectionName("abc-123"))

	odd := CollectionName("Bot/One")
	assert.Regexp(t, `^bot_bot_one_[0-9a-f]{8}$`, odd)
	assert.NotEqual(t, odd, CollectionName("bot_one"))
}

func TestMemoryIndex_SearchAndFilters(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	_, err := idx.Search(ctx, "bot_x", []float32{1, 0}, 4, Filter{})
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	require.NoError(t, idx.EnsureCollection(ctx, "bot_x", 2))
	require.NoError(t, idx.EnsureCollection(ctx, "bot_x", 2))
	require.NoError(t, idx.Upsert(ctx, "bot_x", []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: Payload{DocumentID: "d1", TenantID: "t1", Content: "east"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: Payload{DocumentID: "d2", TenantID: "t1", Content: "north"}},
		{ID: "c", Vector: []float32{0.9, 0.1}, Payload: Payload{DocumentID: "d2", TenantID: "t2", Content: "mostly east"}},
	}))

	hits, err := idx.Search(ctx, "bot_x", []float32{1, 0}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	hits, err = idx.Search(ctx, "bot_x", []float32{1, 0}, 10, Filter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	n, err := idx.CountByDocument(ctx, "bot_x", "d2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, idx.DeleteByDocument(ctx, "bot_x", "d2"))
	n, _ = idx.CountByDocument(ctx, "bot_x", "d2")
	assert.Zero(t, n)

	err = idx.Upsert(ctx, "bot_x", []Point{{ID: "z", Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, idx.DeleteCollection(ctx, "bot_x"))
	ok, _ := idx.CollectionExists(ctx, "bot_x")
	assert.False(t, ok)
	assert.NoError(t, idx.DeleteCollection(ctx, "bot_x"))
}

func TestMemoryIndex_UpsertOverwritesSameID(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsureCollection(ctx, "c", 1))
	require.NoError(t, idx.Upsert(ctx, "c", []Point{{ID: "p", Vector: []float32{1}, Payload: Payload{DocumentID: "d", Content: "v1"}}}))
	require.NoError(t, idx.Upsert(ctx, "c", []Point{{ID: "p", Vector: []float32{1}, Payload: Payload{DocumentID: "d", Content: "v2"}}}))

	n, _ := idx.CountByDocument(ctx, "c", "d")
	assert.Equal(t, 1, n)
	hits, _ := idx.Search(ctx, "c", []float32{1}, 1, Filter{})
	assert.Equal(t, "v2", hits[0].Payload.Content)
}
