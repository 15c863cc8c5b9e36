package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process VectorIndex using cosine similarity. It is
// meant for tests and single process local runs.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dim    int
	points map[string]Point
}

var _ VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memCollection)}
}

// EnsureCollection implements VectorIndex.
func (m *MemoryIndex) EnsureCollection(_ context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = &memCollection{dim: dim, points: make(map[string]Point)}
	}
	return nil
}

// CollectionExists implements VectorIndex.
func (m *MemoryIndex) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// Upsert implements VectorIndex.
func (m *MemoryIndex) Upsert(_ context.Context, name string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dim {
			return fmt.Errorf("%w: point %s has %d dimensions, expected %d", ErrDimensionMismatch, p.ID, len(p.Vector), c.dim)
		}
	}
	for _, p := range points {
		p.Vector = append([]float32(nil), p.Vector...)
		c.points[p.ID] = p
	}
	return nil
}

// Search implements VectorIndex.
func (m *MemoryIndex) Search(_ context.Context, name string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrDimensionMismatch, len(vector), c.dim)
	}

	hits := make([]ScoredPoint, 0, len(c.points))
	for _, p := range c.points {
		if filter.TenantID != "" && p.Payload.TenantID != filter.TenantID {
			continue
		}
		if filter.DocumentID != "" && p.Payload.DocumentID != filter.DocumentID {
			continue
		}
		hits = append(hits, ScoredPoint{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteCollection implements VectorIndex.
func (m *MemoryIndex) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

// DeleteByDocument implements VectorIndex.
func (m *MemoryIndex) DeleteByDocument(_ context.Context, name, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		for id, p := range c.points {
			if p.Payload.DocumentID == documentID {
				delete(c.points, id)
			}
		}
	}
	return nil
}

// CountByDocument implements VectorIndex.
func (m *MemoryIndex) CountByDocument(_ context.Context, name, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	if c, ok := m.collections[name]; ok {
		for _, p := range c.points {
			if p.Payload.DocumentID == documentID {
				n++
			}
		}
	}
	return n, nil
}

// Health implements VectorIndex.
func (m *MemoryIndex) Health(context.Context) error { return nil }

// Close implements VectorIndex.
func (m *MemoryIndex) Close() error { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
