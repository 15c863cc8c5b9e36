// Package objectstore fetches uploaded document bytes by storage key.
//
// A storage key is either a bare path, resolved against the default backend,
// or a URL whose scheme picks the backend:
//
//	s3://bucket/uploads/report.pdf
//	file://uploads/report.pdf
//	github://owner/repo/docs/guide.md@main
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

var (
	// ErrObjectNotFound is returned when no object exists under the key.
	ErrObjectNotFound = errors.New("object not found")

	// ErrEmptyObject is returned when the object exists but has zero length.
	ErrEmptyObject = errors.New("object is empty")

	// ErrInvalidKey is returned for keys a backend cannot address.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrReadOnly is returned by backends that do not accept writes.
	ErrReadOnly = errors.New("object store is read-only")

	// ErrUnsupportedScheme is returned when no backend serves a key's scheme.
	ErrUnsupportedScheme = errors.New("unsupported storage scheme")
)

// Store reads and writes objects.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Router dispatches keys to a backend by URL scheme. Bare keys go to the
// default scheme.
type Router struct {
	mu            sync.RWMutex
	stores        map[string]Store
	defaultScheme string
	logger        *slog.Logger
}

// NewRouter creates a router whose bare keys resolve to defaultScheme.
func NewRouter(defaultScheme string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		stores:        make(map[string]Store),
		defaultScheme: defaultScheme,
		logger:        logger.With("component", "objectstore"),
	}
}

// Register binds a backend to a scheme, replacing any previous binding.
func (r *Router) Register(scheme string, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[scheme] = s
}

// Get fetches the object under key. Zero-length objects yield ErrEmptyObject.
func (r *Router) Get(ctx context.Context, key string) ([]byte, error) {
	s, err := r.route(key)
	if err != nil {
		return nil, err
	}
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyObject, key)
	}
	r.logger.Debug("object fetched", "key", key, "bytes", len(data))
	return data, nil
}

// Put stores data under key.
func (r *Router) Put(ctx context.Context, key string, data []byte) error {
	s, err := r.route(key)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data)
}

// DefaultScheme returns the scheme bare keys resolve to.
func (r *Router) DefaultScheme() string {
	return r.defaultScheme
}

func (r *Router) route(key string) (Store, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	scheme, _ := SplitKey(key)
	if scheme == "" {
		scheme = r.defaultScheme
	}

	r.mu.RLock()
	s, ok := r.stores[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return s, nil
}

// SplitKey separates a "scheme://rest" key. Bare keys return an empty scheme.
func SplitKey(key string) (scheme, rest string) {
	i := strings.Index(key, "://")
	if i <= 0 {
		return "", key
	}
	return strings.ToLower(key[:i]), key[i+3:]
}
