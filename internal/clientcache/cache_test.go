package clientcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate_CreatesOncePerKey(t *testing.T) {
	c := New[*int]()
	var created atomic.Int32
	key := Key{TenantID: "t1", BotID: "b1", Fingerprint: "f1"}

	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCreate(key, func() (*int, error) {
				created.Add(1)
				n := 42
				return &n, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestGetOrCreate_KeysAreIsolated(t *testing.T) {
	c := New[string]()
	a, _ := c.GetOrCreate(Key{TenantID: "t1", BotID: "b"}, func() (string, error) { return "a", nil })
	b, _ := c.GetOrCreate(Key{TenantID: "t2", BotID: "b"}, func() (string, error) { return "b", nil })
	rotated, _ := c.GetOrCreate(Key{TenantID: "t1", BotID: "b", Fingerprint: "new"}, func() (string, error) { return "c", nil })

	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
	assert.Equal(t, "c", rotated)
	assert.Equal(t, 3, c.Len())
}

func TestGetOrCreate_ErrorNotCached(t *testing.T) {
	c := New[string]()
	key := Key{BotID: "b"}
	_, err := c.GetOrCreate(key, func() (string, error) { return "", errors.New("boom") })
	assert.Error(t, err)

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
