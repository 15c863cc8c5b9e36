package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	bots  map[string]*BotSettings
	calls int
}

func (m *memSettings) BotSettings(_ context.Context, botID string) (*BotSettings, error) {
	m.calls++
	s, ok := m.bots[botID]
	if !ok {
		return nil, ErrBotNotFound
	}
	return s, nil
}

func newCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := NewCipher(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return c
}

func TestChainResolver(t *testing.T) {
	c := newCipher(t)
	sealed, err := c.Seal("sk-bot", "bot-own")
	require.NoError(t, err)

	store := &memSettings{bots: map[string]*BotSettings{
		"bot-own":      {BotID: "bot-own", OwnerID: "u1", EncryptedKey: sealed, ChatModel: "gpt-4o"},
		"bot-fallback": {BotID: "bot-fallback", OwnerID: "u1", AllowFallback: true},
		"bot-strict":   {BotID: "bot-strict", OwnerID: "u1"},
		"bot-stolen":   {BotID: "bot-stolen", OwnerID: "u1", EncryptedKey: sealed},
	}}
	global := Global{APIKey: "sk-global", Provider: "openai", ChatModel: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"}
	r := NewChainResolver(store, c, global, nil)

	tests := []struct {
		name    string
		botID   string
		owner   string
		wantKey string
		source  Source
		wantErr error
	}{
		{"bot key wins", "bot-own", "u1", "sk-bot", SourceBot, nil},
		{"global fallback", "bot-fallback", "u1", "sk-global", SourceGlobal, nil},
		{"no fallback allowed", "bot-strict", "u1", "", "", ErrNoAPIKey},
		{"wrong owner", "bot-own", "u2", "", "", ErrOwnerMismatch},
		{"unknown bot", "nope", "u1", "", "", ErrBotNotFound},
		{"key sealed for another bot", "bot-stolen", "u1", "", "", ErrDecrypt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := r.Resolve(context.Background(), tt.botID, tt.owner)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, cred.APIKey)
			assert.Equal(t, tt.source, cred.Source)
			assert.Equal(t, tt.source == SourceBot, cred.IsCustom)
		})
	}

	cred, err := r.Resolve(context.Background(), "bot-own", "u1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cred.ChatModel)
	assert.Equal(t, "text-embedding-3-small", cred.EmbeddingModel)
}

func TestCipher_RoundTripAndTamper(t *testing.T) {
	c := newCipher(t)
	sealed, err := c.Seal("secret", "bot-1")
	require.NoError(t, err)

	got, err := c.Open(sealed, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "secret", got)

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Open(base64.StdEncoding.EncodeToString(raw), "bot-1")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = NewCipher(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestCachingResolver(t *testing.T) {
	store := &memSettings{bots: map[string]*BotSettings{
		"b": {BotID: "b", OwnerID: "u", AllowFallback: true},
	}}
	now := time.Unix(1000, 0)
	cr := NewCachingResolver(NewChainResolver(store, nil, Global{APIKey: "k"}, nil), time.Minute)
	cr.now = func() time.Time { return now }

	_, err := cr.Resolve(context.Background(), "b", "u")
	require.NoError(t, err)
	_, err = cr.Resolve(context.Background(), "b", "u")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	now = now.Add(2 * time.Minute)
	_, err = cr.Resolve(context.Background(), "b", "u")
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)

	cr.Invalidate("b")
	_, err = cr.Resolve(context.Background(), "b", "u")
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)

	// Failures are not cached.
	_, err = cr.Resolve(context.Background(), "missing", "u")
	assert.ErrorIs(t, err, ErrBotNotFound)
	_, err = cr.Resolve(context.Background(), "missing", "u")
	assert.ErrorIs(t, err, ErrBotNotFound)
	assert.Equal(t, 5, store.calls)
}

func TestFingerprint(t *testing.T) {
	a := &Credential{APIKey: "k1", Provider: "openai"}
	b := &Credential{APIKey: "k2", Provider: "openai"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, a.Fingerprint(), (&Credential{APIKey: "k1", Provider: "openai"}).Fingerprint())
	assert.NotContains(t, a.Fingerprint(), "k1")
}
