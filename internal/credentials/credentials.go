// Package credentials resolves the API key and models used for a bot.
// Resolution order is the bot's own key, then the global key when the bot
// allows fallback, then ErrNoAPIKey.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Source says where a key came from.
type Source string

const (
	SourceBot    Source = "bot"
	SourceGlobal Source = "global"
)

// Credential is a resolved key plus the models to use with it.
type Credential struct {
	APIKey         string
	IsCustom       bool
	Source         Source
	Provider       string
	ChatModel      string
	EmbeddingModel string
}

// Fingerprint identifies the key without exposing it. Cached clients are
// keyed by it so a rotated key never reuses a stale client.
func (c *Credential) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.Provider + "\x00" + c.APIKey))
	return hex.EncodeToString(sum[:8])
}

// Resolver returns the credential for a bot owned by ownerID.
type Resolver interface {
	Resolve(ctx context.Context, botID, ownerID string) (*Credential, error)
}

// BotSettings is the credential related configuration of one bot.
type BotSettings struct {
	BotID   string
	OwnerID string
	// EncryptedKey is the sealed per-bot key, empty when the bot has none.
	EncryptedKey   string
	Provider       string
	ChatModel      string
	EmbeddingModel string
	AllowFallback  bool
}

// SettingsStore loads bot settings. Unknown bots yield ErrBotNotFound.
type SettingsStore interface {
	BotSettings(ctx context.Context, botID string) (*BotSettings, error)
}

// Global is the process wide fallback credential.
type Global struct {
	APIKey         string
	Provider       string
	ChatModel      string
	EmbeddingModel string
}

// ChainResolver resolves keys from bot settings with a global fallback.
type ChainResolver struct {
	store  SettingsStore
	cipher *Cipher
	global Global
	logger *slog.Logger
}

// NewChainResolver returns a resolver. cipher may be nil when no bot stores
// its own key.
func NewChainResolver(store SettingsStore, cipher *Cipher, global Global, logger *slog.Logger) *ChainResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainResolver{
		store:  store,
		cipher: cipher,
		global: global,
		logger: logger.With("component", "credentials"),
	}
}

// Resolve implements Resolver.
func (r *ChainResolver) Resolve(ctx context.Context, botID, ownerID string) (*Credential, error) {
	s, err := r.store.BotSettings(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load bot %s: %w", botID, err)
	}
	if ownerID != "" && s.OwnerID != ownerID {
		return nil, fmt.Errorf("bot %s: %w", botID, ErrOwnerMismatch)
	}

	if s.EncryptedKey != "" {
		if r.cipher == nil {
			return nil, fmt.Errorf("bot %s: %w: no encryption key configured", botID, ErrDecrypt)
		}
		key, err := r.cipher.Open(s.EncryptedKey, botID)
		if err != nil {
			return nil, fmt.Errorf("bot %s: %w", botID, err)
		}
		return &Credential{
			APIKey:         key,
			IsCustom:       true,
			Source:         SourceBot,
			Provider:       firstNonEmpty(s.Provider, r.global.Provider),
			ChatModel:      firstNonEmpty(s.ChatModel, r.global.ChatModel),
			EmbeddingModel: firstNonEmpty(s.EmbeddingModel, r.global.EmbeddingModel),
		}, nil
	}

	if s.AllowFallback && r.global.APIKey != "" {
		r.logger.Debug("Using global API key", "bot_id", botID)
		return &Credential{
			APIKey:   r.global.APIKey,
			Source:   SourceGlobal,
			Provider: r.global.Provider,
			// A bot on the shared key still picks its own models.
			ChatModel:      firstNonEmpty(s.ChatModel, r.global.ChatModel),
			EmbeddingModel: firstNonEmpty(s.EmbeddingModel, r.global.EmbeddingModel),
		}, nil
	}

	return nil, fmt.Errorf("bot %s: %w", botID, ErrNoAPIKey)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
