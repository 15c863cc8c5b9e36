package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Kanishk2004/plug-rag/internal/credentials"
)

const botColumns = `id, owner_id, name, status, encrypted_api_key, provider, chat_model,
	embedding_model, allow_global_fallback, created_at, updated_at`

// SaveBot inserts or replaces a bot. Bot management lives outside this
// service; SaveBot exists for seeding and the operator CLI.
func (s *Store) SaveBot(ctx context.Context, b *Bot) error {
	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = BotActive
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO bots (`+botColumns+`)
		VALUES (:id, :owner_id, :name, :status, :encrypted_api_key, :provider, :chat_model,
			:embedding_model, :allow_global_fallback, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			status = excluded.status,
			encrypted_api_key = excluded.encrypted_api_key,
			provider = excluded.provider,
			chat_model = excluded.chat_model,
			embedding_model = excluded.embedding_model,
			allow_global_fallback = excluded.allow_global_fallback,
			updated_at = excluded.updated_at
	`, b)
	if err != nil {
		return fmt.Errorf("save bot %s: %w", b.ID, err)
	}
	return nil
}

// GetBot loads one bot.
func (s *Store) GetBot(ctx context.Context, id string) (*Bot, error) {
	var b Bot
	err := s.db.GetContext(ctx, &b, s.db.Rebind(`SELECT `+botColumns+` FROM bots WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bot %s: %w", id, err)
	}
	return &b, nil
}

// BotOwner returns the owner of an active bot.
func (s *Store) BotOwner(ctx context.Context, botID string) (string, error) {
	b, err := s.GetBot(ctx, botID)
	if err != nil {
		return "", err
	}
	if b.Status != BotActive {
		return "", fmt.Errorf("%w: %s", ErrBotInactive, botID)
	}
	return b.OwnerID, nil
}

// BotSettings implements credentials.SettingsStore.
func (s *Store) BotSettings(ctx context.Context, botID string) (*credentials.BotSettings, error) {
	b, err := s.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	return &credentials.BotSettings{
		BotID:          b.ID,
		OwnerID:        b.OwnerID,
		EncryptedKey:   b.EncryptedAPIKey,
		Provider:       b.Provider,
		ChatModel:      b.ChatModel,
		EmbeddingModel: b.EmbeddingModel,
		AllowFallback:  b.AllowGlobalFallback,
	}, nil
}
