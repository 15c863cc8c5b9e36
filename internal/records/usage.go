package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RecordUsage stores one usage event.
func (s *Store) RecordUsage(ctx context.Context, e *UsageEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO usage_events (id, bot_id, owner_id, kind, model, tokens, response_ms, created_at)
		VALUES (:id, :bot_id, :owner_id, :kind, :model, :tokens, :response_ms, :created_at)
	`, e)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// Usage sums the usage events of a bot.
func (s *Store) Usage(ctx context.Context, botID string) (UsageTotals, error) {
	var t UsageTotals
	err := s.db.GetContext(ctx, &t, s.db.Rebind(`
		SELECT COUNT(*) AS events, COALESCE(SUM(tokens), 0) AS tokens
		FROM usage_events WHERE bot_id = ?`), botID)
	if err != nil {
		return t, fmt.Errorf("sum usage of %s: %w", botID, err)
	}
	return t, nil
}
