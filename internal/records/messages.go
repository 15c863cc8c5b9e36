package records

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// AppendMessage stores one conversation turn.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO messages (id, bot_id, conversation_id, role, content, created_at)
		VALUES (:id, :bot_id, :conversation_id, :role, :content, :created_at)
	`, m)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit of the latest turns of a conversation
// in chronological order.
func (s *Store) RecentMessages(ctx context.Context, botID, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var msgs []Message
	err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(`
		SELECT id, bot_id, conversation_id, role, content, created_at
		FROM messages
		WHERE bot_id = ? AND conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), botID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", conversationID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}
