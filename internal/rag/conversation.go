package rag

import (
	"context"
	"log/slog"

	"github.com/Kanishk2004/plug-rag/internal/generation"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

// ConversationStore loads and appends conversation turns.
type ConversationStore interface {
	RecentMessages(ctx context.Context, botID, conversationID string, limit int) ([]records.Message, error)
	AppendMessage(ctx context.Context, m *records.Message) error
}

// Chat answers questions inside stored conversations.
type Chat struct {
	orch   *Orchestrator
	store  ConversationStore
	limit  int
	logger *slog.Logger
}

// NewChat wraps orch with conversation history from store. limit is how
// many stored turns are loaded; zero uses DefaultHistoryMessages.
func NewChat(orch *Orchestrator, store ConversationStore, limit int, logger *slog.Logger) *Chat {
	if limit <= 0 {
		limit = DefaultHistoryMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{
		orch:   orch,
		store:  store,
		limit:  limit,
		logger: logger.With("component", "chat"),
	}
}

// Ask answers question. With a conversation id the stored history is used
// and, when the answer succeeds, both turns are appended. History that
// cannot be loaded is skipped rather than failing the question.
func (c *Chat) Ask(ctx context.Context, botID, conversationID, question string) *Answer {
	if conversationID == "" {
		return c.orch.Answer(ctx, botID, question, nil)
	}

	stored, err := c.store.RecentMessages(ctx, botID, conversationID, c.limit)
	if err != nil {
		c.logger.Warn("Failed to load conversation history", "bot_id", botID, "conversation_id", conversationID, "error", err)
	}
	history := make([]generation.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, generation.Message{Role: generation.Role(m.Role), Content: m.Content})
	}

	answer := c.orch.Answer(ctx, botID, question, history)
	if answer.Error != "" {
		return answer
	}

	for _, m := range []records.Message{
		{BotID: botID, ConversationID: conversationID, Role: records.RoleUser, Content: question},
		{BotID: botID, ConversationID: conversationID, Role: records.RoleAssistant, Content: answer.Content},
	} {
		if err := c.store.AppendMessage(ctx, &m); err != nil {
			c.logger.Warn("Failed to store conversation turn", "bot_id", botID, "conversation_id", conversationID, "error", err)
			break
		}
	}
	return answer
}
