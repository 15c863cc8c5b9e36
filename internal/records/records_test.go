package records

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kanishk2004/plug-rag/internal/credentials"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	n, err := s.Migrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestDocument_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := &Document{ID: "doc-1", OwnerID: "tenant-1", BotID: "bot-1", OriginalName: "a.pdf", StorageKey: "uploads/a.pdf", SizeBytes: 42}
	require.NoError(t, s.CreateDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, got.Status)
	assert.Equal(t, EmbeddingPending, got.EmbeddingStatus)
	assert.Nil(t, got.ProcessingStartedAt)

	require.NoError(t, s.MarkProcessing(ctx, "doc-1"))
	require.NoError(t, s.RecordError(ctx, "doc-1", "embedding timeout"))
	got, err = s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, "embedding timeout", got.ProcessingError)
	require.NotNil(t, got.ProcessingStartedAt)

	require.NoError(t, s.Finalize(ctx, "doc-1", Completion{Kind: "pdf", ChunkCount: 3, TokenCount: 520, VectorCount: 3, Cost: 0.0104}))
	got, err = s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, EmbeddingCompleted, got.EmbeddingStatus)
	assert.Equal(t, "pdf", got.Kind)
	assert.Equal(t, 3, got.ChunkCount)
	assert.Equal(t, 3, got.VectorCount)
	assert.InDelta(t, 0.0104, got.EmbeddingCost, 1e-9)
	assert.Empty(t, got.ProcessingError)
	assert.NotNil(t, got.EmbeddedAt)
}

func TestDocument_FailedAlwaysHasError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateDocument(ctx, &Document{ID: "doc-1", OwnerID: "t", BotID: "b", OriginalName: "a", StorageKey: "k"}))

	require.NoError(t, s.MarkFailed(ctx, "doc-1", ""))
	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, EmbeddingFailed, got.EmbeddingStatus)
	assert.NotEmpty(t, got.ProcessingError)
}

func TestDocument_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.ErrorIs(t, s.MarkProcessing(ctx, "missing"), ErrDocumentNotFound)
	assert.ErrorIs(t, s.MarkFailed(ctx, "missing", "x"), ErrDocumentNotFound)
}

func TestDocument_DeletedStaysDeleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateDocument(ctx, &Document{ID: "doc-1", OwnerID: "t", BotID: "b", OriginalName: "a", StorageKey: "k"}))
	require.NoError(t, s.MarkProcessing(ctx, "doc-1"))
	require.NoError(t, s.MarkDeleted(ctx, "doc-1"))

	assert.ErrorIs(t, s.Finalize(ctx, "doc-1", Completion{Kind: "txt", ChunkCount: 1, VectorCount: 1}), ErrDocumentDeleted)
	assert.ErrorIs(t, s.MarkProcessing(ctx, "doc-1"), ErrDocumentDeleted)
	assert.ErrorIs(t, s.MarkFailed(ctx, "doc-1", "x"), ErrDocumentDeleted)

	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, got.Status)
	assert.Zero(t, got.VectorCount)
}

func TestDocument_DeleteByBot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []string{"d1", "d2"} {
		require.NoError(t, s.CreateDocument(ctx, &Document{ID: id, OwnerID: "t", BotID: "bot-1", OriginalName: id, StorageKey: id}))
	}
	require.NoError(t, s.CreateDocument(ctx, &Document{ID: "d3", OwnerID: "t", BotID: "bot-2", OriginalName: "d3", StorageKey: "d3"}))

	n, err := s.MarkBotDocumentsDeleted(ctx, "bot-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	docs, err := s.ListDocuments(ctx, "bot-1")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = s.ListDocuments(ctx, "bot-2")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestBots_SettingsAndOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveBot(ctx, &Bot{ID: "bot-1", OwnerID: "tenant-1", EncryptedAPIKey: "sealed", Provider: "openai", AllowGlobalFallback: true}))
	require.NoError(t, s.SaveBot(ctx, &Bot{ID: "bot-2", OwnerID: "tenant-2", Status: BotInactive}))

	settings, err := s.BotSettings(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, &credentials.BotSettings{
		BotID: "bot-1", OwnerID: "tenant-1", EncryptedKey: "sealed", Provider: "openai", AllowFallback: true,
	}, settings)

	owner, err := s.BotOwner(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", owner)

	_, err = s.BotOwner(ctx, "bot-2")
	assert.ErrorIs(t, err, ErrBotInactive)

	_, err = s.BotSettings(ctx, "nope")
	assert.ErrorIs(t, err, credentials.ErrBotNotFound)

	// Saving again updates in place.
	require.NoError(t, s.SaveBot(ctx, &Bot{ID: "bot-2", OwnerID: "tenant-2", Status: BotActive}))
	owner, err = s.BotOwner(ctx, "bot-2")
	require.NoError(t, err)
	assert.Equal(t, "tenant-2", owner)
}

func TestMessages_RecentInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, content := range []string{"q1", "a1", "q2", "a2", "q3"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, s.AppendMessage(ctx, &Message{
			BotID: "bot-1", ConversationID: "conv-1", Role: role, Content: content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.AppendMessage(ctx, &Message{BotID: "bot-1", ConversationID: "conv-2", Role: RoleUser, Content: "other", CreatedAt: base}))

	msgs, err := s.RecentMessages(ctx, "bot-1", "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a2", msgs[1].Content)
	assert.Equal(t, "q3", msgs[2].Content)

	msgs, err = s.RecentMessages(ctx, "bot-1", "conv-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestUsage_RecordAndSum(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordUsage(ctx, &UsageEvent{BotID: "bot-1", Kind: "answer", Tokens: 120}))
	require.NoError(t, s.RecordUsage(ctx, &UsageEvent{BotID: "bot-1", Kind: "answer", Tokens: 80}))

	totals, err := s.Usage(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, UsageTotals{Events: 2, Tokens: 200}, totals)

	totals, err = s.Usage(ctx, "bot-9")
	require.NoError(t, err)
	assert.Zero(t, totals.Events)
}
