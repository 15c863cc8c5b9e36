package rag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kanishk2004/plug-rag/internal/credentials"
	"github.com/Kanishk2004/plug-rag/internal/generation"
	"github.com/Kanishk2004/plug-rag/internal/knowledge"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

type fakeTenants struct {
	owner string
	err   error
}

func (f fakeTenants) BotOwner(context.Context, string) (string, error) {
	return f.owner, f.err
}

type fakeRetriever struct {
	hits      []knowledge.SearchHit
	searchErr error
	credErr   error
	queries   []string
}

func (f *fakeRetriever) Search(_ context.Context, _, _, query string, _ int) ([]knowledge.SearchHit, error) {
	f.queries = append(f.queries, query)
	return f.hits, f.searchErr
}

func (f *fakeRetriever) Credential(context.Context, string, string) (*credentials.Credential, error) {
	if f.credErr != nil {
		return nil, f.credErr
	}
	return &credentials.Credential{APIKey: "sk-test", Provider: "openai", ChatModel: "gpt-test"}, nil
}

type countingGenerator struct {
	calls   atomic.Int32
	content string
	err     error
	lastReq generation.Request
}

func (g *countingGenerator) Generate(_ context.Context, req generation.Request) (*generation.Response, error) {
	g.calls.Add(1)
	g.lastReq = req
	if g.err != nil {
		return nil, g.err
	}
	return &generation.Response{Content: g.content, TokensUsed: 42, Model: "gpt-test"}, nil
}

func (g *countingGenerator) Model() string { return "gpt-test" }

type memorySink struct {
	mu     sync.Mutex
	events []records.UsageEvent
	block  chan struct{}
}

func (s *memorySink) RecordUsage(_ context.Context, e *records.UsageEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *memorySink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestOrchestrator(t *testing.T, tenants TenantStore, r Retriever, gen *countingGenerator, usage *UsageTracker, cfg Config) *Orchestrator {
	t.Helper()
	factory := func(context.Context, *credentials.Credential) (generation.Generator, error) {
		return gen, nil
	}
	return NewOrchestrator(tenants, r, factory, nil, usage, cfg, nil)
}

func sampleHits() []knowledge.SearchHit {
	return []knowledge.SearchHit{
		{Content: "Refunds are issued within 30 days.", FileName: "policy.pdf", Page: 2, Index: 4, Score: 0.91},
		{Content: "Store credit never expires.", FileName: "policy.pdf", Page: 2, Index: 5, Score: 0.87},
		{Content: "Contact support by email.", FileName: "faq.txt", Index: 0, Score: 0.72},
	}
}

func TestAnswer_NoContextSkipsGeneration(t *testing.T) {
	gen := &countingGenerator{content: "should not be used"}
	sink := &memorySink{}
	usage := NewUsageTracker(sink, 4, nil)
	o := newTestOrchestrator(t, fakeTenants{owner: "u1"}, &fakeRetriever{}, gen, usage, Config{})

	ans := o.Answer(context.Background(), "bot-1", "What is the refund window?", nil)
	usage.Close()

	require.Equal(t, 1, sink.len())
	assert.Equal(t, "no_context", sink.events[0].Kind)
	assert.Equal(t, "u1", sink.events[0].OwnerID)
	assert.Zero(t, sink.events[0].Tokens)
	assert.Equal(t, int32(0), gen.calls.Load())
	assert.Equal(t, NoContextAnswer, ans.Content)
	assert.False(t, ans.HasRelevantContext)
	assert.Empty(t, ans.Sources)
	assert.Empty(t, ans.Error)
	assert.Zero(t, ans.TokensUsed)
}

func TestAnswer_MinScoreFiltersToNoContext(t *testing.T) {
	gen := &countingGenerator{content: "unused"}
	r := &fakeRetriever{hits: sampleHits()}
	o := newTestOrchestrator(t, fakeTenants{owner: "u1"}, r, gen, nil, Config{MinScore: 0.95})

	ans := o.Answer(context.Background(), "bot-1", "refunds?", nil)
	assert.Equal(t, NoContextAnswer, ans.Content)
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestAnswer_WithContext(t *testing.T) {
	gen := &countingGenerator{content: "Refunds are issued within 30 days [1]. Credit never expires (Source: policy.pdf)."}
	sink := &memorySink{}
	usage := NewUsageTracker(sink, 4, nil)
	o := newTestOrchestrator(t, fakeTenants{owner: "u1"}, &fakeRetriever{hits: sampleHits()}, gen, usage, Config{})

	ans := o.Answer(context.Background(), "bot-1", "What is the refund window?", nil)
	usage.Close()

	require.Empty(t, ans.Error)
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.True(t, ans.HasRelevantContext)
	assert.Equal(t, "Refunds are issued within 30 days. Credit never expires.", ans.Content)
	assert.Equal(t, 42, ans.TokensUsed)
	assert.Equal(t, "gpt-test", ans.Model)

	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "policy.pdf", ans.Sources[0].FileName)
	require.NotNil(t, ans.Sources[0].PageNumber)
	assert.Equal(t, 2, *ans.Sources[0].PageNumber)
	assert.InDelta(t, 0.91, *ans.Sources[0].Score, 1e-9)
	assert.Equal(t, "faq.txt", ans.Sources[1].FileName)
	assert.Nil(t, ans.Sources[1].PageNumber)

	assert.Contains(t, gen.lastReq.Prompt, "[1] policy.pdf, page 2")
	assert.Contains(t, gen.lastReq.Prompt, "Question: What is the refund window?")

	require.Equal(t, 1, sink.len())
	assert.Equal(t, "u1", sink.events[0].OwnerID)
	assert.Equal(t, 42, sink.events[0].Tokens)
}

func TestAnswer_ErrorFallbacks(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		tenants   fakeTenants
		retriever *fakeRetriever
		genErr    error
		content   string
		wantCalls int32
	}{
		{"owner lookup", fakeTenants{err: records.ErrBotInactive}, &fakeRetriever{hits: sampleHits()}, nil, "x", 0},
		{"search", fakeTenants{owner: "u1"}, &fakeRetriever{searchErr: boom}, nil, "x", 0},
		{"credential", fakeTenants{owner: "u1"}, &fakeRetriever{hits: sampleHits(), credErr: credentials.ErrNoAPIKey}, nil, "x", 0},
		{"generation", fakeTenants{owner: "u1"}, &fakeRetriever{hits: sampleHits()}, boom, "", 1},
		{"only citations", fakeTenants{owner: "u1"}, &fakeRetriever{hits: sampleHits()}, nil, "[1] [2]", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &countingGenerator{content: tt.content, err: tt.genErr}
			o := newTestOrchestrator(t, tt.tenants, tt.retriever, gen, nil, Config{})

			ans := o.Answer(context.Background(), "bot-1", "question?", nil)
			assert.Equal(t, ErrorAnswer, ans.Content)
			assert.NotEmpty(t, ans.Error)
			assert.False(t, ans.HasRelevantContext)
			assert.NotEqual(t, NoContextAnswer, ans.Content)
			assert.Equal(t, tt.wantCalls, gen.calls.Load())
		})
	}
}

func TestAnswer_ReusesGeneratorPerCredential(t *testing.T) {
	var created atomic.Int32
	gen := &countingGenerator{content: "ok"}
	factory := func(context.Context, *credentials.Credential) (generation.Generator, error) {
		created.Add(1)
		return gen, nil
	}
	o := NewOrchestrator(fakeTenants{owner: "u1"}, &fakeRetriever{hits: sampleHits()}, factory, nil, nil, Config{}, nil)

	for range 3 {
		o.Answer(context.Background(), "bot-1", "q", nil)
	}
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(3), gen.calls.Load())
}

func TestAnswer_HistoryTruncated(t *testing.T) {
	var history []generation.Message
	for i := range 10 {
		role := generation.RoleUser
		if i%2 == 1 {
			role = generation.RoleAssistant
		}
		history = append(history, generation.Message{Role: role, Content: string(rune('a' + i))})
	}
	history = append(history, generation.Message{Role: generation.RoleUser, Content: "q"})

	gen := &countingGenerator{content: "ok"}
	o := newTestOrchestrator(t, fakeTenants{owner: "u1"}, &fakeRetriever{hits: sampleHits()}, gen, nil, Config{HistoryMessages: 4})
	o.Answer(context.Background(), "bot-1", "q", history)

	require.Len(t, gen.lastReq.History, 4)
	assert.Equal(t, "g", gen.lastReq.History[0].Content)
	assert.Equal(t, "j", gen.lastReq.History[3].Content)
}

func TestTrimHistory(t *testing.T) {
	msgs := []generation.Message{
		{Role: generation.RoleUser, Content: "one"},
		{Role: generation.RoleAssistant, Content: ""},
		{Role: generation.RoleUser, Content: "two"},
		{Role: generation.RoleAssistant, Content: "three"},
	}
	tests := []struct {
		name     string
		question string
		n        int
		want     []string
	}{
		{"keeps last n", "next", 2, []string{"two", "three"}},
		{"skips empty", "next", 4, []string{"one", "two", "three"}},
		{"zero", "next", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, m := range TrimHistory(msgs, tt.question, tt.n) {
				got = append(got, m.Content)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	withQuestion := append(msgs, generation.Message{Role: generation.RoleUser, Content: "four"})
	got := TrimHistory(withQuestion, "four", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "three", got[0].Content)
}

func TestStripCitations(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Refunds take 30 days [1].", "Refunds take 30 days."},
		{"See both [1, 2] and [Source 3].", "See both and."},
		{"Answer (source: handbook.pdf) here.", "Answer here."},
		{"Reply 【4:0†policy.pdf】 done", "Reply done"},
		{"Founded in [2024] (documents vary).", "Founded in [2024] (documents vary)."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripCitations(tt.in), tt.in)
	}
}

func TestFormatContext_Limit(t *testing.T) {
	hits := sampleHits()
	full := FormatContext(hits, 0)
	assert.Contains(t, full, "[3] faq.txt\nContact support by email.")

	short := FormatContext(hits, 60)
	assert.Contains(t, short, "[1] policy.pdf, page 2")
	assert.NotContains(t, short, "[2]")
	assert.LessOrEqual(t, len([]rune(short)), 60)
}

func TestUsageTracker_DropsWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	tr := NewUsageTracker(sink, 1, nil)

	// The first event is taken by the writer and blocks there; the second
	// fills the buffer.
	require.True(t, tr.Track(records.UsageEvent{BotID: "b"}))
	require.Eventually(t, func() bool { return len(tr.events) == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, tr.Track(records.UsageEvent{BotID: "b"}))
	assert.False(t, tr.Track(records.UsageEvent{BotID: "b"}))
	assert.Equal(t, int64(1), tr.Dropped())

	close(sink.block)
	tr.Close()
	assert.Equal(t, 2, sink.len())
	assert.False(t, tr.Track(records.UsageEvent{BotID: "b"}))
}

type memoryConversations struct {
	msgs    []records.Message
	loadErr error
}

func (m *memoryConversations) RecentMessages(_ context.Context, _, conversationID string, limit int) ([]records.Message, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []records.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryConversations) AppendMessage(_ context.Context, msg *records.Message) error {
	m.msgs = append(m.msgs, *msg)
	return nil
}

func TestChat_StoresTurnsAndReplaysHistory(t *testing.T) {
	gen := &countingGenerator{content: "Thirty days."}
	o := newTestOrchestrator(t, fakeTenants{owner: "u1"}, &fakeRetriever{hits: sampleHits()}, gen, nil, Config{})
	store := &memoryConversations{}
	chat := NewChat(o, store, 6, nil)

	first := chat.Ask(context.Background(), "bot-1", "c1", "What is the refund window?")
	require.Empty(t, first.Error)
	require.Len(t, store.msgs, 2)
	assert.Equal(t, records.RoleUser, store.msgs[0].Role)
	assert.Equal(t, "Thirty days.", store.msgs[1].Content)

	chat.Ask(context.Background(), "bot-1", "c1", "And for sale items?")
	require.Len(t, gen.lastReq.History, 2)
	assert.Equal(t, generation.RoleUser, gen.lastReq.History[0].Role)
	assert.Equal(t, "What is the refund window?", gen.lastReq.History[0].Content)
	assert.Len(t, store.msgs, 4)
}

func TestChat_FailedAnswerIsNotStored(t *testing.T) {
	gen := &countingGenerator{err: errors.New("rate limited")}
	o := newTestOrchestrator(t, fakeTenants{owner: "u1"}, &fakeRetriever{hits: sampleHits()}, gen, nil, Config{})
	store := &memoryConversations{loadErr: errors.New("db down")}

	ans := NewChat(o, store, 0, nil).Ask(context.Background(), "bot-1", "c1", "q")
	assert.NotEmpty(t, ans.Error)
	assert.Empty(t, store.msgs)
}
