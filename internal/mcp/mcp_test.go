package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kanishk2004/plug-rag/internal/knowledge"
	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/rag"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

type stubAsker struct {
	answer *rag.Answer
	convID string
}

func (s *stubAsker) Ask(_ context.Context, _, conversationID, _ string) *rag.Answer {
	s.convID = conversationID
	return s.answer
}

type stubSearcher struct {
	tenant string
	hits   []knowledge.SearchHit
	k      int
}

func (s *stubSearcher) Search(_ context.Context, tenantID, _, _ string, k int) ([]knowledge.SearchHit, error) {
	s.tenant, s.k = tenantID, k
	return s.hits, nil
}

type stubTenants map[string]string

func (s stubTenants) BotOwner(_ context.Context, botID string) (string, error) {
	owner, ok := s[botID]
	if !ok {
		return "", records.ErrBotNotFound
	}
	return owner, nil
}

type stubJobs map[string]queue.Status

func (s stubJobs) Status(_ context.Context, id string) (queue.Status, error) {
	if st, ok := s[id]; ok {
		return st, nil
	}
	return queue.Status{State: queue.StateNotFound}, nil
}

type stubDocs map[string]*records.Document

func (s stubDocs) GetDocument(_ context.Context, id string) (*records.Document, error) {
	if d, ok := s[id]; ok {
		return d, nil
	}
	return nil, records.ErrDocumentNotFound
}

func TestAskHandler(t *testing.T) {
	page := 3
	asker := &stubAsker{answer: &rag.Answer{
		Content:            "Thirty days.",
		Sources:            []rag.Source{{FileName: "policy.pdf", PageNumber: &page}},
		HasRelevantContext: true,
		TokensUsed:         12,
	}}
	handler := makeAskHandler(stubTenants{"bot-1": "u1"}, asker)

	_, out, err := handler(context.Background(), nil, AskBotInput{BotID: "bot-1", Question: "Refunds?", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "Thirty days.", out.Answer)
	assert.Equal(t, "c1", asker.convID)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, 3, *out.Sources[0].PageNumber)

	_, _, err = handler(context.Background(), nil, AskBotInput{BotID: "bot-1"})
	assert.Error(t, err)
}

func TestSearchHandler(t *testing.T) {
	searcher := &stubSearcher{hits: []knowledge.SearchHit{
		{DocumentID: "d1", FileName: "a.txt", Content: "alpha", Score: 0.9, FragmentType: "paragraph"},
		{DocumentID: "d2", FileName: "b.txt", Content: "beta", Score: 0.3},
	}}
	handler := makeSearchHandler(stubTenants{"bot-1": "u1"}, searcher)

	tests := []struct {
		name     string
		input    SearchKnowledgeInput
		wantLen  int
		wantK    int
		wantMsg  bool
		wantFail bool
	}{
		{"defaults", SearchKnowledgeInput{BotID: "bot-1", Query: "q"}, 2, defaultMaxResults, false, false},
		{"min score", SearchKnowledgeInput{BotID: "bot-1", Query: "q", MinScore: 0.5}, 1, defaultMaxResults, false, false},
		{"nothing above threshold", SearchKnowledgeInput{BotID: "bot-1", Query: "q", MinScore: 0.95, MaxResults: 50}, 0, maxMaxResults, true, false},
		{"unknown bot", SearchKnowledgeInput{BotID: "ghost", Query: "q"}, 0, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, err := handler(context.Background(), nil, tt.input)
			if tt.wantFail {
				assert.ErrorIs(t, err, records.ErrBotNotFound)
				return
			}
			require.NoError(t, err)
			assert.Len(t, out.Results, tt.wantLen)
			assert.Equal(t, tt.wantK, searcher.k)
			assert.Equal(t, "u1", searcher.tenant)
			assert.Equal(t, tt.wantMsg, out.Message != "")
		})
	}
}

func TestJobStatusHandler(t *testing.T) {
	jobs := stubJobs{"d1": {State: queue.StateActive, Progress: 50, Attempts: 1, MaxAttempts: 3}}
	docs := stubDocs{
		"d1": {ID: "d1", Status: records.StatusProcessing},
		"d2": {ID: "d2", Status: records.StatusCompleted, ChunkCount: 4, VectorCount: 4},
	}
	handler := makeJobStatusHandler(jobs, docs)

	_, out, err := handler(context.Background(), nil, JobStatusInput{DocumentID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "active", out.State)
	assert.Equal(t, 50, out.Progress)
	assert.Equal(t, records.StatusProcessing, out.DocumentStatus)

	// The job was pruned but the record shows the outcome.
	_, out, err = handler(context.Background(), nil, JobStatusInput{DocumentID: "d2"})
	require.NoError(t, err)
	assert.Equal(t, "not_found", out.State)
	assert.Equal(t, 100, out.Progress)
	assert.Equal(t, 4, out.VectorCount)

	_, out, err = handler(context.Background(), nil, JobStatusInput{DocumentID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, "not_found", out.State)
	assert.Empty(t, out.DocumentStatus)
}

func callerRequest(owner string) *mcp.CallToolRequest {
	return &mcp.CallToolRequest{Extra: &mcp.RequestExtra{TokenInfo: &auth.TokenInfo{UserID: owner}}}
}

func TestHandlers_RefuseOtherOwner(t *testing.T) {
	tenants := stubTenants{"bot-1": "u1"}
	docs := stubDocs{"d1": {ID: "d1", OwnerID: "u1", Status: records.StatusCompleted}}
	asker := &stubAsker{answer: &rag.Answer{Content: "ok"}}
	searcher := &stubSearcher{}

	ask := makeAskHandler(tenants, asker)
	_, _, err := ask(context.Background(), callerRequest("u2"), AskBotInput{BotID: "bot-1", Question: "q", ConversationID: "c9"})
	assert.ErrorIs(t, err, errForbidden)
	assert.Empty(t, asker.convID)
	_, out, err := ask(context.Background(), callerRequest("u1"), AskBotInput{BotID: "bot-1", Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Answer)

	search := makeSearchHandler(tenants, searcher)
	_, _, err = search(context.Background(), callerRequest("u2"), SearchKnowledgeInput{BotID: "bot-1", Query: "q"})
	assert.ErrorIs(t, err, errForbidden)
	assert.Empty(t, searcher.tenant)

	status := makeJobStatusHandler(stubJobs{}, docs)
	_, _, err = status(context.Background(), callerRequest("u2"), JobStatusInput{DocumentID: "d1"})
	assert.ErrorIs(t, err, errForbidden)
	_, _, err = status(context.Background(), callerRequest("u2"), JobStatusInput{DocumentID: "missing"})
	assert.ErrorIs(t, err, errForbidden)
	_, st, err := status(context.Background(), callerRequest("u1"), JobStatusInput{DocumentID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, records.StatusCompleted, st.DocumentStatus)
}

func TestServer_ListsTools(t *testing.T) {
	srv := NewServer(Config{
		Asker:     &stubAsker{answer: &rag.Answer{}},
		Searcher:  &stubSearcher{},
		Tenants:   stubTenants{},
		Jobs:      stubJobs{},
		Documents: stubDocs{},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ask_bot", "search_knowledge", "get_job_status"}, names)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthChecker
		code   int
		status string
	}{
		{
			name: "healthy",
			checks: map[string]HealthChecker{
				"vector_index": HealthFunc(func(context.Context) error { return nil }),
				"records":      HealthFunc(func(context.Context) error { return nil }),
			},
			code:   http.StatusOK,
			status: "healthy",
		},
		{
			name: "records down",
			checks: map[string]HealthChecker{
				"vector_index": HealthFunc(func(context.Context) error { return nil }),
				"records":      HealthFunc(func(context.Context) error { return errors.New("down") }),
			},
			code:   http.StatusServiceUnavailable,
			status: "unhealthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Len(t, resp.Checks, 2)
		})
	}
}

func TestLandingHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewLandingHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ask_bot")

	rec = httptest.NewRecorder()
	NewLandingHandler()(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
