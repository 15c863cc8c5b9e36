package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kanishk2004/plug-rag/internal/generation"
	"github.com/Kanishk2004/plug-rag/internal/knowledge"
	"github.com/Kanishk2004/plug-rag/internal/objectstore"
	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/rag"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

const testSecret = "test-secret"

type fakeKnowledge struct {
	hits         []knowledge.SearchHit
	searchTenant string
	deletedBots  []string
	deletedDocs  []string
}

func (f *fakeKnowledge) Search(_ context.Context, tenantID, _, _ string, _ int) ([]knowledge.SearchHit, error) {
	f.searchTenant = tenantID
	return f.hits, nil
}

func (f *fakeKnowledge) DeleteKnowledge(_ context.Context, botID string) error {
	f.deletedBots = append(f.deletedBots, botID)
	return nil
}

func (f *fakeKnowledge) DeleteDocument(_ context.Context, _, documentID string) error {
	f.deletedDocs = append(f.deletedDocs, documentID)
	return nil
}

type fakeAnswers struct {
	history []generation.Message
	convID  string
	asked   int
}

func (f *fakeAnswers) Answer(_ context.Context, _, _ string, history []generation.Message) *rag.Answer {
	f.history = history
	return &rag.Answer{Content: "from history", Sources: []rag.Source{}}
}

func (f *fakeAnswers) Ask(_ context.Context, _, conversationID, _ string) *rag.Answer {
	f.convID = conversationID
	f.asked++
	return &rag.Answer{Content: "from conversation", Sources: []rag.Source{}}
}

type fixture struct {
	srv     *httptest.Server
	records *records.Store
	queue   *queue.Queue
	kb      *fakeKnowledge
	answers *fakeAnswers
	dir     string
	auth    *Authenticator
}

func newFixture(t *testing.T, withAuth bool) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := records.Open(ctx, records.Config{Driver: records.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.Migrate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SaveBot(ctx, &records.Bot{ID: "bot-1", OwnerID: "u1", Name: "Support"}))
	require.NoError(t, store.SaveBot(ctx, &records.Bot{ID: "bot-2", OwnerID: "u2", Name: "Other"}))

	q, err := queue.Open(queue.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	dir := t.TempDir()
	fs, err := objectstore.NewFS(dir)
	require.NoError(t, err)
	router := objectstore.NewRouter(objectstore.SchemeFile, nil)
	router.Register(objectstore.SchemeFile, fs)

	f := &fixture{records: store, queue: q, kb: &fakeKnowledge{}, answers: &fakeAnswers{}, dir: dir}
	opts := Options{}
	if withAuth {
		f.auth = NewAuthenticator(testSecret)
		opts.Auth = f.auth
	}
	handler := NewRouter(Deps{
		Documents: store,
		Tenants:   store,
		Jobs:      q,
		Objects:   router,
		Knowledge: f.kb,
		Answerer:  f.answers,
		Asker:     f.answers,
	}, opts)
	f.srv = httptest.NewServer(handler)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, owner string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	f.authorize(t, req, owner)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) authorize(t *testing.T, req *http.Request, owner string) {
	t.Helper()
	if f.auth == nil || owner == "" {
		return
	}
	token, err := f.auth.Sign(owner, jwt.RegisteredClaims{})
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateDocument_Idempotent(t *testing.T) {
	f := newFixture(t, false)
	body := createDocumentRequest{DocumentID: "doc-1", BotID: "bot-1", FileName: "guide.pdf", StorageKey: "uploads/guide.pdf", SizeBytes: 10}

	resp := f.do(t, http.MethodPost, "/v1/documents", body, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	first := decodeBody[enqueueResponse](t, resp)
	assert.Equal(t, "doc-1", first.JobID)
	assert.False(t, first.Duplicate)

	resp = f.do(t, http.MethodPost, "/v1/documents", body, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	second := decodeBody[enqueueResponse](t, resp)
	assert.True(t, second.Duplicate)
	assert.Equal(t, queue.StateWaiting, second.State)

	doc, err := f.records.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.OwnerID)
	assert.Equal(t, "pdf", doc.Kind)
	assert.Equal(t, records.StatusUploaded, doc.Status)
}

func TestCreateDocument_Validation(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		name string
		body any
		code int
	}{
		{"missing fields", createDocumentRequest{BotID: "bot-1"}, http.StatusBadRequest},
		{"unknown bot", createDocumentRequest{BotID: "ghost", FileName: "a.txt", StorageKey: "k"}, http.StatusNotFound},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/v1/documents", tt.body, "")
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestDocumentStatus(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/v1/documents", createDocumentRequest{DocumentID: "doc-1", BotID: "bot-1", FileName: "a.txt", StorageKey: "a.txt"}, "")

	resp := f.do(t, http.MethodGet, "/v1/documents/doc-1/status", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[statusResponse](t, resp)
	assert.Equal(t, queue.StateWaiting, status.Job.State)
	require.NotNil(t, status.Document)
	assert.Equal(t, "a.txt", status.Document.OriginalName)

	resp = f.do(t, http.MethodGet, "/v1/documents/nope/status", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadDocument(t *testing.T) {
	f := newFixture(t, false)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("documentId", "doc-up"))
	part, err := mw.CreateFormFile("file", "notes.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("# Notes\n\nHello."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/bots/bot-1/documents", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	stored, err := os.ReadFile(filepath.Join(f.dir, "uploads", "bot-1", "doc-up", "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Notes\n\nHello.", string(stored))

	st, err := f.queue.Status(context.Background(), "doc-up")
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, st.State)

	job, err := f.queue.Get(context.Background(), "doc-up")
	require.NoError(t, err)
	assert.Equal(t, "uploads/bot-1/doc-up/notes.md", job.Payload.StorageKey)
}

func TestSearch_ScopedToOwner(t *testing.T) {
	f := newFixture(t, false)
	f.kb.hits = []knowledge.SearchHit{{Content: "hello", FileName: "a.txt", Score: 0.8}}

	resp := f.do(t, http.MethodPost, "/v1/bots/bot-1/search", searchRequest{Query: "hi"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[map[string][]map[string]any](t, resp)
	require.Len(t, out["results"], 1)
	assert.Equal(t, "a.txt", out["results"][0]["fileName"])
	assert.Equal(t, "u1", f.kb.searchTenant)

	resp = f.do(t, http.MethodPost, "/v1/bots/bot-1/search", searchRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnswer_HistorySources(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/v1/bots/bot-1/answer", answerRequest{
		Question: "q",
		History:  []historyMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "from history", decodeBody[rag.Answer](t, resp).Content)
	require.Len(t, f.answers.history, 2)
	assert.Equal(t, generation.RoleAssistant, f.answers.history[1].Role)

	resp = f.do(t, http.MethodPost, "/v1/bots/bot-1/answer", answerRequest{Question: "q", ConversationID: "c1"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "from conversation", decodeBody[rag.Answer](t, resp).Content)
	assert.Equal(t, "c1", f.answers.convID)
}

func TestDeleteAndPurge(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2"} {
		require.NoError(t, f.records.CreateDocument(ctx, &records.Document{ID: id, OwnerID: "u1", BotID: "bot-1", OriginalName: id, StorageKey: id}))
	}
	require.NoError(t, f.records.CreateDocument(ctx, &records.Document{ID: "x1", OwnerID: "u2", BotID: "bot-2", OriginalName: "x", StorageKey: "x"}))

	resp := f.do(t, http.MethodDelete, "/v1/bots/bot-1/documents/d1", nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"d1"}, f.kb.deletedDocs)
	doc, err := f.records.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, records.StatusDeleted, doc.Status)

	resp = f.do(t, http.MethodDelete, "/v1/bots/bot-1/documents/x1", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/v1/bots/bot-1/knowledge", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	purge := decodeBody[purgeResponse](t, resp)
	assert.Equal(t, int64(1), purge.Documents)
	assert.Equal(t, []string{"bot-1"}, f.kb.deletedBots)

	other, err := f.records.GetDocument(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, records.StatusUploaded, other.Status)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, true)
	body := searchRequest{Query: "hi"}

	tests := []struct {
		name   string
		header string
		owner  string
		code   int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", "", http.StatusUnauthorized},
		{"owner", "", "u1", http.StatusOK},
		{"other owner", "", "u2", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
			req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/bots/bot-1/search", &buf)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			f.authorize(t, req, tt.owner)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestAuth_RejectsOtherAlgorithms(t *testing.T) {
	f := newFixture(t, true)
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{OwnerID: "u1"})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/documents/doc-1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"))
}

func TestVerifyToken(t *testing.T) {
	a := NewAuthenticator(testSecret)
	signed, err := a.Sign("u1", jwt.RegisteredClaims{})
	require.NoError(t, err)

	info, err := a.VerifyToken(context.Background(), signed, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", info.UserID)
	assert.True(t, info.Expiration.After(time.Now()))

	_, err = a.VerifyToken(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, mcpauth.ErrInvalidToken)
}
