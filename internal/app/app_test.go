package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kanishk2004/plug-rag/internal/api"
	"github.com/Kanishk2004/plug-rag/internal/config"
	"github.com/Kanishk2004/plug-rag/internal/mcp"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Records.DSN = filepath.Join(dir, "records.db")
	cfg.Vector.Backend = config.VectorMemory
	cfg.Objects.Dir = filepath.Join(dir, "objects")
	cfg.Queue.InMemory = true
	cfg.Ingest.TokenEncoding = ""
	cfg.Provider.APIKey = "sk-test"
	return cfg
}

func TestNew_ServesHealthAndLanding(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	srv := httptest.NewServer(a.Handler(a.MCPServer("test")))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health mcp.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, map[string]string{"records": "connected", "vector_index": "connected"}, health.Checks)

	landing, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	landing.Body.Close()
	assert.Equal(t, http.StatusOK, landing.StatusCode)
}

type bearer struct {
	token string
	base  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(r)
}

func TestHandler_MCPRequiresToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.JWTSecret = "app-secret"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	srv := httptest.NewServer(a.Handler(a.MCPServer("test")))
	t.Cleanup(srv.Close)

	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(initialize))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/documents/doc-1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A valid token connects, but tools stay scoped to its owner.
	token, err := api.NewAuthenticator(cfg.Server.JWTSecret).Sign("u2", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test", Version: "v0"}, nil)
	session, err := client.Connect(ctx, &sdkmcp.StreamableClientTransport{
		Endpoint:   srv.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearer{token: token, base: http.DefaultTransport}},
		MaxRetries: -1,
	}, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "get_job_status",
		Arguments: map[string]any{"document_id": "someone-elses"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNew_RejectsUnknownVectorBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vector.Backend = "faiss"

	a, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Nil(t, a)
}

func TestClose_RunsInReverseOrder(t *testing.T) {
	var order []int
	a := &App{}
	for i := range 3 {
		a.onClose(func() error { order = append(order, i); return nil })
	}
	require.NoError(t, a.Close())
	assert.Equal(t, []int{2, 1, 0}, order)
	assert.NoError(t, a.Close())
}
