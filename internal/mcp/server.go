package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Kanishk2004/plug-rag/internal/knowledge"
	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/rag"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

// Asker answers a question, optionally inside a stored conversation.
type Asker interface {
	Ask(ctx context.Context, botID, conversationID, question string) *rag.Answer
}

// Searcher searches a bot's knowledge base.
type Searcher interface {
	Search(ctx context.Context, tenantID, botID, query string, k int) ([]knowledge.SearchHit, error)
}

// TenantStore resolves the owner of an active bot.
type TenantStore interface {
	BotOwner(ctx context.Context, botID string) (string, error)
}

// JobTracker reports ingestion job state.
type JobTracker interface {
	Status(ctx context.Context, id string) (queue.Status, error)
}

// DocumentReader loads document records.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*records.Document, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	cfg    Config
}

// Config holds server dependencies.
type Config struct {
	Asker     Asker
	Searcher  Searcher
	Tenants   TenantStore
	Jobs      JobTracker
	Documents DocumentReader
	Version   string
	Logger    *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "mcp")
	if cfg.Version == "" {
		cfg.Version = "v0.1.0"
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "plug-rag",
		Version: cfg.Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_bot",
		Description: "Answer a question from a bot's uploaded documents. Returns the answer and the documents it came from.",
	}, makeAskHandler(cfg.Tenants, cfg.Asker))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Semantic search over a bot's uploaded documents. Returns matching fragments with their scores.",
	}, makeSearchHandler(cfg.Tenants, cfg.Searcher))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_job_status",
		Description: "Report the ingestion state, progress and last error for a document.",
	}, makeJobStatusHandler(cfg.Jobs, cfg.Documents))

	return &Server{server: server, cfg: cfg}
}

// Run serves over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.cfg.Logger.Info("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
