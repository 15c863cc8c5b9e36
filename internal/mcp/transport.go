package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. Use for simple tool servers
	// that don't need server-to-client requests. Default: false (stateful).
	Stateless bool

	// Verifier, when set, requires a bearer token on every request. The
	// verified UserID is the owner tool calls are checked against.
	Verifier auth.TokenVerifier
}

// NewHTTPHandler creates an HTTP handler for the MCP server using the
// Streamable HTTP transport, to be mounted at "/mcp".
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}
	var h http.Handler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server.MCPServer()
	}, &mcp.StreamableHTTPOptions{Stateless: opts.Stateless})
	if opts.Verifier != nil {
		h = auth.RequireBearerToken(opts.Verifier, nil)(h)
	}
	return h
}
