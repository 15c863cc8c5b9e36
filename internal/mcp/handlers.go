package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

const (
	defaultMaxResults = 5
	maxMaxResults     = 20
)

var errForbidden = errors.New("resource belongs to another owner")

// caller returns the authenticated owner of the request. Transports
// without bearer auth, such as stdio, carry no caller.
func caller(req *mcp.CallToolRequest) (string, bool) {
	if req == nil || req.Extra == nil || req.Extra.TokenInfo == nil {
		return "", false
	}
	return req.Extra.TokenInfo.UserID, true
}

// authorizeBot resolves the bot owner and refuses callers that do not own it.
func authorizeBot(ctx context.Context, tenants TenantStore, req *mcp.CallToolRequest, botID string) (string, error) {
	owner, err := tenants.BotOwner(ctx, botID)
	if err != nil {
		return "", fmt.Errorf("resolve bot: %w", err)
	}
	if who, ok := caller(req); ok && who != owner {
		return "", errForbidden
	}
	return owner, nil
}

// makeAskHandler creates the ask_bot tool handler. Answer failures are
// reported in the output rather than as tool errors so clients always get
// a displayable answer.
func makeAskHandler(tenants TenantStore, asker Asker) func(
	context.Context, *mcp.CallToolRequest, AskBotInput,
) (*mcp.CallToolResult, AskBotOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskBotInput) (
		*mcp.CallToolResult, AskBotOutput, error,
	) {
		if strings.TrimSpace(input.BotID) == "" || strings.TrimSpace(input.Question) == "" {
			return nil, AskBotOutput{}, errors.New("bot_id and question are required")
		}
		if _, ok := caller(req); ok {
			if _, err := authorizeBot(ctx, tenants, req, input.BotID); err != nil {
				return nil, AskBotOutput{}, err
			}
		}

		answer := asker.Ask(ctx, input.BotID, input.ConversationID, input.Question)

		sources := make([]Source, 0, len(answer.Sources))
		for _, s := range answer.Sources {
			sources = append(sources, Source{
				FileName:   s.FileName,
				PageNumber: s.PageNumber,
				ChunkIndex: s.ChunkIndex,
				Score:      s.Score,
			})
		}
		return nil, AskBotOutput{
			Answer:             answer.Content,
			Sources:            sources,
			HasRelevantContext: answer.HasRelevantContext,
			TokensUsed:         answer.TokensUsed,
			ResponseTimeMS:     answer.ResponseTimeMS,
			Model:              answer.Model,
			Error:              answer.Error,
		}, nil
	}
}

// makeSearchHandler creates the search_knowledge tool handler.
// Search flow:
// 1. Resolve the bot owner so the search is scoped to the owning tenant,
//    refusing authenticated callers that do not own the bot
// 2. Search fragments by vector similarity
// 3. Filter by minimum score threshold
func makeSearchHandler(tenants TenantStore, searcher Searcher) func(
	context.Context, *mcp.CallToolRequest, SearchKnowledgeInput,
) (*mcp.CallToolResult, SearchKnowledgeOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchKnowledgeInput) (
		*mcp.CallToolResult, SearchKnowledgeOutput, error,
	) {
		if strings.TrimSpace(input.BotID) == "" || strings.TrimSpace(input.Query) == "" {
			return nil, SearchKnowledgeOutput{}, errors.New("bot_id and query are required")
		}
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
		maxResults = min(maxResults, maxMaxResults)

		owner, err := authorizeBot(ctx, tenants, req, input.BotID)
		if err != nil {
			return nil, SearchKnowledgeOutput{}, err
		}

		hits, err := searcher.Search(ctx, owner, input.BotID, input.Query, maxResults)
		if err != nil {
			return nil, SearchKnowledgeOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, 0, len(hits))
		for _, h := range hits {
			if h.Score < input.MinScore {
				continue
			}
			results = append(results, SearchResult{
				DocumentID: h.DocumentID,
				FileName:   h.FileName,
				Heading:    h.Heading,
				Page:       h.Page,
				ChunkIndex: h.Index,
				Type:       h.FragmentType,
				Score:      h.Score,
				Content:    h.Content,
			})
		}

		if len(results) == 0 {
			return nil, SearchKnowledgeOutput{
				Results: []SearchResult{},
				Message: "No matching fragments found. Try broader search terms.",
			}, nil
		}
		return nil, SearchKnowledgeOutput{Results: results}, nil
	}
}

// makeJobStatusHandler creates the get_job_status tool handler. Jobs are
// pruned after a retention period, so the document record fills in the
// outcome of older uploads.
func makeJobStatusHandler(jobs JobTracker, docs DocumentReader) func(
	context.Context, *mcp.CallToolRequest, JobStatusInput,
) (*mcp.CallToolResult, JobStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input JobStatusInput) (
		*mcp.CallToolResult, JobStatusOutput, error,
	) {
		if strings.TrimSpace(input.DocumentID) == "" {
			return nil, JobStatusOutput{}, errors.New("document_id is required")
		}

		doc, err := docs.GetDocument(ctx, input.DocumentID)
		if err != nil && !errors.Is(err, records.ErrDocumentNotFound) {
			return nil, JobStatusOutput{}, fmt.Errorf("load document: %w", err)
		}
		if who, ok := caller(req); ok && (doc == nil || doc.OwnerID != who) {
			return nil, JobStatusOutput{}, errForbidden
		}

		status, err := jobs.Status(ctx, input.DocumentID)
		if err != nil {
			return nil, JobStatusOutput{}, fmt.Errorf("job status: %w", err)
		}
		out := JobStatusOutput{
			DocumentID:    input.DocumentID,
			State:         string(status.State),
			Progress:      status.Progress,
			Attempts:      status.Attempts,
			MaxAttempts:   status.MaxAttempts,
			FailureReason: status.FailureReason,
			UpdatedAt:     status.UpdatedAt,
		}

		if doc != nil {
			out.DocumentStatus = doc.Status
			out.ChunkCount = doc.ChunkCount
			out.VectorCount = doc.VectorCount
			out.LastError = doc.ProcessingError
			if status.State == queue.StateNotFound && doc.Status == records.StatusCompleted {
				out.Progress = 100
			}
		}
		return nil, out, nil
	}
}
