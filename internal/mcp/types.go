// Package mcp exposes bot question answering, knowledge search and
// ingestion status as Model Context Protocol tools.
package mcp

import "time"

// AskBotInput defines the input parameters for the ask_bot tool.
type AskBotInput struct {
	// BotID selects the knowledge base.
	BotID string `json:"bot_id" jsonschema:"the bot whose documents answer the question"`
	// Question is the user's question.
	Question string `json:"question" jsonschema:"the question to answer"`
	// ConversationID threads the question into a stored conversation.
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"optional conversation id; earlier turns are used as history"`
}

// AskBotOutput contains the answer and its sources.
type AskBotOutput struct {
	Answer             string   `json:"answer"`
	Sources            []Source `json:"sources"`
	HasRelevantContext bool     `json:"has_relevant_context"`
	TokensUsed         int      `json:"tokens_used"`
	ResponseTimeMS     int64    `json:"response_time_ms"`
	Model              string   `json:"model,omitempty"`
	// Error is set when the answer is a fallback after a failure.
	Error string `json:"error,omitempty"`
}

// Source attributes part of an answer to a document.
type Source struct {
	FileName   string   `json:"file_name"`
	PageNumber *int     `json:"page_number,omitempty"`
	ChunkIndex *int     `json:"chunk_index,omitempty"`
	Score      *float64 `json:"score,omitempty"`
}

// SearchKnowledgeInput defines the input parameters for the search_knowledge tool.
type SearchKnowledgeInput struct {
	BotID      string  `json:"bot_id" jsonschema:"the bot whose documents are searched"`
	Query      string  `json:"query" jsonschema:"the semantic search query"`
	MaxResults int     `json:"max_results,omitempty" jsonschema:"maximum number of fragments to return (default 5, at most 20)"`
	MinScore   float64 `json:"min_score,omitempty" jsonschema:"minimum relevance score between 0 and 1"`
}

// SearchKnowledgeOutput contains the matching fragments.
type SearchKnowledgeOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching fragments found").
	Message string `json:"message,omitempty"`
}

// SearchResult represents a single fragment match.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	Heading    string  `json:"heading,omitempty"`
	Page       int     `json:"page,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Type       string  `json:"type"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

// JobStatusInput defines the input parameters for the get_job_status tool.
type JobStatusInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document whose ingestion job is reported"`
}

// JobStatusOutput reports an ingestion job together with its document record.
type JobStatusOutput struct {
	DocumentID    string    `json:"document_id"`
	State         string    `json:"state"`
	Progress      int       `json:"progress"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	FailureReason string    `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
	// Document fields are empty when no record exists.
	DocumentStatus string `json:"document_status,omitempty"`
	ChunkCount     int    `json:"chunk_count,omitempty"`
	VectorCount    int    `json:"vector_count,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}
