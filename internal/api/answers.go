package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Kanishk2004/plug-rag/internal/generation"
	"github.com/Kanishk2004/plug-rag/internal/knowledge"
)

const (
	defaultSearchK = 5
	maxSearchK     = 50
)

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchResponse struct {
	Results []knowledge.SearchHit `json:"results"`
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	var req searchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.fail(w, r, fmt.Errorf("%w: query is required", errInvalidBody))
		return
	}
	k := req.K
	if k <= 0 {
		k = defaultSearchK
	}
	k = min(k, maxSearchK)

	owner, err := s.authorizeBot(r.Context(), botID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	hits, err := s.deps.Knowledge.Search(r.Context(), owner, botID, req.Query, k)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if hits == nil {
		hits = []knowledge.SearchHit{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: hits})
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type answerRequest struct {
	Question       string           `json:"question"`
	ConversationID string           `json:"conversationId"`
	History        []historyMessage `json:"history"`
}

// answer always responds 200 once the bot is authorized; failures inside
// the pipeline come back as a fallback answer with its error field set.
func (s *server) answer(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	var req answerRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.fail(w, r, fmt.Errorf("%w: question is required", errInvalidBody))
		return
	}
	if _, err := s.authorizeBot(r.Context(), botID); err != nil {
		s.fail(w, r, err)
		return
	}

	if req.History != nil || req.ConversationID == "" {
		history := make([]generation.Message, 0, len(req.History))
		for _, m := range req.History {
			role := generation.RoleUser
			if m.Role == string(generation.RoleAssistant) {
				role = generation.RoleAssistant
			}
			history = append(history, generation.Message{Role: role, Content: m.Content})
		}
		writeJSON(w, http.StatusOK, s.deps.Answerer.Answer(r.Context(), botID, req.Question, history))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Asker.Ask(r.Context(), botID, req.ConversationID, req.Question))
}
