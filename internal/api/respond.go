package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

var (
	errInvalidBody = errors.New("invalid request body")
	errBotMismatch = errors.New("document belongs to another bot")
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, records.ErrDocumentNotFound),
		errors.Is(err, records.ErrBotNotFound),
		errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, records.ErrBotInactive),
		errors.Is(err, errBotMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errInvalidBody),
		errors.Is(err, queue.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errInvalidBody, err)
	}
	return nil
}
