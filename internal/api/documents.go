package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Kanishk2004/plug-rag/internal/format"
	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

type createDocumentRequest struct {
	DocumentID string `json:"documentId"`
	BotID      string `json:"botId"`
	FileName   string `json:"fileName"`
	MIMEType   string `json:"mimeType"`
	StorageKey string `json:"storageKey"`
	SizeBytes  int64  `json:"sizeBytes"`
}

type enqueueResponse struct {
	DocumentID string      `json:"documentId"`
	JobID      string      `json:"jobId"`
	Duplicate  bool        `json:"duplicate"`
	State      queue.State `json:"state"`
}

type statusResponse struct {
	DocumentID string            `json:"documentId"`
	Job        queue.Status      `json:"job"`
	Document   *records.Document `json:"document,omitempty"`
}

// createDocument registers a file already in object storage and queues it.
// Resubmitting a document whose job is still waiting or active is a no-op.
func (s *server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.BotID == "" || req.StorageKey == "" || req.FileName == "" {
		s.fail(w, r, fmt.Errorf("%w: botId, fileName and storageKey are required", errInvalidBody))
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	resp, err := s.register(r.Context(), req, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// uploadDocument stores a multipart file, then registers and queues it.
func (s *server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.fail(w, r, errors.Join(errInvalidBody, err))
		return
	}
	defer file.Close()

	// Validate ownership before writing anything.
	if _, err := s.authorizeBot(r.Context(), botID); err != nil {
		s.fail(w, r, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, errors.Join(errInvalidBody, err))
		return
	}

	docID := r.FormValue("documentId")
	if docID == "" {
		docID = uuid.NewString()
	}
	name := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "." || name == "/" {
		s.fail(w, r, fmt.Errorf("%w: upload has no file name", errInvalidBody))
		return
	}
	key := path.Join("uploads", botID, docID, name)
	if err := s.deps.Objects.Put(r.Context(), key, data); err != nil {
		s.fail(w, r, fmt.Errorf("store upload: %w", err))
		return
	}

	resp, err := s.register(r.Context(), createDocumentRequest{
		DocumentID: docID,
		BotID:      botID,
		FileName:   name,
		MIMEType:   header.Header.Get("Content-Type"),
		StorageKey: key,
		SizeBytes:  int64(len(data)),
	}, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// register creates the record when absent and enqueues the job. sample, when
// present, is used to sniff the kind of files without a known extension.
func (s *server) register(ctx context.Context, req createDocumentRequest, sample []byte) (*enqueueResponse, error) {
	owner, err := s.authorizeBot(ctx, req.BotID)
	if err != nil {
		return nil, err
	}

	doc, err := s.deps.Documents.GetDocument(ctx, req.DocumentID)
	switch {
	case errors.Is(err, records.ErrDocumentNotFound):
		doc = &records.Document{
			ID:           req.DocumentID,
			OwnerID:      owner,
			BotID:        req.BotID,
			OriginalName: req.FileName,
			Kind:         string(format.DetectWithMIME(req.FileName, req.MIMEType, sample)),
			MIMEType:     req.MIMEType,
			SizeBytes:    req.SizeBytes,
			StorageKey:   req.StorageKey,
		}
		if err := s.deps.Documents.CreateDocument(ctx, doc); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case doc.BotID != req.BotID || doc.OwnerID != owner:
		return nil, errBotMismatch
	}

	handle, err := s.deps.Jobs.Enqueue(ctx, queue.Payload{
		DocumentID:   doc.ID,
		BotID:        doc.BotID,
		OwnerID:      doc.OwnerID,
		StorageKey:   doc.StorageKey,
		FileName:     doc.OriginalName,
		MIMEType:     doc.MIMEType,
		DeclaredSize: doc.SizeBytes,
	})
	if err != nil {
		return nil, err
	}
	return &enqueueResponse{
		DocumentID: doc.ID,
		JobID:      handle.ID,
		Duplicate:  handle.Duplicate,
		State:      handle.State,
	}, nil
}

func (s *server) documentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")

	doc, err := s.deps.Documents.GetDocument(r.Context(), id)
	if err != nil && !errors.Is(err, records.ErrDocumentNotFound) {
		s.fail(w, r, err)
		return
	}
	if doc != nil {
		if caller, ok := OwnerFromContext(r.Context()); ok && caller != doc.OwnerID {
			s.fail(w, r, ErrForbidden)
			return
		}
	}

	status, err := s.deps.Jobs.Status(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if doc == nil && status.State == queue.StateNotFound {
		s.fail(w, r, fmt.Errorf("%w: %s", records.ErrDocumentNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{DocumentID: id, Job: status, Document: doc})
}

func (s *server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	botID, docID := chi.URLParam(r, "botID"), chi.URLParam(r, "documentID")
	if _, err := s.authorizeBot(r.Context(), botID); err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.deps.Documents.GetDocument(r.Context(), docID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if doc.BotID != botID {
		s.fail(w, r, errBotMismatch)
		return
	}

	if err := s.deps.Knowledge.DeleteDocument(r.Context(), botID, docID); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Documents.MarkDeleted(r.Context(), docID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type purgeResponse struct {
	BotID     string    `json:"botId"`
	Documents int64     `json:"documentsDeleted"`
	PurgedAt  time.Time `json:"purgedAt"`
}

// purgeKnowledge drops the bot's vector collection and marks every record
// deleted.
func (s *server) purgeKnowledge(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if _, err := s.authorizeBot(r.Context(), botID); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Knowledge.DeleteKnowledge(r.Context(), botID); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.deps.Documents.MarkBotDocumentsDeleted(r.Context(), botID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Knowledge purged", "bot_id", botID, "documents", n)
	writeJSON(w, http.StatusOK, purgeResponse{BotID: botID, Documents: n, PurgedAt: time.Now().UTC()})
}
