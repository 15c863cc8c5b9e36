package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const documentColumns = `id, owner_id, bot_id, original_name, kind, mime_type, size_bytes, storage_key,
	status, embedding_status, chunk_count, token_count, vector_count, embedding_cost,
	processing_error, uploaded_at, processing_started_at, processed_at, embedded_at, updated_at`

// CreateDocument inserts a new record in the uploaded/pending state.
func (s *Store) CreateDocument(ctx context.Context, d *Document) error {
	now := s.now()
	if d.UploadedAt.IsZero() {
		d.UploadedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = StatusUploaded
	}
	if d.EmbeddingStatus == "" {
		d.EmbeddingStatus = EmbeddingPending
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (:id, :owner_id, :bot_id, :original_name, :kind, :mime_type, :size_bytes, :storage_key,
			:status, :embedding_status, :chunk_count, :token_count, :vector_count, :embedding_cost,
			:processing_error, :uploaded_at, :processing_started_at, :processed_at, :embedded_at, :updated_at)
	`, d)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument loads one record.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	var d Document
	err := s.db.GetContext(ctx, &d, s.db.Rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &d, nil
}

// ListDocuments returns a bot's records, newest first.
func (s *Store) ListDocuments(ctx context.Context, botID string) ([]Document, error) {
	var docs []Document
	err := s.db.SelectContext(ctx, &docs, s.db.Rebind(`
		SELECT `+documentColumns+` FROM documents
		WHERE bot_id = ? AND status <> ?
		ORDER BY uploaded_at DESC, id`), botID, StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("list documents of %s: %w", botID, err)
	}
	return docs, nil
}

// MarkProcessing moves a record into processing. The last error text is kept
// until the run completes. Deleted records stay deleted.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	now := s.now()
	return s.update(ctx, id, `
		UPDATE documents SET status = ?, embedding_status = ?, processing_started_at = ?, updated_at = ?
		WHERE id = ? AND status <> ?`, StatusProcessing, EmbeddingProcessing, now, now, id, StatusDeleted)
}

// RecordError stores the error of a failed attempt without changing state.
func (s *Store) RecordError(ctx context.Context, id, message string) error {
	return s.update(ctx, id, `
		UPDATE documents SET processing_error = ?, updated_at = ? WHERE id = ?`,
		nonEmptyError(message), s.now(), id)
}

// Finalize writes the results of a successful run. It returns
// ErrDocumentDeleted if the record was deleted meanwhile.
func (s *Store) Finalize(ctx context.Context, id string, c Completion) error {
	at := c.At
	if at.IsZero() {
		at = s.now()
	}
	return s.update(ctx, id, `
		UPDATE documents SET
			status = ?, embedding_status = ?, kind = ?, chunk_count = ?, token_count = ?,
			vector_count = ?, embedding_cost = ?, processing_error = '', processed_at = ?,
			embedded_at = ?, updated_at = ?
		WHERE id = ? AND status <> ?`,
		StatusCompleted, EmbeddingCompleted, c.Kind, c.ChunkCount, c.TokenCount,
		c.VectorCount, c.Cost, at, at, at, id, StatusDeleted)
}

// MarkFailed marks a record failed after its final attempt.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	now := s.now()
	return s.update(ctx, id, `
		UPDATE documents SET status = ?, embedding_status = ?, processing_error = ?, updated_at = ?
		WHERE id = ? AND status <> ?`, StatusFailed, EmbeddingFailed, nonEmptyError(message), now, id, StatusDeleted)
}

// MarkDeleted marks one record deleted.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	return s.update(ctx, id, `
		UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`, StatusDeleted, s.now(), id)
}

// MarkBotDocumentsDeleted marks every record of a bot deleted and returns the
// number changed.
func (s *Store) MarkBotDocumentsDeleted(ctx context.Context, botID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE documents SET status = ?, updated_at = ? WHERE bot_id = ? AND status <> ?`),
		StatusDeleted, s.now(), botID, StatusDeleted)
	if err != nil {
		return 0, fmt.Errorf("delete documents of %s: %w", botID, err)
	}
	return res.RowsAffected()
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if n == 0 {
		var status string
		err := s.db.GetContext(ctx, &status, s.db.Rebind(`SELECT status FROM documents WHERE id = ?`), id)
		if err == nil && status == StatusDeleted {
			return fmt.Errorf("%w: %s", ErrDocumentDeleted, id)
		}
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return nil
}

func nonEmptyError(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
