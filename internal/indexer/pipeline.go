// Package indexer turns one uploaded document into stored vectors. It is the
// job handler run by the queue worker.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kanishk2004/plug-rag/internal/chunker"
	"github.com/Kanishk2004/plug-rag/internal/credentials"
	"github.com/Kanishk2004/plug-rag/internal/extract"
	"github.com/Kanishk2004/plug-rag/internal/format"
	"github.com/Kanishk2004/plug-rag/internal/knowledge"
	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

// Progress checkpoints reported to the queue.
const (
	ProgressDownloaded = 10
	ProgressExtracted  = 30
	ProgressChunked    = 50
	ProgressResolved   = 60
	ProgressStored     = 90
	ProgressFinalized  = 100
)

// DefaultDownloadTimeout bounds one object fetch. Embedding calls carry
// their own per-request timeout and the job timeout bounds the attempt.
const DefaultDownloadTimeout = 60 * time.Second

// DocumentStore is the slice of the record store the pipeline mutates.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*records.Document, error)
	MarkProcessing(ctx context.Context, id string) error
	RecordError(ctx context.Context, id, message string) error
	Finalize(ctx context.Context, id string, c records.Completion) error
	MarkFailed(ctx context.Context, id, message string) error
}

// ObjectStore fetches uploaded bytes.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Knowledge embeds and stores fragments for a bot.
type Knowledge interface {
	Credential(ctx context.Context, tenantID, botID string) (*credentials.Credential, error)
	EmbedAndStore(ctx context.Context, tenantID, botID string, frags []chunker.Fragment) (*knowledge.StoreResult, error)
	DeleteDocument(ctx context.Context, botID, documentID string) error
	CountVectors(ctx context.Context, botID, documentID string) (int, error)
}

// Config tunes the pipeline.
type Config struct {
	Chunking        chunker.Options
	Extract         extract.Options
	DownloadTimeout time.Duration
}

// IndexResult contains statistics about one processed document.
type IndexResult struct {
	DocumentID   string
	Kind         format.Kind
	Fragments    int
	Tokens       int
	Vectors      int
	Cost         float64
	UsedFallback bool
	Duration     time.Duration
}

// Pipeline orchestrates download, extraction, chunking and storage of one
// document.
type Pipeline struct {
	docs       DocumentStore
	objects    ObjectStore
	extractors *extract.Registry
	knowledge  Knowledge
	cfg        Config
	logger     *slog.Logger
}

var _ queue.Handler = (*Pipeline)(nil)

// NewPipeline creates a new indexing pipeline with the given components.
func NewPipeline(
	docs DocumentStore,
	objects ObjectStore,
	extractors *extract.Registry,
	kb Knowledge,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if extractors == nil {
		extractors = extract.NewRegistry(logger)
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	return &Pipeline{
		docs:       docs,
		objects:    objects,
		extractors: extractors,
		knowledge:  kb,
		cfg:        cfg,
		logger:     logger.With("component", "indexer"),
	}
}

// Process implements queue.Handler. The attempt's error is kept on the
// record; errors retrying cannot fix come back wrapped as permanent.
func (p *Pipeline) Process(ctx context.Context, job *queue.Job, progress queue.ProgressFunc) error {
	_, err := p.IndexDocument(ctx, job.Payload, progress)
	if err == nil {
		return nil
	}
	if recErr := p.docs.RecordError(ctx, job.ID, err.Error()); recErr != nil {
		p.logger.Warn("Failed to record processing error", "document_id", job.ID, "error", recErr)
	}
	return classify(err)
}

// Failed implements queue.Handler.
func (p *Pipeline) Failed(ctx context.Context, job *queue.Job, err error) {
	mErr := p.docs.MarkFailed(ctx, job.ID, err.Error())
	if errors.Is(mErr, records.ErrDocumentDeleted) {
		return
	}
	if mErr != nil {
		p.logger.Error("Failed to mark document failed", "document_id", job.ID, "error", mErr)
	}
}

// IndexDocument handles the full pipeline for a single document.
func (p *Pipeline) IndexDocument(ctx context.Context, payload queue.Payload, progress queue.ProgressFunc) (*IndexResult, error) {
	start := time.Now()
	if progress == nil {
		progress = func(int) {}
	}
	logger := p.logger.With("document_id", payload.DocumentID, "bot_id", payload.BotID)

	doc, err := p.docs.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if doc.BotID != payload.BotID || doc.OwnerID != payload.OwnerID {
		return nil, fmt.Errorf("document %s: %w", doc.ID, ErrOwnershipMismatch)
	}
	if err := p.docs.MarkProcessing(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	// Download
	buf, err := p.download(ctx, payload.StorageKey)
	if err != nil {
		return nil, err
	}
	if payload.DeclaredSize > 0 && int64(len(buf)) != payload.DeclaredSize {
		logger.Warn("Downloaded size differs from declared size", "declared", payload.DeclaredSize, "actual", len(buf))
	}
	logger.Debug("Downloaded document", "bytes", len(buf))
	progress(ProgressDownloaded)

	// Extract
	fileName := firstNonEmpty(payload.FileName, doc.OriginalName)
	kind := format.DetectWithMIME(fileName, firstNonEmpty(payload.MIMEType, doc.MIMEType), buf)
	extracted := p.extractors.Extract(ctx, kind, buf, p.cfg.Extract)
	if extracted.UsedFallback {
		logger.Warn("Extraction fell back", "kind", kind, "reason", extracted.Metadata["fallback_reason"])
	}
	logger.Debug("Extracted document", "kind", kind, "characters", extracted.CharacterCount, "words", extracted.WordCount)
	progress(ProgressExtracted)

	// Chunk
	frags := chunker.New(p.cfg.Chunking, p.logger).WithSource(chunker.Source{
		DocumentID: doc.ID,
		TenantID:   doc.OwnerID,
		BotID:      doc.BotID,
		FileName:   fileName,
	}).Chunk(extracted.Text, extracted.Structure)
	if len(frags) == 0 {
		return nil, fmt.Errorf("document %s: %w", doc.ID, ErrNoFragments)
	}
	logger.Debug("Chunked document", "fragments", len(frags))
	progress(ProgressChunked)

	// Resolve credentials before any embedding work.
	cred, err := p.knowledge.Credential(ctx, doc.OwnerID, doc.BotID)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	logger.Debug("Resolved credentials", "source", cred.Source, "custom", cred.IsCustom)
	progress(ProgressResolved)

	// Embed and store. Earlier vectors of the document are cleared first so
	// a shorter reprocessing leaves no stale fragments.
	stored, err := p.store(ctx, doc, frags)
	if err != nil {
		return nil, err
	}
	progress(ProgressStored)

	vectors, err := p.knowledge.CountVectors(ctx, doc.BotID, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("count vectors: %w", err)
	}
	if vectors == 0 {
		return nil, fmt.Errorf("document %s: %w", doc.ID, ErrNoVectors)
	}

	if err := p.docs.Finalize(ctx, doc.ID, records.Completion{
		Kind:        string(kind),
		ChunkCount:  len(frags),
		TokenCount:  stored.TotalTokens,
		VectorCount: vectors,
		Cost:        stored.EstimatedCost,
	}); err != nil {
		if errors.Is(err, records.ErrDocumentDeleted) {
			// Deleted mid-run: drop what this run stored.
			if dErr := p.knowledge.DeleteDocument(ctx, doc.BotID, doc.ID); dErr != nil {
				logger.Warn("Failed to remove vectors of deleted document", "error", dErr)
			}
		}
		return nil, fmt.Errorf("finalize record: %w", err)
	}
	progress(ProgressFinalized)

	result := &IndexResult{
		DocumentID:   doc.ID,
		Kind:         kind,
		Fragments:    len(frags),
		Tokens:       stored.TotalTokens,
		Vectors:      vectors,
		Cost:         stored.EstimatedCost,
		UsedFallback: extracted.UsedFallback,
		Duration:     time.Since(start),
	}
	logger.Info("Indexed document",
		"kind", kind,
		"fragments", result.Fragments,
		"tokens", result.Tokens,
		"vectors", result.Vectors,
		"cost_usd", result.Cost,
		"duration", result.Duration,
	)
	return result, nil
}

func (p *Pipeline) download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()
	buf, err := p.objects.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return buf, nil
}

func (p *Pipeline) store(ctx context.Context, doc *records.Document, frags []chunker.Fragment) (*knowledge.StoreResult, error) {
	if err := p.knowledge.DeleteDocument(ctx, doc.BotID, doc.ID); err != nil {
		return nil, fmt.Errorf("clear previous vectors: %w", err)
	}
	stored, err := p.knowledge.EmbedAndStore(ctx, doc.OwnerID, doc.BotID, frags)
	if err != nil {
		return nil, fmt.Errorf("embed and store: %w", err)
	}
	return stored, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
