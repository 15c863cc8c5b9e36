// Package app wires the components described by a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Kanishk2004/plug-rag/internal/api"
	"github.com/Kanishk2004/plug-rag/internal/chunker"
	"github.com/Kanishk2004/plug-rag/internal/clientcache"
	"github.com/Kanishk2004/plug-rag/internal/config"
	"github.com/Kanishk2004/plug-rag/internal/credentials"
	"github.com/Kanishk2004/plug-rag/internal/embedding"
	"github.com/Kanishk2004/plug-rag/internal/extract"
	"github.com/Kanishk2004/plug-rag/internal/generation"
	"github.com/Kanishk2004/plug-rag/internal/indexer"
	"github.com/Kanishk2004/plug-rag/internal/knowledge"
	mcpserver "github.com/Kanishk2004/plug-rag/internal/mcp"
	"github.com/Kanishk2004/plug-rag/internal/objectstore"
	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/rag"
	"github.com/Kanishk2004/plug-rag/internal/records"
	"github.com/Kanishk2004/plug-rag/internal/storage"
	"github.com/Kanishk2004/plug-rag/internal/tokenizer"
)

// App holds the wired components of one process.
type App struct {
	Config    *config.Config
	Records   *records.Store
	Index     storage.VectorIndex
	Objects   *objectstore.Router
	Resolver  credentials.Resolver
	Knowledge *knowledge.Manager
	Chunker   *chunker.Chunker
	Queue     *queue.Queue
	Pipeline  *indexer.Pipeline
	RAG       *rag.Orchestrator
	Chat      *rag.Chat
	Usage     *rag.UsageTracker

	logger  *slog.Logger
	closers []func() error
}

// New opens every dependency named by cfg. On error, whatever was already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Records, err = records.Open(ctx, records.Config{
		Driver:       cfg.Records.Driver,
		DSN:          cfg.Records.DSN,
		MaxOpenConns: cfg.Records.MaxOpenConns,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(a.Records.Close)
	if _, err = a.Records.Migrate(ctx); err != nil {
		return nil, err
	}

	if a.Index, err = openIndex(cfg.Vector); err != nil {
		return nil, err
	}
	a.onClose(a.Index.Close)

	if a.Objects, err = openObjects(ctx, cfg.Objects, logger); err != nil {
		return nil, err
	}

	if a.Resolver, err = newResolver(cfg.Provider, a.Records, logger); err != nil {
		return nil, err
	}

	counter := tokenizer.New(cfg.Ingest.TokenEncoding, logger)
	a.Knowledge = knowledge.NewManager(a.Index, a.Resolver,
		knowledge.DefaultEmbedderFactory(embedding.Config{
			Provider:  cfg.Provider.Name,
			Model:     cfg.Provider.EmbeddingModel,
			BaseURL:   cfg.Provider.BaseURL,
			BatchSize: cfg.Ingest.EmbedBatchSize,
			Timeout:   cfg.Ingest.EmbedTimeout,
			Dimension: cfg.Provider.EmbeddingDimension,
		}),
		clientcache.New[embedding.Embedder](), counter,
		knowledge.Config{
			UnitPrice:   cfg.Ingest.UnitPrice,
			BatchSize:   cfg.Ingest.EmbedBatchSize,
			Concurrency: cfg.Ingest.EmbedConcurrency,
		}, logger)

	chunking := chunker.Options{
		MaxChunkSize:        cfg.Ingest.MaxChunkSize,
		OverlapSize:         cfg.Ingest.OverlapSize,
		MaxHardTokenCeiling: cfg.Ingest.MaxHardTokenCeiling,
	}
	a.Chunker = chunker.New(chunking, logger)

	a.Queue, err = queue.Open(queue.Config{
		Dir:         cfg.Queue.Dir,
		InMemory:    cfg.Queue.InMemory,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(a.Queue.Close)

	a.Pipeline = indexer.NewPipeline(a.Records, a.Objects, extract.NewRegistry(logger), a.Knowledge, indexer.Config{
		Chunking: chunking,
		Extract: extract.Options{
			HTMLReadability: cfg.Ingest.HTMLReadability,
			MaxCSVRows:      cfg.Ingest.MaxCSVRows,
		},
		DownloadTimeout: cfg.Ingest.DownloadTimeout,
	}, logger)

	a.Usage = rag.NewUsageTracker(a.Records, cfg.RAG.UsageBuffer, logger)
	a.onClose(func() error { a.Usage.Close(); return nil })

	a.RAG = rag.NewOrchestrator(a.Records, a.Knowledge,
		rag.DefaultGeneratorFactory(generation.Config{
			Provider:        cfg.Provider.Name,
			Model:           cfg.Provider.ChatModel,
			BaseURL:         cfg.Provider.BaseURL,
			MaxPromptTokens: cfg.Provider.MaxPromptTokens,
			Timeout:         cfg.RAG.GenerateTimeout,
		}),
		clientcache.New[generation.Generator](), a.Usage,
		rag.Config{
			TopK:            cfg.RAG.TopK,
			HistoryMessages: cfg.RAG.HistoryMessages,
			MaxContextChars: cfg.RAG.MaxContextChars,
			MaxTokens:       cfg.RAG.MaxTokens,
			Temperature:     cfg.RAG.Temperature,
			MinScore:        cfg.RAG.MinScore,
			GenerateTimeout: cfg.RAG.GenerateTimeout,
		}, logger)
	a.Chat = rag.NewChat(a.RAG, a.Records, cfg.RAG.HistoryMessages, logger)

	logger.Info("Components ready",
		"records", cfg.Records.Driver,
		"vector_backend", cfg.Vector.Backend,
		"object_store", cfg.Objects.DefaultScheme,
		"provider", cfg.Provider.Name,
	)
	return a, nil
}

func openIndex(cfg config.VectorConfig) (storage.VectorIndex, error) {
	switch cfg.Backend {
	case config.VectorMemory:
		return storage.NewMemoryIndex(), nil
	case config.VectorQdrant:
		return storage.NewQdrantStorage(storage.QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantTLS,
		})
	default:
		return nil, fmt.Errorf("%w: vector backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

func openObjects(ctx context.Context, cfg config.ObjectsConfig, logger *slog.Logger) (*objectstore.Router, error) {
	router := objectstore.NewRouter(cfg.DefaultScheme, logger)

	fs, err := objectstore.NewFS(cfg.Dir)
	if err != nil {
		return nil, err
	}
	router.Register(objectstore.SchemeFile, fs)

	if cfg.S3.Bucket != "" {
		s3, err := objectstore.NewS3(ctx, objectstore.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		router.Register(objectstore.SchemeS3, s3)
	}

	gh, err := objectstore.NewGitHubClient(cfg.GitHubToken)
	if err != nil {
		return nil, err
	}
	router.Register(objectstore.SchemeGitHub, objectstore.NewGitHub(gh))
	return router, nil
}

func newResolver(cfg config.ProviderConfig, store credentials.SettingsStore, logger *slog.Logger) (credentials.Resolver, error) {
	var cipher *credentials.Cipher
	if cfg.EncryptionKey != "" {
		var err error
		if cipher, err = credentials.NewCipher(cfg.EncryptionKey); err != nil {
			return nil, err
		}
	}
	var resolver credentials.Resolver = credentials.NewChainResolver(store, cipher, credentials.Global{
		APIKey:         cfg.APIKey,
		Provider:       cfg.Name,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
	}, logger)
	if cfg.CredentialTTL > 0 {
		resolver = credentials.NewCachingResolver(resolver, cfg.CredentialTTL)
	}
	return resolver, nil
}

// Worker returns a worker that runs the ingestion pipeline.
func (a *App) Worker() *queue.Worker {
	q := a.Config.Queue
	return queue.NewWorker(a.Queue, a.Pipeline, queue.WorkerConfig{
		Concurrency:        q.Concurrency,
		RatePerSecond:      q.RatePerSecond,
		Burst:              q.Burst,
		BaseBackoff:        q.BaseBackoff,
		MaxBackoff:         q.MaxBackoff,
		JobTimeout:         q.JobTimeout,
		DrainTimeout:       q.DrainTimeout,
		RetentionCompleted: q.RetentionCompleted,
		RetentionFailed:    q.RetentionFailed,
	}, a.logger)
}

// MCPServer returns the MCP tool server.
func (a *App) MCPServer(version string) *mcpserver.Server {
	return mcpserver.NewServer(mcpserver.Config{
		Asker:     a.Chat,
		Searcher:  a.Knowledge,
		Tenants:   a.Records,
		Jobs:      a.Queue,
		Documents: a.Records,
		Version:   version,
		Logger:    a.logger,
	})
}

// Handler serves the REST API under /v1, MCP at /mcp, /health and the
// landing page.
func (a *App) Handler(mcp *mcpserver.Server) http.Handler {
	auth := api.NewAuthenticator(a.Config.Server.JWTSecret)
	r := api.NewRouter(api.Deps{
		Documents: a.Records,
		Tenants:   a.Records,
		Jobs:      a.Queue,
		Objects:   a.Objects,
		Knowledge: a.Knowledge,
		Answerer:  a.RAG,
		Asker:     a.Chat,
	}, api.Options{
		Auth:           auth,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		MaxUploadBytes: a.Config.Server.MaxUploadBytes,
		RequestTimeout: a.Config.Server.RequestTimeout,
		Logger:         a.logger,
	})
	a.mountPublic(r, mcp, auth)
	return r
}

func (a *App) mountPublic(r chi.Router, mcp *mcpserver.Server, auth *api.Authenticator) {
	r.Get("/", mcpserver.NewLandingHandler())
	r.Get("/health", mcpserver.NewHealthHandler(a.HealthChecks()))

	opts := &mcpserver.HTTPHandlerOptions{}
	if auth.Enabled() {
		opts.Verifier = auth.VerifyToken
	}
	r.Handle("/mcp", mcpserver.NewHTTPHandler(mcp, opts))
}

// HealthChecks names the dependencies /health probes.
func (a *App) HealthChecks() map[string]mcpserver.HealthChecker {
	return map[string]mcpserver.HealthChecker{
		"vector_index": a.Knowledge,
		"records":      mcpserver.HealthFunc(a.Records.Ping),
	}
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
