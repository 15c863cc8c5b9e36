// Package api is the HTTP surface for document ingestion, knowledge search
// and question answering.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Kanishk2004/plug-rag/internal/generation"
	"github.com/Kanishk2004/plug-rag/internal/knowledge"
	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/rag"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 50 << 20

// DocumentStore persists document records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d *records.Document) error
	GetDocument(ctx context.Context, id string) (*records.Document, error)
	MarkDeleted(ctx context.Context, id string) error
	MarkBotDocumentsDeleted(ctx context.Context, botID string) (int64, error)
}

// TenantStore resolves the owner of an active bot.
type TenantStore interface {
	BotOwner(ctx context.Context, botID string) (string, error)
}

// JobQueue accepts ingestion jobs and reports on them.
type JobQueue interface {
	Enqueue(ctx context.Context, p queue.Payload) (*queue.Handle, error)
	Status(ctx context.Context, id string) (queue.Status, error)
}

// ObjectWriter stores uploaded files.
type ObjectWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Knowledge searches and deletes a bot's vectors.
type Knowledge interface {
	Search(ctx context.Context, tenantID, botID, query string, k int) ([]knowledge.SearchHit, error)
	DeleteKnowledge(ctx context.Context, botID string) error
	DeleteDocument(ctx context.Context, botID, documentID string) error
}

// Answerer answers with caller-supplied history.
type Answerer interface {
	Answer(ctx context.Context, botID, question string, history []generation.Message) *rag.Answer
}

// Asker answers inside a stored conversation.
type Asker interface {
	Ask(ctx context.Context, botID, conversationID, question string) *rag.Answer
}

// Deps are the components the API calls.
type Deps struct {
	Documents DocumentStore
	Tenants   TenantStore
	Jobs      JobQueue
	Objects   ObjectWriter
	Knowledge Knowledge
	Answerer  Answerer
	Asker     Asker
}

// Options tunes the router.
type Options struct {
	Auth           *Authenticator
	AllowedOrigins []string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type server struct {
	deps      Deps
	auth      *Authenticator
	maxUpload int64
	logger    *slog.Logger
}

// NewRouter builds the /v1 routes. Callers may register other handlers,
// such as health checks, on the returned router.
func NewRouter(deps Deps, opts Options) chi.Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &server{
		deps:      deps,
		auth:      opts.Auth,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(middleware.Timeout(opts.RequestTimeout))
		v1.Use(s.auth.Middleware)

		v1.Post("/documents", s.createDocument)
		v1.Get("/documents/{documentID}/status", s.documentStatus)

		v1.Route("/bots/{botID}", func(bot chi.Router) {
			bot.Post("/documents", s.uploadDocument)
			bot.Delete("/documents/{documentID}", s.deleteDocument)
			bot.Delete("/knowledge", s.purgeKnowledge)
			bot.Post("/search", s.search)
			bot.Post("/answer", s.answer)
		})
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authorizeBot returns the bot's owner after checking that the caller, when
// authenticated, is that owner.
func (s *server) authorizeBot(ctx context.Context, botID string) (string, error) {
	owner, err := s.deps.Tenants.BotOwner(ctx, botID)
	if err != nil {
		return "", err
	}
	if caller, ok := OwnerFromContext(ctx); ok && caller != owner {
		return "", ErrForbidden
	}
	return owner, nil
}
