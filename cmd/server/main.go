// Package main runs the plug-rag ingestion and answering service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Kanishk2004/plug-rag/internal/app"
	"github.com/Kanishk2004/plug-rag/internal/config"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup
	workerCtx, stopWorker := context.WithCancel(ctx)
	if cfg.Server.RunWorker {
		worker := a.Worker()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Worker stopped", "error", err)
			}
		}()
	}
	// The worker drains in-flight jobs before a.Close shuts the queue.
	defer wg.Wait()
	defer stopWorker()

	mcp := a.MCPServer(version)
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           a.Handler(mcp),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	if cfg.Server.Stdio {
		// Stdio mode serves one local MCP client; the HTTP endpoints stay up for
		// health checks.
		logger.Info("Starting MCP server on stdio")
		if err := mcp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			shutdown(srv, logger)
			return err
		}
		return shutdown(srv, logger)
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	return shutdown(srv, logger)
}

func shutdown(srv *http.Server, logger *slog.Logger) error {
	logger.Info("Shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
