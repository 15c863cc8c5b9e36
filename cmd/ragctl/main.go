// Package main provides ragctl, the operator CLI for plug-rag.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kanishk2004/plug-rag/internal/app"
	"github.com/Kanishk2004/plug-rag/internal/config"
)

var (
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "plug-rag operator tool",
	Long: `CLI for managing plug-rag bots, documents and knowledge bases.

Configuration is read the same way as the server: .env, then the file named
by --config or CONFIG_FILE, then environment variables.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			os.Setenv("CONFIG_FILE", configFile)
		}
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		logger = cfg.Logger()
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.AddCommand(migrateCmd, botCmd, tokenCmd, chunkCmd, ingestCmd, statusCmd,
		listCmd, searchCmd, askCmd, purgeCmd, workerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp wires every component and cancels on SIGTERM/SIGINT.
func openApp(cmd *cobra.Command) (context.Context, *app.App, func(), error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("Failed to start: %w", err)
	}
	return ctx, a, func() {
		a.Close()
		cancel()
	}, nil
}
