package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/Kanishk2004/plug-rag/internal/api"
	"github.com/Kanishk2004/plug-rag/internal/credentials"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openRecords(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Migrate(cmd.Context())
		if err != nil {
			return fmt.Errorf("Migration failed: %w", err)
		}
		fmt.Printf("Applied %d migration(s)\n", n)
		return nil
	},
}

var botFlags struct {
	id, owner, name, apiKey, provider, chatModel, embeddingModel string
	fallback, inactive                                           bool
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Create or update a bot",
	Long: `Creates or updates a bot record. A per-bot API key is sealed with
ENCRYPTION_KEY before it is stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if botFlags.id == "" || botFlags.owner == "" {
			return fmt.Errorf("--id and --owner are required")
		}
		store, err := openRecords(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		bot := &records.Bot{
			ID:                  botFlags.id,
			OwnerID:             botFlags.owner,
			Name:                botFlags.name,
			Provider:            botFlags.provider,
			ChatModel:           botFlags.chatModel,
			EmbeddingModel:      botFlags.embeddingModel,
			AllowGlobalFallback: botFlags.fallback,
			Status:              records.BotActive,
		}
		if botFlags.inactive {
			bot.Status = records.BotInactive
		}
		if botFlags.apiKey != "" {
			if cfg.Provider.EncryptionKey == "" {
				return fmt.Errorf("ENCRYPTION_KEY is required to store a bot API key")
			}
			cipher, err := credentials.NewCipher(cfg.Provider.EncryptionKey)
			if err != nil {
				return err
			}
			if bot.EncryptedAPIKey, err = cipher.Seal(botFlags.apiKey, bot.ID); err != nil {
				return err
			}
		}
		if err := store.SaveBot(cmd.Context(), bot); err != nil {
			return err
		}
		fmt.Printf("Saved bot %s (owner %s, %s)\n", bot.ID, bot.OwnerID, bot.Status)
		return nil
	},
}

var tokenFlags struct {
	owner string
	ttl   time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		auth := api.NewAuthenticator(cfg.Server.JWTSecret)
		if !auth.Enabled() {
			return fmt.Errorf("JWT_SECRET is not set")
		}
		if tokenFlags.owner == "" {
			return fmt.Errorf("--owner is required")
		}
		claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(time.Now())}
		if tokenFlags.ttl > 0 {
			claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(tokenFlags.ttl))
		}
		token, err := auth.Sign(tokenFlags.owner, claims)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	f := botCmd.Flags()
	f.StringVar(&botFlags.id, "id", "", "bot id")
	f.StringVar(&botFlags.owner, "owner", "", "owning user id")
	f.StringVar(&botFlags.name, "name", "", "display name")
	f.StringVar(&botFlags.apiKey, "api-key", "", "per-bot provider API key")
	f.StringVar(&botFlags.provider, "provider", "", "openai or gemini")
	f.StringVar(&botFlags.chatModel, "chat-model", "", "chat model override")
	f.StringVar(&botFlags.embeddingModel, "embedding-model", "", "embedding model override")
	f.BoolVar(&botFlags.fallback, "allow-fallback", false, "use the global key when the bot key is unusable")
	f.BoolVar(&botFlags.inactive, "inactive", false, "mark the bot inactive")

	tokenCmd.Flags().StringVar(&tokenFlags.owner, "owner", "", "owner id carried in the token")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
}

func openRecords(cmd *cobra.Command) (*records.Store, error) {
	store, err := records.Open(cmd.Context(), records.Config{
		Driver:       cfg.Records.Driver,
		DSN:          cfg.Records.DSN,
		MaxOpenConns: cfg.Records.MaxOpenConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database: %w", err)
	}
	return store, nil
}
