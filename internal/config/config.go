// Package config loads process configuration from an optional YAML file,
// a .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Vector index backends.
const (
	VectorQdrant = "qdrant"
	VectorMemory = "memory"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Records  RecordsConfig  `yaml:"records"`
	Vector   VectorConfig   `yaml:"vector"`
	Objects  ObjectsConfig  `yaml:"objects"`
	Provider ProviderConfig `yaml:"provider"`
	Queue    QueueConfig    `yaml:"queue"`
	Ingest   IngestConfig   `yaml:"ingest"`
	RAG      RAGConfig      `yaml:"rag"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	Stdio          bool          `yaml:"stdio"`
	JWTSecret      string        `yaml:"jwt_secret"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RunWorker starts the ingestion worker in the server process.
	RunWorker bool `yaml:"run_worker"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RecordsConfig locates the relational database.
type RecordsConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// VectorConfig selects the vector index.
type VectorConfig struct {
	Backend      string `yaml:"backend"`
	QdrantHost   string `yaml:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	QdrantTLS    bool   `yaml:"qdrant_tls"`
}

// ObjectsConfig configures where uploaded files live.
type ObjectsConfig struct {
	// DefaultScheme serves keys without a scheme prefix.
	DefaultScheme string   `yaml:"default_scheme"`
	Dir           string   `yaml:"dir"`
	S3            S3Config `yaml:"s3"`
	GitHubToken   string   `yaml:"github_token"`
}

// S3Config configures the S3 object store. An empty bucket disables it.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ProviderConfig holds the global model credential and per-bot key
// decryption.
type ProviderConfig struct {
	Name               string        `yaml:"name"`
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	ChatModel          string        `yaml:"chat_model"`
	EmbeddingModel     string        `yaml:"embedding_model"`
	EmbeddingDimension int           `yaml:"embedding_dimension"`
	EncryptionKey      string        `yaml:"encryption_key"`
	CredentialTTL      time.Duration `yaml:"credential_ttl"`
	MaxPromptTokens    int           `yaml:"max_prompt_tokens"`
}

// QueueConfig configures the job store and worker.
type QueueConfig struct {
	Dir                string        `yaml:"dir"`
	InMemory           bool          `yaml:"in_memory"`
	MaxAttempts        int           `yaml:"max_attempts"`
	Concurrency        int           `yaml:"concurrency"`
	RatePerSecond      float64       `yaml:"rate_per_second"`
	Burst              int           `yaml:"burst"`
	BaseBackoff        time.Duration `yaml:"base_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	DrainTimeout       time.Duration `yaml:"drain_timeout"`
	RetentionCompleted time.Duration `yaml:"retention_completed"`
	RetentionFailed    time.Duration `yaml:"retention_failed"`
}

// IngestConfig tunes extraction, chunking and embedding.
type IngestConfig struct {
	MaxChunkSize        int           `yaml:"max_chunk_size"`
	OverlapSize         int           `yaml:"overlap_size"`
	MaxHardTokenCeiling int           `yaml:"max_hard_token_ceiling"`
	TokenEncoding       string        `yaml:"token_encoding"`
	MaxCSVRows          int           `yaml:"max_csv_rows"`
	HTMLReadability     bool          `yaml:"html_readability"`
	DownloadTimeout     time.Duration `yaml:"download_timeout"`
	EmbedTimeout        time.Duration `yaml:"embed_timeout"`
	EmbedBatchSize      int           `yaml:"embed_batch_size"`
	EmbedConcurrency    int           `yaml:"embed_concurrency"`
	UnitPrice           float64       `yaml:"unit_price"`
}

// RAGConfig tunes question answering.
type RAGConfig struct {
	TopK            int           `yaml:"top_k"`
	HistoryMessages int           `yaml:"history_messages"`
	MaxContextChars int           `yaml:"max_context_chars"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	MinScore        float64       `yaml:"min_score"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	UsageBuffer     int           `yaml:"usage_buffer"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"*"},
			MaxUploadBytes: 50 << 20,
			RequestTimeout: 90 * time.Second,
			RunWorker:      true,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Records: RecordsConfig{Driver: "sqlite", DSN: "plug-rag.db"},
		Vector: VectorConfig{
			Backend:    VectorQdrant,
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Objects: ObjectsConfig{DefaultScheme: "file", Dir: "data/objects", S3: S3Config{Region: "us-east-1"}},
		Provider: ProviderConfig{
			Name:               "openai",
			ChatModel:          "gpt-4o-mini",
			EmbeddingModel:     "text-embedding-3-small",
			EmbeddingDimension: 1536,
			CredentialTTL:      5 * time.Minute,
		},
		Queue: QueueConfig{
			Dir:                "data/queue",
			MaxAttempts:        3,
			Concurrency:        4,
			RatePerSecond:      2,
			Burst:              2,
			BaseBackoff:        2 * time.Second,
			MaxBackoff:         5 * time.Minute,
			DrainTimeout:       30 * time.Second,
			RetentionCompleted: time.Hour,
			RetentionFailed:    7 * 24 * time.Hour,
		},
		Ingest: IngestConfig{
			MaxChunkSize:        1000,
			OverlapSize:         200,
			MaxHardTokenCeiling: 6000,
			TokenEncoding:       "cl100k_base",
			DownloadTimeout:     60 * time.Second,
			EmbedTimeout:        60 * time.Second,
			EmbedBatchSize:      100,
			EmbedConcurrency:    2,
			UnitPrice:           0.00002,
		},
		RAG: RAGConfig{
			TopK:            4,
			HistoryMessages: 6,
			MaxContextChars: 12000,
			MaxTokens:       800,
			Temperature:     0.2,
			GenerateTimeout: 45 * time.Second,
			UsageBuffer:     256,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE, then .env and the environment. A missing .env is not an
// error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Stdio = getEnvBool("MCP_STDIO", c.Server.Stdio)
	c.Server.JWTSecret = getEnv("JWT_SECRET", c.Server.JWTSecret)
	c.Server.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Server.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.Server.MaxUploadBytes)))
	c.Server.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.RunWorker = getEnvBool("RUN_WORKER", c.Server.RunWorker)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Records.Driver = getEnv("DATABASE_DRIVER", c.Records.Driver)
	c.Records.DSN = getEnv("DATABASE_URL", c.Records.DSN)
	c.Records.MaxOpenConns = getEnvInt("DATABASE_MAX_CONNS", c.Records.MaxOpenConns)

	c.Vector.Backend = getEnv("VECTOR_BACKEND", c.Vector.Backend)
	c.Vector.QdrantHost = getEnv("QDRANT_HOST", c.Vector.QdrantHost)
	c.Vector.QdrantPort = getEnvInt("QDRANT_PORT", c.Vector.QdrantPort)
	c.Vector.QdrantAPIKey = getEnv("QDRANT_API_KEY", c.Vector.QdrantAPIKey)
	c.Vector.QdrantTLS = getEnvBool("QDRANT_TLS", c.Vector.QdrantTLS)

	c.Objects.DefaultScheme = getEnv("OBJECT_STORE", c.Objects.DefaultScheme)
	c.Objects.Dir = getEnv("OBJECT_DIR", c.Objects.Dir)
	c.Objects.S3.Bucket = getEnv("S3_BUCKET", c.Objects.S3.Bucket)
	c.Objects.S3.Region = getEnv("AWS_REGION", c.Objects.S3.Region)
	c.Objects.S3.Endpoint = getEnv("S3_ENDPOINT", c.Objects.S3.Endpoint)
	c.Objects.S3.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", c.Objects.S3.AccessKeyID)
	c.Objects.S3.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", c.Objects.S3.SecretAccessKey)
	c.Objects.GitHubToken = getEnv("GITHUB_TOKEN", c.Objects.GitHubToken)

	c.Provider.Name = getEnv("AI_PROVIDER", c.Provider.Name)
	c.Provider.APIKey = getEnv("OPENAI_API_KEY", c.Provider.APIKey)
	if c.Provider.Name == "gemini" {
		c.Provider.APIKey = getEnv("GEMINI_API_KEY", c.Provider.APIKey)
	}
	c.Provider.BaseURL = getEnv("AI_BASE_URL", c.Provider.BaseURL)
	c.Provider.ChatModel = getEnv("CHAT_MODEL", c.Provider.ChatModel)
	c.Provider.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.Provider.EmbeddingModel)
	c.Provider.EmbeddingDimension = getEnvInt("EMBEDDING_DIMENSION", c.Provider.EmbeddingDimension)
	c.Provider.EncryptionKey = getEnv("ENCRYPTION_KEY", c.Provider.EncryptionKey)
	c.Provider.CredentialTTL = getEnvDuration("CREDENTIAL_TTL", c.Provider.CredentialTTL)
	c.Provider.MaxPromptTokens = getEnvInt("MAX_PROMPT_TOKENS", c.Provider.MaxPromptTokens)

	c.Queue.Dir = getEnv("QUEUE_DIR", c.Queue.Dir)
	c.Queue.InMemory = getEnvBool("QUEUE_IN_MEMORY", c.Queue.InMemory)
	c.Queue.MaxAttempts = getEnvInt("JOB_MAX_ATTEMPTS", c.Queue.MaxAttempts)
	c.Queue.Concurrency = getEnvInt("WORKER_CONCURRENCY", c.Queue.Concurrency)
	c.Queue.RatePerSecond = getEnvFloat("WORKER_RATE", c.Queue.RatePerSecond)
	c.Queue.Burst = getEnvInt("WORKER_BURST", c.Queue.Burst)
	c.Queue.BaseBackoff = getEnvDuration("JOB_BACKOFF", c.Queue.BaseBackoff)
	c.Queue.MaxBackoff = getEnvDuration("JOB_MAX_BACKOFF", c.Queue.MaxBackoff)
	c.Queue.JobTimeout = getEnvDuration("JOB_TIMEOUT", c.Queue.JobTimeout)
	c.Queue.DrainTimeout = getEnvDuration("WORKER_DRAIN_TIMEOUT", c.Queue.DrainTimeout)
	c.Queue.RetentionCompleted = getEnvDuration("JOB_RETENTION_COMPLETED", c.Queue.RetentionCompleted)
	c.Queue.RetentionFailed = getEnvDuration("JOB_RETENTION_FAILED", c.Queue.RetentionFailed)

	c.Ingest.MaxChunkSize = getEnvInt("MAX_CHUNK_SIZE", c.Ingest.MaxChunkSize)
	c.Ingest.OverlapSize = getEnvInt("CHUNK_OVERLAP", c.Ingest.OverlapSize)
	c.Ingest.MaxHardTokenCeiling = getEnvInt("MAX_HARD_TOKEN_CEILING", c.Ingest.MaxHardTokenCeiling)
	c.Ingest.TokenEncoding = getEnv("TOKEN_ENCODING", c.Ingest.TokenEncoding)
	c.Ingest.MaxCSVRows = getEnvInt("MAX_CSV_ROWS", c.Ingest.MaxCSVRows)
	c.Ingest.HTMLReadability = getEnvBool("HTML_READABILITY", c.Ingest.HTMLReadability)
	c.Ingest.DownloadTimeout = getEnvDuration("DOWNLOAD_TIMEOUT", c.Ingest.DownloadTimeout)
	c.Ingest.EmbedTimeout = getEnvDuration("EMBED_TIMEOUT", c.Ingest.EmbedTimeout)
	c.Ingest.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", c.Ingest.EmbedBatchSize)
	c.Ingest.EmbedConcurrency = getEnvInt("EMBED_CONCURRENCY", c.Ingest.EmbedConcurrency)
	c.Ingest.UnitPrice = getEnvFloat("EMBED_UNIT_PRICE", c.Ingest.UnitPrice)

	c.RAG.TopK = getEnvInt("RAG_TOP_K", c.RAG.TopK)
	c.RAG.HistoryMessages = getEnvInt("RAG_HISTORY_MESSAGES", c.RAG.HistoryMessages)
	c.RAG.MaxContextChars = getEnvInt("RAG_MAX_CONTEXT_CHARS", c.RAG.MaxContextChars)
	c.RAG.MaxTokens = getEnvInt("RAG_MAX_TOKENS", c.RAG.MaxTokens)
	c.RAG.Temperature = getEnvFloat("RAG_TEMPERATURE", c.RAG.Temperature)
	c.RAG.MinScore = getEnvFloat("RAG_MIN_SCORE", c.RAG.MinScore)
	c.RAG.GenerateTimeout = getEnvDuration("GENERATE_TIMEOUT", c.RAG.GenerateTimeout)
	c.RAG.UsageBuffer = getEnvInt("USAGE_BUFFER", c.RAG.UsageBuffer)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Records.DSN != "", "records: DATABASE_URL is required")
	check(c.Vector.Backend == VectorQdrant || c.Vector.Backend == VectorMemory,
		"vector: unknown backend %q", c.Vector.Backend)
	if c.Vector.Backend == VectorQdrant {
		check(c.Vector.QdrantHost != "" && c.Vector.QdrantPort > 0, "vector: QDRANT_HOST and QDRANT_PORT are required")
	}
	switch c.Objects.DefaultScheme {
	case "file", "github":
	case "s3":
		check(c.Objects.S3.Bucket != "", "objects: S3_BUCKET is required for the s3 store")
	default:
		check(false, "objects: unknown default scheme %q", c.Objects.DefaultScheme)
	}
	check(c.Ingest.MaxChunkSize > 0, "ingest: MAX_CHUNK_SIZE must be positive")
	check(c.Ingest.OverlapSize >= 0 && c.Ingest.OverlapSize < c.Ingest.MaxChunkSize,
		"ingest: CHUNK_OVERLAP must be between 0 and MAX_CHUNK_SIZE")
	check(c.Ingest.MaxHardTokenCeiling > 0, "ingest: MAX_HARD_TOKEN_CEILING must be positive")
	check(c.Queue.MaxAttempts > 0, "queue: JOB_MAX_ATTEMPTS must be positive")
	check(c.Queue.Concurrency > 0, "queue: WORKER_CONCURRENCY must be positive")
	check(c.Queue.RatePerSecond > 0, "queue: WORKER_RATE must be positive")
	check(c.RAG.TopK > 0, "rag: RAG_TOP_K must be positive")
	check(c.RAG.HistoryMessages >= 0, "rag: RAG_HISTORY_MESSAGES must not be negative")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Logger builds the process logger from Log.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
