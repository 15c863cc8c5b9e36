package records

import "time"

// Document lifecycle states.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusDeleted    = "deleted"
)

// Embedding states.
const (
	EmbeddingPending    = "pending"
	EmbeddingProcessing = "processing"
	EmbeddingCompleted  = "completed"
	EmbeddingFailed     = "failed"
)

// Bot states.
const (
	BotActive   = "active"
	BotInactive = "inactive"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document is the persisted record of one uploaded file.
type Document struct {
	ID                  string     `db:"id" json:"id"`
	OwnerID             string     `db:"owner_id" json:"ownerId"`
	BotID               string     `db:"bot_id" json:"botId"`
	OriginalName        string     `db:"original_name" json:"originalName"`
	Kind                string     `db:"kind" json:"kind"`
	MIMEType            string     `db:"mime_type" json:"mimeType"`
	SizeBytes           int64      `db:"size_bytes" json:"sizeBytes"`
	StorageKey          string     `db:"storage_key" json:"storageKey"`
	Status              string     `db:"status" json:"status"`
	EmbeddingStatus     string     `db:"embedding_status" json:"embeddingStatus"`
	ChunkCount          int        `db:"chunk_count" json:"chunkCount"`
	TokenCount          int        `db:"token_count" json:"tokenCount"`
	VectorCount         int        `db:"vector_count" json:"vectorCount"`
	EmbeddingCost       float64    `db:"embedding_cost" json:"embeddingCost"`
	ProcessingError     string     `db:"processing_error" json:"processingError,omitempty"`
	UploadedAt          time.Time  `db:"uploaded_at" json:"uploadedAt"`
	ProcessingStartedAt *time.Time `db:"processing_started_at" json:"processingStartedAt,omitempty"`
	ProcessedAt         *time.Time `db:"processed_at" json:"processedAt,omitempty"`
	EmbeddedAt          *time.Time `db:"embedded_at" json:"embeddedAt,omitempty"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
}

// Completion is what a successful processing run writes back.
type Completion struct {
	Kind        string
	ChunkCount  int
	TokenCount  int
	VectorCount int
	Cost        float64
	At          time.Time
}

// Bot is the tenant-owned configuration the pipeline reads.
type Bot struct {
	ID                  string    `db:"id"`
	OwnerID             string    `db:"owner_id"`
	Name                string    `db:"name"`
	Status              string    `db:"status"`
	EncryptedAPIKey     string    `db:"encrypted_api_key"`
	Provider            string    `db:"provider"`
	ChatModel           string    `db:"chat_model"`
	EmbeddingModel      string    `db:"embedding_model"`
	AllowGlobalFallback bool      `db:"allow_global_fallback"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// Message is one turn of a stored conversation.
type Message struct {
	ID             string    `db:"id"`
	BotID          string    `db:"bot_id"`
	ConversationID string    `db:"conversation_id"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	CreatedAt      time.Time `db:"created_at"`
}

// UsageEvent records the cost of one answer or ingestion.
type UsageEvent struct {
	ID         string    `db:"id"`
	BotID      string    `db:"bot_id"`
	OwnerID    string    `db:"owner_id"`
	Kind       string    `db:"kind"`
	Model      string    `db:"model"`
	Tokens     int       `db:"tokens"`
	ResponseMS int64     `db:"response_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

// UsageTotals aggregates usage events for one bot.
type UsageTotals struct {
	Events int `db:"events"`
	Tokens int `db:"tokens"`
}
