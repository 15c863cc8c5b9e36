package queue

import "time"

// State is the lifecycle state of a job.
type State string

const (
	StateNotFound  State = "not_found"
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Payload describes the document a job processes. DocumentID doubles as the
// job id.
type Payload struct {
	DocumentID   string `json:"documentId"`
	BotID        string `json:"botId"`
	OwnerID      string `json:"ownerId"`
	StorageKey   string `json:"storageKey"`
	FileName     string `json:"filename"`
	MIMEType     string `json:"mimeType,omitempty"`
	DeclaredSize int64  `json:"declaredSize,omitempty"`
}

// Job is the persisted unit of work.
type Job struct {
	ID            string     `json:"id"`
	Payload       Payload    `json:"payload"`
	State         State      `json:"state"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"maxAttempts"`
	Progress      int        `json:"progress"`
	FailureReason string     `json:"failureReason,omitempty"`
	NextRunAt     time.Time  `json:"nextRunAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// Handle is returned by Enqueue.
type Handle struct {
	ID string
	// Duplicate is set when a waiting or active job already existed and
	// nothing was enqueued.
	Duplicate bool
	State     State
}

// Status is the externally visible progress of a job.
type Status struct {
	State         State     `json:"state"`
	Progress      int       `json:"progress"`
	FailureReason string    `json:"failureReason,omitempty"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"maxAttempts,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitzero"`
}

// EventType names a job transition.
type EventType string

const (
	EventEnqueued  EventType = "enqueued"
	EventDuplicate EventType = "duplicate"
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
)

// Event is published for job transitions. Consumers that fall behind miss
// events.
type Event struct {
	Type    EventType
	JobID   string
	Attempt int
	Err     string
	At      time.Time
}
