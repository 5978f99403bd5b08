package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Op is the kind of mutation a queue entry replays against the remote.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// EntryStatus is the lifecycle state of a queue entry.
//
// Entries start pending and end in success or error. An error outcome
// below the retry ceiling returns the entry to pending for a later pass;
// at the ceiling the error status is terminal.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntrySuccess EntryStatus = "success"
	EntryError   EntryStatus = "error"
)

// QueueEntry is a durable record of one intended mutation against the
// remote copy of a task. Entries are applied strictly in Seq order per
// task: a delete enqueued after a create must not reach the remote first.
type QueueEntry struct {
	// Seq is the monotonically increasing queue position assigned by the
	// store at enqueue time. It orders entries across the whole queue.
	Seq int64 `json:"seq"`

	// ID identifies the entry itself, distinct from the task ID. It is
	// also the key the remote peer uses to index batch outcomes.
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	Op     Op     `json:"op"`

	// Payload is the task snapshot frozen at enqueue time. For deletes it
	// is minimal: just the task identifier.
	Payload json.RawMessage `json:"payload"`

	Status        EntryStatus `json:"status"`
	RetryCount    int         `json:"retry_count"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty"`
}

// NewQueueEntry builds a pending entry for the given task mutation.
func NewQueueEntry(taskID string, op Op, payload []byte) *QueueEntry {
	return &QueueEntry{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Op:        op,
		Payload:   payload,
		Status:    EntryPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the entry's field values.
func (e *QueueEntry) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if e.TaskID == "" {
		return &ValidationError{Field: "task_id", Reason: "is required"}
	}
	switch e.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return &ValidationError{Field: "op", Reason: fmt.Sprintf("unknown value %q", e.Op)}
	}
	switch e.Status {
	case EntryPending, EntrySuccess, EntryError:
	default:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", e.Status)}
	}
	if len(e.Payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "is required"}
	}
	return nil
}

// DeletePayload builds the minimal payload for a delete entry.
func DeletePayload(taskID string) []byte {
	data, _ := json.Marshal(map[string]string{"id": taskID})
	return data
}
