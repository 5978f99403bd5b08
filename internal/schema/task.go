// Package schema provides the data structures shared by the store, the
// reconciliation engine, and the remote client: task records, queued sync
// operations, and the error taxonomy surfaced to callers.
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks whether a task's latest state has been confirmed
// accepted by the remote peer.
type SyncStatus string

const (
	// SyncPending means the task has local changes the remote hasn't seen.
	SyncPending SyncStatus = "pending"

	// SyncSynced means the remote has acknowledged the task's current state.
	SyncSynced SyncStatus = "synced"

	// SyncError means the last sync attempt for this task exhausted its
	// retries. The task stays editable; a later edit re-enters pending.
	SyncError SyncStatus = "error"
)

// MaxTitleLen is the upper bound on task titles.
const MaxTitleLen = 500

// Task is the user-visible entity. IDs are client-generated and stable
// across sync; ServerID is assigned by the remote peer on first successful
// create. Tasks are never physically removed, only flagged deleted.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Deleted     bool       `json:"deleted"`
	SyncStatus  SyncStatus `json:"sync_status"`
	ServerID    string     `json:"server_id,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// NewTask builds a task with a fresh ID, current timestamps, and a pending
// sync marker. The result still needs Validate before persisting.
func NewTask(title, description string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		SyncStatus:  SyncPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks that the task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if t.Title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if len(t.Title) > MaxTitleLen {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be %d characters or less (got %d)", MaxTitleLen, len(t.Title))}
	}
	if t.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "is required"}
	}
	if t.UpdatedAt.IsZero() {
		return &ValidationError{Field: "updated_at", Reason: "is required"}
	}
	switch t.SyncStatus {
	case SyncPending, SyncSynced, SyncError:
	default:
		return &ValidationError{Field: "sync_status", Reason: fmt.Sprintf("unknown value %q", t.SyncStatus)}
	}
	return nil
}

// Snapshot serializes the task into a frozen payload for a queue entry.
// The returned bytes are a value copy: later edits to the task do not
// change what an already-enqueued operation will replay.
func (t *Task) Snapshot() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot task %s: %w", t.ID, err)
	}
	return data, nil
}

// TaskFromSnapshot parses a queue entry payload back into a task.
// No validation is applied; payloads from the remote peer may carry only
// the fields it chose to resolve.
func TaskFromSnapshot(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task snapshot: %w", err)
	}
	return &t, nil
}

// TaskPatch carries the optional fields of an update request. Nil fields
// are left untouched by Apply.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	ClearDue    bool       `json:"clear_due,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil &&
		p.DueAt == nil && !p.ClearDue
}

// Apply merges the patch into the task and bumps UpdatedAt.
func (p *TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.DueAt != nil {
		t.DueAt = p.DueAt
	}
	if p.ClearDue {
		t.DueAt = nil
	}
	t.UpdatedAt = time.Now().UTC()
}
