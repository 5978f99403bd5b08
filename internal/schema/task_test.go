package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestNewTask_Defaults tests that new tasks start pending with timestamps.
func TestNewTask_Defaults(t *testing.T) {
	task := NewTask("Write report", "quarterly numbers")

	if task.ID == "" {
		t.Error("ID should be generated")
	}
	if task.SyncStatus != SyncPending {
		t.Errorf("SyncStatus = %q, want %q", task.SyncStatus, SyncPending)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
	if task.Deleted || task.Completed {
		t.Error("new task should be neither deleted nor completed")
	}
	if err := task.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// TestTask_Validate_MissingTitle tests that an empty title is rejected.
func TestTask_Validate_MissingTitle(t *testing.T) {
	task := NewTask("", "")
	err := task.Validate()
	if err == nil {
		t.Fatal("Validate() should fail for empty title")
	}
	if !IsValidation(err) {
		t.Errorf("error should be a ValidationError, got %T", err)
	}
}

// TestTask_Validate_TitleTooLong tests the title length ceiling.
func TestTask_Validate_TitleTooLong(t *testing.T) {
	task := NewTask(strings.Repeat("x", MaxTitleLen+1), "")
	if err := task.Validate(); err == nil {
		t.Fatal("Validate() should fail for oversized title")
	}
}

// TestTask_Snapshot_Frozen tests that a snapshot is a value copy: mutating
// the task afterwards must not change what the snapshot replays.
func TestTask_Snapshot_Frozen(t *testing.T) {
	task := NewTask("Original", "")

	snap, err := task.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}

	task.Title = "Mutated"
	task.Completed = true

	restored, err := TaskFromSnapshot(snap)
	if err != nil {
		t.Fatalf("TaskFromSnapshot() failed: %v", err)
	}
	if restored.Title != "Original" {
		t.Errorf("snapshot title = %q, want %q", restored.Title, "Original")
	}
	if restored.Completed {
		t.Error("snapshot should not reflect post-enqueue mutation")
	}
}

// TestTask_Snapshot_RoundTrip tests snapshot fidelity field by field.
func TestTask_Snapshot_RoundTrip(t *testing.T) {
	due := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	task := NewTask("Round trip", "desc")
	task.DueAt = &due
	task.ServerID = "srv-9"

	snap, err := task.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	restored, err := TaskFromSnapshot(snap)
	if err != nil {
		t.Fatalf("TaskFromSnapshot() failed: %v", err)
	}

	if diff := cmp.Diff(task, restored); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
}

// TestTaskPatch_Apply tests that only supplied fields are merged.
func TestTaskPatch_Apply(t *testing.T) {
	task := NewTask("Before", "keep me")
	before := task.UpdatedAt

	title := "After"
	completed := true
	patch := TaskPatch{Title: &title, Completed: &completed}
	time.Sleep(time.Millisecond)
	patch.Apply(task)

	if task.Title != "After" {
		t.Errorf("Title = %q, want %q", task.Title, "After")
	}
	if task.Description != "keep me" {
		t.Errorf("Description = %q, want unchanged", task.Description)
	}
	if !task.Completed {
		t.Error("Completed should be set")
	}
	if !task.UpdatedAt.After(before) {
		t.Error("UpdatedAt should be bumped")
	}
}

// TestTaskPatch_ClearDue tests removing a due date.
func TestTaskPatch_ClearDue(t *testing.T) {
	due := time.Now().UTC()
	task := NewTask("Due", "")
	task.DueAt = &due

	patch := TaskPatch{ClearDue: true}
	patch.Apply(task)

	if task.DueAt != nil {
		t.Error("DueAt should be cleared")
	}
}

// TestTaskPatch_IsEmpty tests empty-patch detection.
func TestTaskPatch_IsEmpty(t *testing.T) {
	if !(&TaskPatch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	s := "x"
	if (&TaskPatch{Title: &s}).IsEmpty() {
		t.Error("patch with title should not be empty")
	}
}

// TestNewQueueEntry_Defaults tests the entry's starting state.
func TestNewQueueEntry_Defaults(t *testing.T) {
	entry := NewQueueEntry("task-1", OpCreate, []byte(`{"id":"task-1"}`))

	if entry.ID == "" {
		t.Error("ID should be generated")
	}
	if entry.ID == entry.TaskID {
		t.Error("entry ID must be distinct from task ID")
	}
	if entry.Status != EntryPending {
		t.Errorf("Status = %q, want %q", entry.Status, EntryPending)
	}
	if entry.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", entry.RetryCount)
	}
	if err := entry.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// TestQueueEntry_Validate_BadOp tests rejection of unknown operation kinds.
func TestQueueEntry_Validate_BadOp(t *testing.T) {
	entry := NewQueueEntry("task-1", Op("merge"), []byte(`{}`))
	if err := entry.Validate(); err == nil {
		t.Fatal("Validate() should fail for unknown op")
	}
}

// TestDeletePayload tests the minimal delete payload shape.
func TestDeletePayload(t *testing.T) {
	payload := DeletePayload("task-7")

	var parsed map[string]string
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("payload should be valid JSON: %v", err)
	}
	if parsed["id"] != "task-7" {
		t.Errorf("payload id = %q, want %q", parsed["id"], "task-7")
	}
	if len(parsed) != 1 {
		t.Errorf("delete payload should carry only the id, got %v", parsed)
	}
}
