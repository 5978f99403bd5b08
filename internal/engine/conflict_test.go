package engine

import (
	"testing"
	"time"

	"github.com/steveyegge/tasksync/internal/remote"
	"github.com/steveyegge/tasksync/internal/schema"
)

// TestResolveConflict_NoResolvedFields tests that a bare conflict outcome
// leaves the local snapshot standing.
func TestResolveConflict_NoResolvedFields(t *testing.T) {
	task := schema.NewTask("mine", "")
	snap, err := task.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	entry := schema.NewQueueEntry(task.ID, schema.OpUpdate, snap)

	winner := resolveConflict(entry, &remote.Outcome{Status: remote.StatusConflict})
	if winner.Title != "mine" {
		t.Errorf("Title = %q, want local copy", winner.Title)
	}
}

// TestResolveConflict_PartialOverlay tests that fields the remote didn't
// resolve keep their local values.
func TestResolveConflict_PartialOverlay(t *testing.T) {
	task := schema.NewTask("mine", "local description")
	task.Completed = true
	snap, err := task.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	entry := schema.NewQueueEntry(task.ID, schema.OpUpdate, snap)

	outcome := &remote.Outcome{
		Status: remote.StatusConflict,
		ResolvedFields: mustMarshal(map[string]interface{}{
			"title":      "theirs",
			"updated_at": task.UpdatedAt.Add(time.Hour),
		}),
	}

	winner := resolveConflict(entry, outcome)
	if winner.Title != "theirs" {
		t.Errorf("Title = %q, want remote's", winner.Title)
	}
	if winner.Description != "local description" || !winner.Completed {
		t.Errorf("unresolved fields changed: desc=%q completed=%v", winner.Description, winner.Completed)
	}
	if !winner.UpdatedAt.Equal(task.UpdatedAt.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want the remote timestamp", winner.UpdatedAt)
	}
}

// TestResolveConflict_CorruptPayload tests the fallback when the snapshot
// cannot be parsed: the remote copy wins by default.
func TestResolveConflict_CorruptPayload(t *testing.T) {
	entry := &schema.QueueEntry{ID: "e1", TaskID: "t1", Op: schema.OpUpdate, Payload: []byte("not json")}
	outcome := &remote.Outcome{
		Status: remote.StatusConflict,
		ResolvedFields: mustMarshal(map[string]interface{}{
			"title":      "recovered",
			"updated_at": time.Now().UTC(),
		}),
	}

	winner := resolveConflict(entry, outcome)
	if winner.ID != "t1" {
		t.Errorf("ID = %q, want the entry's task id", winner.ID)
	}
	if winner.Title != "recovered" {
		t.Errorf("Title = %q, want remote's", winner.Title)
	}
}
