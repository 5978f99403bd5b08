package engine

import (
	"encoding/json"
	"time"

	"github.com/steveyegge/tasksync/internal/remote"
	"github.com/steveyegge/tasksync/internal/schema"
)

// resolveConflict settles a divergence between the entry's local snapshot
// and the remote copy using last-write-wins on updated_at.
//
// If the local snapshot is strictly newer, its values stand. Otherwise the
// remote's resolved fields are merged over the snapshot - on equal
// timestamps the remote wins, since it is the converged state other clients
// may already have seen.
func resolveConflict(entry *schema.QueueEntry, outcome *remote.Outcome) *schema.Task {
	local, err := schema.TaskFromSnapshot(entry.Payload)
	if err != nil {
		local = &schema.Task{ID: entry.TaskID}
	}

	remoteT := remoteUpdatedAt(outcome)
	if len(outcome.ResolvedFields) == 0 || local.UpdatedAt.After(remoteT) {
		return local
	}

	// Remote wins: overlay its fields onto the snapshot so fields it
	// didn't resolve keep their local values.
	winner := *local
	_ = json.Unmarshal(outcome.ResolvedFields, &winner)
	if winner.UpdatedAt.Before(remoteT) {
		winner.UpdatedAt = remoteT
	}
	return &winner
}

// remoteUpdatedAt extracts the remote copy's modification time from the
// resolved fields. A missing timestamp reads as zero, which lets any local
// snapshot win.
func remoteUpdatedAt(outcome *remote.Outcome) time.Time {
	if len(outcome.ResolvedFields) == 0 {
		return time.Time{}
	}
	var meta struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(outcome.ResolvedFields, &meta); err != nil {
		return time.Time{}
	}
	return meta.UpdatedAt
}
