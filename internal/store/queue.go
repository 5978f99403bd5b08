package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/tasksync/internal/schema"
)

// enqueueTx appends a queue entry inside an open transaction. Task mutations
// call this so the row write and the ledger append commit as one unit.
func enqueueTx(ctx context.Context, tx *sql.Tx, entry *schema.QueueEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	query := `
	INSERT INTO sync_queue (
		id, task_id, op, payload, status, retry_count, created_at
	) VALUES (?, ?, ?, ?, ?, 0, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.TaskID,
		string(entry.Op),
		string(entry.Payload),
		string(entry.Status),
		entry.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for task %s: %w", entry.Op, entry.TaskID, err)
	}
	return nil
}

// Enqueue appends a standalone queue entry outside a task mutation.
// Normal CRUD paths enqueue transactionally; this exists for callers that
// replay externally sourced operations.
func (s *Store) Enqueue(ctx context.Context, taskID string, op schema.Op, payload []byte) (*schema.QueueEntry, error) {
	entry := schema.NewQueueEntry(taskID, op, payload)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := enqueueTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return entry, nil
}

// DequeueBatch returns up to limit pending entries in queue order (oldest
// first). This ordering is the core correctness property: it guarantees
// causal application order per task. Terminal entries are never returned.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]*schema.QueueEntry, error) {
	query := `
	SELECT seq, id, task_id, op, payload, status, retry_count,
	       error_message, created_at, last_attempt_at
	FROM sync_queue
	WHERE status = ?
	ORDER BY seq ASC
	LIMIT ?
	`
	rows, err := s.conn.QueryContext(ctx, query, string(schema.EntryPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue batch: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// MarkOutcome records the result of one delivery attempt: it sets the
// status, increments the retry counter, stamps the attempt time, and stores
// the error message if any.
//
// Calling it again with the same terminal status is a no-op, so a duplicate
// report of one attempt cannot double-count a retry.
func (s *Store) MarkOutcome(ctx context.Context, entryID string, status schema.EntryStatus, errorMessage string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := entryStatusTx(ctx, tx, entryID)
	if err != nil {
		return err
	}
	if current == status && status != schema.EntryPending {
		return tx.Commit()
	}

	if err := markOutcomeTx(ctx, tx, entryID, status, errorMessage); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ApplySuccess applies a successful remote outcome: the task row is stamped
// synced (adopting the remote ID when provided) and the queue entry is
// marked success, in one transaction.
func (s *Store) ApplySuccess(ctx context.Context, entry *schema.QueueEntry, remoteID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
	UPDATE tasks
	SET sync_status = ?,
	    server_id = COALESCE(?, server_id),
	    last_synced_at = ?
	WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		string(schema.SyncSynced),
		nullIfEmpty(remoteID),
		now.Format(timeFormat),
		entry.TaskID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark task %s synced: %w", entry.TaskID, err)
	}

	if err := markOutcomeTx(ctx, tx, entry.ID, schema.EntrySuccess, ""); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ApplyResolved writes the winning side of a resolved conflict onto the
// task row and marks the queue entry success. The divergence is settled
// either way, so the entry never counts as failed.
func (s *Store) ApplyResolved(ctx context.Context, entry *schema.QueueEntry, winner *schema.Task, remoteID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
	UPDATE tasks
	SET title = ?, description = ?, completed = ?, deleted = ?,
	    sync_status = ?, server_id = COALESCE(?, server_id),
	    updated_at = ?, due_at = ?, last_synced_at = ?
	WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		winner.Title,
		winner.Description,
		winner.Completed,
		winner.Deleted,
		string(schema.SyncSynced),
		nullIfEmpty(remoteID),
		winner.UpdatedAt.Format(timeFormat),
		timeToNullString(winner.DueAt),
		now.Format(timeFormat),
		entry.TaskID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply resolved task %s: %w", entry.TaskID, err)
	}

	if err := markOutcomeTx(ctx, tx, entry.ID, schema.EntrySuccess, ""); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt. Below the retry ceiling the
// entry returns to pending so a later pass retries it; at the ceiling the
// entry goes terminal and the task's sync marker is set to error.
func (s *Store) MarkFailed(ctx context.Context, entry *schema.QueueEntry, message string, terminal bool) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status := schema.EntryPending
	if terminal {
		status = schema.EntryError

		query := `UPDATE tasks SET sync_status = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, query, string(schema.SyncError), entry.TaskID); err != nil {
			return fmt.Errorf("failed to mark task %s errored: %w", entry.TaskID, err)
		}
	}

	if err := markOutcomeTx(ctx, tx, entry.ID, status, message); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FailedEntries returns entries that exhausted their retries, oldest first.
func (s *Store) FailedEntries(ctx context.Context) ([]*schema.QueueEntry, error) {
	query := `
	SELECT seq, id, task_id, op, payload, status, retry_count,
	       error_message, created_at, last_attempt_at
	FROM sync_queue
	WHERE status = ?
	ORDER BY seq ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, string(schema.EntryError))
	if err != nil {
		return nil, fmt.Errorf("failed to query failed entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// QueueStats summarizes the ledger for status reporting.
type QueueStats struct {
	Pending      int
	Succeeded    int
	Failed       int
	LastSyncedAt *time.Time
}

// Stats returns queue depth per status plus the most recent successful sync
// time across all tasks.
func (s *Store) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}

	query := `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch schema.EntryStatus(status) {
		case schema.EntryPending:
			stats.Pending = count
		case schema.EntrySuccess:
			stats.Succeeded = count
		case schema.EntryError:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}

	var last sql.NullString
	err = s.conn.QueryRowContext(ctx, `SELECT MAX(last_synced_at) FROM tasks`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query last sync time: %w", err)
	}
	stats.LastSyncedAt = nullStringToTime(last)

	return stats, nil
}

// entryStatusTx reads an entry's current status inside a transaction.
func entryStatusTx(ctx context.Context, tx *sql.Tx, entryID string) (schema.EntryStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM sync_queue WHERE id = ?`, entryID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("queue entry %s: %w", entryID, schema.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read queue entry %s: %w", entryID, err)
	}
	return schema.EntryStatus(status), nil
}

// markOutcomeTx performs the attempt bookkeeping inside an open transaction.
func markOutcomeTx(ctx context.Context, tx *sql.Tx, entryID string, status schema.EntryStatus, errorMessage string) error {
	query := `
	UPDATE sync_queue
	SET status = ?, retry_count = retry_count + 1,
	    error_message = ?, last_attempt_at = ?
	WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, query,
		string(status),
		nullIfEmpty(errorMessage),
		time.Now().UTC().Format(timeFormat),
		entryID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outcome for entry %s: %w", entryID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue entry %s: %w", entryID, schema.ErrNotFound)
	}
	return nil
}

// scanEntries reads queue entry rows.
func scanEntries(rows *sql.Rows) ([]*schema.QueueEntry, error) {
	var entries []*schema.QueueEntry
	for rows.Next() {
		var e schema.QueueEntry
		var op, status, payload string
		var errorMessage sql.NullString
		var createdAt string
		var lastAttemptAt sql.NullString

		err := rows.Scan(
			&e.Seq,
			&e.ID,
			&e.TaskID,
			&op,
			&payload,
			&status,
			&e.RetryCount,
			&errorMessage,
			&createdAt,
			&lastAttemptAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}

		e.Op = schema.Op(op)
		e.Status = schema.EntryStatus(status)
		e.Payload = []byte(payload)
		if errorMessage.Valid {
			e.ErrorMessage = errorMessage.String
		}
		if t, err := time.Parse(timeFormat, createdAt); err == nil {
			e.CreatedAt = t
		}
		e.LastAttemptAt = nullStringToTime(lastAttemptAt)

		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}
