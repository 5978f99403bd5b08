package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/tasksync/internal/schema"
)

// CreateTask validates and persists a new task, appending a create entry to
// the sync queue in the same transaction. Returns the created task with its
// sync marker set to pending.
func (s *Store) CreateTask(ctx context.Context, title, description string, dueAt *time.Time) (*schema.Task, error) {
	task := schema.NewTask(title, description)
	task.DueAt = dueAt
	return s.insertTask(ctx, task)
}

// ImportTask persists an externally supplied task (e.g. a file dropped into
// the daemon inbox) and enqueues its create operation. Missing identity and
// timestamp fields are defaulted; the sync marker is forced to pending.
func (s *Store) ImportTask(ctx context.Context, task *schema.Task) (*schema.Task, error) {
	if task.ID == "" {
		fresh := schema.NewTask(task.Title, task.Description)
		fresh.Completed = task.Completed
		fresh.DueAt = task.DueAt
		task = fresh
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	task.Deleted = false
	task.SyncStatus = schema.SyncPending
	return s.insertTask(ctx, task)
}

// insertTask writes the task row plus its create queue entry atomically.
func (s *Store) insertTask(ctx context.Context, task *schema.Task) (*schema.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	payload, err := task.Snapshot()
	if err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO tasks (
		id, title, description, completed, deleted, sync_status,
		server_id, created_at, updated_at, due_at, last_synced_at
	) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, NULL)
	`
	_, err = tx.ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.Completed,
		string(task.SyncStatus),
		nullIfEmpty(task.ServerID),
		task.CreatedAt.Format(timeFormat),
		task.UpdatedAt.Format(timeFormat),
		timeToNullString(task.DueAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	entry := schema.NewQueueEntry(task.ID, schema.OpCreate, payload)
	if err := enqueueTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return task, nil
}

// GetTask retrieves a task by ID, soft-deleted or not. Deleted rows stay
// reachable here for reconciliation; ListTasks filters them out.
func (s *Store) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	query := `
	SELECT id, title, description, completed, deleted, sync_status,
	       server_id, created_at, updated_at, due_at, last_synced_at
	FROM tasks
	WHERE id = ?
	`
	task, err := scanTask(s.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schema.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// ListTasks returns all tasks that are not soft-deleted, oldest first.
func (s *Store) ListTasks(ctx context.Context) ([]*schema.Task, error) {
	query := `
	SELECT id, title, description, completed, deleted, sync_status,
	       server_id, created_at, updated_at, due_at, last_synced_at
	FROM tasks
	WHERE deleted = 0
	ORDER BY created_at ASC
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// UpdateTask merges the supplied fields into the task, resets its sync
// marker to pending, and appends an update entry carrying the full merged
// snapshot. Fails with ErrNotFound if the task is absent or soft-deleted.
func (s *Store) UpdateTask(ctx context.Context, id string, patch schema.TaskPatch) (*schema.Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Deleted {
		// Deleted tasks are immutable to further user edits.
		return nil, schema.ErrNotFound
	}

	patch.Apply(task)
	task.SyncStatus = schema.SyncPending
	if err := task.Validate(); err != nil {
		return nil, err
	}

	payload, err := task.Snapshot()
	if err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	UPDATE tasks
	SET title = ?, description = ?, completed = ?, sync_status = ?,
	    updated_at = ?, due_at = ?
	WHERE id = ? AND deleted = 0
	`
	res, err := tx.ExecContext(ctx, query,
		task.Title,
		task.Description,
		task.Completed,
		string(task.SyncStatus),
		task.UpdatedAt.Format(timeFormat),
		timeToNullString(task.DueAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, schema.ErrNotFound
	}

	entry := schema.NewQueueEntry(task.ID, schema.OpUpdate, payload)
	if err := enqueueTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return task, nil
}

// DeleteTask soft-deletes a task: the row keeps existing (audit and replay
// need it) but the delete flag is set, the sync marker returns to pending,
// and a delete entry with a minimal payload is enqueued.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Deleted {
		return schema.ErrNotFound
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	UPDATE tasks
	SET deleted = 1, sync_status = ?, updated_at = ?
	WHERE id = ? AND deleted = 0
	`
	res, err := tx.ExecContext(ctx, query,
		string(schema.SyncPending),
		time.Now().UTC().Format(timeFormat),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.ErrNotFound
	}

	entry := schema.NewQueueEntry(id, schema.OpDelete, schema.DeletePayload(id))
	if err := enqueueTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTask reads one task row.
func scanTask(row scanner) (*schema.Task, error) {
	var task schema.Task
	var syncStatus string
	var serverID sql.NullString
	var createdAt, updatedAt string
	var dueAt, lastSyncedAt sql.NullString

	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Completed,
		&task.Deleted,
		&syncStatus,
		&serverID,
		&createdAt,
		&updatedAt,
		&dueAt,
		&lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	task.SyncStatus = schema.SyncStatus(syncStatus)
	if serverID.Valid {
		task.ServerID = serverID.String
	}
	if t, err := time.Parse(timeFormat, createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(timeFormat, updatedAt); err == nil {
		task.UpdatedAt = t
	}
	task.DueAt = nullStringToTime(dueAt)
	task.LastSyncedAt = nullStringToTime(lastSyncedAt)

	return &task, nil
}

// nullIfEmpty converts an empty string to a SQL NULL.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
