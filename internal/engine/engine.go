// Package engine implements the reconciliation pass that drains the sync
// queue against the remote peer.
//
// A pass:
//  1. Probes connectivity; an unreachable peer aborts the pass with zero
//     side effects so outages don't inflate retry counters.
//  2. Dequeues up to BatchSize pending entries in queue order.
//  3. Dispatches them - entries for different tasks in parallel under a
//     bounded worker pool, entries for the same task strictly in order.
//  4. Classifies each outcome: success, conflict (resolved last-write-wins),
//     or error (retried up to MaxRetries, then terminal).
//
// Passes never overlap: a time-bounded lease rejects a second trigger while
// one pass is running, and expires on its own if a pass is abandoned.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/tasksync/internal/remote"
	"github.com/steveyegge/tasksync/internal/schema"
	"github.com/steveyegge/tasksync/internal/store"
)

// Config holds reconciliation settings.
type Config struct {
	// BatchSize is the maximum number of queue entries one pass drains.
	BatchSize int

	// MaxRetries is the delivery attempt ceiling per entry. At the ceiling
	// the entry goes terminal instead of returning to pending.
	MaxRetries int

	// Workers bounds cross-task dispatch parallelism.
	Workers int

	// LeaseTTL bounds how long one pass may hold the exclusivity lease.
	LeaseTTL time.Duration

	// Logger for pass activity.
	Logger *log.Logger
}

// DefaultConfig returns the product-contract defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:  50,
		MaxRetries: 3,
		Workers:    4,
		LeaseTTL:   2 * time.Minute,
		Logger:     log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// ItemError describes one entry that exhausted its retries during a pass.
type ItemError struct {
	EntryID string `json:"entry_id"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// Summary is the externally visible result of one pass. Sync failures are
// never thrown to the caller; they aggregate here.
type Summary struct {
	Synced      int           `json:"synced"`
	Failed      int           `json:"failed"`
	Pending     int           `json:"pending"`
	Unreachable bool          `json:"unreachable,omitempty"`
	Duration    time.Duration `json:"duration"`
	Errors      []ItemError   `json:"errors,omitempty"`
}

// Engine drains the sync queue against a remote peer.
type Engine struct {
	store  *store.Store
	remote *remote.Client
	config *Config

	leaseMu    sync.Mutex
	leaseUntil time.Time
}

// New creates an engine. A nil config uses DefaultConfig.
func New(st *store.Store, rc *remote.Client, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = 2 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:  st,
		remote: rc,
		config: config,
	}
}

// Sync runs one reconciliation pass. It returns ErrSyncInProgress if
// another pass currently holds the lease. Per-item failures do not error
// the pass; they show up in the summary.
func (e *Engine) Sync(ctx context.Context) (*Summary, error) {
	if !e.acquireLease() {
		return nil, schema.ErrSyncInProgress
	}
	defer e.releaseLease()

	start := time.Now()
	summary := &Summary{}

	if err := e.remote.Health(ctx); err != nil {
		// Abort the whole pass cleanly: no attempts, no counter changes.
		e.config.Logger.Printf("Skipping pass, peer not available: %v", err)
		summary.Unreachable = true
		summary.Duration = time.Since(start)
		return summary, nil
	}

	entries, err := e.store.DequeueBatch(ctx, e.config.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		summary.Duration = time.Since(start)
		return summary, nil
	}

	lanes := groupLanes(entries)
	e.config.Logger.Printf("Pass started: %d entries across %d tasks", len(entries), len(lanes))

	acc := &accumulator{summary: summary}
	if len(lanes) == len(entries) && len(entries) > 1 {
		// Every task contributed a single entry, so one batch request
		// preserves per-task ordering trivially.
		e.dispatchBatch(ctx, entries, acc)
	} else {
		e.dispatchLanes(ctx, lanes, acc)
	}

	summary.Duration = time.Since(start)
	e.config.Logger.Printf("Pass complete: synced=%d failed=%d pending=%d in %v",
		summary.Synced, summary.Failed, summary.Pending, summary.Duration.Round(time.Millisecond))

	return summary, nil
}

// dispatchLanes sends each task's entries sequentially while running
// different tasks' lanes concurrently under the worker pool.
func (e *Engine) dispatchLanes(ctx context.Context, lanes [][]*schema.QueueEntry, acc *accumulator) {
	sem := make(chan struct{}, e.config.Workers)
	var wg sync.WaitGroup

	for _, lane := range lanes {
		wg.Add(1)
		go func(lane []*schema.QueueEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			e.runLane(ctx, lane, acc)
		}(lane)
	}

	wg.Wait()
}

// runLane dispatches one task's entries in queue order. The lane stops at
// the first entry that doesn't resolve: a later entry's snapshot may be
// stale relative to an unresolved predecessor, so it must be held back.
func (e *Engine) runLane(ctx context.Context, lane []*schema.QueueEntry, acc *accumulator) {
	for i, entry := range lane {
		if ctx.Err() != nil {
			// Shutdown mid-pass: undialed entries stay pending untouched.
			acc.held(len(lane) - i)
			return
		}

		outcome, err := e.remote.Submit(ctx, toOperation(entry))
		resolved := e.apply(ctx, entry, outcome, err, acc)
		if !resolved {
			acc.held(len(lane) - i - 1)
			return
		}
	}
}

// dispatchBatch sends all entries in one request and applies the per-item
// outcomes. Entries the peer didn't report on count as transport errors.
func (e *Engine) dispatchBatch(ctx context.Context, entries []*schema.QueueEntry, acc *accumulator) {
	ops := make([]remote.Operation, len(entries))
	for i, entry := range entries {
		ops[i] = toOperation(entry)
	}

	outcomes, err := e.remote.SubmitBatch(ctx, ops)
	if err != nil {
		// The whole request failed; every entry burned one attempt.
		for _, entry := range entries {
			e.apply(ctx, entry, nil, err, acc)
		}
		return
	}

	for _, entry := range entries {
		outcome, ok := outcomes[entry.ID]
		if !ok {
			e.recordFailure(ctx, entry, "peer returned no outcome for operation", acc)
			continue
		}
		e.apply(ctx, entry, outcome, nil, acc)
	}
}

// apply classifies one delivery result and updates the task row and queue
// entry accordingly. It reports whether the entry is resolved (success or
// settled conflict), which decides whether the lane may continue.
func (e *Engine) apply(ctx context.Context, entry *schema.QueueEntry, outcome *remote.Outcome, submitErr error, acc *accumulator) bool {
	if submitErr != nil {
		e.recordFailure(ctx, entry, submitErr.Error(), acc)
		return false
	}

	switch outcome.Status {
	case remote.StatusSuccess:
		if err := e.store.ApplySuccess(ctx, entry, outcome.RemoteID); err != nil {
			e.config.Logger.Printf("Failed to record success for entry %s: %v", entry.ID, err)
			acc.held(1)
			return false
		}
		acc.synced()
		return true

	case remote.StatusConflict:
		winner := resolveConflict(entry, outcome)
		if err := e.store.ApplyResolved(ctx, entry, winner, outcome.RemoteID); err != nil {
			e.config.Logger.Printf("Failed to record resolution for entry %s: %v", entry.ID, err)
			acc.held(1)
			return false
		}
		acc.synced()
		return true

	default:
		msg := outcome.ErrorMessage
		if msg == "" {
			msg = "peer rejected operation"
		}
		e.recordFailure(ctx, entry, msg, acc)
		return false
	}
}

// recordFailure books one failed attempt, going terminal at the ceiling.
func (e *Engine) recordFailure(ctx context.Context, entry *schema.QueueEntry, message string, acc *accumulator) {
	attempts := entry.RetryCount + 1
	terminal := attempts >= e.config.MaxRetries

	if err := e.store.MarkFailed(ctx, entry, message, terminal); err != nil {
		e.config.Logger.Printf("Failed to record failure for entry %s: %v", entry.ID, err)
		acc.held(1)
		return
	}

	if terminal {
		e.config.Logger.Printf("Entry %s for task %s exhausted %d attempts: %s",
			entry.ID, entry.TaskID, attempts, message)
		acc.failed(ItemError{EntryID: entry.ID, TaskID: entry.TaskID, Message: message})
	} else {
		acc.held(1)
	}
}

// acquireLease claims pass exclusivity. The lease is time-bounded so an
// abandoned pass cannot block future passes forever.
func (e *Engine) acquireLease() bool {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()

	now := time.Now()
	if now.Before(e.leaseUntil) {
		return false
	}
	e.leaseUntil = now.Add(e.config.LeaseTTL)
	return true
}

func (e *Engine) releaseLease() {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()
	e.leaseUntil = time.Time{}
}

// groupLanes partitions entries by task while preserving queue order both
// across lanes and within each lane.
func groupLanes(entries []*schema.QueueEntry) [][]*schema.QueueEntry {
	index := make(map[string]int)
	var lanes [][]*schema.QueueEntry

	for _, entry := range entries {
		if i, ok := index[entry.TaskID]; ok {
			lanes[i] = append(lanes[i], entry)
			continue
		}
		index[entry.TaskID] = len(lanes)
		lanes = append(lanes, []*schema.QueueEntry{entry})
	}

	return lanes
}

// toOperation converts a queue entry to its wire form.
func toOperation(entry *schema.QueueEntry) remote.Operation {
	return remote.Operation{
		ID:      entry.ID,
		TaskID:  entry.TaskID,
		Op:      entry.Op,
		Payload: json.RawMessage(entry.Payload),
	}
}

// accumulator collects pass counters across concurrent lanes.
type accumulator struct {
	mu      sync.Mutex
	summary *Summary
}

func (a *accumulator) synced() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.Synced++
}

func (a *accumulator) failed(item ItemError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.Failed++
	a.summary.Errors = append(a.summary.Errors, item)
}

func (a *accumulator) held(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.Pending += n
}
