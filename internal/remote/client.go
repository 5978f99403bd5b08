// Package remote implements the HTTP client for the sync peer.
//
// The peer accepts one operation or a batch and reports a per-item outcome:
// success, conflict, or error. Conflicts are not failures; they carry the
// remote's copy of the task so the engine can resolve the divergence.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/mod/semver"

	"github.com/steveyegge/tasksync/internal/schema"
)

// MinServerVersion is the oldest peer version this client will sync with.
const MinServerVersion = "v1.0.0"

// DefaultTimeout bounds every request to the peer. No call blocks
// indefinitely; a timeout is reported as a transport error.
const DefaultTimeout = 10 * time.Second

var (
	// ErrUnreachable means the connectivity probe failed. A pass seeing
	// this aborts cleanly without touching any queue entry.
	ErrUnreachable = errors.New("remote peer unreachable")

	// ErrIncompatible means the peer is reachable but runs a protocol
	// version older than MinServerVersion.
	ErrIncompatible = errors.New("remote peer version not supported")
)

// Status classifies a per-item outcome from the peer.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// Operation is the wire form of one queue entry.
type Operation struct {
	ID      string          `json:"id"`
	TaskID  string          `json:"task_id"`
	Op      schema.Op       `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// Outcome is the peer's verdict on one operation.
//
// On success RemoteID carries the server-assigned identifier (creates).
// On conflict ResolvedFields carries the remote copy of the task, including
// its updated_at, for last-write-wins resolution.
type Outcome struct {
	ID             string          `json:"id"`
	Status         Status          `json:"status"`
	RemoteID       string          `json:"remote_id,omitempty"`
	ResolvedFields json.RawMessage `json:"resolved_fields,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// healthResponse is the peer's /health payload.
type healthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// Client talks to one sync peer.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// New creates a client for the peer at baseURL. A zero timeout falls back
// to DefaultTimeout. If logger is nil, a default stderr logger is used.
func New(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Health probes the peer. Returns nil when the peer is reachable, healthy,
// and runs a supported protocol version.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read health response: %v", ErrUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned status %d", ErrUnreachable, resp.StatusCode)
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("%w: failed to parse health response: %v", ErrUnreachable, err)
	}
	if !health.OK {
		return fmt.Errorf("%w: peer reports not ok", ErrUnreachable)
	}

	if health.Version != "" {
		v := health.Version
		if v[0] != 'v' {
			v = "v" + v
		}
		if !semver.IsValid(v) {
			return fmt.Errorf("%w: malformed version %q", ErrIncompatible, health.Version)
		}
		if semver.Compare(v, MinServerVersion) < 0 {
			return fmt.Errorf("%w: got %s, need at least %s", ErrIncompatible, v, MinServerVersion)
		}
	}

	return nil
}

// Submit transmits one operation and returns the peer's outcome.
// Transport failures, timeouts, and malformed responses return an error;
// remote-side rejections come back as an Outcome with StatusError.
func (c *Client) Submit(ctx context.Context, op Operation) (*Outcome, error) {
	body, err := c.post(ctx, "/sync/op", op)
	if err != nil {
		return nil, err
	}

	var outcome Outcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		return nil, fmt.Errorf("failed to parse outcome: %w", err)
	}
	if outcome.ID == "" {
		outcome.ID = op.ID
	}
	return &outcome, nil
}

// SubmitBatch transmits several operations in one request and returns the
// per-item outcomes indexed by operation ID. Operations the peer did not
// report on are absent from the map; the caller treats them as errors.
func (c *Client) SubmitBatch(ctx context.Context, ops []Operation) (map[string]*Outcome, error) {
	body, err := c.post(ctx, "/sync/batch", map[string]interface{}{"operations": ops})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Outcomes []*Outcome `json:"outcomes"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse batch outcomes: %w", err)
	}

	outcomes := make(map[string]*Outcome, len(parsed.Outcomes))
	for _, o := range parsed.Outcomes {
		if o.ID == "" {
			continue
		}
		outcomes[o.ID] = o
	}
	return outcomes, nil
}

// post sends a JSON request and returns the response body, treating any
// non-2xx status as a transport-level failure.
func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("peer returned status %d for %s: %s", resp.StatusCode, path, body)
	}

	return body, nil
}
