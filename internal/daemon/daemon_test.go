package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/tasksync/internal/engine"
	"github.com/steveyegge/tasksync/internal/remote"
	"github.com/steveyegge/tasksync/internal/store"
)

// newTestDaemon wires a daemon to a temp store and a stub peer. The sync
// interval is long so tests only see the initial pass.
func newTestDaemon(t *testing.T, inboxDir string) (*Daemon, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "version": "1.0.0"})
	}))
	t.Cleanup(peer.Close)

	quiet := log.New(io.Discard, "", 0)
	engCfg := engine.DefaultConfig()
	engCfg.Logger = quiet
	eng := engine.New(st, remote.New(peer.URL, time.Second, quiet), engCfg)

	cfg := DefaultConfig()
	cfg.SyncInterval = time.Hour
	cfg.DebounceInterval = 20 * time.Millisecond
	cfg.InboxDir = inboxDir
	cfg.Logger = quiet

	d, err := New(st, eng, nil, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return d, st
}

// TestNew_RequiresStoreAndEngine tests constructor nil checks.
func TestNew_RequiresStoreAndEngine(t *testing.T) {
	if _, err := New(nil, nil, nil, nil); err == nil {
		t.Error("New() should reject a nil store")
	}
}

// TestDaemon_InboxImport tests the watch-debounce-import path: a task file
// dropped into the inbox becomes a local task and the file is removed.
func TestDaemon_InboxImport(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	d, st := newTestDaemon(t, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Wait for the watcher to be installed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(inbox); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("inbox directory never created")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(inbox, "task.json")
	if err := os.WriteFile(path, []byte(`{"title":"From inbox","description":"dropped"}`), 0644); err != nil {
		t.Fatalf("failed to write inbox file: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		tasks, err := st.ListTasks(context.Background())
		if err != nil {
			t.Fatalf("ListTasks() failed: %v", err)
		}
		if len(tasks) == 1 {
			if tasks[0].Title != "From inbox" {
				t.Errorf("imported title = %q, want %q", tasks[0].Title, "From inbox")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("inbox file never imported")
		}
		time.Sleep(20 * time.Millisecond)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("imported file never removed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

// TestDaemon_StopIsClean tests startup and shutdown without an inbox.
func TestDaemon_StopIsClean(t *testing.T) {
	d, _ := newTestDaemon(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
