package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRepoWatcher(t *testing.T) {
	rw, err := NewRepoWatcher()
	if err != nil {
		t.Fatalf("NewRepoWatcher() failed: %v", err)
	}
	defer rw.Stop()

	if rw == nil {
		t.Fatal("NewRepoWatcher() returned nil")
	}
}

func TestRepoWatcherStartStop(t *testing.T) {
	metaDir := t.TempDir()

	rw, err := NewRepoWatcher()
	if err != nil {
		t.Fatalf("NewRepoWatcher() failed: %v", err)
	}

	if err := rw.Start(metaDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := rw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	// Stop must be idempotent.
	if err := rw.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
}

func TestRepoWatcherStartTwiceRejected(t *testing.T) {
	metaDir := t.TempDir()

	rw, err := NewRepoWatcher()
	if err != nil {
		t.Fatalf("NewRepoWatcher() failed: %v", err)
	}
	defer rw.Stop()

	if err := rw.Start(metaDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := rw.Start(metaDir); err == nil {
		t.Fatal("second Start() should have failed while already running")
	}
}

func TestRepoWatcherEmitsOnChange(t *testing.T) {
	metaDir := t.TempDir()

	rw, err := NewRepoWatcher()
	if err != nil {
		t.Fatalf("NewRepoWatcher() failed: %v", err)
	}
	defer rw.Stop()

	if err := rw.Start(metaDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(metaDir, "op_store"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case _, ok := <-rw.Changes():
		if !ok {
			t.Fatal("changes channel closed before delivering a notification")
		}
	case err := <-rw.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change notification")
	}
}

func TestRepoWatcherCoalescesBurstsOfChanges(t *testing.T) {
	metaDir := t.TempDir()

	rw, err := NewRepoWatcher()
	if err != nil {
		t.Fatalf("NewRepoWatcher() failed: %v", err)
	}
	defer rw.Stop()

	if err := rw.Start(metaDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(metaDir, "op_store"), []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	select {
	case <-rw.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change notification")
	}

	// The buffered channel has capacity 1 and every send is non-blocking, so
	// a burst of writes should coalesce into at most one pending notification
	// rather than one per fsnotify event.
	select {
	case <-rw.Changes():
		t.Fatal("burst of writes produced more than one pending notification")
	default:
	}
}
