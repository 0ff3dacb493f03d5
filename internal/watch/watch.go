// Package watch detects out-of-band changes to a VCS repository's metadata
// directory — a `jj` or `git` operation run outside the orchestrator — so a
// caller holding a readiness snapshot knows to invalidate it. Adapted from
// the teacher's internal/turso/daemon file watcher (there: watch
// tasks/*.json and deps/*.json for sync; here: watch one metadata
// directory for any change at all).
package watch

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RepoWatcher watches a VCS metadata directory (e.g. .jj/ or .git/) and
// emits a coalesced notification when an entry directly inside it changes.
// Subdirectories are not watched recursively.
type RepoWatcher struct {
	watcher *fsnotify.Watcher
	changes chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewRepoWatcher creates a RepoWatcher. It must be started with Start
// before it watches anything.
func NewRepoWatcher() (*RepoWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	return &RepoWatcher{
		watcher: w,
		changes: make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching metaDir (the VCS metadata directory).
func (rw *RepoWatcher) Start(metaDir string) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.running {
		return fmt.Errorf("watch: already running")
	}
	if err := rw.watcher.Add(metaDir); err != nil {
		return fmt.Errorf("watch: watch %s: %w", metaDir, err)
	}

	rw.running = true
	rw.wg.Add(1)
	go rw.loop()
	return nil
}

// Stop stops the watcher and blocks until its goroutine has exited.
func (rw *RepoWatcher) Stop() error {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.done)
	if err := rw.watcher.Close(); err != nil {
		return fmt.Errorf("watch: close watcher: %w", err)
	}
	rw.wg.Wait()
	close(rw.changes)
	close(rw.errors)
	return nil
}

// Changes emits a (coalesced, best-effort) notification whenever the
// watched directory changes. The channel is closed when the watcher stops.
func (rw *RepoWatcher) Changes() <-chan struct{} { return rw.changes }

// Errors emits watcher-internal errors. Closed when the watcher stops.
func (rw *RepoWatcher) Errors() <-chan error { return rw.errors }

func (rw *RepoWatcher) loop() {
	defer rw.wg.Done()

	for {
		select {
		case <-rw.done:
			return

		case _, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			// Coalesce: a non-blocking send means a already-pending
			// notification absorbs this one, matching "invalidate once,
			// not once per fsnotify event" semantics.
			select {
			case rw.changes <- struct{}{}:
			default:
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case rw.errors <- err:
			case <-rw.done:
				return
			}
		}
	}
}
