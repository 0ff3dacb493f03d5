// Package vcsfake implements vcsbackend.VcsBackend in memory, returning
// canned, deterministic ids. It exists to exercise WorkflowService's
// start/complete/bubble-up logic without touching a real VCS, matching the
// teacher's own documented advice on test fakes in internal/vcs.
package vcsfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/vcsbackend"
)

// Fake is a small in-memory VcsBackend. Construct it with New: the zero
// value has a nil bookmark map, so CreateBookmark on it panics.
type Fake struct {
	mu sync.Mutex

	commitSeq int
	current   string
	dirty     bool

	bookmarks map[string]string // name -> target commit id
	commits   []vcsbackend.LogEntry

	// DirtyFiles, when non-empty, is returned by Status and makes Commit
	// succeed (there's something to commit) and Checkout fail with
	// ErrDirtyWorkingCopy until cleared.
	DirtyFiles []vcsbackend.FileStatusEntry

	// FailDeleteBookmark, when set, is returned by DeleteBookmark instead of
	// its normal behavior. Lets callers exercise best-effort cleanup paths
	// that must tolerate a VCS-side failure.
	FailDeleteBookmark error
}

// New returns a ready Fake seeded at commit "commit-0".
func New() *Fake {
	f := &Fake{
		bookmarks: make(map[string]string),
		current:   "commit-0",
	}
	f.commits = append(f.commits, vcsbackend.LogEntry{ID: "commit-0", Message: "initial"})
	return f
}

var _ vcsbackend.VcsBackend = (*Fake)(nil)

func (f *Fake) Status(ctx context.Context) (vcsbackend.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return vcsbackend.StatusResult{Files: f.DirtyFiles, WorkingCopyID: f.current}, nil
}

func (f *Fake) Log(ctx context.Context, limit int) ([]vcsbackend.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]vcsbackend.LogEntry, len(f.commits))
	for i := range f.commits {
		out[i] = f.commits[len(f.commits)-1-i]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) Diff(ctx context.Context, base string) ([]vcsbackend.DiffEntry, error) {
	return nil, nil
}

func (f *Fake) Commit(ctx context.Context, message string) (vcsbackend.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.DirtyFiles) == 0 {
		return vcsbackend.CommitResult{}, model.ErrNothingToCommit
	}

	f.commitSeq++
	id := fmt.Sprintf("commit-%d", f.commitSeq)
	f.commits = append(f.commits, vcsbackend.LogEntry{ID: id, Message: message})
	f.current = id
	f.DirtyFiles = nil

	return vcsbackend.CommitResult{ID: id, Msg: message}, nil
}

func (f *Fake) CurrentCommitID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *Fake) CreateBookmark(ctx context.Context, name string, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bookmarks[name]; ok {
		return model.ErrBookmarkExists
	}
	if target == "" {
		target = f.current
	}
	f.bookmarks[name] = target
	return nil
}

func (f *Fake) DeleteBookmark(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDeleteBookmark != nil {
		return f.FailDeleteBookmark
	}
	if _, ok := f.bookmarks[name]; !ok {
		return model.ErrBookmarkNotFound
	}
	delete(f.bookmarks, name)
	return nil
}

func (f *Fake) ListBookmarks(ctx context.Context, prefix string) ([]vcsbackend.BookmarkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vcsbackend.BookmarkInfo
	for name, target := range f.bookmarks {
		if prefix == "" || len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, vcsbackend.BookmarkInfo{Name: name, Target: target})
		}
	}
	return out, nil
}

func (f *Fake) Checkout(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.DirtyFiles) > 0 {
		return model.ErrDirtyWorkingCopy
	}

	if resolved, ok := f.bookmarks[target]; ok {
		f.current = resolved
		return nil
	}
	for _, c := range f.commits {
		if c.ID == target {
			f.current = target
			return nil
		}
	}
	return model.ErrTargetNotFound
}

func (f *Fake) IsClean(ctx context.Context) (bool, error) {
	return vcsbackend.DefaultIsClean(ctx, f)
}

// MarkDirty is a test helper simulating uncommitted local changes.
func (f *Fake) MarkDirty(path string, kind vcsbackend.FileKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DirtyFiles = append(f.DirtyFiles, vcsbackend.FileStatusEntry{Path: path, Kind: kind})
}
