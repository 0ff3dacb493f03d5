// Package vcsbackend defines the small, synchronous capability trait the
// workflow coordinator needs from a version-control system. It is the only
// capability abstraction the core requires; concrete adapters (jjadapter,
// vcsfake) implement it without the orchestrator core ever depending on a
// specific VCS.
package vcsbackend

import (
	"context"
	"time"
)

// FileKind classifies a single file's working-copy status.
type FileKind string

const (
	FileModified  FileKind = "modified"
	FileAdded     FileKind = "added"
	FileDeleted   FileKind = "deleted"
	FileRenamed   FileKind = "renamed"
	FileUntracked FileKind = "untracked"
	FileConflict  FileKind = "conflict"
)

// FileStatusEntry is one file's entry in a Status() result.
type FileStatusEntry struct {
	Path string
	Kind FileKind
}

// StatusResult is the working copy's current state.
type StatusResult struct {
	Files         []FileStatusEntry
	WorkingCopyID string // empty if the backend doesn't expose one
}

// LogEntry is one commit/change in history, most-recent-first order.
type LogEntry struct {
	ID        string
	Message   string
	Author    string
	Timestamp time.Time
}

// ChangeType classifies a diff entry.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// DiffEntry is one file's change between two points in history.
type DiffEntry struct {
	Path string
	Type ChangeType
}

// CommitResult is returned by Commit on success.
type CommitResult struct {
	ID  string
	Msg string
}

// BookmarkInfo describes one bookmark/branch.
type BookmarkInfo struct {
	Name   string
	Target string
}

// VcsBackend is the capability trait WorkflowService needs: status, log,
// diff, commit, current-commit-id, bookmark CRUD, checkout, and a
// clean-check. Implementations return the typed errors in internal/model
// (ErrNotARepository, ErrDirtyWorkingCopy, ErrNothingToCommit,
// ErrBookmarkExists, ErrBookmarkNotFound, ErrTargetNotFound) so callers can
// branch with errors.Is regardless of backend.
type VcsBackend interface {
	Status(ctx context.Context) (StatusResult, error)
	Log(ctx context.Context, limit int) ([]LogEntry, error)
	Diff(ctx context.Context, base string) ([]DiffEntry, error)

	// Commit creates a commit from the current working copy. Returns
	// ErrNothingToCommit if there is nothing staged/changed to commit.
	Commit(ctx context.Context, message string) (CommitResult, error)

	CurrentCommitID(ctx context.Context) (string, error)

	// CreateBookmark creates name at target (current commit if target is
	// empty). Returns ErrBookmarkExists if the name is already taken.
	CreateBookmark(ctx context.Context, name string, target string) error
	// DeleteBookmark returns ErrBookmarkNotFound if name doesn't exist.
	DeleteBookmark(ctx context.Context, name string) error
	ListBookmarks(ctx context.Context, prefix string) ([]BookmarkInfo, error)

	// Checkout switches the working copy to target. Returns
	// ErrDirtyWorkingCopy if uncommitted changes would be clobbered, or
	// ErrTargetNotFound if target doesn't resolve to anything.
	Checkout(ctx context.Context, target string) error

	// IsClean reports whether the working copy has no uncommitted changes.
	// Backends may implement this directly or via the default below.
	IsClean(ctx context.Context) (bool, error)
}

// DefaultIsClean implements IsClean in terms of Status, for backends that
// have no cheaper native check. Mirrors the teacher's documented pattern
// ("IsClean default impl via status()").
func DefaultIsClean(ctx context.Context, b VcsBackend) (bool, error) {
	status, err := b.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(status.Files) == 0, nil
}
