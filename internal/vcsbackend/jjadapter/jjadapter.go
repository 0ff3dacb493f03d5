// Package jjadapter implements vcsbackend.VcsBackend over the Jujutsu (jj)
// command-line tool, the single concrete backend the spec calls for ("one
// concrete adapter over a git-like repository suffices"). It follows the
// teacher's internal/vcs/jj package: wrap the CLI with os/exec, parse its
// plumbing-friendly template output, and translate jj's own errors into the
// orchestrator's typed error surface.
package jjadapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/vcsbackend"
)

// Adapter wraps a jj repository rooted at RepoRoot.
type Adapter struct {
	repoRoot string
}

// New returns an Adapter for the jj repository at repoRoot, or
// model.ErrNotARepository if repoRoot has no .jj directory.
func New(repoRoot string) (*Adapter, error) {
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("jjadapter: resolve repo root: %w", err)
	}
	if _, err := os.Stat(filepath.Join(absRoot, ".jj")); err != nil {
		return nil, model.ErrNotARepository
	}
	return &Adapter{repoRoot: absRoot}, nil
}

var _ vcsbackend.VcsBackend = (*Adapter)(nil)

func (a *Adapter) exec(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "jj", args...)
	cmd.Dir = a.repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jj %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (a *Adapter) Status(ctx context.Context) (vcsbackend.StatusResult, error) {
	out, err := a.exec(ctx, "status", "--no-pager")
	if err != nil {
		return vcsbackend.StatusResult{}, err
	}

	var files []vcsbackend.FileStatusEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, " ") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		kind := jjKind(fields[0])
		if kind == "" {
			continue
		}
		files = append(files, vcsbackend.FileStatusEntry{
			Path: strings.TrimSpace(fields[1]),
			Kind: kind,
		})
	}

	workingCopyID, _ := a.CurrentCommitID(ctx)
	return vcsbackend.StatusResult{Files: files, WorkingCopyID: workingCopyID}, nil
}

func jjKind(token string) vcsbackend.FileKind {
	switch token {
	case "M":
		return vcsbackend.FileModified
	case "A":
		return vcsbackend.FileAdded
	case "D":
		return vcsbackend.FileDeleted
	case "R":
		return vcsbackend.FileRenamed
	case "C":
		return vcsbackend.FileConflict
	default:
		return ""
	}
}

func (a *Adapter) Log(ctx context.Context, limit int) ([]vcsbackend.LogEntry, error) {
	args := []string{"log", "--no-graph", "-T",
		`change_id ++ "\x1f" ++ description.first_line() ++ "\x1f" ++ author.name() ++ "\x1f" ++ author.timestamp() ++ "\x1e"`}
	if limit > 0 {
		args = append(args, "-n", fmt.Sprint(limit))
	}

	out, err := a.exec(ctx, args...)
	if err != nil {
		return nil, err
	}

	var entries []vcsbackend.LogEntry
	for _, rec := range strings.Split(out, "\x1e") {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		fields := strings.Split(rec, "\x1f")
		if len(fields) != 4 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, fields[3])
		entries = append(entries, vcsbackend.LogEntry{
			ID: fields[0], Message: fields[1], Author: fields[2], Timestamp: ts,
		})
	}
	return entries, nil
}

func (a *Adapter) Diff(ctx context.Context, base string) ([]vcsbackend.DiffEntry, error) {
	args := []string{"diff", "--no-pager", "--summary"}
	if base != "" {
		args = append(args, "--from", base)
	}
	out, err := a.exec(ctx, args...)
	if err != nil {
		return nil, err
	}

	var entries []vcsbackend.DiffEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		var t vcsbackend.ChangeType
		switch fields[0] {
		case "A":
			t = vcsbackend.ChangeAdded
		case "M":
			t = vcsbackend.ChangeModified
		case "D":
			t = vcsbackend.ChangeDeleted
		case "R":
			t = vcsbackend.ChangeRenamed
		default:
			continue
		}
		entries = append(entries, vcsbackend.DiffEntry{Path: fields[1], Type: t})
	}
	return entries, nil
}

func (a *Adapter) Commit(ctx context.Context, message string) (vcsbackend.CommitResult, error) {
	status, err := a.Status(ctx)
	if err != nil {
		return vcsbackend.CommitResult{}, err
	}
	if len(status.Files) == 0 {
		return vcsbackend.CommitResult{}, model.ErrNothingToCommit
	}

	if _, err := a.exec(ctx, "commit", "-m", message); err != nil {
		return vcsbackend.CommitResult{}, err
	}

	id, err := a.CurrentCommitID(ctx)
	if err != nil {
		return vcsbackend.CommitResult{}, err
	}
	return vcsbackend.CommitResult{ID: id, Msg: message}, nil
}

func (a *Adapter) CurrentCommitID(ctx context.Context) (string, error) {
	out, err := a.exec(ctx, "log", "-r", "@", "-n", "1", "--no-graph", "-T", "commit_id")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (a *Adapter) CreateBookmark(ctx context.Context, name string, target string) error {
	if a.bookmarkExists(ctx, name) {
		return model.ErrBookmarkExists
	}
	args := []string{"bookmark", "create", name}
	if target != "" {
		args = append(args, "-r", target)
	}
	_, err := a.exec(ctx, args...)
	return err
}

func (a *Adapter) DeleteBookmark(ctx context.Context, name string) error {
	if !a.bookmarkExists(ctx, name) {
		return model.ErrBookmarkNotFound
	}
	_, err := a.exec(ctx, "bookmark", "delete", name)
	return err
}

func (a *Adapter) ListBookmarks(ctx context.Context, prefix string) ([]vcsbackend.BookmarkInfo, error) {
	out, err := a.exec(ctx, "bookmark", "list")
	if err != nil {
		return nil, err
	}

	var infos []vcsbackend.BookmarkInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		infos = append(infos, vcsbackend.BookmarkInfo{
			Name:   name,
			Target: strings.TrimSpace(parts[1]),
		})
	}
	return infos, nil
}

func (a *Adapter) bookmarkExists(ctx context.Context, name string) bool {
	infos, err := a.ListBookmarks(ctx, "")
	if err != nil {
		return false
	}
	for _, b := range infos {
		if b.Name == name {
			return true
		}
	}
	return false
}

// Checkout returns ErrDirtyWorkingCopy for a dirty working copy. Any failure
// of `jj new` itself, including a target jj cannot resolve, is returned as a
// VcsError wrapping jj's error, not as ErrTargetNotFound.
func (a *Adapter) Checkout(ctx context.Context, target string) error {
	clean, err := a.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		return model.ErrDirtyWorkingCopy
	}
	if _, err := a.exec(ctx, "new", target); err != nil {
		return model.NewVcsError("checkout", err)
	}
	return nil
}

func (a *Adapter) IsClean(ctx context.Context) (bool, error) {
	return vcsbackend.DefaultIsClean(ctx, a)
}
