package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/event/topic"
	"github.com/dshills/sidetree/internal/job"
	"github.com/dshills/sidetree/internal/metrics"
)

// Publisher publishes git events.
type Publisher interface {
	Publish(t topic.Topic, payload any)
}

const statusKey = "status"

// Repository is the status cache for one working tree. It is shared by
// every node under Toplevel and safe for concurrent use.
type Repository struct {
	toplevel string
	gitDir   string
	yadm     bool

	runner    job.Runner
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration

	showIgnored bool
	untracked   string

	snap    atomic.Pointer[Snapshot]
	group   singleflight.Group
	mu      sync.Mutex // serializes index-mutating commands
	closed  atomic.Bool
	noStash atomic.Bool
}

// Toplevel returns the working tree root.
func (r *Repository) Toplevel() string { return r.toplevel }

// GitDir returns the metadata directory.
func (r *Repository) GitDir() string {
	if r.gitDir != "" {
		return r.gitDir
	}
	return filepath.Join(r.toplevel, ".git")
}

// IsYadm reports whether the repository is managed through yadm.
func (r *Repository) IsYadm() bool { return r.yadm }

// Contains reports whether path lies in the working tree.
func (r *Repository) Contains(path string) bool {
	return within(r.toplevel, filepath.Clean(path))
}

// Closed reports whether the repository has been swept.
func (r *Repository) Closed() bool { return r.closed.Load() }

// Snapshot returns the current status snapshot, or nil before the first
// successful Status call.
func (r *Repository) Snapshot() *Snapshot { return r.snap.Load() }

// FlagsFor is Snapshot().FlagsFor(path).
func (r *Repository) FlagsFor(path string) Flags { return r.snap.Load().FlagsFor(path) }

// DirFlags is Snapshot().DirFlags(dir).
func (r *Repository) DirFlags(dir string) Flags { return r.snap.Load().DirFlags(dir) }

// Status runs git status, replaces the snapshot and returns it. Concurrent
// callers share one git invocation.
func (r *Repository) Status(ctx context.Context) (*Snapshot, error) {
	return r.status(ctx, "status", nil, false)
}

func (r *Repository) status(ctx context.Context, action string, paths []string, notify bool) (*Snapshot, error) {
	if r.closed.Load() {
		return nil, ErrRepositoryClosed
	}
	v, err, _ := r.group.Do(statusKey, func() (any, error) {
		return r.refresh(ctx, action, paths, notify)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (r *Repository) statusArgs() []string {
	args := []string{"status", "--porcelain=v2", "-z", "--branch"}
	if !r.noStash.Load() {
		args = append(args, "--show-stash")
	}
	args = append(args, "--untracked-files="+r.untracked)
	if r.showIgnored {
		args = append(args, "--ignored=matching")
	}
	return args
}

func (r *Repository) refresh(ctx context.Context, action string, paths []string, notify bool) (*Snapshot, error) {
	start := time.Now()
	out, err := r.run(ctx, r.statusArgs()...)

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "show-stash") {
		// git older than 2.35
		r.noStash.Store(true)
		out, err = r.run(ctx, r.statusArgs()...)
	}
	r.metrics.GitStatus("full", time.Since(start), err)
	if err != nil {
		r.logger.Warn("git status failed", zap.String("toplevel", r.toplevel), zap.Error(err))
		return nil, err
	}

	snap, err := parsePorcelain(r.toplevel, out)
	if err != nil {
		return nil, err
	}
	snap.Taken = time.Now()

	old := r.snap.Swap(snap)
	if notify || !snap.Equal(old) {
		r.publish(action, paths)
	}
	return snap, nil
}

// RefreshPath re-checks a single path without re-scanning the repository
// and returns its flags. Ancestor directory aggregates are widened with the
// result; they are narrowed again by the next full Status.
func (r *Repository) RefreshPath(ctx context.Context, path string) (Flags, error) {
	if r.closed.Load() {
		return Clean, ErrRepositoryClosed
	}
	path = filepath.Clean(path)
	rel, err := r.rel(path)
	if err != nil {
		return Clean, err
	}
	if r.snap.Load() == nil {
		snap, err := r.Status(ctx)
		if err != nil {
			return Clean, err
		}
		return snap.FlagsFor(path), nil
	}

	args := []string{"status", "--porcelain=v2", "-z", "--untracked-files=all"}
	if r.showIgnored {
		args = append(args, "--ignored=matching")
	}
	args = append(args, "--", rel)

	start := time.Now()
	out, err := r.run(ctx, args...)
	r.metrics.GitStatus("path", time.Since(start), err)
	if err != nil {
		return Clean, err
	}
	single, err := parsePorcelain(r.toplevel, out)
	if err != nil {
		return Clean, err
	}
	f := single.FlagsFor(path)

	for {
		cur := r.snap.Load()
		if cur.FlagsFor(path) == f {
			return f, nil
		}
		if r.snap.CompareAndSwap(cur, cur.withPatch(path, f)) {
			break
		}
	}
	r.publish("refresh_path", []string{path})
	return f, nil
}

// Stage adds paths (including deletions) to the index and refreshes status.
func (r *Repository) Stage(ctx context.Context, paths ...string) error {
	return r.mutate(ctx, "stage", paths, func(rels []string) error {
		_, err := r.run(ctx, append([]string{"add", "-A", "--"}, rels...)...)
		return err
	})
}

// StageAll stages every change in the working tree.
func (r *Repository) StageAll(ctx context.Context) error {
	return r.mutate(ctx, "stage", nil, func([]string) error {
		_, err := r.run(ctx, "add", "-A")
		return err
	})
}

// Unstage removes paths from the index, keeping worktree changes.
func (r *Repository) Unstage(ctx context.Context, paths ...string) error {
	return r.mutate(ctx, "unstage", paths, func(rels []string) error {
		_, err := r.run(ctx, append([]string{"reset", "-q", "HEAD", "--"}, rels...)...)
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			// No HEAD yet: nothing to reset to.
			_, err = r.run(ctx, append([]string{"rm", "--cached", "-r", "-q", "--"}, rels...)...)
		}
		return err
	})
}

// Revert restores paths from HEAD, discarding staged and worktree changes.
func (r *Repository) Revert(ctx context.Context, paths ...string) error {
	return r.mutate(ctx, "revert", paths, func(rels []string) error {
		_, err := r.run(ctx, append([]string{"checkout", "-q", "HEAD", "--"}, rels...)...)
		return err
	})
}

// mutate runs op and then a fresh status, so the new snapshot is visible
// when mutate returns.
func (r *Repository) mutate(ctx context.Context, action string, paths []string, op func(rels []string) error) error {
	if r.closed.Load() {
		return ErrRepositoryClosed
	}
	rels := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := r.rel(p)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
	}
	if paths != nil && len(rels) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := op(rels); err != nil {
		r.logger.Warn("git "+action+" failed", zap.Strings("paths", paths), zap.Error(err))
		return fmt.Errorf("%s: %w", action, err)
	}

	r.group.Forget(statusKey)
	if _, err := r.status(ctx, action, paths, true); err != nil {
		return fmt.Errorf("%s: refresh status: %w", action, err)
	}
	return nil
}

func (r *Repository) rel(path string) (string, error) {
	path = filepath.Clean(path)
	if !within(r.toplevel, path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRepository, path)
	}
	rel, err := filepath.Rel(r.toplevel, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (r *Repository) publish(action string, paths []string) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(events.TopicGitStatusChanged, events.GitStatusChanged{
		Toplevel: r.toplevel,
		Action:   action,
		Paths:    paths,
	})
}

func (r *Repository) run(ctx context.Context, args ...string) ([]byte, error) {
	full := args
	if r.gitDir != "" {
		full = append([]string{"--git-dir", r.gitDir, "--work-tree", r.toplevel}, args...)
	}
	res, err := r.runner.Run(ctx, job.Spec{
		Name:    "git",
		Args:    full,
		Dir:     r.toplevel,
		Env:     []string{"GIT_OPTIONAL_LOCKS=0", "LC_ALL=C"},
		Timeout: r.timeout,
	})
	if err != nil {
		r.metrics.JobFailed("git")
		return nil, &CommandError{Args: args, Stderr: string(res.Stderr), Err: err}
	}
	return res.Stdout, nil
}

func (r *Repository) close() {
	r.closed.Store(true)
}
