package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/job"
	"github.com/dshills/sidetree/internal/metrics"
)

// Config configures a Manager.
type Config struct {
	Runner    job.Runner
	Publisher Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// ShowIgnored adds ignored entries to status snapshots.
	ShowIgnored bool
	// Untracked is passed as --untracked-files (default "normal").
	Untracked string
	// Timeout bounds each git invocation.
	Timeout time.Duration

	// Yadm enables discovery of a yadm-managed home repository for paths
	// under Home that are not inside a regular repository.
	Yadm bool
	Home string

	// OnOpen and OnClose run outside the manager lock when a repository
	// is created or swept.
	OnOpen  func(*Repository)
	OnClose func(*Repository)
}

// Manager owns one Repository per toplevel.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	repos    map[string]*Repository
	dirCache map[string]string // directory -> toplevel, "" outside any repository
	closed   atomic.Bool
}

// NewManager creates a manager. A nil Runner uses job.NewExecRunner.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Runner == nil {
		cfg.Runner = job.NewExecRunner(job.WithLogger(cfg.Logger))
	}
	if cfg.Untracked == "" {
		cfg.Untracked = "normal"
	}
	if cfg.Home == "" {
		cfg.Home, _ = os.UserHomeDir()
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.Named("git"),
		repos:    make(map[string]*Repository),
		dirCache: make(map[string]string),
	}
}

// Discover returns the repository containing path, creating it on first
// use. It returns nil, nil when path is not inside a working tree. Every
// path under the same toplevel yields the same *Repository. A miss is
// remembered until the next Sweep or until the directory gains a .git
// entry.
func (m *Manager) Discover(ctx context.Context, path string) (*Repository, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := path
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		dir = filepath.Dir(path)
	}

	m.mu.RLock()
	top, cached := m.dirCache[dir]
	known := m.repos[top]
	m.mu.RUnlock()
	switch {
	case cached && known != nil:
		return known, nil
	case cached && top == "" && !hasDotGit(dir):
		return nil, nil
	}

	toplevel, gitDir, err := m.toplevel(ctx, dir)
	if err != nil {
		return nil, err
	}
	if toplevel == "" {
		m.mu.Lock()
		m.dirCache[dir] = ""
		m.mu.Unlock()
		return nil, nil
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	repo, existed := m.repos[toplevel]
	if !existed {
		repo = m.newRepository(toplevel, gitDir)
		m.repos[toplevel] = repo
	}
	m.dirCache[dir] = toplevel
	count := len(m.repos)
	m.mu.Unlock()

	if !existed {
		m.logger.Debug("repository opened", zap.String("toplevel", toplevel), zap.Bool("yadm", repo.yadm))
		m.cfg.Metrics.GitRepositories(count)
		if m.cfg.OnOpen != nil {
			m.cfg.OnOpen(repo)
		}
	}
	return repo, nil
}

func (m *Manager) newRepository(toplevel, gitDir string) *Repository {
	untracked := m.cfg.Untracked
	if gitDir != "" {
		// A yadm work tree is the whole home directory.
		untracked = "no"
	}
	return &Repository{
		toplevel:    toplevel,
		gitDir:      gitDir,
		yadm:        gitDir != "",
		runner:      m.cfg.Runner,
		publisher:   m.cfg.Publisher,
		logger:      m.logger.With(zap.String("toplevel", toplevel)),
		metrics:     m.cfg.Metrics,
		timeout:     m.cfg.Timeout,
		showIgnored: m.cfg.ShowIgnored,
		untracked:   untracked,
	}
}

func hasDotGit(dir string) bool {
	_, err := os.Lstat(filepath.Join(dir, ".git"))
	return err == nil
}

// toplevel finds the working tree root above dir. gitDir is set only for
// yadm repositories.
func (m *Manager) toplevel(ctx context.Context, dir string) (toplevel, gitDir string, err error) {
	r, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	switch {
	case errors.Is(err, gogit.ErrRepositoryNotExists):
		return m.yadmToplevel(ctx, dir)
	case err != nil:
		return "", "", fmt.Errorf("open repository %s: %w", dir, err)
	}

	wt, err := r.Worktree()
	if errors.Is(err, gogit.ErrIsBareRepository) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("worktree %s: %w", dir, err)
	}
	return filepath.Clean(wt.Filesystem.Root()), "", nil
}

func (m *Manager) yadmToplevel(ctx context.Context, dir string) (string, string, error) {
	if !m.cfg.Yadm || m.cfg.Home == "" || !within(filepath.Clean(m.cfg.Home), dir) {
		return "", "", nil
	}
	res, err := m.cfg.Runner.Run(ctx, job.Spec{
		Name: "yadm",
		Args: []string{"rev-parse", "--show-toplevel", "--absolute-git-dir"},
		Dir:  dir,
	})
	if err != nil {
		m.logger.Debug("yadm discovery failed", zap.String("dir", dir), zap.Error(err))
		return "", "", nil
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(res.Stdout))
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return "", "", nil
	}
	top := filepath.Clean(lines[0])
	if !within(top, dir) {
		return "", "", nil
	}
	return top, filepath.Clean(lines[1]), nil
}

// Lookup returns the already-open repository with the deepest toplevel
// containing path, without running discovery.
func (m *Manager) Lookup(path string) *Repository {
	path = filepath.Clean(path)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Repository
	for top, repo := range m.repos {
		if within(top, path) && (best == nil || len(top) > len(best.toplevel)) {
			best = repo
		}
	}
	return best
}

// Repositories returns the open repositories sorted by toplevel.
func (m *Manager) Repositories() []*Repository {
	m.mu.RLock()
	out := make([]*Repository, 0, len(m.repos))
	for _, repo := range m.repos {
		out = append(out, repo)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].toplevel < out[j].toplevel })
	return out
}

// Sweep closes every repository whose working tree contains none of the
// referenced paths and returns the closed toplevels. Callers pass the
// paths of every node still held by any panel.
func (m *Manager) Sweep(referenced []string) []string {
	m.mu.Lock()
	var dropped []*Repository
	for top, repo := range m.repos {
		keep := false
		for _, p := range referenced {
			if within(top, filepath.Clean(p)) {
				keep = true
				break
			}
		}
		if keep {
			continue
		}
		dropped = append(dropped, repo)
		delete(m.repos, top)
	}
	for dir, top := range m.dirCache {
		if m.repos[top] == nil {
			delete(m.dirCache, dir)
		}
	}
	count := len(m.repos)
	m.mu.Unlock()

	if len(dropped) == 0 {
		return nil
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].toplevel < dropped[j].toplevel })
	tops := make([]string, len(dropped))
	for i, repo := range dropped {
		repo.close()
		tops[i] = repo.toplevel
		if m.cfg.OnClose != nil {
			m.cfg.OnClose(repo)
		}
	}
	m.cfg.Metrics.GitRepositories(count)
	m.logger.Debug("repositories swept", zap.Strings("toplevels", tops))
	return tops
}

// Poll refreshes every open repository each interval until ctx is done.
func (m *Manager) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, repo := range m.Repositories() {
				if _, err := repo.Status(ctx); err != nil && ctx.Err() == nil {
					m.logger.Debug("poll status failed", zap.String("toplevel", repo.toplevel), zap.Error(err))
				}
			}
		}
	}
}

// Close closes every repository. Further Discover calls fail.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.Sweep(nil)
	return nil
}
