// Package search finds paths under a root for the files panel's search
// mode. It runs fd or rg through the job runner and falls back to an
// in-process walk when neither is installed.
package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/job"
)

// DefaultMaxResults caps the number of hits.
const DefaultMaxResults = 1000

// ErrEmptyPattern is returned for an empty query.
var ErrEmptyPattern = errors.New("empty search pattern")

// Placeholders substituted in custom Args.
const (
	PatternArg = "{pattern}"
	RootArg    = "{root}"
)

// Config configures a Searcher.
type Config struct {
	// Command is the search tool. Empty selects fd, fdfind or rg in that
	// order, and the built-in walk when none is in PATH.
	Command string
	// Args overrides the tool arguments. {pattern} and {root} are
	// substituted; output lines are paths, absolute or relative to root.
	Args []string
	// Hidden includes dotfiles.
	Hidden     bool
	MaxResults int
	Timeout    time.Duration

	Runner job.Runner
	Logger *zap.Logger
	// LookPath reports whether a tool is installed. Defaults to job.LookPath.
	LookPath func(name string) bool
}

// Searcher runs searches.
type Searcher struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a searcher.
func New(cfg Config) *Searcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Runner == nil {
		cfg.Runner = job.NewExecRunner(job.WithLogger(cfg.Logger))
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.LookPath == nil {
		cfg.LookPath = job.LookPath
	}
	return &Searcher{cfg: cfg, logger: cfg.Logger.Named("search")}
}

// Result is the outcome of a search.
type Result struct {
	// Hits are absolute, cleaned, sorted and unique.
	Hits []string
	// Tool names what produced the hits ("walk" for the fallback).
	Tool string
	// Truncated reports that MaxResults was reached.
	Truncated bool
}

// Search finds paths under root whose base name matches pattern. A pattern
// containing glob metacharacters is matched with filepath.Match; anything
// else is a case-insensitive substring.
func (s *Searcher) Search(ctx context.Context, root, pattern string) (Result, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Result{}, ErrEmptyPattern
	}
	root = filepath.Clean(root)
	m := newMatcher(pattern)

	tool := s.tool()
	if tool == "" {
		return s.walk(ctx, root, m)
	}

	res, err := s.cfg.Runner.Run(ctx, job.Spec{
		Name:    tool,
		Args:    s.args(tool, root, pattern, m.glob),
		Dir:     root,
		Timeout: s.cfg.Timeout,
	})
	var exitErr *job.ExitError
	switch {
	case errors.Is(err, job.ErrNotFound):
		s.logger.Debug("search tool missing, walking", zap.String("tool", tool))
		return s.walk(ctx, root, m)
	case errors.As(err, &exitErr) && exitErr.Code == 1 && len(bytes.TrimSpace(res.Stderr)) == 0:
		// rg reports "nothing found" as status 1.
		return Result{Tool: tool}, nil
	case err != nil:
		return Result{Tool: tool}, fmt.Errorf("search %q: %w", pattern, err)
	}

	// rg --files lists everything; the name match happens here.
	filter := filepath.Base(tool) == "rg" && len(s.cfg.Args) == 0
	return s.collect(root, res.Stdout, tool, func(p string) bool {
		return !filter || m.match(filepath.Base(p))
	}), nil
}

func (s *Searcher) tool() string {
	if s.cfg.Command != "" {
		if len(s.cfg.Args) > 0 || s.cfg.LookPath(s.cfg.Command) {
			return s.cfg.Command
		}
		return ""
	}
	for _, name := range []string{"fd", "fdfind", "rg"} {
		if s.cfg.LookPath(name) {
			return name
		}
	}
	return ""
}

func (s *Searcher) args(tool, root, pattern string, glob bool) []string {
	if len(s.cfg.Args) > 0 {
		out := make([]string, len(s.cfg.Args))
		for i, a := range s.cfg.Args {
			a = strings.ReplaceAll(a, PatternArg, pattern)
			out[i] = strings.ReplaceAll(a, RootArg, root)
		}
		return out
	}
	switch filepath.Base(tool) {
	case "rg":
		args := []string{"--files", "--color", "never"}
		if s.cfg.Hidden {
			args = append(args, "--hidden", "--glob", "!.git")
		}
		return append(args, root)
	default:
		args := []string{"--color", "never", "--absolute-path", "--ignore-case"}
		if s.cfg.Hidden {
			args = append(args, "--hidden", "--exclude", ".git")
		}
		if glob {
			args = append(args, "--glob")
		} else {
			args = append(args, "--fixed-strings")
		}
		args = append(args, "--max-results", fmt.Sprint(s.cfg.MaxResults+1))
		return append(args, "--", pattern, root)
	}
}

func (s *Searcher) collect(root string, out []byte, tool string, keep func(string) bool) Result {
	seen := make(map[string]bool)
	var hits []string
	for _, line := range bytes.Split(out, []byte{'\n'}) {
		p := strings.TrimSpace(string(line))
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		p = filepath.Clean(p)
		if !below(root, p) {
			continue
		}
		if seen[p] || !keep(p) {
			continue
		}
		seen[p] = true
		hits = append(hits, p)
	}
	return s.finish(hits, tool)
}

func (s *Searcher) finish(hits []string, tool string) Result {
	sort.Strings(hits)
	r := Result{Hits: hits, Tool: tool}
	if len(hits) > s.cfg.MaxResults {
		r.Hits = hits[:s.cfg.MaxResults]
		r.Truncated = true
	}
	return r
}

// walk matches names in-process. Directories named .git are skipped, as
// are dot entries unless Hidden is set.
func (s *Searcher) walk(ctx context.Context, root string, m matcher) (Result, error) {
	var (
		mu   sync.Mutex
		hits []string
	)
	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || path == root {
			return nil
		}
		name := d.Name()
		if d.IsDir() && (name == ".git" || !s.cfg.Hidden && strings.HasPrefix(name, ".")) {
			return fs.SkipDir
		}
		if !s.cfg.Hidden && strings.HasPrefix(name, ".") {
			return nil
		}
		if m.match(name) {
			mu.Lock()
			hits = append(hits, filepath.Clean(path))
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return Result{Tool: "walk"}, fmt.Errorf("walk %s: %w", root, err)
	}
	return s.finish(hits, "walk"), nil
}

func below(root, p string) bool {
	if p == root {
		return false
	}
	if root == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

type matcher struct {
	pattern string
	glob    bool
}

func newMatcher(pattern string) matcher {
	if strings.ContainsAny(pattern, "*?[") {
		return matcher{pattern: strings.ToLower(pattern), glob: true}
	}
	return matcher{pattern: strings.ToLower(pattern)}
}

func (m matcher) match(name string) bool {
	name = strings.ToLower(name)
	if m.glob {
		ok, _ := filepath.Match(m.pattern, name)
		return ok
	}
	return strings.Contains(name, m.pattern)
}
