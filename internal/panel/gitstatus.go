package panel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/tree"
)

// GitStatusConfig configures the git status panel.
type GitStatusConfig struct {
	// Root is a directory inside the repository. Empty uses the host's
	// working directory.
	Root string
	// ShowIgnored lists ignored paths too.
	ShowIgnored bool
	Mappings    map[string]string
}

// DefaultGitStatusMappings are the git status panel key bindings.
var DefaultGitStatusMappings = map[string]string{
	"<CR>":  "open",
	"o":     "open",
	"<Tab>": "toggle",
	"s":     "stage",
	"u":     "unstage",
	"X":     "revert",
	"A":     "stage_all",
	"R":     "refresh",
	"W":     "collapse_all",
	"j":     "cursor_down",
	"k":     "cursor_up",
}

// Placeholder texts.
const (
	textNotRepository = "Not a git repository"
	textGitDisabled   = "Git is disabled"
	textClean         = "Working tree clean"
)

// GitStatus lists the changed paths of one repository as a tree rooted at
// the repository's toplevel.
type GitStatus struct {
	*base
	cfg GitStatusConfig

	rmu  sync.Mutex
	dir  string
	repo *git.Repository
}

// NewGitStatus creates the git status panel.
func NewGitStatus(d Deps, cfg GitStatusConfig) *GitStatus {
	g := &GitStatus{base: newBase("git_status", d), cfg: cfg}
	g.load = g.loadStatus

	g.register("open", g.open)
	g.register("stage", g.withPaths("stage", (*git.Repository).Stage))
	g.register("unstage", g.withPaths("unstage", (*git.Repository).Unstage))
	g.register("revert", g.revert)
	g.register("stage_all", func(ctx context.Context) error {
		repo, err := g.repository()
		if err != nil {
			return err
		}
		return repo.StageAll(ctx)
	})
	g.bind(DefaultGitStatusMappings, cfg.Mappings)
	return g
}

// Open finds the repository and lists its status.
func (g *GitStatus) Open(ctx context.Context) error {
	dir := g.cfg.Root
	if dir == "" && g.d.Host != nil {
		dir = g.d.Host.Cwd()
	}
	if dir == "" {
		return errors.New("git status: no directory")
	}
	g.rmu.Lock()
	g.dir = filepath.Clean(dir)
	g.rmu.Unlock()
	g.setTree(g.newTree(g.dir, nil), false)

	g.subscribe(events.TopicGitStatusChanged, g.onStatusChanged)
	g.subscribe(events.TopicGitDirChanged, g.onGitDirChanged)
	g.subscribe(events.TopicFSChanged, g.onFSChanged)
	g.subscribe(events.TopicBufWritten, g.onBufWritten)

	return g.Refresh(ctx)
}

func (g *GitStatus) newTree(root string, repo *git.Repository) *tree.Tree {
	t := tree.New(g.treeConfig(), root)
	if repo != nil {
		t.SetRepository(t.Root().ID, repo)
	}
	return t
}

// Repository returns the repository shown, or nil.
func (g *GitStatus) Repository() *git.Repository {
	g.rmu.Lock()
	defer g.rmu.Unlock()
	return g.repo
}

func (g *GitStatus) repository() (*git.Repository, error) {
	if repo := g.Repository(); repo != nil {
		return repo, nil
	}
	return nil, errors.New(strings.ToLower(textNotRepository))
}

// SetRoot shows the repository containing dir.
func (g *GitStatus) SetRoot(ctx context.Context, dir string) error {
	g.rmu.Lock()
	g.dir = filepath.Clean(dir)
	g.rmu.Unlock()
	return g.refreshQueued(ctx)
}

// loadStatus discovers the repository of the panel directory, runs
// status and rebuilds the tree.
func (g *GitStatus) loadStatus(ctx context.Context) error {
	g.rmu.Lock()
	dir, cur := g.dir, g.repo
	g.rmu.Unlock()

	var repo *git.Repository
	if g.d.Repos != nil {
		var err error
		if repo, err = g.d.Repos.Discover(ctx, dir); err != nil {
			return err
		}
	}
	if repo != cur || g.Tree().RootPath() != rootFor(dir, repo) {
		g.rmu.Lock()
		g.repo = repo
		g.rmu.Unlock()
		g.setTree(g.newTree(rootFor(dir, repo), repo), false)
		if repo != nil {
			g.logger.Debug("repository shown", logging.Path(repo.Toplevel()))
		}
	}
	if repo != nil {
		if _, err := repo.Status(ctx); err != nil {
			return err
		}
	}
	g.rebuild()
	return nil
}

func rootFor(dir string, repo *git.Repository) string {
	if repo == nil {
		return dir
	}
	return repo.Toplevel()
}

// rebuild replaces the tree contents with the repository's current
// snapshot. Nodes whose path survives keep their expansion.
func (g *GitStatus) rebuild() {
	t := g.Tree()
	repo := g.Repository()
	root := t.RootPath()

	var items []tree.Item
	switch {
	case g.d.Repos == nil:
		items = []tree.Item{placeholder(root, textGitDisabled)}
	case repo == nil:
		items = []tree.Item{placeholder(root, textNotRepository)}
	default:
		for _, e := range repo.Snapshot().Entries(g.cfg.ShowIgnored) {
			items = append(items, tree.Item{
				Path:    e.Path,
				Kind:    tree.KindGitStatus,
				Payload: tree.GitInfo{Dir: e.IsDir},
			})
		}
		if len(items) == 0 {
			items = []tree.Item{placeholder(root, textClean)}
		}
	}
	t.SetSparse(items, true)
}

// placeholder is a text line under root.
func placeholder(root, text string) tree.Item {
	return tree.Item{
		Path:    filepath.Join(root, "["+text+"]"),
		Name:    text,
		Kind:    tree.KindPlaceholder,
		Payload: tree.PlaceholderInfo{Text: text},
	}
}

func (g *GitStatus) shows(toplevel string) bool {
	repo := g.Repository()
	return repo != nil && repo.Toplevel() == toplevel
}

// onStatusChanged rebuilds from the new snapshot without running git.
func (g *GitStatus) onStatusChanged(ev event.Event) {
	ch, ok := ev.Payload.(events.GitStatusChanged)
	if !ok || !g.shows(ch.Toplevel) {
		return
	}
	g.rebuild()
	g.Redraw()
}

func (g *GitStatus) onGitDirChanged(ev event.Event) {
	if ch, ok := ev.Payload.(events.GitDirChanged); ok && g.shows(ch.Toplevel) {
		g.statusAsync("git.dir.changed")
	}
}

func (g *GitStatus) onFSChanged(ev event.Event) {
	ch, ok := ev.Payload.(events.FSChanged)
	if !ok {
		return
	}
	if repo := g.Repository(); repo != nil && repo.Contains(ch.Dir) {
		g.statusAsync("fs.changed")
	}
}

// onBufWritten patches the written file's flags.
func (g *GitStatus) onBufWritten(ev event.Event) {
	buf, ok := ev.Payload.(events.Buffer)
	if !ok || buf.Path == "" {
		return
	}
	repo := g.Repository()
	if repo == nil || !repo.Contains(buf.Path) {
		return
	}
	g.spawn(func(ctx context.Context) {
		if _, err := repo.RefreshPath(ctx, buf.Path); err != nil {
			g.logger.Warn("refresh path failed", logging.Path(buf.Path), zap.Error(err))
		}
	})
}

// statusAsync re-runs status behind the busy guard. A changed snapshot
// comes back through git.status.changed.
func (g *GitStatus) statusAsync(op string) {
	repo := g.Repository()
	g.spawn(func(ctx context.Context) {
		err := g.guard(op, func() error {
			_, err := repo.Status(ctx)
			return err
		})
		switch {
		case err == nil:
			g.setState(StateScanned)
		case !errors.Is(err, ErrBusy):
			g.logger.Warn("git status failed", zap.String("op", op), zap.Error(err))
		}
	})
}

func (g *GitStatus) selected() (*tree.Node, *git.Repository, error) {
	repo, err := g.repository()
	if err != nil {
		return nil, nil, err
	}
	n, err := g.cursorNode()
	if err != nil {
		return nil, nil, err
	}
	if n.Kind == tree.KindPlaceholder {
		return nil, nil, ErrNoSelection
	}
	return n, repo, nil
}

func (g *GitStatus) withPaths(name string, op func(*git.Repository, context.Context, ...string) error) Action {
	return func(ctx context.Context) error {
		n, repo, err := g.selected()
		if err != nil {
			return err
		}
		if err := op(repo, ctx, n.Path); err != nil {
			return err
		}
		g.logger.Info("git "+name, logging.Path(n.Path))
		return nil
	}
}

func (g *GitStatus) revert(ctx context.Context) error {
	n, repo, err := g.selected()
	if err != nil {
		return err
	}
	if g.d.Host == nil || !g.d.Host.Confirm(ctx, fmt.Sprintf("Discard changes to %s?", n.Path)) {
		return ErrCancelled
	}
	return repo.Revert(ctx, n.Path)
}

func (g *GitStatus) open(ctx context.Context) error {
	n, err := g.cursorNode()
	if err != nil {
		return err
	}
	switch {
	case n.Kind == tree.KindPlaceholder:
		return nil
	case n.IsContainer():
		return g.toggle(ctx)
	}
	if g.d.FS != nil && !g.d.FS.Exists(n.Path) {
		g.notify(host.LevelWarn, "%s was deleted", n.Path)
		return nil
	}
	return g.openFile(n.Path, host.Position{})
}
