package panel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/render"
	"github.com/dshills/sidetree/internal/search"
	"github.com/dshills/sidetree/internal/tree"
)

// FilesConfig configures the files panel.
type FilesConfig struct {
	// Root is the initial root. Empty uses the host's working directory.
	Root string
	// Follow reveals the current buffer's file on Follow calls.
	Follow   bool
	Searcher *search.Searcher
	Mappings map[string]string
}

// DefaultFilesMappings are the files panel key bindings.
var DefaultFilesMappings = map[string]string{
	"<CR>":  "open",
	"o":     "open",
	"<Tab>": "toggle",
	"l":     "expand",
	"h":     "collapse",
	"W":     "collapse_all",
	"R":     "refresh",
	"a":     "add",
	"d":     "delete",
	"r":     "rename",
	"c":     "copy",
	"x":     "cut",
	"p":     "paste",
	"f":     "search",
	"F":     "clear_search",
	"H":     "toggle_dotfiles",
	"C":     "cd",
	"-":     "parent",
	"j":     "cursor_down",
	"k":     "cursor_up",
	"g":     "cursor_top",
	"G":     "cursor_bottom",
}

// Files is the filesystem panel. It has two modes: the files tree, and an
// ephemeral search tree that replaces the view until the search is cleared.
// The files tree stays loaded, and keeps receiving updates, while a search
// is shown.
type Files struct {
	*base
	cfg  FilesConfig
	clip clipboard

	smu         sync.Mutex
	files       *tree.Tree
	searching   bool
	query       string
	filesCursor string
	reveal      string
}

// NewFiles creates the files panel. Mapping errors are logged and the
// offending mappings dropped.
func NewFiles(d Deps, cfg FilesConfig) *Files {
	f := &Files{base: newBase("files", d), cfg: cfg}
	f.load = f.loadFiles
	f.setEnv(render.Env{Diagnostics: d.Diagnostics, Mark: f.clip.mark})

	f.register("open", f.open)
	f.register("add", f.add)
	f.register("delete", f.remove)
	f.register("rename", f.rename)
	f.register("copy", func(context.Context) error { return f.mark(false) })
	f.register("cut", func(context.Context) error { return f.mark(true) })
	f.register("paste", f.paste)
	f.register("clear_clipboard", func(context.Context) error { f.clip.clear(); f.Redraw(); return nil })
	f.register("search", f.promptSearch)
	f.register("clear_search", func(context.Context) error { f.ClearSearch(); return nil })
	f.register("toggle_dotfiles", f.toggleDotfiles)
	f.register("cd", f.cd)
	f.register("parent", func(ctx context.Context) error {
		return f.SetRoot(ctx, filepath.Dir(f.filesTree().RootPath()))
	})
	f.bind(DefaultFilesMappings, cfg.Mappings)
	return f
}

// Open creates the tree at the configured root, subscribes to changes and
// runs the first scan.
func (f *Files) Open(ctx context.Context) error {
	root := f.cfg.Root
	if root == "" && f.d.Host != nil {
		root = f.d.Host.Cwd()
	}
	if root == "" {
		return errors.New("files: no root directory")
	}
	cfg := f.treeConfig()
	cfg.FS = f.d.FS
	cfg.Watches = f.d.Watches
	if f.d.Repos != nil {
		cfg.Repos = f.d.Repos
	}
	t := tree.New(cfg, root)
	f.smu.Lock()
	f.files = t
	f.smu.Unlock()
	f.setTree(t, false)

	f.subscribe(events.TopicFSChanged, f.onFSChanged)
	f.subscribe(events.TopicGitDirChanged, f.onGitDirChanged)
	f.subscribe(events.TopicGitStatusChanged, f.onGitStatusChanged)
	f.subscribe(events.TopicDiagnosticsChanged, func(event.Event) { f.Redraw() })

	return f.Refresh(ctx)
}

func (f *Files) filesTree() *tree.Tree {
	f.smu.Lock()
	defer f.smu.Unlock()
	return f.files
}

// loadFiles scans the root on first use and afterwards refreshes every
// expanded directory with git status.
func (f *Files) loadFiles(ctx context.Context) error {
	t := f.filesTree()
	root := t.Root()
	if root.Scanned {
		return t.Refresh(ctx, root.ID, tree.RefreshOptions{Recursive: true, GitStatus: true})
	}
	if err := t.Expand(ctx, root.ID, tree.ExpandOptions{}); err != nil {
		return err
	}
	f.statusAll(ctx, t)
	return nil
}

func (f *Files) statusAll(ctx context.Context, t *tree.Tree) {
	if f.d.Repos == nil {
		return
	}
	for _, top := range t.Repositories() {
		repo := f.d.Repos.Lookup(top)
		if repo == nil {
			continue
		}
		if _, err := repo.Status(ctx); err != nil {
			f.logger.Warn("git status failed", logging.Path(top), zap.Error(err))
		}
	}
}

// onFSChanged re-scans the changed directory when it is loaded, and then
// reveals a path created by a file action.
func (f *Files) onFSChanged(ev event.Event) {
	ch, ok := ev.Payload.(events.FSChanged)
	if !ok {
		return
	}
	t := f.filesTree()
	id, ok := t.NodeID(ch.Dir)
	loaded := false
	if ok {
		n := t.Node(id)
		loaded = n != nil && n.Scanned
	}
	if !loaded && !f.revealing() {
		return
	}
	f.spawn(func(ctx context.Context) {
		if loaded {
			err := f.guard("fs.changed", func() error {
				return t.Refresh(ctx, id, tree.RefreshOptions{GitStatus: true})
			})
			if err != nil {
				if !errors.Is(err, ErrBusy) {
					f.logger.Warn("refresh after change failed", logging.Path(ch.Dir), zap.Error(err))
				}
				return
			}
			f.setState(StateScanned)
		}
		f.revealPending(ctx)
		f.Redraw()
	})
}

func (f *Files) revealing() bool {
	f.smu.Lock()
	defer f.smu.Unlock()
	return f.reveal != ""
}

// revealPending expands to and selects a path created by a file action.
func (f *Files) revealPending(ctx context.Context) {
	f.smu.Lock()
	path := f.reveal
	f.reveal = ""
	searching := f.searching
	f.smu.Unlock()
	if path == "" || searching {
		return
	}
	if n := f.filesTree().ExpandTo(ctx, path); n != nil {
		f.mu.Lock()
		f.cursor = n.Path
		f.mu.Unlock()
	}
}

func (f *Files) usesRepo(toplevel string) bool {
	return slices.Contains(f.filesTree().Repositories(), toplevel)
}

func (f *Files) onGitDirChanged(ev event.Event) {
	ch, ok := ev.Payload.(events.GitDirChanged)
	if !ok || f.d.Repos == nil || !f.usesRepo(ch.Toplevel) {
		return
	}
	repo := f.d.Repos.Lookup(ch.Toplevel)
	if repo == nil {
		return
	}
	f.spawn(func(ctx context.Context) {
		if _, err := repo.Status(ctx); err != nil {
			f.logger.Warn("git status failed", logging.Path(ch.Toplevel), zap.Error(err))
		}
	})
}

func (f *Files) onGitStatusChanged(ev event.Event) {
	if ch, ok := ev.Payload.(events.GitStatusChanged); ok && f.usesRepo(ch.Toplevel) {
		f.Redraw()
	}
}

// Paths returns the files root and the repositories of both trees.
func (f *Files) Paths() []string {
	paths := f.base.Paths()
	if ft := f.filesTree(); ft != nil && ft != f.Tree() {
		paths = append(paths, ft.RootPath())
		paths = append(paths, ft.Repositories()...)
	}
	return paths
}

// Delete releases the files tree as well as a shown search tree.
func (f *Files) Delete() {
	shown := f.Tree()
	f.base.Delete()
	if ft := f.filesTree(); ft != nil && ft != shown {
		ft.Close()
	}
}

// SetRoot moves the files tree to dir, keeping loaded state when dir is an
// ancestor or descendant of the current root. A running search is cleared.
func (f *Files) SetRoot(ctx context.Context, dir string) error {
	dir = filepath.Clean(dir)
	if f.d.FS != nil && !f.d.FS.IsDir(dir) {
		return fmt.Errorf("files: %s is not a directory", dir)
	}
	f.ClearSearch()
	t := f.filesTree()
	if err := t.Reroot(ctx, dir); err != nil {
		return err
	}
	f.logger.Debug("root changed", logging.Path(dir))
	return f.refreshQueued(ctx)
}

// Follow reveals path in the files tree and moves the cursor to it. It
// does nothing while a search is shown, when following is disabled, or
// when path lies outside the root.
func (f *Files) Follow(ctx context.Context, path string) {
	if f.cfg.Follow {
		f.Reveal(ctx, path)
	}
}

// Reveal expands the directories above path and moves the cursor to it,
// or to its deepest existing ancestor when path is not on disk yet. It
// reports whether path lies below the root.
func (f *Files) Reveal(ctx context.Context, path string) bool {
	if path == "" || f.Searching() {
		return false
	}
	n := f.filesTree().ExpandTo(ctx, path)
	if n == nil {
		return false
	}
	f.SetCursor(n.Path)
	return true
}

// Searching reports whether the search tree is shown.
func (f *Files) Searching() bool {
	f.smu.Lock()
	defer f.smu.Unlock()
	return f.searching
}

// Query returns the pattern of the shown search.
func (f *Files) Query() string {
	f.smu.Lock()
	defer f.smu.Unlock()
	return f.query
}

// Search replaces the view with a tree of the paths matching pattern
// under the files root.
func (f *Files) Search(ctx context.Context, pattern string) error {
	if f.cfg.Searcher == nil {
		return errors.New("search is not configured")
	}
	ft := f.filesTree()
	root := ft.Root()
	res, err := f.cfg.Searcher.Search(ctx, root.Path, pattern)
	if err != nil {
		return err
	}

	cfg := f.treeConfig()
	cfg.Name = "search"
	cfg.FS = f.d.FS
	st := tree.BuildSearchTree(cfg, root.Path, res.Hits)
	if root.Repo != nil {
		st.SetRepository(st.Root().ID, root.Repo)
	}

	f.smu.Lock()
	if !f.searching {
		f.filesCursor = f.Cursor()
	}
	f.searching = true
	f.query = pattern
	f.smu.Unlock()

	f.setTree(st, f.Tree() == ft)
	f.logger.Debug("search shown",
		zap.String("pattern", pattern),
		zap.String("tool", res.Tool),
		zap.Int("hits", len(res.Hits)))
	if res.Truncated {
		f.notify(host.LevelWarn, "search: showing the first %d results", len(res.Hits))
	}
	if len(res.Hits) == 0 {
		f.notify(host.LevelInfo, "search: no match for %q", pattern)
		f.SetCursor(root.Path)
		return nil
	}
	f.SetCursor(res.Hits[0])
	return nil
}

// ClearSearch restores the files tree and its cursor.
func (f *Files) ClearSearch() {
	f.smu.Lock()
	if !f.searching {
		f.smu.Unlock()
		return
	}
	f.searching = false
	f.query = ""
	ft, cursor := f.files, f.filesCursor
	f.smu.Unlock()

	f.setTree(ft, false)
	f.SetCursor(cursor)
}

// targetDir is the directory a new entry goes into for the node n.
func targetDir(n *tree.Node) string {
	if n.IsDir() {
		return n.Path
	}
	return filepath.Dir(n.Path)
}

// changed announces a mutation of dir made by a file action.
func (f *Files) changed(dir string, names ...string) {
	if f.d.Bus == nil {
		return
	}
	sort.Strings(names)
	f.d.Bus.Publish(events.TopicFSChanged, events.FSChanged{
		Dir:         dir,
		Names:       slices.Compact(names),
		Synthesized: true,
	})
}

func (f *Files) setReveal(path string) {
	f.smu.Lock()
	f.reveal = path
	f.smu.Unlock()
}

func (f *Files) open(ctx context.Context) error {
	n, err := f.cursorNode()
	if err != nil {
		return err
	}
	if n.IsContainer() {
		return f.toggle(ctx)
	}
	return f.openFile(n.Path, host.Position{})
}

func (f *Files) prompt(ctx context.Context, msg, def string) (string, error) {
	if f.d.Host == nil {
		return "", ErrCancelled
	}
	answer, ok := f.d.Host.Prompt(ctx, msg, def)
	answer = strings.TrimSpace(answer)
	if !ok || answer == "" {
		return "", ErrCancelled
	}
	return answer, nil
}

// add creates a file, or a directory when the name ends in a slash, next
// to the cursor. Missing parent directories are created.
func (f *Files) add(ctx context.Context) error {
	n, err := f.cursorNode()
	if err != nil {
		return err
	}
	dir := targetDir(n)
	name, err := f.prompt(ctx, "Create (end with / for a directory): "+dir+string(filepath.Separator), "")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if !within(dir, path) || path == dir {
		return fmt.Errorf("%s is outside %s", name, dir)
	}
	if f.d.FS.Exists(path) {
		return fmt.Errorf("%s already exists", path)
	}
	if strings.HasSuffix(name, "/") {
		err = f.d.FS.CreateDir(path)
	} else {
		err = f.d.FS.CreateFile(path)
	}
	if err != nil {
		return err
	}
	f.logger.Info("created", logging.Path(path))
	f.setReveal(path)
	f.changed(dir, firstComponent(dir, path))
	return nil
}

func (f *Files) remove(ctx context.Context) error {
	n, err := f.cursorNode()
	if err != nil {
		return err
	}
	if n.Parent == 0 {
		return errors.New("cannot delete the root")
	}
	if f.d.Host == nil || !f.d.Host.Confirm(ctx, fmt.Sprintf("Delete %s?", n.Path)) {
		return ErrCancelled
	}
	if n.Kind == tree.KindDirectory {
		err = f.d.FS.RemoveDir(n.Path)
	} else {
		err = f.d.FS.RemoveFile(n.Path)
	}
	if err != nil {
		return err
	}
	f.logger.Info("deleted", logging.Path(n.Path))
	f.clip.drop(n.Path)
	f.changed(filepath.Dir(n.Path), n.Name)
	return nil
}

// rename moves the node under the cursor. A relative answer is taken
// relative to the node's directory.
func (f *Files) rename(ctx context.Context) error {
	n, err := f.cursorNode()
	if err != nil {
		return err
	}
	if n.Parent == 0 {
		return errors.New("cannot rename the root")
	}
	answer, err := f.prompt(ctx, "Rename to: ", n.Path)
	if err != nil {
		return err
	}
	dst := answer
	if !filepath.IsAbs(dst) {
		dst = filepath.Join(filepath.Dir(n.Path), dst)
	}
	dst = filepath.Clean(dst)
	if dst == n.Path {
		return nil
	}
	if within(n.Path, dst) {
		return fmt.Errorf("cannot move %s into itself", n.Path)
	}
	if f.d.FS.Exists(dst) {
		return fmt.Errorf("%s already exists", dst)
	}
	if err := f.d.FS.Rename(n.Path, dst); err != nil {
		return err
	}
	f.logger.Info("renamed", logging.Path(n.Path), zap.String("to", dst))
	f.clip.drop(n.Path)
	f.setReveal(dst)
	oldDir, newDir := filepath.Dir(n.Path), filepath.Dir(dst)
	f.changed(oldDir, n.Name)
	if newDir != oldDir {
		f.changed(newDir, filepath.Base(dst))
	}
	return nil
}

func (f *Files) mark(cut bool) error {
	n, err := f.cursorNode()
	if err != nil {
		return err
	}
	if n.Parent == 0 {
		return nil
	}
	f.clip.toggle(n.Path, cut)
	f.Redraw()
	return nil
}

// paste copies or moves the clipboard into the directory at the cursor.
// A name clash asks for a new name; declining skips that entry.
func (f *Files) paste(ctx context.Context) error {
	n, err := f.cursorNode()
	if err != nil {
		return err
	}
	paths, cut := f.clip.contents()
	if len(paths) == 0 {
		f.notify(host.LevelInfo, "clipboard is empty")
		return nil
	}
	dest := targetDir(n)

	var errs []error
	touched := map[string][]string{}
	for _, src := range paths {
		if within(src, dest) {
			errs = append(errs, fmt.Errorf("cannot paste %s into itself", src))
			continue
		}
		dst := filepath.Join(dest, filepath.Base(src))
		if f.d.FS.Exists(dst) {
			name, err := f.prompt(ctx, fmt.Sprintf("%s exists, new name: ", dst), filepath.Base(src))
			if err != nil {
				continue
			}
			dst = filepath.Join(dest, name)
			if f.d.FS.Exists(dst) {
				errs = append(errs, fmt.Errorf("%s already exists", dst))
				continue
			}
		}

		switch {
		case cut:
			err = f.d.FS.Rename(src, dst)
		case f.d.FS.IsDir(src):
			err = f.d.FS.CopyDir(src, dst)
		default:
			err = f.d.FS.CopyFile(src, dst)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		touched[dest] = append(touched[dest], filepath.Base(dst))
		if cut {
			touched[filepath.Dir(src)] = append(touched[filepath.Dir(src)], filepath.Base(src))
		}
	}
	if cut {
		f.clip.clear()
	}

	dirs := make([]string, 0, len(touched))
	for dir := range touched {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		f.changed(dir, touched[dir]...)
	}
	f.Redraw()
	return errors.Join(errs...)
}

func (f *Files) promptSearch(ctx context.Context) error {
	pattern, err := f.prompt(ctx, "Search: ", f.Query())
	if err != nil {
		return err
	}
	return f.Search(ctx, pattern)
}

func (f *Files) toggleDotfiles(context.Context) error {
	t := f.filesTree()
	next := tree.Filter{}
	if f.d.Filter != nil {
		next = *f.d.Filter
	}
	f.smu.Lock()
	next.HideDotfiles = !f.hideDotfilesLocked()
	f.d.Filter = &next
	f.smu.Unlock()
	t.SetFilter(&next)
	f.Redraw()
	return nil
}

func (f *Files) hideDotfilesLocked() bool {
	return f.d.Filter != nil && f.d.Filter.HideDotfiles
}

// cd makes the directory under the cursor the root.
func (f *Files) cd(ctx context.Context) error {
	n, err := f.cursorNode()
	if err != nil {
		return err
	}
	if !n.IsDir() {
		return nil
	}
	return f.SetRoot(ctx, n.Path)
}

// firstComponent returns the first path element of path below dir.
func firstComponent(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.Base(path)
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// clipboard holds paths marked for copy or cut.
type clipboard struct {
	mu    sync.Mutex
	paths map[string]bool
	cut   bool
}

// toggle marks or unmarks path. Marking in the other mode starts over.
func (c *clipboard) toggle(path string, cut bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paths == nil || c.cut != cut {
		c.paths = make(map[string]bool)
		c.cut = cut
	}
	if c.paths[path] {
		delete(c.paths, path)
		return
	}
	c.paths[path] = true
}

func (c *clipboard) drop(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := range c.paths {
		if within(path, p) {
			delete(c.paths, p)
		}
	}
}

func (c *clipboard) clear() {
	c.mu.Lock()
	c.paths = nil
	c.mu.Unlock()
}

func (c *clipboard) contents() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.paths))
	for p := range c.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, c.cut
}

// mark is the render marker for path: "C" for copy, "X" for cut.
func (c *clipboard) mark(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paths[path] {
		return ""
	}
	if c.cut {
		return "X"
	}
	return "C"
}
