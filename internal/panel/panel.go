// Package panel implements the tree controllers shown in the sidebar: the
// files panel (with its search mode), git status, open buffers, document
// symbols and the call hierarchy.
//
// Every controller owns one tree.Tree, listens on the event bus for the
// changes that concern it and redraws through host.View while visible.
// Refreshes run on their own goroutine behind an atomic busy flag; a
// refresh that arrives while one is running is skipped, counted and
// logged, and the panel is marked stale until the next one completes.
package panel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/topic"
	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/lsp"
	"github.com/dshills/sidetree/internal/metrics"
	"github.com/dshills/sidetree/internal/render"
	"github.com/dshills/sidetree/internal/tree"
	"github.com/dshills/sidetree/internal/vfs"
)

// State is a panel's lifecycle state.
type State int32

// Panel states. A panel moves from Uninitialized to RootCreated when its
// tree exists, to Scanned after the first successful refresh, between
// Scanned and Stale as refreshes are skipped and completed, and finally
// to Deleted.
const (
	StateUninitialized State = iota
	StateRootCreated
	StateScanned
	StateStale
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRootCreated:
		return "root-created"
	case StateScanned:
		return "scanned"
	case StateStale:
		return "stale"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Errors returned by panels.
var (
	ErrBusy          = errors.New("refresh already running")
	ErrDeleted       = errors.New("panel deleted")
	ErrUnknownAction = errors.New("unknown action")
	ErrNoSelection   = errors.New("no node under cursor")
	ErrCancelled     = errors.New("cancelled")
)

// StyledView is implemented by views that draw highlighted segments
// instead of plain text.
type StyledView interface {
	DrawStyled(panelID string, lines []render.Line, cursor int)
}

// Deps are the collaborators shared by every panel of a sidebar.
type Deps struct {
	Host    host.Host
	View    host.View
	Bus     *event.Bus
	FS      vfs.Accessor
	Watches tree.Watches
	Repos   *git.Manager
	LSP     lsp.Provider
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	Sort   tree.SortOptions
	Filter *tree.Filter

	Render      render.Config
	Theme       render.Theme
	Width       int
	Diagnostics render.Diagnostics
}

// Action is a named panel operation.
type Action func(ctx context.Context) error

// Panel is the interface the sidebar drives.
type Panel interface {
	ID() string
	Name() string
	State() State
	Tree() *tree.Tree

	// Open creates the tree and runs the first refresh.
	Open(ctx context.Context) error
	// Refresh re-reads the panel's source. It returns ErrBusy when a
	// refresh is already running.
	Refresh(ctx context.Context) error
	Redraw()
	SetVisible(v bool)
	Visible() bool
	SetWidth(w int)

	Cursor() string
	SetCursor(path string)
	MoveCursor(delta int)

	Do(ctx context.Context, action string) error
	Key(ctx context.Context, key string) error
	Actions() []string

	// Paths returns the paths the panel still references, for the
	// repository sweep.
	Paths() []string
	Delete()
	// Wait blocks until background work started so far has finished.
	Wait()
}

// base carries what every controller shares. Concrete panels embed it and
// set load to their refresh body.
type base struct {
	id     string
	name   string
	d      Deps
	logger *zap.Logger
	load   func(ctx context.Context) error

	actions map[string]Action
	keys    map[string]string

	state   atomic.Int32
	busy    atomic.Bool
	again   atomic.Bool // refresh once more when the guarded call returns
	visible atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	tree      *tree.Tree
	pipeline  *render.Pipeline
	cursor    string
	cursorIdx int
}

func newBase(name string, d Deps) *base {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	id := name + "-" + uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(context.Background())
	b := &base{
		id:      id,
		name:    name,
		d:       d,
		logger:  d.Logger.Named("panel").With(logging.Panel(id)),
		actions: make(map[string]Action),
		keys:    make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
	b.pipeline = render.New(d.Render,
		render.WithWidth(d.Width),
		render.WithTheme(d.Theme),
		render.WithEnv(render.Env{Diagnostics: d.Diagnostics}),
		render.WithLogger(b.logger),
	)
	b.register("cursor_down", func(context.Context) error { b.MoveCursor(1); return nil })
	b.register("cursor_up", func(context.Context) error { b.MoveCursor(-1); return nil })
	b.register("cursor_top", func(context.Context) error { b.MoveCursor(-1 << 30); return nil })
	b.register("cursor_bottom", func(context.Context) error { b.MoveCursor(1 << 30); return nil })
	b.register("toggle", b.toggle)
	b.register("expand", b.expand)
	b.register("collapse", b.collapse)
	b.register("collapse_all", func(context.Context) error {
		if t := b.Tree(); t != nil {
			t.CollapseAll()
		}
		b.Redraw()
		return nil
	})
	b.register("refresh", func(ctx context.Context) error {
		b.spawn(func(ctx context.Context) { _ = b.Refresh(ctx) })
		return nil
	})
	return b
}

// ID returns the panel instance id.
func (b *base) ID() string { return b.id }

// Name returns the panel kind name.
func (b *base) Name() string { return b.name }

// State returns the lifecycle state.
func (b *base) State() State { return State(b.state.Load()) }

func (b *base) setState(s State) {
	for {
		cur := b.state.Load()
		if State(cur) == StateDeleted {
			return
		}
		if b.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Tree returns the current tree, or nil before Open.
func (b *base) Tree() *tree.Tree {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tree
}

// setTree swaps the tree and closes the previous one unless keep is set.
func (b *base) setTree(t *tree.Tree, keep bool) {
	b.mu.Lock()
	old := b.tree
	b.tree = t
	b.mu.Unlock()
	if old != nil && old != t && !keep {
		old.Close()
	}
	if b.State() == StateUninitialized {
		b.setState(StateRootCreated)
	}
}

func (b *base) treeConfig() tree.Config {
	return tree.Config{
		Name:    b.name,
		Sort:    b.d.Sort,
		Filter:  b.d.Filter,
		Logger:  b.d.Logger,
		Metrics: b.d.Metrics,
	}
}

func (b *base) register(name string, fn Action) { b.actions[name] = fn }

// bind maps keys to actions, defaults first, then overrides. Mappings to
// unknown actions are dropped and returned.
func (b *base) bind(defaults, overrides map[string]string) []error {
	var errs []error
	for _, m := range []map[string]string{defaults, overrides} {
		for key, action := range m {
			if action == "" {
				delete(b.keys, key)
				continue
			}
			if _, ok := b.actions[action]; !ok {
				errs = append(errs, fmt.Errorf("%s: key %q: %w %q", b.name, key, ErrUnknownAction, action))
				continue
			}
			b.keys[key] = action
		}
	}
	for _, err := range errs {
		b.logger.Warn("mapping ignored", zap.Error(err))
	}
	return errs
}

// Refresh runs the panel's load function behind the busy guard and
// redraws on success.
func (b *base) Refresh(ctx context.Context) error {
	if b.State() == StateDeleted {
		return ErrDeleted
	}
	err := b.guard("refresh", func() error { return b.load(ctx) })
	switch {
	case errors.Is(err, ErrBusy):
		return err
	case err != nil:
		b.logger.Warn("refresh failed", zap.Error(err))
		return err
	}
	b.setState(StateScanned)
	b.Redraw()
	return nil
}

// refreshQueued refreshes now or, when a guarded call is running, queues
// one more refresh for when it returns. A queued refresh is not an error.
func (b *base) refreshQueued(ctx context.Context) error {
	for {
		err := b.Refresh(ctx)
		if !errors.Is(err, ErrBusy) {
			return err
		}
		b.again.Store(true)
		if b.busy.Load() {
			b.Redraw()
			return nil
		}
		// The running call returned before it saw the flag.
		if !b.again.CompareAndSwap(true, false) {
			return nil
		}
	}
}

// guard runs fn unless another guarded call is running. Panics are
// recovered and returned as errors.
func (b *base) guard(op string, fn func() error) (err error) {
	if !b.busy.CompareAndSwap(false, true) {
		b.d.Metrics.RefreshSkipped(b.name)
		b.logger.Debug("skipped, already running", zap.String("op", op))
		if b.State() == StateScanned {
			b.setState(StateStale)
		}
		return ErrBusy
	}
	defer func() {
		b.busy.Store(false)
		if b.again.CompareAndSwap(true, false) {
			b.refreshAsync()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panel panicked",
				zap.String("op", op),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%s: %s panicked: %v", b.name, op, r)
		}
	}()
	b.d.Metrics.RefreshRan(b.name)
	return fn()
}

// spawn runs fn on a goroutine tracked by Wait. Panics are logged.
func (b *base) spawn(fn func(ctx context.Context)) {
	if b.State() == StateDeleted {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("background task panicked",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		fn(b.ctx)
	}()
}

// Wait blocks until spawned work has finished.
func (b *base) Wait() { b.wg.Wait() }

// subscribe registers fn on the bus under the panel's id.
func (b *base) subscribe(t topic.Topic, fn func(ev event.Event)) {
	if b.d.Bus == nil {
		return
	}
	b.d.Bus.SubscribeFunc(b.id, b.id+"/"+t.String(), t, func(ev event.Event) {
		if b.State() == StateDeleted {
			return
		}
		fn(ev)
	})
}

// refreshAsync starts a refresh in the background.
func (b *base) refreshAsync() {
	b.spawn(func(ctx context.Context) { _ = b.Refresh(ctx) })
}

// SetVisible shows or hides the panel. Becoming visible redraws.
func (b *base) SetVisible(v bool) {
	if b.visible.Swap(v) != v && v {
		b.Redraw()
	}
}

// Visible reports whether the panel is shown.
func (b *base) Visible() bool { return b.visible.Load() }

// SetWidth changes the render width and redraws.
func (b *base) SetWidth(w int) {
	b.mu.Lock()
	b.pipeline.SetWidth(w)
	b.mu.Unlock()
	b.Redraw()
}

func (b *base) setEnv(env render.Env) {
	b.mu.Lock()
	b.pipeline.SetEnv(env)
	b.mu.Unlock()
}

// Redraw renders the visible rows and hands them to the view. Hidden and
// deleted panels do not draw.
func (b *base) Redraw() {
	if b.State() == StateDeleted || !b.visible.Load() || b.d.View == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tree == nil {
		return
	}
	rows := b.tree.Visible()
	idx := b.resolveCursorLocked(rows)

	lines := b.pipeline.Lines(rows)
	if sv, ok := b.d.View.(StyledView); ok {
		sv.DrawStyled(b.id, lines, idx)
		return
	}
	text := make([]string, len(lines))
	width := b.pipeline.Width()
	for i, l := range lines {
		text[i] = l.Text(width)
	}
	b.d.View.Draw(b.id, text, idx)
}

// resolveCursorLocked finds the cursor row by path. When the path is gone
// the cursor keeps its line index, clamped to the rows.
func (b *base) resolveCursorLocked(rows []tree.Row) int {
	if len(rows) == 0 {
		b.cursorIdx = 0
		return 0
	}
	idx := tree.RowIndex(rows, b.cursor)
	if idx < 0 {
		idx = min(max(b.cursorIdx, 0), len(rows)-1)
	}
	b.cursor = rows[idx].Node.Path
	b.cursorIdx = idx
	return idx
}

// Cursor returns the path under the cursor.
func (b *base) Cursor() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// SetCursor moves the cursor to path and redraws.
func (b *base) SetCursor(path string) {
	b.mu.Lock()
	b.cursor = path
	b.mu.Unlock()
	b.Redraw()
}

// MoveCursor moves the cursor by delta rows.
func (b *base) MoveCursor(delta int) {
	b.mu.Lock()
	if b.tree == nil {
		b.mu.Unlock()
		return
	}
	rows := b.tree.Visible()
	if len(rows) > 0 {
		idx := b.resolveCursorLocked(rows)
		idx = min(max(idx+delta, 0), len(rows)-1)
		b.cursor = rows[idx].Node.Path
		b.cursorIdx = idx
	}
	b.mu.Unlock()
	b.Redraw()
}

// cursorNode returns the node under the cursor.
func (b *base) cursorNode() (*tree.Node, error) {
	t := b.Tree()
	if t == nil {
		return nil, ErrNoSelection
	}
	path := b.Cursor()
	if path == "" {
		return t.Root(), nil
	}
	if id, ok := t.NodeID(path); ok {
		if n := t.Node(id); n != nil {
			return n, nil
		}
	}
	return nil, ErrNoSelection
}

// Do runs the named action. Failures other than cancellations are shown
// to the user.
func (b *base) Do(ctx context.Context, name string) (err error) {
	if b.State() == StateDeleted {
		return ErrDeleted
	}
	fn, ok := b.actions[name]
	if !ok {
		return fmt.Errorf("%s: %w %q", b.name, ErrUnknownAction, name)
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("action panicked", zap.String("action", name), zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%s: %s panicked: %v", b.name, name, r)
		}
		if err != nil && !errors.Is(err, ErrCancelled) {
			b.notify(host.LevelError, "%s: %v", name, err)
		}
	}()
	return fn(ctx)
}

// Key runs the action bound to key.
func (b *base) Key(ctx context.Context, key string) error {
	action, ok := b.keys[key]
	if !ok {
		return fmt.Errorf("%s: no mapping for %q", b.name, key)
	}
	return b.Do(ctx, action)
}

// Keys returns a copy of the key mappings.
func (b *base) Keys() map[string]string {
	out := make(map[string]string, len(b.keys))
	for k, v := range b.keys {
		out[k] = v
	}
	return out
}

// Actions returns the action names, sorted.
func (b *base) Actions() []string {
	out := make([]string, 0, len(b.actions))
	for name := range b.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Paths returns the root and every repository toplevel the tree uses.
func (b *base) Paths() []string {
	t := b.Tree()
	if t == nil {
		return nil
	}
	return append([]string{t.RootPath()}, t.Repositories()...)
}

// Delete stops background work, removes listeners and releases the tree.
func (b *base) Delete() {
	if State(b.state.Swap(int32(StateDeleted))) == StateDeleted {
		return
	}
	b.cancel()
	if b.d.Bus != nil {
		b.d.Bus.RemoveOwner(b.id)
	}
	b.mu.Lock()
	t := b.tree
	b.mu.Unlock()
	if t != nil {
		t.Close()
	}
	b.logger.Debug("panel deleted")
}

func (b *base) notify(level host.Level, format string, args ...any) {
	if b.d.Host == nil {
		return
	}
	b.d.Host.Notify(level, fmt.Sprintf(format, args...))
}

func (b *base) toggle(ctx context.Context) error {
	n, err := b.cursorNode()
	if err != nil {
		return err
	}
	if !n.IsContainer() {
		return nil
	}
	if err := b.Tree().Toggle(ctx, n.ID); err != nil {
		return err
	}
	b.Redraw()
	return nil
}

func (b *base) expand(ctx context.Context) error {
	n, err := b.cursorNode()
	if err != nil {
		return err
	}
	if !n.IsContainer() {
		return nil
	}
	if err := b.Tree().Expand(ctx, n.ID, tree.ExpandOptions{}); err != nil {
		return err
	}
	b.Redraw()
	return nil
}

// collapse closes the node under the cursor, or its parent when the node
// is a leaf or already collapsed, and moves the cursor there.
func (b *base) collapse(context.Context) error {
	n, err := b.cursorNode()
	if err != nil {
		return err
	}
	t := b.Tree()
	target := n
	if !n.IsContainer() || !n.Expanded {
		if p := t.Node(n.Parent); p != nil {
			target = p
		}
	}
	if err := t.Collapse(target.ID); err != nil {
		return err
	}
	b.SetCursor(target.Path)
	return nil
}

// openFile opens path in the editor.
func (b *base) openFile(path string, pos host.Position) error {
	if b.d.Host == nil {
		return nil
	}
	if err := b.d.Host.Open(path, pos); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}
