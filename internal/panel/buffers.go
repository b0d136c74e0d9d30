package panel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/event/topic"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/tree"
)

// BuffersConfig configures the buffers panel.
type BuffersConfig struct {
	// ShowHidden lists buffers not shown in any window.
	ShowHidden bool
	Mappings   map[string]string
}

// DefaultBuffersMappings are the buffers panel key bindings.
var DefaultBuffersMappings = map[string]string{
	"<CR>":  "open",
	"o":     "open",
	"<Tab>": "toggle",
	"R":     "refresh",
	"W":     "collapse_all",
	"j":     "cursor_down",
	"k":     "cursor_up",
}

// Buffers lists the open editor buffers as a tree rooted at the working
// directory, or at the common ancestor of the buffer paths when some lie
// outside it.
type Buffers struct {
	*base
	cfg BuffersConfig
}

// NewBuffers creates the buffers panel.
func NewBuffers(d Deps, cfg BuffersConfig) *Buffers {
	b := &Buffers{base: newBase("buffers", d), cfg: cfg}
	b.load = func(ctx context.Context) error { return b.rebuild(ctx, -1) }
	b.register("open", b.open)
	b.bind(DefaultBuffersMappings, cfg.Mappings)
	return b
}

// Open builds the tree from the host's buffer list.
func (b *Buffers) Open(ctx context.Context) error {
	if b.d.Host == nil {
		return errors.New("buffers: no host")
	}
	b.setTree(tree.New(b.treeConfig(), b.d.Host.Cwd()), false)

	for _, s := range []struct {
		topic   topic.Topic
		exclude bool
	}{
		{events.TopicBufAdded, false},
		{events.TopicBufDeleted, true},
		{events.TopicBufModified, false},
		{events.TopicTermOpened, false},
		{events.TopicTermClosed, true},
	} {
		exclude := s.exclude
		b.subscribe(s.topic, func(ev event.Event) { b.onBuffer(ev, exclude) })
	}
	return b.Refresh(ctx)
}

// onBuffer rebuilds after a buffer event. Delete events fire while the
// host still lists the buffer, so its id is excluded.
func (b *Buffers) onBuffer(ev event.Event, exclude bool) {
	skip := -1
	if buf, ok := ev.Payload.(events.Buffer); ok && exclude {
		skip = buf.ID
	}
	b.spawn(func(ctx context.Context) {
		err := b.guard(ev.Topic.String(), func() error { return b.rebuild(ctx, skip) })
		switch {
		case err == nil:
			b.setState(StateScanned)
			b.Redraw()
		case !errors.Is(err, ErrBusy):
			b.logger.Warn("buffer list failed", zap.Error(err))
		}
	})
}

// rebuild lists every buffer except skip.
func (b *Buffers) rebuild(ctx context.Context, skip int) error {
	cwd := filepath.Clean(b.d.Host.Cwd())
	var bufs []host.Buffer
	for _, buf := range b.d.Host.Buffers() {
		if buf.ID == skip || (buf.Hidden && !b.cfg.ShowHidden) {
			continue
		}
		if buf.Path == "" && !buf.Terminal {
			continue
		}
		bufs = append(bufs, buf)
	}

	root := cwd
	for _, buf := range bufs {
		if filepath.IsAbs(buf.Path) && !buf.Terminal {
			root = commonAncestor(root, filepath.Clean(buf.Path))
		}
	}

	items := make([]tree.Item, 0, len(bufs))
	for _, buf := range bufs {
		items = append(items, bufferItem(root, buf))
	}

	t := b.Tree()
	if t.RootPath() != root {
		nt := tree.New(b.treeConfig(), root)
		b.setTree(nt, false)
		t = nt
		b.logger.Debug("buffers root changed", logging.Path(root))
	}
	if b.d.Repos != nil && t.Root().Repo == nil {
		repo, err := b.d.Repos.Discover(ctx, root)
		if err != nil {
			b.logger.Debug("repository discovery failed", logging.Path(root), zap.Error(err))
		}
		if repo != nil {
			t.SetRepository(t.Root().ID, repo)
		}
	}
	t.SetSparse(items, true)
	b.d.Metrics.TreeSize(b.name, t.Len())
	return nil
}

func bufferItem(root string, buf host.Buffer) tree.Item {
	path := filepath.Clean(buf.Path)
	name := ""
	if buf.Terminal && (buf.Path == "" || !filepath.IsAbs(buf.Path)) {
		path = filepath.Join(root, fmt.Sprintf("term-%d", buf.ID))
		name = buf.Path
		if name == "" {
			name = fmt.Sprintf("term-%d", buf.ID)
		}
	}
	return tree.Item{
		Path: path,
		Name: name,
		Kind: tree.KindBuffer,
		Payload: tree.BufferInfo{
			FileInfo: tree.FileInfo{Extension: strings.TrimPrefix(filepath.Ext(path), ".")},
			BufferID: buf.ID,
			Terminal: buf.Terminal,
			Hidden:   buf.Hidden,
			Modified: buf.Modified,
		},
	}
}

// commonAncestor returns the deepest directory containing both a and p's
// directory.
func commonAncestor(a, p string) string {
	dir := filepath.Dir(p)
	for !within(a, dir) {
		parent := filepath.Dir(a)
		if parent == a {
			return a
		}
		a = parent
	}
	return a
}

func (b *Buffers) open(ctx context.Context) error {
	n, err := b.cursorNode()
	if err != nil {
		return err
	}
	info, ok := tree.As[tree.BufferInfo](n)
	if !ok {
		return b.toggle(ctx)
	}
	if info.Terminal {
		return b.openFile(n.Name, host.Position{})
	}
	return b.openFile(n.Path, host.Position{})
}
