package sidebar

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/config"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/panel"
)

// Column is one side of the sidebar as it should be drawn.
type Column struct {
	Side   string
	Width  int
	Panels []panel.Panel
}

// Layout is both sides of a sidebar. A side without panels has a nil
// Panels slice.
type Layout struct {
	Left  Column
	Right Column
}

// Sidebar holds the panels open in one tab.
type Sidebar struct {
	tab    int
	m      *Manager
	logger *zap.Logger

	mu     sync.Mutex
	panels map[string]panel.Panel
	sides  map[string]string
	widths map[string]int
	focus  string
	active bool
}

func newSidebar(m *Manager, tab int, active bool) *Sidebar {
	return &Sidebar{
		tab:    tab,
		m:      m,
		logger: m.logger.With(logging.Tab(tab)),
		panels: make(map[string]panel.Panel),
		sides:  make(map[string]string),
		widths: map[string]int{
			SideLeft:  m.settings.Sidebar.Width,
			SideRight: m.settings.Sidebar.Width,
		},
		active: active,
	}
}

// Tab returns the tab the sidebar belongs to.
func (s *Sidebar) Tab() int { return s.tab }

// Execute runs a parsed command.
func (s *Sidebar) Execute(ctx context.Context, cmd Command) error {
	name := cmd.Panel
	if name == "" {
		name = s.m.defaultPanel()
	}
	switch cmd.Verb {
	case VerbOpen:
		return s.Open(ctx, name, cmd)
	case VerbClose:
		return s.Close(name)
	case VerbToggle:
		if _, ok := s.Panel(name); ok {
			return s.Close(name)
		}
		return s.Open(ctx, name, cmd)
	}
	return invalid("unknown verb %v", cmd.Verb)
}

// Open opens the named panel, or updates its placement when it is already
// open. The command's path, focus, position and size are applied.
func (s *Sidebar) Open(ctx context.Context, name string, cmd Command) error {
	p, ok := s.Panel(name)
	if !ok {
		var err error
		if p, err = s.create(ctx, name, cmd.Position); err != nil {
			return err
		}
	}

	s.mu.Lock()
	side := s.sides[name]
	if cmd.Position != "" && cmd.Position != side {
		side = cmd.Position
		s.sides[name] = side
	}
	if cmd.Size > 0 {
		s.widths[side] = cmd.Size
	}
	width := s.widths[side]
	var resize []panel.Panel
	for n, sd := range s.sides {
		if sd == side {
			resize = append(resize, s.panels[n])
		}
	}
	if cmd.Focus || s.focus == "" {
		s.focus = name
	}
	s.mu.Unlock()

	for _, q := range resize {
		q.SetWidth(width)
	}
	if cmd.Path != "" {
		return s.show(ctx, name, p, cmd.Path)
	}
	return nil
}

// create builds and opens a panel, then adds it. A panel opened
// concurrently under the same name wins and the new one is dropped.
func (s *Sidebar) create(ctx context.Context, name, side string) (panel.Panel, error) {
	if side == "" {
		side = s.m.settings.Side(name)
	}
	s.mu.Lock()
	width, active := s.widths[side], s.active
	s.mu.Unlock()

	p, err := s.m.newPanel(s, name, width)
	if err != nil {
		return nil, err
	}
	p.SetVisible(active)
	if err := p.Open(ctx); err != nil {
		p.Delete()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	s.mu.Lock()
	if prev, ok := s.panels[name]; ok {
		s.mu.Unlock()
		p.Delete()
		return prev, nil
	}
	s.panels[name] = p
	s.sides[name] = side
	s.mu.Unlock()
	s.logger.Debug("panel opened", zap.String("name", name), zap.String("side", side), logging.Panel(p.ID()))
	return p, nil
}

// show points an open panel at path.
func (s *Sidebar) show(ctx context.Context, name string, p panel.Panel, path string) error {
	path, err := s.resolve(path)
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case *panel.Files:
		if s.m.cfg.FS == nil || s.m.cfg.FS.IsDir(path) {
			return p.SetRoot(ctx, path)
		}
		if !p.Reveal(ctx, path) {
			if err := p.SetRoot(ctx, filepath.Dir(path)); err != nil {
				return err
			}
			p.Reveal(ctx, path)
		}
	case *panel.GitStatus:
		return p.SetRoot(ctx, path)
	case *panel.Symbols:
		p.Follow(ctx, path)
	default:
		s.logger.Debug("path ignored", zap.String("name", name), logging.Path(path))
	}
	return nil
}

// resolve expands CurrentFile and makes path absolute against the host's
// working directory.
func (s *Sidebar) resolve(path string) (string, error) {
	h := s.m.cfg.Host
	if path == CurrentFile {
		if h == nil {
			return "", errors.New("no current file")
		}
		buf, ok := h.CurrentBuffer()
		if !ok || buf.Terminal || buf.Path == "" {
			return "", errors.New("no current file")
		}
		return filepath.Clean(buf.Path), nil
	}
	if !filepath.IsAbs(path) && h != nil {
		path = filepath.Join(h.Cwd(), path)
	}
	return filepath.Clean(path), nil
}

// Close deletes the named panel and sweeps repositories no panel
// references any more.
func (s *Sidebar) Close(name string) error {
	s.mu.Lock()
	p, ok := s.panels[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("panel %s is not open", name)
	}
	delete(s.panels, name)
	delete(s.sides, name)
	if s.focus == name {
		s.focus = ""
		if order := s.orderLocked(); len(order) > 0 {
			s.focus = order[0]
		}
	}
	s.mu.Unlock()

	p.Delete()
	s.logger.Debug("panel closed", zap.String("name", name), logging.Panel(p.ID()))
	s.m.Sweep()
	return nil
}

// Panel returns the named panel when it is open.
func (s *Sidebar) Panel(name string) (panel.Panel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[name]
	return p, ok
}

// Panels returns the open panels, left side first, each side in
// configured order.
func (s *Sidebar) Panels() []panel.Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := s.orderLocked()
	out := make([]panel.Panel, len(order))
	for i, name := range order {
		out[i] = s.panels[name]
	}
	return out
}

func (s *Sidebar) orderLocked() []string {
	names := make([]string, 0, len(s.panels))
	for name := range s.panels {
		names = append(names, name)
	}
	rank := func(name string) (int, int) {
		side := s.sides[name]
		list := s.m.settings.Sidebar.Left
		sideRank := 0
		if side == SideRight {
			list, sideRank = s.m.settings.Sidebar.Right, 1
		}
		if i := slices.Index(list, name); i >= 0 {
			return sideRank, i
		}
		return sideRank, len(list) + slices.Index(config.PanelNames, name)
	}
	sort.Slice(names, func(i, j int) bool {
		si, oi := rank(names[i])
		sj, oj := rank(names[j])
		if si != sj {
			return si < sj
		}
		return oi < oj
	})
	return names
}

// Layout returns the columns to draw.
func (s *Sidebar) Layout() Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := Layout{
		Left:  Column{Side: SideLeft, Width: s.widths[SideLeft]},
		Right: Column{Side: SideRight, Width: s.widths[SideRight]},
	}
	for _, name := range s.orderLocked() {
		if s.sides[name] == SideRight {
			l.Right.Panels = append(l.Right.Panels, s.panels[name])
		} else {
			l.Left.Panels = append(l.Left.Panels, s.panels[name])
		}
	}
	return l
}

// Focused returns the panel receiving keys.
func (s *Sidebar) Focused() (panel.Panel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[s.focus]
	return p, ok
}

// Focus moves the key focus to the named panel.
func (s *Sidebar) Focus(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.panels[name]; !ok {
		return fmt.Errorf("panel %s is not open", name)
	}
	s.focus = name
	return nil
}

// Cycle moves the focus by delta panels in layout order.
func (s *Sidebar) Cycle(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := s.orderLocked()
	if len(order) == 0 {
		return
	}
	i := slices.Index(order, s.focus)
	if i < 0 {
		i = 0
	}
	s.focus = order[((i+delta)%len(order)+len(order))%len(order)]
}

// Key sends key to the focused panel.
func (s *Sidebar) Key(ctx context.Context, key string) error {
	p, ok := s.Focused()
	if !ok {
		return errors.New("no panel is focused")
	}
	return p.Key(ctx, key)
}

// SetActive shows or hides every panel. Hidden panels keep listening but
// do not draw.
func (s *Sidebar) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
	for _, p := range s.Panels() {
		p.SetVisible(active)
	}
}

// Active reports whether the sidebar's tab is current.
func (s *Sidebar) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// setRoot moves the directory-rooted panels to dir.
func (s *Sidebar) setRoot(ctx context.Context, dir string) {
	for _, p := range s.Panels() {
		var err error
		switch p := p.(type) {
		case *panel.Files:
			err = p.SetRoot(ctx, dir)
		case *panel.GitStatus:
			err = p.SetRoot(ctx, dir)
		case *panel.Buffers:
			err = p.Refresh(ctx)
		}
		if err != nil && !errors.Is(err, panel.ErrBusy) {
			s.logger.Warn("set root failed", logging.Panel(p.ID()), logging.Path(dir), zap.Error(err))
		}
	}
}

// follow reveals the entered buffer in the panels that track it.
func (s *Sidebar) follow(ctx context.Context, buf host.Buffer) {
	if buf.Terminal || buf.Path == "" {
		return
	}
	for _, p := range s.Panels() {
		switch p := p.(type) {
		case *panel.Files:
			p.Follow(ctx, buf.Path)
		case *panel.Symbols:
			p.Follow(ctx, buf.Path)
		}
	}
}

// showCallHierarchy opens the call hierarchy panel focused and lists the
// calls of the symbol at pos.
func (s *Sidebar) showCallHierarchy(ctx context.Context, path string, pos host.Position, incoming bool) error {
	name := config.PanelCallHierarchy
	if err := s.Open(ctx, name, Command{Verb: VerbOpen, Panel: name, Focus: true}); err != nil {
		return err
	}
	p, ok := s.Panel(name)
	if !ok {
		return fmt.Errorf("panel %s is not open", name)
	}
	ch, ok := p.(*panel.CallHierarchy)
	if !ok {
		return fmt.Errorf("panel %s has type %T", name, p)
	}
	return ch.Show(ctx, path, pos, incoming)
}

// paths returns every path the sidebar's panels reference.
func (s *Sidebar) paths() []string {
	var out []string
	for _, p := range s.Panels() {
		out = append(out, p.Paths()...)
	}
	return out
}

// close deletes every panel.
func (s *Sidebar) close() {
	s.mu.Lock()
	panels := s.panels
	s.panels = make(map[string]panel.Panel)
	s.sides = make(map[string]string)
	s.focus = ""
	s.mu.Unlock()
	for _, p := range panels {
		p.Delete()
	}
}
