// Package sidebar places panels into per-tab sidebars, routes editor
// events to them and implements the open/close/toggle command surface.
package sidebar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/config"
	"github.com/dshills/sidetree/internal/diagnostics"
	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/filter"
	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/lsp"
	"github.com/dshills/sidetree/internal/metrics"
	"github.com/dshills/sidetree/internal/panel"
	"github.com/dshills/sidetree/internal/render"
	"github.com/dshills/sidetree/internal/search"
	"github.com/dshills/sidetree/internal/tree"
	"github.com/dshills/sidetree/internal/vfs"
)

const owner = "sidebar"

// Config wires a Manager. Settings defaults to config.Default(). Repos is
// nil when git integration is off; Watches, LSP, Searcher and Diagnostics
// are optional.
type Config struct {
	Settings *config.Config

	Host        host.Host
	View        host.View
	Bus         *event.Bus
	FS          vfs.Accessor
	Watches     tree.Watches
	Repos       *git.Manager
	LSP         lsp.Provider
	Searcher    *search.Searcher
	Diagnostics *diagnostics.Store

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Manager keeps one Sidebar per tab and routes host events to them.
type Manager struct {
	cfg       Config
	settings  *config.Config
	logger    *zap.Logger
	deps      panel.Deps
	predicate *filter.Predicate

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	poll   sync.WaitGroup

	mu       sync.Mutex
	sidebars map[int]*Sidebar
	current  int
	started  bool
}

// NewManager validates the settings and prepares the shared panel
// dependencies. A Lua filter script is compiled here.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Bus == nil {
		return nil, errors.New("sidebar: no event bus")
	}
	if err := cfg.Settings.Check(); err != nil {
		return nil, err
	}
	st := cfg.Settings
	m := &Manager{
		cfg:      cfg,
		settings: st,
		logger:   cfg.Logger.Named("sidebar"),
		sidebars: make(map[int]*Sidebar),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	theme, err := buildTheme(st.Theme)
	if err != nil {
		return nil, err
	}
	f := &tree.Filter{
		HideDotfiles:   st.Filter.HideDotfiles,
		HideGitignored: st.Filter.HideGitignored,
		HideNames:      st.Filter.HideNames,
		HideGlobs:      st.Filter.HideGlobs,
		AlwaysShow:     st.Filter.AlwaysShow,
	}
	if st.Filter.Lua != "" {
		p, err := filter.Load(st.Filter.Lua, filter.WithLogger(cfg.Logger))
		if err != nil {
			return nil, fmt.Errorf("filter.lua: %w", err)
		}
		m.predicate = p
		f.Predicate = p.Hide
	}

	m.deps = panel.Deps{
		Host:    cfg.Host,
		View:    cfg.View,
		Bus:     cfg.Bus,
		FS:      cfg.FS,
		Watches: cfg.Watches,
		Repos:   cfg.Repos,
		LSP:     cfg.LSP,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
		Sort:    st.Sort.Options(),
		Filter:  f,
		Render:  st.Renderers,
		Theme:   theme,
		Width:   st.Sidebar.Width,
	}
	if cfg.Diagnostics != nil {
		m.deps.Diagnostics = cfg.Diagnostics
	}
	if !st.Git.Enabled {
		m.deps.Repos = nil
	}
	return m, nil
}

// Theme returns the default theme overlaid with the configured styles.
func (m *Manager) Theme() render.Theme { return m.deps.Theme }

// buildTheme overlays configured styles on the default theme.
func buildTheme(specs map[string]render.StyleSpec) (render.Theme, error) {
	theme := render.DefaultTheme()
	for name, spec := range specs {
		st, err := spec.Parse()
		if err != nil {
			return nil, fmt.Errorf("theme.%s: %w", name, err)
		}
		theme[name] = st
	}
	return theme, nil
}

// Start subscribes to the host events the manager routes, feeds the
// diagnostics store and starts git polling.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	bus := m.cfg.Bus
	bus.SubscribeFunc(owner, "sidebar.tab.entered", events.TopicTabEntered, m.onTabEntered)
	bus.SubscribeFunc(owner, "sidebar.tab.closed", events.TopicTabClosed, m.onTabClosed)
	bus.SubscribeFunc(owner, "sidebar.dir.changed", events.TopicDirChanged, m.onDirChanged)
	bus.SubscribeFunc(owner, "sidebar.buf.entered", events.TopicBufEntered, m.onBufEntered)
	if m.cfg.Diagnostics != nil && m.settings.Diagnostics.Enabled {
		m.cfg.Diagnostics.Subscribe(bus)
	}

	if repos := m.deps.Repos; repos != nil && m.settings.Git.PollInterval > 0 {
		interval := m.settings.Git.PollInterval.D()
		m.poll.Add(1)
		go func() {
			defer m.poll.Done()
			repos.Poll(m.ctx, interval)
		}()
		m.logger.Debug("git polling started", zap.Duration("interval", interval))
	}
}

// Current returns the sidebar of the current tab, creating it when needed.
func (m *Manager) Current() *Sidebar {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sidebarLocked(m.current)
}

func (m *Manager) sidebarLocked(tab int) *Sidebar {
	s, ok := m.sidebars[tab]
	if !ok {
		s = newSidebar(m, tab, tab == m.current)
		m.sidebars[tab] = s
	}
	return s
}

// Sidebar returns the sidebar of tab when it exists.
func (m *Manager) Sidebar(tab int) (*Sidebar, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sidebars[tab]
	return s, ok
}

// Tab returns the current tab.
func (m *Manager) Tab() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Execute parses line and runs it on the current tab's sidebar. Failures
// are also reported to the host.
func (m *Manager) Execute(ctx context.Context, line string) error {
	cmd, err := ParseCommand(line)
	if err == nil {
		err = m.Current().Execute(ctx, cmd)
	}
	if err != nil {
		m.logger.Debug("command failed", zap.String("command", line), zap.Error(err))
		if m.cfg.Host != nil {
			m.cfg.Host.Notify(host.LevelError, err.Error())
		}
	}
	return err
}

func (m *Manager) defaultPanel() string {
	if l := m.settings.Sidebar.Left; len(l) > 0 {
		return l[0]
	}
	if r := m.settings.Sidebar.Right; len(r) > 0 {
		return r[0]
	}
	return config.PanelFiles
}

// newPanel builds an unopened panel for s.
func (m *Manager) newPanel(s *Sidebar, name string, width int) (panel.Panel, error) {
	d := m.deps
	d.Width = width
	d.Logger = m.cfg.Logger.With(logging.Tab(s.tab))
	mappings := m.settings.Mappings(name)
	switch name {
	case config.PanelFiles:
		return panel.NewFiles(d, panel.FilesConfig{
			Follow:   m.settings.Sidebar.Follow,
			Searcher: m.cfg.Searcher,
			Mappings: mappings,
		}), nil
	case config.PanelGitStatus:
		return panel.NewGitStatus(d, panel.GitStatusConfig{
			ShowIgnored: m.settings.Git.ShowIgnored,
			Mappings:    mappings,
		}), nil
	case config.PanelBuffers:
		return panel.NewBuffers(d, panel.BuffersConfig{Mappings: mappings}), nil
	case config.PanelSymbols:
		return panel.NewSymbols(d, panel.SymbolsConfig{
			Mappings:      mappings,
			CallHierarchy: s.showCallHierarchy,
		}), nil
	case config.PanelCallHierarchy:
		return panel.NewCallHierarchy(d, panel.CallHierarchyConfig{Mappings: mappings}), nil
	}
	return nil, invalid("unknown panel %q", name)
}

// Sweep closes repositories that no panel of any tab references and
// returns their toplevels.
func (m *Manager) Sweep() []string {
	repos := m.deps.Repos
	if repos == nil {
		return nil
	}
	m.mu.Lock()
	sidebars := make([]*Sidebar, 0, len(m.sidebars))
	for _, s := range m.sidebars {
		sidebars = append(sidebars, s)
	}
	m.mu.Unlock()

	var referenced []string
	for _, s := range sidebars {
		referenced = append(referenced, s.paths()...)
	}
	return repos.Sweep(referenced)
}

func (m *Manager) onTabEntered(ev event.Event) {
	tab, ok := ev.Payload.(events.Tab)
	if !ok {
		return
	}
	m.mu.Lock()
	prev, hasPrev := m.sidebars[m.current]
	m.current = tab.ID
	next, hasNext := m.sidebars[tab.ID]
	m.mu.Unlock()

	if hasPrev && prev != next {
		prev.SetActive(false)
	}
	if hasNext {
		next.SetActive(true)
	}
	m.logger.Debug("tab entered", logging.Tab(tab.ID))
}

func (m *Manager) onTabClosed(ev event.Event) {
	tab, ok := ev.Payload.(events.Tab)
	if !ok {
		return
	}
	m.mu.Lock()
	s, exists := m.sidebars[tab.ID]
	delete(m.sidebars, tab.ID)
	m.mu.Unlock()
	if !exists {
		return
	}
	s.close()
	m.Sweep()
	m.logger.Debug("tab closed", logging.Tab(tab.ID))
}

// onDirChanged moves the affected sidebars to the new directory. A zero
// tab is a global change and moves every sidebar.
func (m *Manager) onDirChanged(ev event.Event) {
	ch, ok := ev.Payload.(events.DirChanged)
	if !ok || ch.Dir == "" {
		return
	}
	m.mu.Lock()
	var targets []*Sidebar
	for id, s := range m.sidebars {
		if ch.Tab == 0 || id == ch.Tab {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	m.spawn(func(ctx context.Context) {
		for _, s := range targets {
			s.setRoot(ctx, ch.Dir)
		}
		m.Sweep()
	})
}

func (m *Manager) onBufEntered(ev event.Event) {
	buf, ok := ev.Payload.(events.Buffer)
	if !ok {
		return
	}
	s, exists := m.Sidebar(m.Tab())
	if !exists {
		return
	}
	m.spawn(func(ctx context.Context) { s.follow(ctx, buf) })
}

func (m *Manager) spawn(fn func(ctx context.Context)) {
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("sidebar task panicked", zap.Any("panic", r))
			}
		}()
		fn(m.ctx)
	}()
}

// Wait blocks until routed work started so far has finished, including
// the panels' own background work.
func (m *Manager) Wait() {
	m.tasks.Wait()
	m.mu.Lock()
	sidebars := make([]*Sidebar, 0, len(m.sidebars))
	for _, s := range m.sidebars {
		sidebars = append(sidebars, s)
	}
	m.mu.Unlock()
	for _, s := range sidebars {
		for _, p := range s.Panels() {
			p.Wait()
		}
	}
}

// Close deletes every sidebar, stops polling and removes the manager's
// listeners.
func (m *Manager) Close() {
	m.cancel()
	m.cfg.Bus.RemoveOwner(owner)
	m.mu.Lock()
	sidebars := m.sidebars
	m.sidebars = make(map[int]*Sidebar)
	m.mu.Unlock()
	m.tasks.Wait()
	for _, s := range sidebars {
		s.close()
	}
	m.poll.Wait()
	if m.predicate != nil {
		m.predicate.Close()
	}
}
