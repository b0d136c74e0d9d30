// Package termhost runs the sidebar as a standalone terminal program. The
// Screen is the editor host: it owns the tcell screen, draws the sidebar
// columns around a small preview area and answers prompts on the status
// line.
package termhost

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/event/topic"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/render"
	"github.com/dshills/sidetree/internal/sidebar"
)

// Option configures a Screen.
type Option func(*Screen)


// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Screen) { s.logger = l } }

type redrawEvent struct{ tcell.EventTime }

type quitEvent struct{ tcell.EventTime }

type panelLines struct {
	lines  []render.Line
	cursor int
	offset int
}

type status struct {
	level host.Level
	msg   string
}

// Screen implements host.Host, host.View, panel.StyledView and
// host.EventSource on a tcell screen.
type Screen struct {
	screen tcell.Screen
	theme  render.Theme
	logger *zap.Logger

	mu       sync.Mutex
	cwd      string
	tab      int
	buffers  []host.Buffer
	current  int
	nextBuf  int
	preview  []string
	panels   map[string]*panelLines
	shown    map[string]bool
	status   status
	handlers map[topic.Topic]map[int]func(any)
	nextID   int

	mgr *sidebar.Manager
}

// New wraps an initialized tcell screen.
func New(screen tcell.Screen, cwd string, opts ...Option) *Screen {
	s := &Screen{
		screen:   screen,
		theme:    render.DefaultTheme(),
		logger:   zap.NewNop(),
		cwd:      filepath.Clean(cwd),
		current:  -1,
		panels:   make(map[string]*panelLines),
		shown:    make(map[string]bool),
		handlers: make(map[topic.Topic]map[int]func(any)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("termhost")
	return s
}

func (s *Screen) post(ev tcell.Event) {
	// A full queue drops the event; the next one repaints everything.
	_ = s.screen.PostEvent(ev)
}

func (s *Screen) requestRedraw() {
	ev := &redrawEvent{}
	ev.SetEventNow()
	s.post(ev)
}

// Cwd implements host.Host.
func (s *Screen) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Chdir changes the working directory and publishes host.dir.changed.
func (s *Screen) Chdir(dir string) {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.Cwd(), dir)
	}
	dir = filepath.Clean(dir)
	s.mu.Lock()
	s.cwd = dir
	s.mu.Unlock()
	s.emit(events.TopicDirChanged, events.DirChanged{Dir: dir})
}

// CurrentBuffer implements host.Host.
func (s *Screen) CurrentBuffer() (host.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 || s.current >= len(s.buffers) {
		return host.Buffer{}, false
	}
	return s.buffers[s.current], true
}

// Buffers implements host.Host.
func (s *Screen) Buffers() []host.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]host.Buffer(nil), s.buffers...)
}

// Notify implements host.Host. The message stays on the status line until
// the next one.
func (s *Screen) Notify(level host.Level, msg string) {
	s.mu.Lock()
	s.status = status{level: level, msg: msg}
	s.mu.Unlock()
	s.logger.Debug("notify", zap.Stringer("level", level), zap.String("msg", msg))
	s.requestRedraw()
}

// SetTheme replaces the highlight theme. It must be called before Run.
func (s *Screen) SetTheme(t render.Theme) {
	if t != nil {
		s.theme = t
	}
}

// Open implements host.Host. Opening lists the file as a buffer, makes it
// current and shows a position line in the preview area.
func (s *Screen) Open(path string, pos host.Position) error {
	path = filepath.Clean(path)
	s.mu.Lock()
	idx := -1
	for i, b := range s.buffers {
		if b.Path == path {
			idx = i
			break
		}
	}
	added := idx < 0
	if added {
		s.nextBuf++
		s.buffers = append(s.buffers, host.Buffer{ID: s.nextBuf, Path: path})
		idx = len(s.buffers) - 1
	}
	s.current = idx
	buf := s.buffers[idx]
	s.preview = []string{path, positionLine(pos)}
	s.mu.Unlock()

	if added {
		s.emit(events.TopicBufAdded, buf)
	}
	s.emit(events.TopicBufEntered, buf)
	s.requestRedraw()
	return nil
}

// CloseBuffer unlists the current buffer.
func (s *Screen) CloseBuffer() {
	s.mu.Lock()
	if s.current < 0 {
		s.mu.Unlock()
		return
	}
	buf := s.buffers[s.current]
	s.mu.Unlock()

	// Listeners see the buffer still listed, as in an editor.
	s.emit(events.TopicBufDeleted, buf)

	s.mu.Lock()
	for i, b := range s.buffers {
		if b.ID == buf.ID {
			s.buffers = append(s.buffers[:i], s.buffers[i+1:]...)
			break
		}
	}
	s.current = len(s.buffers) - 1
	s.preview = nil
	s.mu.Unlock()
	s.requestRedraw()
}

func positionLine(pos host.Position) string {
	return fmt.Sprintf("line %d, column %d", pos.Line+1, pos.Character+1)
}

// Draw implements host.View.
func (s *Screen) Draw(panelID string, lines []string, cursor int) {
	styled := make([]render.Line, len(lines))
	for i, l := range lines {
		styled[i] = render.Line{Left: []render.Segment{{Text: l}}}
	}
	s.DrawStyled(panelID, styled, cursor)
}

// DrawStyled implements panel.StyledView. It only records the lines; the
// event loop paints them.
func (s *Screen) DrawStyled(panelID string, lines []render.Line, cursor int) {
	s.mu.Lock()
	pl, ok := s.panels[panelID]
	if !ok {
		pl = &panelLines{}
		s.panels[panelID] = pl
	}
	pl.lines = lines
	pl.cursor = cursor
	s.mu.Unlock()
	s.requestRedraw()
}

// Visible implements host.View. A panel is visible when the last frame
// gave it rows.
func (s *Screen) Visible(panelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown[panelID]
}

// On implements host.EventSource.
func (s *Screen) On(t topic.Topic, fn func(any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.handlers[t] == nil {
		s.handlers[t] = make(map[int]func(any))
	}
	s.handlers[t][id] = fn
	return func() {
		s.mu.Lock()
		delete(s.handlers[t], id)
		s.mu.Unlock()
	}
}

func (s *Screen) emit(t topic.Topic, payload any) {
	s.mu.Lock()
	fns := make([]func(any), 0, len(s.handlers[t]))
	for _, fn := range s.handlers[t] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

// Prompt implements host.Host. It reads keys on the calling goroutine,
// which must be the event loop's, until Enter or Escape. Redraw requests
// that arrive meanwhile are painted.
func (s *Screen) Prompt(ctx context.Context, msg, def string) (string, bool) {
	text := []rune(def)
	for {
		s.paintPrompt(msg, string(text))
		if ctx.Err() != nil {
			return "", false
		}
		switch ev := s.screen.PollEvent().(type) {
		case nil:
			return "", false
		case *quitEvent:
			s.post(ev)
			return "", false
		case *tcell.EventResize:
			s.screen.Sync()
		case *redrawEvent:
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEnter:
				s.clearStatus()
				return string(text), true
			case tcell.KeyEscape, tcell.KeyCtrlC:
				s.clearStatus()
				return "", false
			case tcell.KeyBackspace, tcell.KeyBackspace2:
				if len(text) > 0 {
					text = text[:len(text)-1]
				}
			case tcell.KeyCtrlU:
				text = text[:0]
			case tcell.KeyRune:
				text = append(text, ev.Rune())
			}
		}
	}
}

// Confirm implements host.Host.
func (s *Screen) Confirm(ctx context.Context, msg string) bool {
	answer, ok := s.Prompt(ctx, msg+" [y/N]", "")
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (s *Screen) clearStatus() {
	s.mu.Lock()
	s.status = status{}
	s.mu.Unlock()
}
