package termhost

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/uniseg"
	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/panel"
	"github.com/dshills/sidetree/internal/render"
	"github.com/dshills/sidetree/internal/sidebar"
)

const helpText = ":open/:close/:toggle <panel>  :cd <dir>  :tab N  <C-w> next panel  q quit"

// Run paints m's current sidebar and handles keys until the user quits or
// ctx is done. Keys go to the focused panel; ":" reads a command line.
func (s *Screen) Run(ctx context.Context, m *sidebar.Manager) error {
	s.mu.Lock()
	s.mgr = m
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		ev := &quitEvent{}
		ev.SetEventNow()
		s.post(ev)
	})
	defer stop()

	s.emit(events.TopicTabEntered, events.Tab{ID: s.tab})
	s.paint()
	for {
		switch ev := s.screen.PollEvent().(type) {
		case nil:
			return nil
		case *quitEvent:
			s.emit(events.TopicLeave, nil)
			return ctx.Err()
		case *tcell.EventResize:
			s.screen.Sync()
		case *redrawEvent:
		case *tcell.EventKey:
			if s.handleKey(ctx, ev) {
				s.emit(events.TopicLeave, nil)
				return nil
			}
		}
		s.paint()
	}
}

// handleKey runs one key and reports whether the program should exit.
func (s *Screen) handleKey(ctx context.Context, ev *tcell.EventKey) bool {
	name := keyName(ev)
	switch name {
	case "", "<C-c>", "q":
		return name != ""
	case ":":
		line, ok := s.Prompt(ctx, ":", "")
		if !ok || strings.TrimSpace(line) == "" {
			return false
		}
		return s.command(ctx, line)
	case "<C-w>":
		s.mgr.Current().Cycle(1)
		return false
	case "<C-x>":
		s.CloseBuffer()
		return false
	}

	sb := s.mgr.Current()
	p, ok := sb.Focused()
	if !ok {
		return false
	}
	if err := p.Key(ctx, name); err != nil {
		if delta, ok := cursorKeys[name]; ok {
			p.MoveCursor(delta)
			return false
		}
		s.logger.Debug("key not handled", zap.String("key", name), zap.Error(err))
	}
	return false
}

// command runs a ":" command line and reports whether it asked to quit.
func (s *Screen) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "q", "quit":
		return true
	case "cd":
		dir := s.Cwd()
		if len(fields) > 1 {
			dir = fields[1]
		}
		s.Chdir(dir)
	case "tab":
		if len(fields) < 2 {
			s.Notify(host.LevelInfo, "tab "+strconv.Itoa(s.mgr.Tab()))
			return false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			s.Notify(host.LevelError, "tab: "+err.Error())
			return false
		}
		s.mu.Lock()
		s.tab = n
		s.mu.Unlock()
		s.emit(events.TopicTabEntered, events.Tab{ID: n})
	case "tabclose":
		s.mu.Lock()
		closed := s.tab
		s.tab = 0
		s.mu.Unlock()
		if closed == 0 {
			s.Notify(host.LevelWarn, "cannot close the first tab")
			return false
		}
		s.emit(events.TopicTabEntered, events.Tab{ID: 0})
		s.emit(events.TopicTabClosed, events.Tab{ID: closed})
	case "search":
		p, ok := s.mgr.Current().Panel("files")
		f, isFiles := p.(*panel.Files)
		if !ok || !isFiles {
			s.Notify(host.LevelError, "files panel is not open")
			return false
		}
		if err := f.Search(ctx, strings.Join(fields[1:], " ")); err != nil {
			s.Notify(host.LevelError, "search: "+err.Error())
		}
	default:
		// Execute notifies the host itself.
		if err := s.mgr.Execute(ctx, line); err != nil && !errors.Is(err, sidebar.ErrInvalidCommand) {
			s.logger.Debug("command failed", zap.String("line", line), zap.Error(err))
		}
	}
	return false
}

// paint draws one frame: left column, preview, right column and the
// status line.
func (s *Screen) paint() {
	s.screen.Clear()
	w, h := s.screen.Size()
	if w <= 0 || h <= 1 {
		s.screen.Show()
		return
	}

	var layout sidebar.Layout
	var focused panel.Panel
	if s.mgr != nil {
		sb := s.mgr.Current()
		layout = sb.Layout()
		focused, _ = sb.Focused()
	}

	shown := make(map[string]bool)
	left, right := 0, w
	if len(layout.Left.Panels) > 0 {
		cw := min(layout.Left.Width, w)
		s.paintColumn(0, cw, h-1, layout.Left.Panels, focused, shown)
		left = cw
		s.vline(left, h-1)
		left++
	}
	if len(layout.Right.Panels) > 0 && right-layout.Right.Width > left {
		right -= layout.Right.Width
		s.paintColumn(right, layout.Right.Width, h-1, layout.Right.Panels, focused, shown)
		s.vline(right-1, h-1)
		right--
	}
	s.paintPreview(left, right, h-1)

	s.mu.Lock()
	s.shown = shown
	st := s.status
	s.mu.Unlock()
	hl := render.HLNormal
	switch st.level {
	case host.LevelError:
		hl = render.HLDiagError
	case host.LevelWarn:
		hl = render.HLDiagWarning
	}
	s.text(0, h-1, w, st.msg, s.style(hl, false))
	s.screen.Show()
}

func (s *Screen) paintColumn(x, width, height int, panels []panel.Panel, focused panel.Panel, shown map[string]bool) {
	n := len(panels)
	y := 0
	for i, p := range panels {
		rows := height / n
		if i == n-1 {
			rows = height - y
		}
		if rows < 2 {
			continue
		}
		title := s.style(render.HLRootName, false).Reverse(p == focused)
		s.text(x, y, width, " "+p.Name()+" ", title)
		s.paintLines(x, y+1, width, rows-1, p.ID())
		shown[p.ID()] = true
		y += rows
	}
}

// paintLines draws a panel's last lines, scrolled so the cursor stays in
// view.
func (s *Screen) paintLines(x, y, width, rows int, id string) {
	s.mu.Lock()
	pl, ok := s.panels[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	switch {
	case pl.cursor < pl.offset:
		pl.offset = pl.cursor
	case pl.cursor >= pl.offset+rows:
		pl.offset = pl.cursor - rows + 1
	}
	lines, cursor, offset := pl.lines, pl.cursor, pl.offset
	s.mu.Unlock()

	for row := 0; row < rows && offset+row < len(lines); row++ {
		i := offset + row
		selected := i == cursor
		cx := x
		for _, seg := range lines[i].Segments(width) {
			cx = s.text(cx, y+row, x+width-cx, seg.Text, s.style(seg.Highlight, selected))
		}
		if selected {
			s.fill(cx, y+row, x+width-cx, s.style(render.HLNormal, true))
		}
	}
}

func (s *Screen) paintPreview(left, right, height int) {
	if right-left < 4 {
		return
	}
	s.mu.Lock()
	lines := append([]string(nil), s.preview...)
	s.mu.Unlock()
	if len(lines) == 0 {
		lines = []string{s.Cwd(), "", helpText}
	}
	for i, l := range lines {
		if i >= height {
			break
		}
		s.text(left+1, i, right-left-1, l, s.style(render.HLNormal, false))
	}
}

func (s *Screen) paintPrompt(msg, text string) {
	s.paint()
	w, h := s.screen.Size()
	line := msg + " " + text
	if msg == ":" {
		line = ":" + text
	}
	s.fill(0, h-1, w, tcell.StyleDefault)
	end := s.text(0, h-1, w, line, tcell.StyleDefault)
	s.screen.ShowCursor(end, h-1)
	s.screen.Show()
	s.screen.HideCursor()
}

func (s *Screen) vline(x, height int) {
	st := s.style(render.HLIndent, false)
	for y := 0; y < height; y++ {
		s.screen.SetContent(x, y, '│', nil, st)
	}
}

func (s *Screen) fill(x, y, width int, st tcell.Style) {
	for i := 0; i < width; i++ {
		s.screen.SetContent(x+i, y, ' ', nil, st)
	}
}

// text draws str from x, clipped to width cells, and returns the column
// after the last cell drawn.
func (s *Screen) text(x, y, width int, str string, st tcell.Style) int {
	end := x + width
	g := uniseg.NewGraphemes(str)
	for g.Next() {
		runes := g.Runes()
		w := g.Width()
		if w == 0 {
			continue
		}
		if x+w > end {
			break
		}
		s.screen.SetContent(x, y, runes[0], runes[1:], st)
		x += w
	}
	return x
}
