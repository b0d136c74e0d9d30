package host

import (
	"context"
	"sync"

	"github.com/dshills/sidetree/internal/event/topic"
)

// Fake is an in-memory Host, View and EventSource for tests and headless
// use. Prompts are answered from queued replies.
type Fake struct {
	mu       sync.Mutex
	cwd      string
	current  *Buffer
	buffers  []Buffer
	notes    []Note
	replies  []string
	confirms []bool
	opened   []string
	draws    map[string][]Draw
	visible  map[string]bool
	handlers map[topic.Topic]map[int]func(any)
	nextID   int
}

// Note is a recorded notification.
type Note struct {
	Level Level
	Msg   string
}

// Draw is a recorded View.Draw call.
type Draw struct {
	Lines  []string
	Cursor int
}

// NewFake creates a fake host with cwd as its working directory.
func NewFake(cwd string) *Fake {
	return &Fake{
		cwd:      cwd,
		draws:    make(map[string][]Draw),
		visible:  make(map[string]bool),
		handlers: make(map[topic.Topic]map[int]func(any)),
	}
}

// SetCwd changes the working directory.
func (f *Fake) SetCwd(dir string) {
	f.mu.Lock()
	f.cwd = dir
	f.mu.Unlock()
}

// SetBuffers replaces the buffer list. current indexes the current buffer,
// or -1 for none.
func (f *Fake) SetBuffers(bufs []Buffer, current int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = append([]Buffer(nil), bufs...)
	f.current = nil
	if current >= 0 && current < len(bufs) {
		b := bufs[current]
		f.current = &b
	}
}

// QueueReply queues an answer for the next Prompt. Use QueueCancel for a
// cancelled prompt.
func (f *Fake) QueueReply(s string) {
	f.mu.Lock()
	f.replies = append(f.replies, s)
	f.mu.Unlock()
}

// QueueCancel makes the next Prompt report cancellation.
func (f *Fake) QueueCancel() { f.QueueReply("\x00") }

// QueueConfirm queues an answer for the next Confirm.
func (f *Fake) QueueConfirm(yes bool) {
	f.mu.Lock()
	f.confirms = append(f.confirms, yes)
	f.mu.Unlock()
}

// SetVisible marks a panel as shown or hidden.
func (f *Fake) SetVisible(panelID string, v bool) {
	f.mu.Lock()
	f.visible[panelID] = v
	f.mu.Unlock()
}

// Cwd implements Host.
func (f *Fake) Cwd() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd
}

// CurrentBuffer implements Host.
func (f *Fake) CurrentBuffer() (Buffer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return Buffer{}, false
	}
	return *f.current, true
}

// Buffers implements Host.
func (f *Fake) Buffers() []Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Buffer(nil), f.buffers...)
}

// Notify implements Host.
func (f *Fake) Notify(level Level, msg string) {
	f.mu.Lock()
	f.notes = append(f.notes, Note{Level: level, Msg: msg})
	f.mu.Unlock()
}

// Prompt implements Host.
func (f *Fake) Prompt(_ context.Context, _, def string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return def, false
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r == "\x00" {
		return "", false
	}
	return r, true
}

// Confirm implements Host.
func (f *Fake) Confirm(context.Context, string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.confirms) == 0 {
		return false
	}
	c := f.confirms[0]
	f.confirms = f.confirms[1:]
	return c
}

// Open implements Host.
func (f *Fake) Open(path string, _ Position) error {
	f.mu.Lock()
	f.opened = append(f.opened, path)
	f.mu.Unlock()
	return nil
}

// Draw implements View.
func (f *Fake) Draw(panelID string, lines []string, cursor int) {
	f.mu.Lock()
	f.draws[panelID] = append(f.draws[panelID], Draw{Lines: append([]string(nil), lines...), Cursor: cursor})
	f.mu.Unlock()
}

// Visible implements View.
func (f *Fake) Visible(panelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible[panelID]
}

// On implements EventSource.
func (f *Fake) On(t topic.Topic, fn func(any)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.handlers[t] == nil {
		f.handlers[t] = make(map[int]func(any))
	}
	f.handlers[t][id] = fn
	return func() {
		f.mu.Lock()
		delete(f.handlers[t], id)
		f.mu.Unlock()
	}
}

// Emit delivers a host event to registered handlers.
func (f *Fake) Emit(t topic.Topic, payload any) {
	f.mu.Lock()
	fns := make([]func(any), 0, len(f.handlers[t]))
	for _, fn := range f.handlers[t] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

// Registrations returns the number of handlers registered for t.
func (f *Fake) Registrations(t topic.Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[t])
}

// Notes returns recorded notifications.
func (f *Fake) Notes() []Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Note(nil), f.notes...)
}

// Draws returns recorded draws for a panel.
func (f *Fake) Draws(panelID string) []Draw {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Draw(nil), f.draws[panelID]...)
}

// LastDraw returns the most recent draw for a panel.
func (f *Fake) LastDraw(panelID string) (Draw, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.draws[panelID]
	if len(d) == 0 {
		return Draw{}, false
	}
	return d[len(d)-1], true
}

// Opened returns the paths passed to Open.
func (f *Fake) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

var (
	_ Host        = (*Fake)(nil)
	_ View        = (*Fake)(nil)
	_ EventSource = (*Fake)(nil)
)
