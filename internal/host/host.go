// Package host defines what the explorer needs from the editor that embeds
// it: buffers and working directory, notifications and prompts, a place to
// draw panel lines, and a stream of lifecycle events.
package host

import (
	"context"
	"fmt"

	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/event/topic"
)

// Level is a notification level.
type Level int

// Notification levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Buffer is an editor buffer.
type Buffer = events.Buffer

// Position is a zero-based location in a document.
type Position struct {
	Line      int
	Character int
}

// Host is the editor surface used by panels.
type Host interface {
	// Cwd returns the working directory of the current tab.
	Cwd() string
	// CurrentBuffer returns the buffer in the current window.
	CurrentBuffer() (Buffer, bool)
	// Buffers returns every listed buffer.
	Buffers() []Buffer
	// Notify shows a message to the user.
	Notify(level Level, msg string)
	// Prompt asks for a line of input. ok is false when the user cancelled.
	Prompt(ctx context.Context, msg, def string) (answer string, ok bool)
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, msg string) bool
	// Open opens path in the editor and moves the cursor to pos.
	Open(path string, pos Position) error
}

// View displays panel lines.
type View interface {
	// Draw replaces the panel's lines and places the cursor on a line index.
	Draw(panelID string, lines []string, cursor int)
	// Visible reports whether the panel is currently shown in a window.
	Visible(panelID string) bool
}

// EventSource delivers host lifecycle events. On registers fn for t and
// returns a function that removes the registration.
type EventSource interface {
	On(t topic.Topic, fn func(payload any)) (cancel func())
}
