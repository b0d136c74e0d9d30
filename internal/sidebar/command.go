package sidebar

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dshills/sidetree/internal/config"
)

// Verb is what a command does to a panel.
type Verb uint8

// Command verbs.
const (
	VerbOpen Verb = iota
	VerbClose
	VerbToggle
)

func (v Verb) String() string {
	switch v {
	case VerbOpen:
		return "open"
	case VerbClose:
		return "close"
	case VerbToggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// Sides a panel can be placed on.
const (
	SideLeft  = "left"
	SideRight = "right"
)

// CurrentFile is the path argument naming the current buffer's file.
const CurrentFile = "%"

// ErrInvalidCommand is returned for a command line that does not parse.
var ErrInvalidCommand = errors.New("invalid command")

// Command is a parsed sidebar command:
//
//	open|close|toggle [panel] [path|%] [focus] [position=left|right] [size=N]
type Command struct {
	Verb Verb
	// Panel is empty for the first configured panel.
	Panel string
	// Path is a directory or file to show, CurrentFile, or empty.
	Path     string
	Focus    bool
	Position string
	// Size is the column width, zero for the configured width.
	Size int
}

func (c Command) String() string {
	parts := []string{c.Verb.String()}
	if c.Panel != "" {
		parts = append(parts, c.Panel)
	}
	if c.Path != "" {
		parts = append(parts, c.Path)
	}
	if c.Focus {
		parts = append(parts, "focus")
	}
	if c.Position != "" {
		parts = append(parts, "position="+c.Position)
	}
	if c.Size > 0 {
		parts = append(parts, "size="+strconv.Itoa(c.Size))
	}
	return strings.Join(parts, " ")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}

// ParseCommand parses a command line. Arguments after the verb may come in
// any order; a word that is neither a panel name nor a keyword is the path.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, invalid("empty command")
	}
	var cmd Command
	switch strings.ToLower(fields[0]) {
	case "open":
		cmd.Verb = VerbOpen
	case "close":
		cmd.Verb = VerbClose
	case "toggle":
		cmd.Verb = VerbToggle
	default:
		return Command{}, invalid("unknown verb %q", fields[0])
	}

	for _, f := range fields[1:] {
		key, value, hasValue := strings.Cut(f, "=")
		switch {
		case hasValue && key == "position":
			if value != SideLeft && value != SideRight {
				return Command{}, invalid("position must be left or right, got %q", value)
			}
			cmd.Position = value
		case hasValue && key == "size":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return Command{}, invalid("size must be a positive integer, got %q", value)
			}
			cmd.Size = n
		case f == "focus":
			cmd.Focus = true
		case slices.Contains(config.PanelNames, f):
			if cmd.Panel != "" {
				return Command{}, invalid("more than one panel: %q and %q", cmd.Panel, f)
			}
			cmd.Panel = f
		case hasValue && !strings.ContainsAny(key, `/\.~`):
			return Command{}, invalid("unknown option %q", key)
		default:
			if cmd.Path != "" {
				return Command{}, invalid("more than one path: %q and %q", cmd.Path, f)
			}
			cmd.Path = f
		}
	}
	return cmd, nil
}
