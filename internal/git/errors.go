package git

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for git operations.
var (
	// ErrManagerClosed indicates the manager has been closed.
	ErrManagerClosed = errors.New("git manager closed")

	// ErrRepositoryClosed indicates the repository was swept or closed.
	ErrRepositoryClosed = errors.New("git repository closed")

	// ErrOutsideRepository indicates a path does not lie under the toplevel.
	ErrOutsideRepository = errors.New("path outside repository")

	// ErrMalformedStatus indicates git status output could not be parsed.
	ErrMalformedStatus = errors.New("malformed git status output")
)

// CommandError is returned when a git subprocess fails. Stderr holds the
// captured error output for notifications and logs.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }
