// Package job runs external commands (git, search tools) to completion and
// captures their exit code, stdout and stderr.
//
// Every job carries a deadline. A job that exceeds it is killed and reported
// with ErrTimeout; callers treat that as a failed operation, never as fatal.
package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout is used when neither the Spec nor the Runner sets one.
const DefaultTimeout = 10 * time.Second

// Errors returned by Run.
var (
	ErrTimeout  = errors.New("job timed out")
	ErrNotFound = errors.New("command not found")
)

// State is the terminal state of a job.
type State int

const (
	// StateExited indicates the command ran and exited with status zero.
	StateExited State = iota
	// StateFailed indicates a non-zero exit.
	StateFailed
	// StateKilled indicates the job was killed at its deadline or on cancel.
	StateKilled
	// StateNotStarted indicates the command could not be started.
	StateNotStarted
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	case StateKilled:
		return "killed"
	case StateNotStarted:
		return "not-started"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Spec describes one command invocation.
type Spec struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Stdin   []byte
	Timeout time.Duration
}

// String renders the command line for logs and error messages.
func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	return s.Name + " " + strings.Join(s.Args, " ")
}

// Result is the outcome of a job.
type Result struct {
	ID       string
	State    State
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// ExitError is returned when a command exits with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, msg)
}

// Runner runs jobs.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner runs jobs with os/exec.
type ExecRunner struct {
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithTimeout sets the default deadline for jobs without their own.
func WithTimeout(d time.Duration) Option {
	return func(r *ExecRunner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *ExecRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes spec and waits for it to finish or hit its deadline.
//
// A non-zero exit returns the populated Result together with an *ExitError.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := Result{ID: uuid.New().String(), ExitCode: -1}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	// Grandchildren holding the pipes open must not outlive the deadline.
	cmd.WaitDelay = time.Second
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	log := r.logger.With(
		zap.String("job", res.ID),
		zap.String("cmd", spec.String()),
		zap.String("dir", spec.Dir),
		zap.Duration("elapsed", res.Duration),
	)

	switch {
	case err == nil:
		res.State = StateExited
		res.ExitCode = 0
		log.Debug("job finished")
		return res, nil

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.State = StateKilled
		log.Warn("job timed out", zap.Duration("timeout", timeout))
		return res, fmt.Errorf("%s: %w after %s", spec, ErrTimeout, timeout)

	case ctx.Err() != nil:
		res.State = StateKilled
		return res, fmt.Errorf("%s: %w", spec, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.State = StateFailed
		res.ExitCode = exitErr.ExitCode()
		log.Debug("job failed", zap.Int("code", res.ExitCode), zap.ByteString("stderr", res.Stderr))
		return res, &ExitError{Command: spec.String(), Code: res.ExitCode, Stderr: string(res.Stderr)}
	}

	res.State = StateNotStarted
	if errors.Is(err, exec.ErrNotFound) {
		return res, fmt.Errorf("%s: %w", spec.Name, ErrNotFound)
	}
	return res, fmt.Errorf("%s: %w", spec, err)
}

// LookPath reports whether name resolves to an executable in PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
