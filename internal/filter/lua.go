// Package filter compiles user Lua predicates that hide tree nodes.
//
// A predicate script is a Lua chunk that returns a function. The function
// receives a table describing the node and returns true to hide it:
//
//	return function(node)
//	  return node.kind == "file" and node.extension == "o"
//	end
//
// The table carries path, name, kind, extension, dir (boolean), executable,
// size and git (a flag string such as "unstaged|modified", or "" when the
// node has no repository).
package filter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/tree"
)

// DefaultTimeout bounds one predicate call.
const DefaultTimeout = 50 * time.Millisecond

var (
	// ErrNotFunction indicates the script did not return a function.
	ErrNotFunction = errors.New("filter script must return a function")

	// ErrClosed indicates the predicate has been closed.
	ErrClosed = errors.New("filter closed")
)

// Predicate is a compiled Lua filter. gopher-lua states are not safe for
// concurrent use; calls are serialized by mu.
type Predicate struct {
	mu      sync.Mutex
	L       *lua.LState
	fn      *lua.LFunction
	timeout time.Duration
	logger  *zap.Logger
	closed  bool
	failed  int
}

// Option configures a Predicate.
type Option func(*Predicate)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Predicate) { p.timeout = d }
}

// WithLogger sets the logger used for runtime errors.
func WithLogger(l *zap.Logger) Option {
	return func(p *Predicate) { p.logger = l }
}

// Compile runs src and keeps the function it returns.
func Compile(src string, opts ...Option) (*Predicate, error) {
	p := &Predicate{timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	if err := doWithRecovery(func() error { return L.DoString(src) }); err != nil {
		L.Close()
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	fn, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		L.Close()
		return nil, ErrNotFunction
	}
	p.L = L
	p.fn = fn
	return p, nil
}

// Load compiles the script at path.
func Load(path string, opts ...Option) (*Predicate, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter %s: %w", path, err)
	}
	return Compile(string(src), opts...)
}

// openSafeLibraries opens base, table, string and math. io, os, debug and
// package stay closed, and the loaders are removed from the globals.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Eval calls the predicate for n.
func (p *Predicate) Eval(n *tree.Node) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	p.L.SetContext(ctx)
	defer p.L.RemoveContext()

	arg := p.nodeTable(n)
	var hide bool
	err := doWithRecovery(func() error {
		if err := p.L.CallByParam(lua.P{Fn: p.fn, NRet: 1, Protect: true}, arg); err != nil {
			return err
		}
		hide = lua.LVAsBool(p.L.Get(-1))
		p.L.Pop(1)
		return nil
	})
	if err != nil {
		p.L.SetTop(0)
		return false, err
	}
	return hide, nil
}

// Hide is Eval with errors logged and treated as "show". It is the shape
// tree.Filter.Predicate expects.
func (p *Predicate) Hide(n *tree.Node) bool {
	hide, err := p.Eval(n)
	if err != nil {
		p.mu.Lock()
		p.failed++
		first := p.failed == 1
		p.mu.Unlock()
		if first {
			p.logger.Warn("filter predicate failed", zap.String("path", n.Path), zap.Error(err))
		} else {
			p.logger.Debug("filter predicate failed", zap.String("path", n.Path), zap.Error(err))
		}
		return false
	}
	return hide
}

// Failures returns the number of failed calls.
func (p *Predicate) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *Predicate) nodeTable(n *tree.Node) *lua.LTable {
	t := p.L.NewTable()
	t.RawSetString("path", lua.LString(n.Path))
	t.RawSetString("name", lua.LString(n.Name))
	t.RawSetString("kind", lua.LString(n.Kind.String()))
	t.RawSetString("dir", lua.LBool(n.IsDir()))
	if fi, ok := fileInfo(n); ok {
		t.RawSetString("extension", lua.LString(fi.Extension))
		t.RawSetString("executable", lua.LBool(fi.Executable))
		t.RawSetString("size", lua.LNumber(fi.Size))
	}
	if n.HasGitStatus() {
		t.RawSetString("git", lua.LString(n.GitFlags().String()))
	} else {
		t.RawSetString("git", lua.LString(""))
	}
	return t
}

func fileInfo(n *tree.Node) (tree.FileInfo, bool) {
	if fi, ok := tree.As[tree.FileInfo](n); ok {
		return fi, true
	}
	if bi, ok := tree.As[tree.BufferInfo](n); ok {
		return bi.FileInfo, true
	}
	if li, ok := tree.As[tree.LinkInfo](n); ok && !n.IsDir() {
		return li.File, true
	}
	return tree.FileInfo{}, false
}

// Close releases the Lua state.
func (p *Predicate) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.L.Close()
}
