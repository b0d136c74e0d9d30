package lsp

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Client performs one request against a language server and returns the
// raw JSON result. A nil result with a nil error means "null".
type Client interface {
	Name() string
	Request(ctx context.Context, method string, params []byte) ([]byte, error)
}

// Provider finds the client serving a file.
type Provider interface {
	ClientFor(path string) (Client, bool)
}

// DocumentSymbols requests the symbols of path.
func DocumentSymbols(ctx context.Context, c Client, path string) ([]DocumentSymbol, error) {
	raw, err := c.Request(ctx, MethodDocumentSymbol, DocumentSymbolParams(FilePathToURI(path)))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.Name(), MethodDocumentSymbol, err)
	}
	return ParseDocumentSymbols(raw)
}

// PrepareCallHierarchy resolves the call hierarchy items at pos in path.
func PrepareCallHierarchy(ctx context.Context, c Client, path string, pos Position) ([]CallHierarchyItem, error) {
	raw, err := c.Request(ctx, MethodPrepareCallHierarchy, PositionParams(FilePathToURI(path), pos))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.Name(), MethodPrepareCallHierarchy, err)
	}
	return ParseCallHierarchyItems(raw)
}

// Calls requests the incoming or outgoing calls of item.
func Calls(ctx context.Context, c Client, item CallHierarchyItem, incoming bool) ([]Call, error) {
	method := MethodOutgoingCalls
	if incoming {
		method = MethodIncomingCalls
	}
	params, err := CallsParams(item)
	if err != nil {
		return nil, err
	}
	raw, err := c.Request(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.Name(), method, err)
	}
	return ParseCalls(raw, incoming)
}

// Registry maps files to the clients attached to them. Attachments are
// made per file; a directory attachment covers every file below it.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Attach serves path (a file, or a directory root) with c.
func (r *Registry) Attach(path string, c Client) {
	r.mu.Lock()
	r.clients[filepath.Clean(path)] = c
	r.mu.Unlock()
}

// Detach removes the attachment for path.
func (r *Registry) Detach(path string) {
	r.mu.Lock()
	delete(r.clients, filepath.Clean(path))
	r.mu.Unlock()
}

// ClientFor returns the client attached to path or to its nearest
// attached ancestor.
func (r *Registry) ClientFor(path string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := filepath.Clean(path)
	for {
		if c, ok := r.clients[p]; ok {
			return c, true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil, false
		}
		p = parent
	}
}

// Paths returns the attached paths, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
