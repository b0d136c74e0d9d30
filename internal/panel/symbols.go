package panel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/lsp"
	"github.com/dshills/sidetree/internal/tree"
)

// CallHierarchyFunc shows the call hierarchy at pos in path.
type CallHierarchyFunc func(ctx context.Context, path string, pos host.Position, incoming bool) error

// SymbolsConfig configures the symbols panel.
type SymbolsConfig struct {
	Mappings map[string]string
	// CallHierarchy opens the call hierarchy panel for the symbol under
	// the cursor. The call hierarchy actions fail when it is nil.
	CallHierarchy CallHierarchyFunc
}

// DefaultSymbolsMappings are the symbols panel key bindings.
var DefaultSymbolsMappings = map[string]string{
	"<CR>":  "open",
	"o":     "open",
	"<Tab>": "toggle",
	"R":     "refresh",
	"W":     "collapse_all",
	"i":     "incoming_calls",
	"O":     "outgoing_calls",
	"j":     "cursor_down",
	"k":     "cursor_up",
}

// Placeholder texts.
const (
	textNoClient = "No LSP client attached"
	textNoBuffer = "No buffer"
)

// Symbols shows the document symbols of the current buffer. One tree is
// kept per file so switching back and forth keeps expansion.
type Symbols struct {
	*base
	cfg SymbolsConfig

	smu   sync.Mutex
	path  string
	cache map[string]*tree.Tree
	dirty map[string]bool
}

// NewSymbols creates the symbols panel.
func NewSymbols(d Deps, cfg SymbolsConfig) *Symbols {
	s := &Symbols{
		base:  newBase("symbols", d),
		cfg:   cfg,
		cache: make(map[string]*tree.Tree),
		dirty: make(map[string]bool),
	}
	s.load = s.loadSymbols
	s.register("open", s.open)
	s.register("incoming_calls", func(ctx context.Context) error { return s.callHierarchy(ctx, true) })
	s.register("outgoing_calls", func(ctx context.Context) error { return s.callHierarchy(ctx, false) })
	s.bind(DefaultSymbolsMappings, cfg.Mappings)
	return s
}

// Open shows the symbols of the current buffer.
func (s *Symbols) Open(ctx context.Context) error {
	path := ""
	if s.d.Host != nil {
		if buf, ok := s.d.Host.CurrentBuffer(); ok && !buf.Terminal {
			path = buf.Path
		}
	}
	s.subscribe(events.TopicLSPAttach, s.onAttach)
	s.subscribe(events.TopicBufWritten, s.onWritten)
	s.subscribe(events.TopicBufDeleted, s.onDeleted)

	s.switchTo(path)
	return s.Refresh(ctx)
}

// File returns the file whose symbols are shown.
func (s *Symbols) File() string {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.path
}

// switchTo makes path's tree current and reports whether it needs a load.
func (s *Symbols) switchTo(path string) bool {
	if path != "" {
		path = filepath.Clean(path)
	}
	s.smu.Lock()
	s.path = path
	t, ok := s.cache[path]
	stale := !ok || s.dirty[path]
	if !ok {
		t = tree.NewRooted(s.treeConfig(), rootPath(path), tree.KindSymbol, tree.SymbolInfo{LSPKind: int(lsp.SymbolKindFile)})
		if path != "" {
			s.cache[path] = t
		}
	}
	s.smu.Unlock()
	s.setTree(t, true)
	return stale
}

func rootPath(path string) string {
	if path == "" {
		return string(filepath.Separator)
	}
	return path
}

// Follow shows the symbols of path, loading them when not cached.
func (s *Symbols) Follow(ctx context.Context, path string) {
	if path == "" || filepath.Clean(path) == s.File() {
		return
	}
	if s.switchTo(path) {
		s.refreshAsync()
		return
	}
	s.Redraw()
}

func (s *Symbols) loadSymbols(ctx context.Context) error {
	path := s.File()
	t := s.Tree()
	root := t.Root()
	if path == "" {
		return s.placeholder(t, textNoBuffer)
	}
	var client lsp.Client
	if s.d.LSP != nil {
		if c, ok := s.d.LSP.ClientFor(path); ok {
			client = c
		}
	}
	if client == nil {
		return s.placeholder(t, textNoClient)
	}

	syms, err := lsp.DocumentSymbols(ctx, client, path)
	if err != nil {
		return err
	}
	if err := t.ReplaceChildren(root.ID, symbolItems(path, syms)); err != nil {
		return err
	}
	s.smu.Lock()
	delete(s.dirty, path)
	s.smu.Unlock()
	s.logger.Debug("symbols loaded", logging.Path(path), zap.Int("nodes", t.Len()))
	return t.Expand(ctx, root.ID, tree.ExpandOptions{})
}

func (s *Symbols) placeholder(t *tree.Tree, text string) error {
	root := t.Root()
	if err := t.ReplaceChildren(root.ID, []tree.Item{placeholder(root.Path, text)}); err != nil {
		return err
	}
	return t.Expand(context.Background(), root.ID, tree.ExpandOptions{})
}

// symbolItems converts symbols to items. A symbol's path is its parent's
// path plus its escaped name and position, which keeps it stable across
// reloads while the symbol does not move.
func symbolItems(parent string, syms []lsp.DocumentSymbol) []tree.Item {
	items := make([]tree.Item, 0, len(syms))
	for _, sym := range syms {
		sel := sym.SelectionRange
		path := fmt.Sprintf("%s/%s@%d:%d", parent, url.PathEscape(sym.Name), sel.Start.Line, sel.Start.Character)
		items = append(items, tree.Item{
			Path: path,
			Name: sym.Name,
			Kind: tree.KindSymbol,
			Payload: tree.SymbolInfo{
				LSPKind:    int(sym.Kind),
				Range:      treeRange(sym.Range),
				Selection:  treeRange(sel),
				Detail:     sym.Detail,
				Deprecated: sym.Deprecated,
			},
			Children: symbolItems(path, sym.Children),
		})
	}
	return items
}

func treeRange(r lsp.Range) tree.Range {
	return tree.Range{
		StartLine:      r.Start.Line,
		StartCharacter: r.Start.Character,
		EndLine:        r.End.Line,
		EndCharacter:   r.End.Character,
	}
}

func lspRange(r tree.Range) lsp.Range {
	return lsp.Range{
		Start: lsp.Position{Line: r.StartLine, Character: r.StartCharacter},
		End:   lsp.Position{Line: r.EndLine, Character: r.EndCharacter},
	}
}

func (s *Symbols) onAttach(ev event.Event) {
	at, ok := ev.Payload.(events.LSPAttach)
	if !ok {
		return
	}
	if filepath.Clean(at.Path) == s.File() {
		s.refreshAsync()
		return
	}
	s.invalidate(at.Path)
}

func (s *Symbols) onWritten(ev event.Event) {
	buf, ok := ev.Payload.(events.Buffer)
	if !ok || buf.Path == "" {
		return
	}
	if filepath.Clean(buf.Path) == s.File() {
		s.refreshAsync()
		return
	}
	s.invalidate(buf.Path)
}

// onDeleted drops the cached tree of a deleted buffer.
func (s *Symbols) onDeleted(ev event.Event) {
	buf, ok := ev.Payload.(events.Buffer)
	if !ok || buf.Path == "" {
		return
	}
	path := filepath.Clean(buf.Path)
	s.smu.Lock()
	t := s.cache[path]
	if path == s.path {
		t = nil
	} else {
		delete(s.cache, path)
		delete(s.dirty, path)
	}
	s.smu.Unlock()
	if t != nil {
		t.Close()
	}
}

func (s *Symbols) invalidate(path string) {
	path = filepath.Clean(path)
	s.smu.Lock()
	if _, ok := s.cache[path]; ok {
		s.dirty[path] = true
	}
	s.smu.Unlock()
}

// Cached returns the files with a cached symbol tree.
func (s *Symbols) Cached() int {
	s.smu.Lock()
	defer s.smu.Unlock()
	return len(s.cache)
}

func (s *Symbols) symbolAtCursor() (*tree.Node, tree.SymbolInfo, error) {
	n, err := s.cursorNode()
	if err != nil {
		return nil, tree.SymbolInfo{}, err
	}
	info, ok := tree.As[tree.SymbolInfo](n)
	if !ok || n.Parent == 0 {
		return nil, tree.SymbolInfo{}, ErrNoSelection
	}
	return n, info, nil
}

func (s *Symbols) open(context.Context) error {
	_, info, err := s.symbolAtCursor()
	if errors.Is(err, ErrNoSelection) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.openFile(s.File(), host.Position{Line: info.Selection.StartLine, Character: info.Selection.StartCharacter})
}

func (s *Symbols) callHierarchy(ctx context.Context, incoming bool) error {
	if s.cfg.CallHierarchy == nil {
		return errors.New("call hierarchy panel is not available")
	}
	_, info, err := s.symbolAtCursor()
	if err != nil {
		return err
	}
	pos := host.Position{Line: info.Selection.StartLine, Character: info.Selection.StartCharacter}
	return s.cfg.CallHierarchy(ctx, s.File(), pos, incoming)
}

// Delete closes every cached tree.
func (s *Symbols) Delete() {
	s.base.Delete()
	s.smu.Lock()
	cached := s.cache
	s.cache = make(map[string]*tree.Tree)
	s.smu.Unlock()
	for _, t := range cached {
		t.Close()
	}
}
