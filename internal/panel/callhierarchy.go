package panel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/lsp"
	"github.com/dshills/sidetree/internal/tree"
)

// CallHierarchyConfig configures the call hierarchy panel.
type CallHierarchyConfig struct {
	Mappings map[string]string
}

// DefaultCallHierarchyMappings are the call hierarchy key bindings.
var DefaultCallHierarchyMappings = map[string]string{
	"<CR>":  "open",
	"o":     "open",
	"<Tab>": "toggle",
	"l":     "expand",
	"h":     "collapse",
	"R":     "refresh",
	"s":     "switch_direction",
	"j":     "cursor_down",
	"k":     "cursor_up",
}

const (
	textNoHierarchy = "No call hierarchy"
	textNoItem      = "No callable symbol here"
)

// CallHierarchy shows the incoming or outgoing calls of one symbol. The
// calls of each item are requested when the item is first expanded.
type CallHierarchy struct {
	*base
	cfg CallHierarchyConfig

	qmu      sync.Mutex
	path     string
	pos      host.Position
	incoming bool
}

// NewCallHierarchy creates the call hierarchy panel.
func NewCallHierarchy(d Deps, cfg CallHierarchyConfig) *CallHierarchy {
	c := &CallHierarchy{base: newBase("call_hierarchy", d), cfg: cfg, incoming: true}
	c.load = c.loadHierarchy
	c.register("open", c.open)
	c.register("switch_direction", func(ctx context.Context) error {
		path, pos, incoming := c.query()
		return c.Show(ctx, path, pos, !incoming)
	})
	c.bind(DefaultCallHierarchyMappings, cfg.Mappings)
	return c
}

// Open shows an empty hierarchy until Show is called.
func (c *CallHierarchy) Open(ctx context.Context) error {
	return c.Refresh(ctx)
}

func (c *CallHierarchy) query() (string, host.Position, bool) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.path, c.pos, c.incoming
}

// Incoming reports whether incoming calls are shown.
func (c *CallHierarchy) Incoming() bool {
	_, _, in := c.query()
	return in
}

// Show resolves the symbol at pos in path and lists its calls.
func (c *CallHierarchy) Show(ctx context.Context, path string, pos host.Position, incoming bool) error {
	if path == "" {
		return ErrNoSelection
	}
	c.qmu.Lock()
	c.path, c.pos, c.incoming = filepath.Clean(path), pos, incoming
	c.qmu.Unlock()
	return c.Refresh(ctx)
}

func (c *CallHierarchy) loadHierarchy(ctx context.Context) error {
	path, pos, incoming := c.query()
	if path == "" {
		c.showText(string(filepath.Separator), textNoHierarchy)
		return nil
	}
	var client lsp.Client
	if c.d.LSP != nil {
		if cl, ok := c.d.LSP.ClientFor(path); ok {
			client = cl
		}
	}
	if client == nil {
		c.showText(path, textNoClient)
		return nil
	}

	items, err := lsp.PrepareCallHierarchy(ctx, client, path, lsp.Position{Line: pos.Line, Character: pos.Character})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		c.showText(path, textNoItem)
		return nil
	}

	item := items[0]
	cfg := c.treeConfig()
	cfg.Static = true
	cfg.Loader = c.loader(client, incoming)
	root := callItem(item.Path(), item, incoming)
	t := tree.NewRooted(cfg, root.Path, tree.KindCallItem, root.Payload)
	c.setTree(t, false)
	c.SetCursor(t.RootPath())
	c.logger.Debug("call hierarchy shown",
		logging.Path(path),
		zap.String("symbol", item.Name),
		zap.Bool("incoming", incoming))
	return t.Expand(ctx, t.Root().ID, tree.ExpandOptions{})
}

// showText replaces the tree with a single placeholder line.
func (c *CallHierarchy) showText(root, text string) {
	t := tree.New(c.treeConfig(), root)
	t.SetSparse([]tree.Item{placeholder(root, text)}, true)
	c.setTree(t, false)
}

// loader requests the calls of a node on first expansion.
func (c *CallHierarchy) loader(client lsp.Client, incoming bool) tree.Loader {
	return func(ctx context.Context, n *tree.Node) ([]tree.Item, error) {
		info, ok := tree.As[tree.CallInfo](n)
		if !ok {
			return nil, nil
		}
		calls, err := lsp.Calls(ctx, client, protocolItem(n.Name, info), incoming)
		if err != nil {
			c.logger.Warn("call request failed", zap.String("symbol", n.Name), zap.Error(err))
			return nil, err
		}
		items := make([]tree.Item, 0, len(calls))
		for _, call := range calls {
			it := callItem(n.Path, call.Item, incoming)
			items = append(items, it)
		}
		return items, nil
	}
}

// callItem converts a protocol item to a tree item below parent.
func callItem(parent string, item lsp.CallHierarchyItem, incoming bool) tree.Item {
	sel := item.SelectionRange
	key := fmt.Sprintf("%s@%s:%d:%d", item.Name, filepath.Base(item.Path()), sel.Start.Line, sel.Start.Character)
	return tree.Item{
		Path: parent + "/" + url.PathEscape(key),
		Name: item.Name,
		Kind: tree.KindCallItem,
		Payload: tree.CallInfo{
			SymbolInfo: tree.SymbolInfo{
				LSPKind:    int(item.Kind),
				Range:      treeRange(item.Range),
				Selection:  treeRange(sel),
				Detail:     item.Detail,
				Deprecated: item.Deprecated,
			},
			URI:      string(item.URI),
			Incoming: incoming,
			Item:     item.Raw,
		},
	}
}

func protocolItem(name string, info tree.CallInfo) lsp.CallHierarchyItem {
	return lsp.CallHierarchyItem{
		Name:           name,
		Detail:         info.Detail,
		Kind:           lsp.SymbolKind(info.LSPKind),
		URI:            lsp.DocumentURI(info.URI),
		Range:          lspRange(info.Range),
		SelectionRange: lspRange(info.Selection),
		Raw:            info.Item,
	}
}

func (c *CallHierarchy) open(ctx context.Context) error {
	n, err := c.cursorNode()
	if err != nil {
		return err
	}
	info, ok := tree.As[tree.CallInfo](n)
	if !ok {
		return nil
	}
	path := lsp.URIToFilePath(lsp.DocumentURI(info.URI))
	if path == "" {
		return errors.New("call item has no file")
	}
	return c.openFile(path, host.Position{Line: info.Selection.StartLine, Character: info.Selection.StartCharacter})
}
