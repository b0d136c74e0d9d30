// Package render projects tree rows into display lines. A Pipeline holds,
// per node kind, an ordered list of components; each component turns a
// row into highlighted segments. Rendering is a pure function of the row
// and the pipeline's Env.
package render

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/tree"
)

// Segment is a run of text with one highlight.
type Segment struct {
	Text      string
	Highlight string
}

// Line is a rendered row: left-aligned segments, and segments pinned to
// the right edge when the pipeline has a width.
type Line struct {
	Left  []Segment
	Right []Segment
}

func segmentsText(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Width returns the display width of the unpadded line.
func (l Line) Width() int {
	w := uniseg.StringWidth(segmentsText(l.Left))
	if len(l.Right) > 0 {
		w += 1 + uniseg.StringWidth(segmentsText(l.Right))
	}
	return w
}

// Segments lays the line out in width columns. With width <= 0 the right
// segments follow the left ones after a space. Otherwise the left part is
// truncated with "…" so the right part fits, and the gap is padded.
func (l Line) Segments(width int) []Segment {
	if len(l.Right) == 0 && width <= 0 {
		return l.Left
	}
	right := uniseg.StringWidth(segmentsText(l.Right))
	out := make([]Segment, 0, len(l.Left)+len(l.Right)+1)
	if width <= 0 {
		out = append(out, l.Left...)
		out = append(out, Segment{Text: " "})
		return append(out, l.Right...)
	}

	avail := width
	if right > 0 {
		avail = width - right - 1
	}
	used := 0
	for _, s := range l.Left {
		w := uniseg.StringWidth(s.Text)
		if used+w <= avail {
			out = append(out, s)
			used += w
			continue
		}
		t := truncate(s.Text, avail-used)
		out = append(out, Segment{Text: t, Highlight: s.Highlight})
		used += uniseg.StringWidth(t)
		break
	}
	if right == 0 {
		return out
	}
	if pad := width - right - used; pad > 0 {
		out = append(out, Segment{Text: strings.Repeat(" ", pad)})
	}
	return append(out, l.Right...)
}

// Text is the plain text of Segments(width).
func (l Line) Text(width int) string { return segmentsText(l.Segments(width)) }

// truncate cuts s to at most w columns on a grapheme boundary, ending in
// "…" when anything was cut.
func truncate(s string, w int) string {
	if w <= 0 {
		return ""
	}
	if uniseg.StringWidth(s) <= w {
		return s
	}
	var b strings.Builder
	used := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		cw := g.Width()
		if used+cw > w-1 {
			break
		}
		b.WriteString(g.Str())
		used += cw
	}
	return b.String() + "…"
}

// Spec names a component and its options.
type Spec struct {
	Name    string  `toml:"name" yaml:"name"`
	Right   bool    `toml:"right" yaml:"right"`
	Options Options `toml:"options" yaml:"options"`
}

// Config maps kind names ("directory", "file", "symbol", ...) to component
// lists. The "default" list serves kinds without their own.
type Config map[string][]Spec

// DefaultConfig is the built-in layout.
func DefaultConfig() Config {
	file := []Spec{
		{Name: "indent"},
		{Name: "icon"},
		{Name: "name"},
		{Name: "target"},
		{Name: "mark"},
		{Name: "diagnostics", Right: true},
		{Name: "git_status", Right: true},
	}
	dir := []Spec{
		{Name: "indent"},
		{Name: "icon"},
		{Name: "name"},
		{Name: "mark"},
		{Name: "diagnostics", Right: true},
		{Name: "git_status", Right: true},
	}
	return Config{
		"default":    file,
		"directory":  dir,
		"git-status": dir,
		"buffer": {
			{Name: "indent"},
			{Name: "icon"},
			{Name: "name"},
			{Name: "modified"},
			{Name: "diagnostics", Right: true},
		},
		"symbol": {
			{Name: "indent"},
			{Name: "expander"},
			{Name: "icon"},
			{Name: "name"},
			{Name: "detail"},
		},
		"call-item": {
			{Name: "indent"},
			{Name: "expander"},
			{Name: "icon"},
			{Name: "name"},
			{Name: "detail"},
		},
		"placeholder": {{Name: "indent"}, {Name: "name"}},
	}
}

// Validate reports unknown component names and kinds.
func (c Config) Validate() []error {
	var errs []error
	for kind, specs := range c {
		if kind != "default" && !knownKind(kind) {
			errs = append(errs, fmt.Errorf("renderers: unknown node kind %q", kind))
		}
		for i, s := range specs {
			if !Known(s.Name) {
				errs = append(errs, fmt.Errorf("renderers.%s[%d]: unknown component %q", kind, i, s.Name))
			}
		}
	}
	return errs
}

var kinds = []tree.Kind{
	tree.KindDirectory, tree.KindFile, tree.KindSymlinkDir, tree.KindSymlinkFile,
	tree.KindFIFO, tree.KindSocket, tree.KindCharDevice, tree.KindBlockDevice,
	tree.KindGitStatus, tree.KindBuffer, tree.KindSymbol, tree.KindCallItem,
	tree.KindPlaceholder,
}

func knownKind(name string) bool {
	for _, k := range kinds {
		if k.String() == name {
			return true
		}
	}
	return false
}

type bound struct {
	name  string
	fn    Component
	right bool
	opts  Options
}

// Pipeline renders rows. It implements tree.Renderer.
type Pipeline struct {
	byKind map[tree.Kind][]bound
	env    Env
	width  int
	theme  Theme
	logger *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWidth pins right-aligned segments to column w.
func WithWidth(w int) Option { return func(p *Pipeline) { p.width = w } }

// WithEnv sets the component environment.
func WithEnv(env Env) Option { return func(p *Pipeline) { p.env = env } }

// WithTheme sets the theme used to check highlight names.
func WithTheme(t Theme) Option { return func(p *Pipeline) { p.theme = t } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New builds a pipeline. Unknown components are logged and left out; the
// remaining components still render.
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{byKind: make(map[tree.Kind][]bound), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := cfg["default"]
	if def == nil {
		def = DefaultConfig()["default"]
	}
	for _, k := range kinds {
		specs, ok := cfg[k.String()]
		if !ok {
			specs = def
		}
		p.byKind[k] = p.bind(k.String(), specs)
	}
	return p
}

func (p *Pipeline) bind(kind string, specs []Spec) []bound {
	out := make([]bound, 0, len(specs))
	for _, s := range specs {
		fn, ok := registry[s.Name]
		if !ok {
			p.logger.Error("unknown render component", zap.String("kind", kind), zap.String("component", s.Name))
			continue
		}
		out = append(out, bound{name: s.Name, fn: fn, right: s.Right, opts: s.Options})
	}
	return out
}

// SetEnv replaces the component environment.
func (p *Pipeline) SetEnv(env Env) { p.env = env }

// SetWidth changes the layout width.
func (p *Pipeline) SetWidth(w int) { p.width = w }

// Width returns the layout width.
func (p *Pipeline) Width() int { return p.width }

// Line renders row into segments. A component that panics is logged and
// skipped.
func (p *Pipeline) Line(row tree.Row) Line {
	var l Line
	for _, b := range p.byKind[row.Node.Kind] {
		segs := p.call(b, row)
		if p.theme != nil {
			for i := range segs {
				if _, ok := p.theme.Lookup(segs[i].Highlight); !ok {
					p.logger.Error("missing highlight", zap.String("highlight", segs[i].Highlight), zap.String("component", b.name))
					segs[i].Highlight = ""
				}
			}
		}
		if b.right {
			l.Right = append(l.Right, segs...)
		} else {
			l.Left = append(l.Left, segs...)
		}
	}
	return l
}

func (p *Pipeline) call(b bound, row tree.Row) (segs []Segment) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("render component panicked",
				zap.String("component", b.name),
				zap.String("path", row.Node.Path),
				zap.String("panic", fmt.Sprint(r)))
			segs = nil
		}
	}()
	return b.fn(p.env, row, b.opts)
}

// Render implements tree.Renderer.
func (p *Pipeline) Render(row tree.Row) string {
	return p.Line(row).Text(p.width)
}

// Lines renders rows.
func (p *Pipeline) Lines(rows []tree.Row) []Line {
	out := make([]Line, len(rows))
	for i, r := range rows {
		out[i] = p.Line(r)
	}
	return out
}

var _ tree.Renderer = (*Pipeline)(nil)
