// Package config defines the sidebar configuration, its defaults, and how
// it is loaded.
//
// Configuration comes from three places, later ones winning: built-in
// defaults, one TOML or YAML file chosen by extension, and SIDETREE_*
// environment variables. A missing file is not an error.
package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/render"
	"github.com/dshills/sidetree/internal/tree"
)

// Panel names.
const (
	PanelFiles         = "files"
	PanelGitStatus     = "git_status"
	PanelBuffers       = "buffers"
	PanelSymbols       = "symbols"
	PanelCallHierarchy = "call_hierarchy"
)

// PanelNames lists every panel in default order.
var PanelNames = []string{PanelFiles, PanelGitStatus, PanelBuffers, PanelSymbols, PanelCallHierarchy}

// Duration is a time.Duration read from "200ms"-style strings. A bare
// integer is taken as milliseconds.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return fmt.Errorf("invalid duration %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML accepts any scalar, including bare integers.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	return d.UnmarshalText([]byte(n.Value))
}

// Config is the whole configuration.
type Config struct {
	Sidebar     Sidebar                     `toml:"sidebar" yaml:"sidebar"`
	Panels      map[string]Panel            `toml:"panels" yaml:"panels"`
	Renderers   render.Config               `toml:"renderers" yaml:"renderers"`
	Theme       map[string]render.StyleSpec `toml:"theme" yaml:"theme"`
	Git         Git                         `toml:"git" yaml:"git"`
	Search      Search                      `toml:"search" yaml:"search"`
	Filter      Filter                      `toml:"filter" yaml:"filter"`
	Sort        Sort                        `toml:"sort" yaml:"sort"`
	Watcher     Watcher                     `toml:"watcher" yaml:"watcher"`
	Diagnostics Diagnostics                 `toml:"diagnostics" yaml:"diagnostics"`
	Logging     logging.Config              `toml:"logging" yaml:"logging"`
	Metrics     Metrics                     `toml:"metrics" yaml:"metrics"`
}

// Sidebar places panels.
type Sidebar struct {
	// Left and Right list panel names per side, top to bottom.
	Left  []string `toml:"left" yaml:"left"`
	Right []string `toml:"right" yaml:"right"`
	// Position is the side a panel opens on when it is in neither list.
	Position string `toml:"position" yaml:"position"`
	Width    int    `toml:"width" yaml:"width"`
	// Follow moves the files cursor to the current buffer's file.
	Follow bool `toml:"follow" yaml:"follow"`
}

// Panel holds per-panel settings.
type Panel struct {
	// Mappings binds keys to panel action names.
	Mappings map[string]string `toml:"mappings" yaml:"mappings"`
}

// Git configures the repository cache.
type Git struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// PollInterval re-reads status periodically. Zero disables polling.
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	Yadm         bool     `toml:"yadm" yaml:"yadm"`
	ShowIgnored  bool     `toml:"show_ignored" yaml:"show_ignored"`
	// Untracked is passed to --untracked-files: no, normal or all.
	Untracked string   `toml:"untracked" yaml:"untracked"`
	Timeout   Duration `toml:"timeout" yaml:"timeout"`
}

// Search configures the files panel search.
type Search struct {
	Command    string   `toml:"command" yaml:"command"`
	Args       []string `toml:"args" yaml:"args"`
	Hidden     bool     `toml:"hidden" yaml:"hidden"`
	MaxResults int      `toml:"max_results" yaml:"max_results"`
	Timeout    Duration `toml:"timeout" yaml:"timeout"`
}

// Filter hides entries from the files panel.
type Filter struct {
	HideDotfiles   bool     `toml:"hide_dotfiles" yaml:"hide_dotfiles"`
	HideGitignored bool     `toml:"hide_gitignored" yaml:"hide_gitignored"`
	HideNames      []string `toml:"hide_names" yaml:"hide_names"`
	HideGlobs      []string `toml:"hide_globs" yaml:"hide_globs"`
	AlwaysShow     []string `toml:"always_show" yaml:"always_show"`
	// Lua names a script returning a predicate function(node) -> bool.
	Lua string `toml:"lua" yaml:"lua"`
}

// Sort orders directory children.
type Sort struct {
	By               string `toml:"by" yaml:"by"`
	DirectoriesFirst bool   `toml:"directories_first" yaml:"directories_first"`
	CaseSensitive    bool   `toml:"case_sensitive" yaml:"case_sensitive"`
}

// Options converts s to tree sort options.
func (s Sort) Options() tree.SortOptions {
	by, _ := tree.ParseSortBy(s.By)
	return tree.SortOptions{By: by, DirectoriesFirst: s.DirectoriesFirst, CaseSensitive: s.CaseSensitive}
}

// Watcher configures directory watching.
type Watcher struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled"`
	Debounce Duration `toml:"debounce" yaml:"debounce"`
	Exclude  []string `toml:"exclude" yaml:"exclude"`
}

// Diagnostics configures the diagnostics store.
type Diagnostics struct {
	Enabled   bool     `toml:"enabled" yaml:"enabled"`
	Debounce  Duration `toml:"debounce" yaml:"debounce"`
	Propagate bool     `toml:"propagate" yaml:"propagate"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `toml:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sidebar: Sidebar{
			Left:     []string{PanelFiles, PanelGitStatus, PanelBuffers},
			Right:    []string{PanelSymbols, PanelCallHierarchy},
			Position: "left",
			Width:    30,
			Follow:   true,
		},
		Panels:    map[string]Panel{},
		Renderers: render.DefaultConfig(),
		Theme:     map[string]render.StyleSpec{},
		Git: Git{
			Enabled:   true,
			Untracked: "normal",
			Timeout:   Duration(10 * time.Second),
		},
		Search: Search{
			MaxResults: 1000,
			Timeout:    Duration(10 * time.Second),
		},
		Filter: Filter{
			HideNames: []string{".git"},
		},
		Sort: Sort{By: "name", DirectoriesFirst: true},
		Watcher: Watcher{
			Enabled:  true,
			Debounce: Duration(200 * time.Millisecond),
		},
		Diagnostics: Diagnostics{
			Enabled:   true,
			Debounce:  Duration(500 * time.Millisecond),
			Propagate: true,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Mappings returns the key mappings configured for a panel.
func (c *Config) Mappings(panel string) map[string]string {
	return c.Panels[panel].Mappings
}

// Side returns the side a panel is placed on.
func (c *Config) Side(panel string) string {
	switch {
	case slices.Contains(c.Sidebar.Left, panel):
		return "left"
	case slices.Contains(c.Sidebar.Right, panel):
		return "right"
	}
	return c.Sidebar.Position
}

// Validate returns every problem in c.
func (c *Config) Validate() []error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	seen := make(map[string]string)
	sides := []struct {
		name   string
		panels []string
	}{{"left", c.Sidebar.Left}, {"right", c.Sidebar.Right}}
	for _, side := range sides {
		for _, name := range side.panels {
			if !slices.Contains(PanelNames, name) {
				add("sidebar.%s: unknown panel %q", side.name, name)
				continue
			}
			if prev, dup := seen[name]; dup {
				add("sidebar.%s: panel %q already placed on %s", side.name, name, prev)
			}
			seen[name] = side.name
		}
	}
	switch c.Sidebar.Position {
	case "left", "right":
	default:
		add("sidebar.position: want left or right, got %q", c.Sidebar.Position)
	}
	if c.Sidebar.Width <= 0 {
		add("sidebar.width: must be positive, got %d", c.Sidebar.Width)
	}

	for name := range c.Panels {
		if !slices.Contains(PanelNames, name) {
			add("panels: unknown panel %q", name)
		}
	}

	errs = append(errs, c.Renderers.Validate()...)
	for hl, spec := range c.Theme {
		if _, err := spec.Parse(); err != nil {
			add("theme.%s: %v", hl, err)
		}
	}

	switch c.Git.Untracked {
	case "no", "normal", "all":
	default:
		add("git.untracked: want no, normal or all, got %q", c.Git.Untracked)
	}
	if _, ok := tree.ParseSortBy(c.Sort.By); !ok {
		add("sort.by: want name, type or extension, got %q", c.Sort.By)
	}
	if c.Search.MaxResults < 0 {
		add("search.max_results: must not be negative")
	}
	for _, g := range c.Filter.HideGlobs {
		if _, err := filepath.Match(g, ""); err != nil {
			add("filter.hide_globs: %q: %v", g, err)
		}
	}
	for key, d := range map[string]Duration{
		"git.poll_interval":    c.Git.PollInterval,
		"git.timeout":          c.Git.Timeout,
		"search.timeout":       c.Search.Timeout,
		"watcher.debounce":     c.Watcher.Debounce,
		"diagnostics.debounce": c.Diagnostics.Debounce,
	} {
		if d < 0 {
			add("%s: must not be negative", key)
		}
	}
	errs = append(errs, c.Logging.Validate()...)
	return errs
}

// Check is Validate as a single error, nil when c is valid.
func (c *Config) Check() error {
	if errs := c.Validate(); len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}
