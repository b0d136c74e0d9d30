package render

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Attribute is a set of text attributes.
type Attribute uint16

// Text attribute flags.
const (
	AttrNone Attribute = 0
	AttrBold Attribute = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrReverse
	AttrStrikethrough
)

// Has reports whether a contains attr.
func (a Attribute) Has(attr Attribute) bool { return a&attr != 0 }

var attrNames = map[string]Attribute{
	"bold":          AttrBold,
	"dim":           AttrDim,
	"italic":        AttrItalic,
	"underline":     AttrUnderline,
	"reverse":       AttrReverse,
	"strikethrough": AttrStrikethrough,
}

// Color is a true color or the terminal default.
type Color struct {
	R, G, B uint8
	Default bool
}

// ColorDefault is the terminal's default color.
var ColorDefault = Color{Default: true}

// ParseColor parses "#rgb", "#rrggbb" or "default".
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "default") {
		return ColorDefault, nil
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) == 4 {
		s = "#" + strings.Repeat(s[1:2], 2) + strings.Repeat(s[2:3], 2) + strings.Repeat(s[3:4], 2)
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return Color{R: r, G: g, B: b}, nil
}

// Hex returns "#RRGGBB", or "default".
func (c Color) Hex() string {
	if c.Default {
		return "default"
	}
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

func (c Color) colorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

// Blend mixes c toward other in Lab space. Amount 0 is c, 1 is other.
func (c Color) Blend(other Color, amount float64) Color {
	if c.Default || other.Default {
		if amount < 0.5 {
			return c
		}
		return other
	}
	r, g, b := c.colorful().BlendLab(other.colorful(), amount).Clamped().RGB255()
	return Color{R: r, G: g, B: b}
}

// Style is the visual style of a highlight group.
type Style struct {
	Foreground Color
	Background Color
	Attributes Attribute
}

// DefaultStyle uses the terminal defaults.
func DefaultStyle() Style {
	return Style{Foreground: ColorDefault, Background: ColorDefault}
}

// Merge overlays other on s. Non-default colors of other win; attributes
// are combined.
func (s Style) Merge(other Style) Style {
	if !other.Foreground.Default {
		s.Foreground = other.Foreground
	}
	if !other.Background.Default {
		s.Background = other.Background
	}
	s.Attributes |= other.Attributes
	return s
}

// StyleSpec is the configuration form of a Style.
type StyleSpec struct {
	Fg    string   `toml:"fg" yaml:"fg"`
	Bg    string   `toml:"bg" yaml:"bg"`
	Attrs []string `toml:"attrs" yaml:"attrs"`
}

// Parse converts a spec to a Style.
func (s StyleSpec) Parse() (Style, error) {
	st := DefaultStyle()
	var err error
	if st.Foreground, err = ParseColor(s.Fg); err != nil {
		return Style{}, err
	}
	if st.Background, err = ParseColor(s.Bg); err != nil {
		return Style{}, err
	}
	for _, a := range s.Attrs {
		attr, ok := attrNames[strings.ToLower(a)]
		if !ok {
			return Style{}, fmt.Errorf("unknown attribute %q", a)
		}
		st.Attributes |= attr
	}
	return st, nil
}

// Theme maps highlight names to styles.
type Theme map[string]Style

// Lookup returns the style for a highlight. ok is false for a name the
// theme does not define; the default style is returned then.
func (t Theme) Lookup(name string) (Style, bool) {
	if name == "" {
		return DefaultStyle(), true
	}
	s, ok := t[name]
	if !ok {
		return DefaultStyle(), false
	}
	return s, true
}

func mustColor(s string) Color {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

func fg(hex string, attrs ...Attribute) Style {
	s := DefaultStyle()
	s.Foreground = mustColor(hex)
	for _, a := range attrs {
		s.Attributes |= a
	}
	return s
}

// DefaultTheme returns a theme defining every built-in highlight.
func DefaultTheme() Theme {
	dim := mustColor("#7f848e")
	return Theme{
		HLNormal:         DefaultStyle(),
		HLRootName:       fg("#e5c07b", AttrBold),
		HLDirectoryName:  fg("#61afef"),
		HLDirectoryIcon:  fg("#61afef"),
		HLFileName:       DefaultStyle(),
		HLFileIcon:       fg("#abb2bf"),
		HLExecutable:     fg("#98c379", AttrBold),
		HLSymlink:        fg("#56b6c2", AttrItalic),
		HLOrphan:         fg("#e06c75", AttrStrikethrough),
		HLDotfile:        Style{Foreground: dim, Background: ColorDefault},
		HLSpecial:        fg("#c678dd"),
		HLIndent:         Style{Foreground: dim, Background: ColorDefault},
		HLExpander:       Style{Foreground: dim, Background: ColorDefault},
		HLGitAdded:       fg("#98c379"),
		HLGitModified:    fg("#e5c07b"),
		HLGitDeleted:     fg("#e06c75"),
		HLGitRenamed:     fg("#c678dd"),
		HLGitUntracked:   fg("#d19a66"),
		HLGitIgnored:     Style{Foreground: dim, Background: ColorDefault},
		HLGitConflict:    fg("#e06c75", AttrBold),
		HLGitStaged:      fg("#98c379", AttrBold),
		HLDiagError:      fg("#e06c75"),
		HLDiagWarning:    fg("#e5c07b"),
		HLDiagInfo:       fg("#61afef"),
		HLDiagHint:       fg("#56b6c2"),
		HLModified:       fg("#e5c07b", AttrBold),
		HLMark:           fg("#c678dd", AttrItalic),
		HLSymbolKind:     fg("#c678dd"),
		HLDetail:         Style{Foreground: dim, Background: ColorDefault, Attributes: AttrItalic},
		HLDeprecated:     Style{Foreground: dim, Background: ColorDefault, Attributes: AttrStrikethrough},
		HLPlaceholder:    Style{Foreground: dim, Background: ColorDefault, Attributes: AttrItalic},
		HLCursorLine:     Style{Foreground: ColorDefault, Background: mustColor("#2c313a")},
		HLBufferTerminal: fg("#56b6c2"),
	}
}

// Built-in highlight names.
const (
	HLNormal         = "SidetreeNormal"
	HLRootName       = "SidetreeRootName"
	HLDirectoryName  = "SidetreeDirectoryName"
	HLDirectoryIcon  = "SidetreeDirectoryIcon"
	HLFileName       = "SidetreeFileName"
	HLFileIcon       = "SidetreeFileIcon"
	HLExecutable     = "SidetreeExecutable"
	HLSymlink        = "SidetreeSymbolicLinkTarget"
	HLOrphan         = "SidetreeOrphanLink"
	HLDotfile        = "SidetreeDotfile"
	HLSpecial        = "SidetreeSpecialFile"
	HLIndent         = "SidetreeIndentMarker"
	HLExpander       = "SidetreeExpander"
	HLGitAdded       = "SidetreeGitAdded"
	HLGitModified    = "SidetreeGitModified"
	HLGitDeleted     = "SidetreeGitDeleted"
	HLGitRenamed     = "SidetreeGitRenamed"
	HLGitUntracked   = "SidetreeGitUntracked"
	HLGitIgnored     = "SidetreeGitIgnored"
	HLGitConflict    = "SidetreeGitConflict"
	HLGitStaged      = "SidetreeGitStaged"
	HLDiagError      = "SidetreeDiagnosticError"
	HLDiagWarning    = "SidetreeDiagnosticWarning"
	HLDiagInfo       = "SidetreeDiagnosticInfo"
	HLDiagHint       = "SidetreeDiagnosticHint"
	HLModified       = "SidetreeModified"
	HLMark           = "SidetreeClipboardMark"
	HLSymbolKind     = "SidetreeSymbolKind"
	HLDetail         = "SidetreeDetail"
	HLDeprecated     = "SidetreeDeprecated"
	HLPlaceholder    = "SidetreeMessage"
	HLCursorLine     = "SidetreeCursorLine"
	HLBufferTerminal = "SidetreeTerminal"
)
