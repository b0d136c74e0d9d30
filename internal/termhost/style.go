package termhost

import (
	"github.com/gdamore/tcell/v2"

	"github.com/dshills/sidetree/internal/render"
)

// convertStyle converts a render style to a tcell style.
func convertStyle(s render.Style) tcell.Style {
	style := tcell.StyleDefault
	if !s.Foreground.Default {
		style = style.Foreground(convertColor(s.Foreground))
	}
	if !s.Background.Default {
		style = style.Background(convertColor(s.Background))
	}

	a := s.Attributes
	return style.
		Bold(a.Has(render.AttrBold)).
		Dim(a.Has(render.AttrDim)).
		Italic(a.Has(render.AttrItalic)).
		Underline(a.Has(render.AttrUnderline)).
		Reverse(a.Has(render.AttrReverse)).
		StrikeThrough(a.Has(render.AttrStrikethrough))
}

func convertColor(c render.Color) tcell.Color {
	if c.Default {
		return tcell.ColorDefault
	}
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

// style resolves a highlight, overlaying the cursor line background when
// selected.
func (s *Screen) style(hl string, selected bool) tcell.Style {
	st, _ := s.theme.Lookup(hl)
	if selected {
		if cur, ok := s.theme.Lookup(render.HLCursorLine); ok {
			st = st.Merge(render.Style{Foreground: render.ColorDefault, Background: cur.Background, Attributes: cur.Attributes})
		}
	}
	return convertStyle(st)
}
