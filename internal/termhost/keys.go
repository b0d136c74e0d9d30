package termhost

import (
	"strings"

	"github.com/gdamore/tcell/v2"
)

var keyNames = map[tcell.Key]string{
	tcell.KeyEnter:      "<CR>",
	tcell.KeyTab:        "<Tab>",
	tcell.KeyBacktab:    "<S-Tab>",
	tcell.KeyEscape:     "<Esc>",
	tcell.KeyBackspace:  "<BS>",
	tcell.KeyBackspace2: "<BS>",
	tcell.KeyDelete:     "<Del>",
	tcell.KeyUp:         "<Up>",
	tcell.KeyDown:       "<Down>",
	tcell.KeyLeft:       "<Left>",
	tcell.KeyRight:      "<Right>",
	tcell.KeyHome:       "<Home>",
	tcell.KeyEnd:        "<End>",
	tcell.KeyPgUp:       "<PageUp>",
	tcell.KeyPgDn:       "<PageDown>",
}

// keyName returns the mapping name of a key event: the rune itself for
// printable keys, otherwise a bracketed name such as "<CR>" or "<C-r>".
func keyName(ev *tcell.EventKey) string {
	k := ev.Key()
	if k == tcell.KeyRune {
		r := ev.Rune()
		if ev.Modifiers()&tcell.ModAlt != 0 {
			return "<M-" + string(r) + ">"
		}
		if r == ' ' {
			return "<Space>"
		}
		return string(r)
	}
	if name, ok := keyNames[k]; ok {
		return name
	}
	if k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ {
		return "<C-" + string(rune('a'+int(k-tcell.KeyCtrlA))) + ">"
	}
	if name, ok := tcell.KeyNames[k]; ok {
		return "<" + strings.ReplaceAll(name, "+", "-") + ">"
	}
	return ""
}

// cursorKeys move the cursor when the focused panel does not map them.
var cursorKeys = map[string]int{
	"<Down>":     1,
	"<Up>":       -1,
	"<PageDown>": 10,
	"<PageUp>":   -10,
}
