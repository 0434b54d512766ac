package views

import (
	"strings"

	"github.com/rivo/tview"
)

// sanitize prepares bridge text for a tview cell: tview color tags are
// escaped and codepoints tcell renders with the wrong width are dropped.
func sanitize(s string) string {
	return tview.Escape(strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s))
}

func dropRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	}
	return false
}
