package console

import (
	"slices"

	"github.com/gdamore/tcell/v2"
)

// Binding is one key action.
type Binding struct {
	Key     tcell.Key
	Rune    rune
	Hint    string
	Handler func()
}

// Matches reports whether ev triggers b.
func (b Binding) Matches(ev *tcell.EventKey) bool {
	if b.Key != tcell.KeyRune {
		return ev.Key() == b.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == b.Rune
}

// Keymap holds global and per-page bindings in registration order.
type Keymap struct {
	global []Binding
	pages  map[string][]Binding
}

func NewKeymap() *Keymap {
	return &Keymap{pages: make(map[string][]Binding)}
}

func (k *Keymap) Global(b Binding) { k.global = append(k.global, b) }

func (k *Keymap) Page(page string, b Binding) { k.pages[page] = append(k.pages[page], b) }

// Hints lists the hints of page bindings followed by global ones.
func (k *Keymap) Hints(page string) []string {
	var hints []string
	for _, b := range slices.Concat(k.pages[page], k.global) {
		if b.Hint != "" {
			hints = append(hints, b.Hint)
		}
	}
	return hints
}

// Handle runs the first binding matching ev, page bindings first.
func (k *Keymap) Handle(page string, ev *tcell.EventKey) bool {
	for _, b := range slices.Concat(k.pages[page], k.global) {
		if b.Matches(ev) {
			b.Handler()
			return true
		}
	}
	return false
}
