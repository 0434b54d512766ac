package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the message input of the open chat.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onEscape func()
}

func NewComposer() *Composer {
	c := &Composer{InputField: tview.NewInputField().SetLabel(" > ").SetFieldWidth(0)}
	c.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape && c.onEscape != nil {
			c.onEscape()
			return
		}
		if key != tcell.KeyEnter || c.onSend == nil {
			return
		}
		if text := strings.TrimSpace(c.GetText()); text != "" {
			c.onSend(text)
			c.SetText("")
		}
	})
	return c
}

func (c *Composer) SetOnSend(fn func(text string)) { c.onSend = fn }

func (c *Composer) SetOnEscape(fn func()) { c.onEscape = fn }
