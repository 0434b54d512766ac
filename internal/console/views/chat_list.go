// Package views holds the console widgets.
package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/skdvlpr/gomercatocrm/internal/chatlist"
)

// ChatList is the chat table.
type ChatList struct {
	*tview.Table
	chats  []chatlist.Chat
	filter string
	now    func() time.Time
}

func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Chat ")
	return &ChatList{Table: table, now: time.Now}
}

// Update renders chats, keeping the selection on the same chat when it is
// still listed.
func (cl *ChatList) Update(chats []chatlist.Chat) {
	selected := cl.SelectedChat()
	cl.chats = chatlist.Filter(chats, cl.filter)
	cl.Clear()

	header := func(col int, text string) {
		cl.SetCell(0, col, tview.NewTableCell(text).SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	}
	header(0, " Nome")
	header(1, " Ultimo messaggio")
	header(2, " Ora")

	now := cl.now()
	row := 1
	for _, c := range cl.chats {
		name := sanitize(c.DisplayName)
		if c.IsGroup {
			name = "👥 " + name
		}
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("[::b]%s (%d)[::-]", name, c.UnreadCount)
		}
		var last, at string
		if lm := c.LastMessage; lm != nil {
			last = sanitize(preview(lm.Body, 40))
			if icon := ackIcon(*lm); icon != "" {
				last = icon + " " + last
			}
			at = formatTimestamp(lm.Timestamp, now)
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(32).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+last).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+at).SetMaxWidth(8))
		if c.ChatID == selected {
			cl.Select(row, 0)
		}
		row++
	}
	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Chat /%s (%d) ", cl.filter, len(cl.chats)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Chat (%d) ", len(cl.chats)))
	}
}

// SetFilter narrows the list to chats matching query. It applies on the
// next Update.
func (cl *ChatList) SetFilter(query string) {
	cl.filter = query
}

// SelectedChat returns the id of the highlighted chat.
func (cl *ChatList) SelectedChat() string {
	row, _ := cl.GetSelection()
	if i := row - 1; i >= 0 && i < len(cl.chats) {
		return cl.chats[i].ChatID
	}
	return ""
}

// ChatName returns the display name of chatID, or chatID itself.
func (cl *ChatList) ChatName(chatID string) string {
	for _, c := range cl.chats {
		if c.ChatID == chatID && c.DisplayName != "" {
			return c.DisplayName
		}
	}
	return chatID
}
