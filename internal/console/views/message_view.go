package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// MessageView shows the open chat's timeline, oldest first.
type MessageView struct {
	*tview.TextView
	now    func() time.Time
	notice string
}

func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	return &MessageView{TextView: tv, now: time.Now}
}

func (mv *MessageView) SetChatName(name string) {
	mv.SetTitle(" " + sanitize(name) + " ")
}

// SetNotice sets a line shown above the timeline. Empty clears it.
func (mv *MessageView) SetNotice(notice string) {
	mv.notice = notice
}

// Update redraws msgs. typing adds an indicator line at the bottom.
func (mv *MessageView) Update(msgs []timeline.Message, typing bool) {
	mv.Clear()
	if mv.notice != "" {
		_, _ = fmt.Fprintf(mv, "[yellow::i]%s[-::-]\n\n", sanitize(mv.notice))
	}
	_, _ = fmt.Fprint(mv, Render(msgs, typing, mv.now()))
	mv.ScrollToEnd()
}

// Render formats a timeline as tview text.
func Render(msgs []timeline.Message, typing bool, now time.Time) string {
	var b strings.Builder
	for _, m := range msgs {
		who := "[green::b]Cliente[-::-]"
		if m.FromMe {
			who = "[dodgerblue::b]Tu[-::-]"
		}
		fmt.Fprintf(&b, "%s [::d]%s[::-]", who, formatTimestamp(m.Timestamp, now))
		if icon := ackIcon(m); icon != "" {
			b.WriteString(" " + icon)
		}
		b.WriteString("\n" + sanitize(m.Body) + "\n\n")
	}
	if typing {
		b.WriteString("[::i]sta scrivendo…[::-]\n")
	}
	return b.String()
}
