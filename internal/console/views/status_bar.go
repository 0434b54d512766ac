package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// Status is what the status bar shows.
type Status struct {
	Session     string
	Bridge      string
	Sync        string
	PollingOnly bool
	Offline     bool
	Flash       string
	Hints       []string
}

// StatusBar is the bottom line of the console.
type StatusBar struct {
	*tview.TextView
	now func() time.Time
}

func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv, now: time.Now}
}

func (sb *StatusBar) Update(s Status) {
	sb.Clear()
	_, _ = fmt.Fprint(sb, FormatStatus(s, sb.now()))
}

// FormatStatus renders s as one status line.
func FormatStatus(s Status, now time.Time) string {
	sync := s.Sync
	switch {
	case s.Offline:
		sync = "[red]offline[-]"
	case s.PollingOnly:
		sync += " [yellow](solo polling)[-]"
	}
	line := fmt.Sprintf(" [::b]%s[::-] | %s | %s | %s", s.Session, s.Bridge, sync, now.Format("15:04"))
	if s.Flash != "" {
		line += " | [yellow]" + tview.Escape(s.Flash) + "[-]"
	}
	if len(s.Hints) > 0 {
		line += " | [::d]" + strings.Join(s.Hints, " ") + "[::-]"
	}
	return line
}
