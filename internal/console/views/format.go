package views

import (
	"time"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// formatTimestamp renders ms as a clock time for today and a date otherwise.
func formatTimestamp(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms).In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("02/01")
}

// ackIcon is the delivery mark of an own message. Inbound messages get none.
func ackIcon(m timeline.Message) string {
	if !m.FromMe {
		return ""
	}
	level := *m.EffectiveAck()
	if m.Ack == nil {
		if l, ok := ack.FromStatus(m.Status); ok {
			level = l
		}
	}
	switch level {
	case ack.Failed:
		return "[red]✗[-]"
	case ack.Sent:
		return "[gray]✓[-]"
	case ack.Delivered:
		return "[gray]✓✓[-]"
	case ack.Read:
		return "[dodgerblue]✓✓[-]"
	default:
		return "[gray]⏱[-]"
	}
}

// preview shortens body to one line of at most n runes.
func preview(body string, n int) string {
	runes := []rune(body)
	for i, r := range runes {
		if r == '\n' {
			runes = runes[:i]
			break
		}
	}
	if len(runes) > n {
		return string(runes[:n-1]) + "…"
	}
	return string(runes)
}
