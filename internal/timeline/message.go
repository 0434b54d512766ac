// Package timeline merges the message history of a chat from the bridge API,
// the local store and optimistic local sends into one ordered sequence.
package timeline

import "github.com/skdvlpr/gomercatocrm/internal/ack"

// Message is one entry of a chat timeline. Timestamp is epoch milliseconds.
type Message struct {
	ExternalID string     `json:"id,omitempty"`
	ChatID     string     `json:"chatId"`
	Body       string     `json:"body"`
	FromMe     bool       `json:"fromMe"`
	Timestamp  int64      `json:"timestamp"`
	Ack        *ack.Level `json:"ack,omitempty"`
	Status     string     `json:"status,omitempty"`
	TempID     string     `json:"tempId,omitempty"`
	Optimistic bool       `json:"optimistic,omitempty"`
}

// AckPtr returns a pointer to l, for building messages with a known ack.
func AckPtr(l ack.Level) *ack.Level {
	return &l
}

// EffectiveAck is the level a renderer should show: nil for inbound
// messages, Pending when the ack is unknown.
func (m Message) EffectiveAck() *ack.Level {
	if !m.FromMe {
		return nil
	}
	if m.Ack == nil {
		return AckPtr(ack.Pending)
	}
	return m.Ack
}

func (m Message) key() string {
	if m.ExternalID != "" {
		return "x:" + m.ExternalID
	}
	if m.TempID != "" {
		return "t:" + m.TempID
	}
	return ""
}

// resolveAck fills Ack from Status when absent and strips acks from inbound
// messages.
func resolveAck(m Message) Message {
	if !m.FromMe {
		m.Ack = nil
		return m
	}
	if m.Ack == nil {
		if l, ok := ack.FromStatus(m.Status); ok {
			m.Ack = AckPtr(l)
		}
	}
	return m
}
