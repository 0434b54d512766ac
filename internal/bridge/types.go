package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/jid"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// ID is an identifier as the bridge reports it: either a plain string or an
// object carrying the string under "_serialized".
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	case '{':
		var obj struct {
			Serialized string `json:"_serialized"`
			ID         string `json:"id"`
			User       string `json:"user"`
			Server     string `json:"server"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		switch {
		case obj.Serialized != "":
			*id = ID(obj.Serialized)
		case obj.User != "" && obj.Server != "":
			*id = ID(obj.User + "@" + obj.Server)
		default:
			*id = ID(obj.ID)
		}
		return nil
	default:
		// Numeric ids show up for some placeholder messages.
		*id = ID(strings.Trim(string(data), `"`))
		return nil
	}
}

func (id ID) String() string { return string(id) }

// Message is a raw message from the bridge.
type Message struct {
	ID        ID             `json:"id"`
	From      ID             `json:"from"`
	To        ID             `json:"to"`
	Author    ID             `json:"author"`
	Body      string         `json:"body"`
	Type      string         `json:"type"`
	FromMe    bool           `json:"fromMe"`
	Timestamp timeline.Stamp `json:"timestamp"`
	Ack       *int           `json:"ack"`
	Status    string         `json:"status"`
	IsStatus  bool           `json:"isStatus"`
	Broadcast bool           `json:"broadcast"`
	HasMedia  bool           `json:"hasMedia"`
}

// systemTypes are message types that never represent operator-visible
// conversation content.
var systemTypes = map[string]bool{
	"e2e_notification":       true,
	"notification":           true,
	"notification_template":  true,
	"protocol":               true,
	"gp2":                    true,
	"call_log":               true,
	"ciphertext":             true,
	"revoked":                true,
	"broadcast_notification": true,
}

// ChatID returns the conversation the message belongs to.
func (m Message) ChatID() string {
	if m.FromMe {
		return m.To.String()
	}
	return m.From.String()
}

// IsSystem reports whether m is a broadcast, status or protocol
// pseudo-message.
func (m Message) IsSystem() bool {
	if m.IsStatus || m.Broadcast || systemTypes[m.Type] {
		return true
	}
	return jid.IsBroadcast(m.From.String()) || jid.IsBroadcast(m.To.String())
}

// AckLevel maps the bridge's numeric ack onto ack.Level. Played (4) counts
// as read and negative values as failed.
func AckLevel(v int) ack.Level {
	switch {
	case v < 0:
		return ack.Failed
	case v >= 3:
		return ack.Read
	default:
		return ack.Level(v)
	}
}

// Timeline converts m into a timeline entry.
func (m Message) Timeline() timeline.Message {
	out := timeline.Message{
		ExternalID: m.ID.String(),
		ChatID:     m.ChatID(),
		Body:       m.Body,
		FromMe:     m.FromMe,
		Timestamp:  m.Timestamp.Millis(),
		Status:     m.Status,
	}
	if m.FromMe && m.Ack != nil {
		out.Ack = timeline.AckPtr(AckLevel(*m.Ack))
	}
	return out
}

// Chat is a raw chat summary.
type Chat struct {
	ID          ID             `json:"id"`
	Name        string         `json:"name"`
	IsGroup     bool           `json:"isGroup"`
	UnreadCount int            `json:"unreadCount"`
	Timestamp   timeline.Stamp `json:"timestamp"`
	LastMessage *Message       `json:"lastMessage"`
}

// Contact is a raw contact entry.
type Contact struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	PushName    string `json:"pushname"`
	ShortName   string `json:"shortName"`
	Number      string `json:"number"`
	IsGroup     bool   `json:"isGroup"`
	IsMyContact bool   `json:"isMyContact"`
}

// DisplayName returns the best human name the bridge knows for c.
func (c Contact) DisplayName() string {
	for _, n := range []string{c.Name, c.PushName, c.ShortName} {
		if strings.TrimSpace(n) != "" {
			return strings.TrimSpace(n)
		}
	}
	return ""
}

// SessionState is the bridge's view of the chat-protocol session.
type SessionState struct {
	State       string `json:"state"`
	Message     string `json:"message,omitempty"`
	IsConnected bool   `json:"isConnected"`
}

// connectedStates are the bridge states that allow sending.
var connectedStates = map[string]bool{
	"CONNECTED":     true,
	"AUTHENTICATED": true,
}

// IsConnectedState reports whether state allows messaging.
func IsConnectedState(state string) bool {
	return connectedStates[strings.ToUpper(state)]
}

// SendResult is the outcome of SendMessage.
type SendResult struct {
	Success    bool    `json:"success"`
	ExternalID string  `json:"externalId,omitempty"`
	Message    Message `json:"-"`
}

// HTTPError is a non-2xx answer from the bridge.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("bridge %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Temporary reports whether retrying may succeed.
func (e *HTTPError) Temporary() bool {
	return e.Status >= 500 || e.Status == 429
}
