// Package jid classifies the chat identifiers reported by the bridge.
package jid

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// Kind is the category of an identifier.
type Kind int

const (
	Unknown Kind = iota
	Person
	Group
	AltIdentity
	Broadcast
)

func (k Kind) String() string {
	switch k {
	case Person:
		return "person"
	case Group:
		return "group"
	case AltIdentity:
		return "alt_identity"
	case Broadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Parse splits id into a whatsmeow JID. Bare phone numbers are accepted and
// placed on the legacy user server the bridge uses.
func Parse(id string) (types.JID, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.JID{}, false
	}
	if !strings.Contains(id, "@") {
		digits := Digits(id)
		if digits == "" {
			return types.JID{}, false
		}
		return types.NewJID(digits, types.LegacyUserServer), true
	}
	j, err := types.ParseJID(id)
	if err != nil || j.Server == "" {
		return types.JID{}, false
	}
	return j, true
}

// Classify reports what kind of entity id refers to.
func Classify(id string) Kind {
	j, ok := Parse(id)
	if !ok {
		return Unknown
	}
	switch j.Server {
	case types.DefaultUserServer, types.LegacyUserServer:
		if j.User == "status" {
			return Broadcast
		}
		return Person
	case types.GroupServer:
		return Group
	case types.HiddenUserServer, types.HostedLIDServer:
		return AltIdentity
	case types.BroadcastServer, types.NewsletterServer:
		return Broadcast
	}
	return Unknown
}

// Phone returns the phone number behind a person identifier, or "" when id
// does not carry one.
func Phone(id string) string {
	if Classify(id) != Person {
		return ""
	}
	j, _ := Parse(id)
	return Digits(j.User)
}

// ChatID turns a phone number or identifier into the chat id the bridge
// expects. Identifiers that already carry a server are returned unchanged.
func ChatID(phoneOrID string) string {
	phoneOrID = strings.TrimSpace(phoneOrID)
	if strings.Contains(phoneOrID, "@") {
		return phoneOrID
	}
	digits := Digits(phoneOrID)
	if digits == "" {
		return ""
	}
	return digits + "@" + types.LegacyUserServer
}

// IsBroadcast reports whether id is a broadcast list or status pseudo-chat.
func IsBroadcast(id string) bool {
	return Classify(id) == Broadcast
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
