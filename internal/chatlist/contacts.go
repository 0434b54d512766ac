package chatlist

import (
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
	"github.com/skdvlpr/gomercatocrm/internal/jid"
)

// Contact is a deduplicated contact.
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	PhoneNumber string `json:"number,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IsGroup     bool   `json:"isGroup"`
}

// DeduplicateContacts drops alternate-identity and broadcast entries, keeps
// one entry per group id and merges person entries by phone number. When
// several candidates share a number the first one with a non-empty name wins.
// Output follows first-seen order.
func DeduplicateContacts(raw []bridge.Contact) []Contact {
	out := make([]Contact, 0, len(raw))
	index := make(map[string]int, len(raw))

	for _, rc := range raw {
		id := rc.ID.String()
		var key string
		c := Contact{ID: id, DisplayName: rc.DisplayName()}

		switch jid.Classify(id) {
		case jid.Group:
			c.IsGroup = true
			key = "g:" + id
		case jid.Person:
			c.PhoneNumber = jid.Phone(id)
			if c.PhoneNumber == "" {
				c.PhoneNumber = jid.Digits(rc.Number)
			}
			if c.PhoneNumber == "" {
				continue
			}
			key = "p:" + c.PhoneNumber
		default:
			continue
		}

		pos, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, c)
			continue
		}
		if out[pos].DisplayName == "" && c.DisplayName != "" {
			out[pos] = c
		}
	}
	return out
}
