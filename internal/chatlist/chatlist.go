// Package chatlist builds the chat summary list and the deduplicated contact
// list from raw bridge payloads.
package chatlist

import (
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
	"github.com/skdvlpr/gomercatocrm/internal/jid"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// Chat is one row of the chat list.
type Chat struct {
	ChatID         string            `json:"id"`
	DisplayName    string            `json:"name"`
	IsGroup        bool              `json:"isGroup"`
	UnreadCount    int               `json:"unreadCount"`
	LastMessage    *timeline.Message `json:"lastMessage,omitempty"`
	LastMessageAgo string            `json:"lastMessageAgo,omitempty"`
}

// LastActivity returns the timestamp the list is sorted by, 0 when the chat
// has no last message.
func (c Chat) LastActivity() int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.Timestamp
}

// BuildChatList converts raw chats into list rows, most recent first. Chats
// without a last message go last; ties keep input order. Broadcast and
// alternate-identity chats are skipped.
func BuildChatList(raw []bridge.Chat, now time.Time) []Chat {
	out := make([]Chat, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, rc := range raw {
		id := rc.ID.String()
		if id == "" || seen[id] {
			continue
		}
		kind := jid.Classify(id)
		if kind == jid.Broadcast || kind == jid.AltIdentity {
			continue
		}
		seen[id] = true

		c := Chat{
			ChatID:      id,
			DisplayName: strings.TrimSpace(rc.Name),
			IsGroup:     rc.IsGroup || kind == jid.Group,
			UnreadCount: rc.UnreadCount,
		}
		if rc.LastMessage != nil && !rc.LastMessage.IsSystem() {
			lm := rc.LastMessage.Timeline()
			if lm.ChatID == "" {
				lm.ChatID = id
			}
			if lm.Timestamp == 0 {
				lm.Timestamp = rc.Timestamp.Millis()
			}
			c.LastMessage = &lm
			if lm.Timestamp > 0 && !now.IsZero() {
				c.LastMessageAgo = humanize.RelTime(time.UnixMilli(lm.Timestamp), now, "ago", "from now")
			}
		}
		if c.DisplayName == "" {
			c.DisplayName = fallbackName(id)
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastActivity(), out[j].LastActivity()
		if (a == 0) != (b == 0) {
			return b == 0
		}
		return a > b
	})
	return out
}

func fallbackName(id string) string {
	if p := jid.Phone(id); p != "" {
		return "+" + p
	}
	return id
}

// WithContactNames fills in display names of chats that only carry their id
// using the contact list.
func WithContactNames(chats []Chat, contacts []Contact) []Chat {
	byID := make(map[string]string, len(contacts))
	byPhone := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.DisplayName == "" {
			continue
		}
		byID[c.ID] = c.DisplayName
		if c.PhoneNumber != "" {
			byPhone[c.PhoneNumber] = c.DisplayName
		}
	}
	out := make([]Chat, len(chats))
	for i, c := range chats {
		if c.DisplayName == c.ChatID || c.DisplayName == fallbackName(c.ChatID) {
			if n, ok := byID[c.ChatID]; ok {
				c.DisplayName = n
			} else if n, ok := byPhone[jid.Phone(c.ChatID)]; ok {
				c.DisplayName = n
			}
		}
		out[i] = c
	}
	return out
}

// Filter keeps chats whose name or id contains query, case-insensitively.
func Filter(chats []Chat, query string) []Chat {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return chats
	}
	var out []Chat
	for _, c := range chats {
		if strings.Contains(strings.ToLower(c.DisplayName), q) || strings.Contains(strings.ToLower(c.ChatID), q) {
			out = append(out, c)
		}
	}
	return out
}
