package timeline

import (
	"sort"
	"time"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
)

// Merge combines API-fetched, stored and optimistic messages into one
// timeline ordered by ascending timestamp. Ties keep input order (api,
// stored, optimistic).
//
// The bridge is authoritative for body and fromMe. Stored entries supply the
// ack when the API omits it, and an ack never ends up lower than either side
// reported. Each optimistic entry is matched against at most one confirmed
// entry, first by tempId, then by body among own messages not yet claimed
// that carry no tempId and are not older than the send (within MatchSkew).
// A matched optimistic entry is dropped in favour of the confirmed one.
func Merge(api, stored, optimistic []Message) []Message {
	out := make([]Message, 0, len(api)+len(stored)+len(optimistic))
	index := make(map[string]int, len(api)+len(stored))

	add := func(m Message, authoritative bool) {
		m = resolveAck(m)
		k := m.key()
		if k == "" {
			out = append(out, m)
			return
		}
		pos, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, m)
			return
		}
		if authoritative {
			out[pos] = combine(m, out[pos])
		} else {
			out[pos] = combine(out[pos], m)
		}
	}

	for _, m := range api {
		m.Optimistic = false
		add(m, true)
	}
	for _, m := range stored {
		m.Optimistic = false
		add(m, false)
	}

	claimed := make(map[int]bool)
	seenTemp := make(map[string]bool)
	for _, opt := range optimistic {
		if opt.TempID != "" {
			if seenTemp[opt.TempID] {
				continue
			}
			seenTemp[opt.TempID] = true
		}
		if pos := matchOptimistic(out, claimed, opt); pos >= 0 {
			claimed[pos] = true
			confirmed := out[pos]
			if confirmed.TempID == "" {
				confirmed.TempID = opt.TempID
			}
			if confirmed.Timestamp == 0 {
				confirmed.Timestamp = opt.Timestamp
			}
			if confirmed.Ack == nil && confirmed.FromMe {
				confirmed.Ack = AckPtr(ack.Sent)
			}
			out[pos] = confirmed
			continue
		}
		opt.Optimistic = true
		opt.FromMe = true
		if opt.Ack == nil {
			opt.Ack = AckPtr(ack.Pending)
		}
		out = append(out, opt)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// combine folds secondary into primary. primary keeps its content, secondary
// fills the gaps.
func combine(primary, secondary Message) Message {
	if primary.ChatID == "" {
		primary.ChatID = secondary.ChatID
	}
	if primary.Timestamp == 0 {
		primary.Timestamp = secondary.Timestamp
	}
	if primary.Status == "" {
		primary.Status = secondary.Status
	}
	if primary.TempID == "" {
		primary.TempID = secondary.TempID
	}
	if primary.ExternalID == "" {
		primary.ExternalID = secondary.ExternalID
	}
	before := primary.Ack
	switch {
	case !primary.FromMe:
		primary.Ack = nil
	case primary.Ack == nil:
		primary.Ack = secondary.Ack
	case secondary.Ack != nil:
		primary.Ack = AckPtr(ack.Max(*secondary.Ack, *primary.Ack))
	}
	if primary.Ack != nil && (before == nil || *before != *primary.Ack) {
		primary.Status = primary.Ack.String()
	}
	return primary
}

// MatchSkew is how far a confirmed message may predate the optimistic entry
// it is matched to by body. It absorbs clock drift between the client and
// the bridge.
const MatchSkew = time.Minute

func matchOptimistic(out []Message, claimed map[int]bool, opt Message) int {
	if opt.TempID != "" {
		for i, m := range out {
			if !m.Optimistic && !claimed[i] && m.ExternalID != "" && m.TempID == opt.TempID {
				return i
			}
		}
	}
	// A failed send never reached the bridge, so nothing can confirm it.
	if opt.Ack != nil && *opt.Ack == ack.Failed {
		return -1
	}
	floor := opt.Timestamp - MatchSkew.Milliseconds()
	for i, m := range out {
		if m.Optimistic || claimed[i] || m.ExternalID == "" || !m.FromMe || m.TempID != "" {
			continue
		}
		if m.Timestamp == 0 || m.Timestamp < floor {
			continue
		}
		if m.Body == opt.Body {
			return i
		}
	}
	return -1
}

// Reconcile folds pushed messages into a timeline the caller already holds,
// using the same rules as Merge: incoming entries act as the API side, held
// confirmed entries as the stored side.
func Reconcile(current []Message, incoming ...Message) []Message {
	var confirmed, pending []Message
	for _, m := range current {
		if m.Optimistic {
			pending = append(pending, m)
		} else {
			confirmed = append(confirmed, m)
		}
	}
	return Merge(incoming, confirmed, pending)
}

// ApplyAck raises the ack of the entry identified by id (external or temp id).
// It returns the updated timeline and whether anything changed.
func ApplyAck(current []Message, id string, level ack.Level) ([]Message, bool) {
	out := make([]Message, len(current))
	copy(out, current)
	if id == "" {
		return out, false
	}
	for i, m := range out {
		if m.ExternalID != id && (m.TempID == "" || m.TempID != id) {
			continue
		}
		if !m.FromMe {
			return out, false
		}
		cur := ack.Pending
		if m.Ack != nil {
			cur = *m.Ack
		}
		next, changed := ack.Apply(cur, level)
		if !changed {
			return out, false
		}
		m.Ack = AckPtr(next)
		m.Status = next.String()
		out[i] = m
		return out, true
	}
	return out, false
}
