// Package ack models the delivery acknowledgement of an outgoing message.
package ack

import (
	"fmt"
	"strings"
)

// Level is the ordinal delivery state of a message.
type Level int

const (
	Failed    Level = -1
	Pending   Level = 0
	Sent      Level = 1
	Delivered Level = 2
	Read      Level = 3
)

func (l Level) String() string {
	switch l {
	case Failed:
		return "failed"
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l >= Failed && l <= Read
}

// FromStatus maps a free-text bridge status to a level.
// ok is false when the label carries no ack information.
func FromStatus(status string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "read", "played":
		return Read, true
	case "delivered":
		return Delivered, true
	case "sent", "received":
		return Sent, true
	case "failed", "error":
		return Failed, true
	}
	return Pending, false
}

// Apply returns the level a message holding current ends up in after next
// is reported, and whether it changed. Levels never decrease. Failed can only
// be entered from Pending or Sent and nothing leaves it.
func Apply(current, next Level) (Level, bool) {
	if !next.Valid() || current == next {
		return current, false
	}
	if current == Failed {
		return current, false
	}
	if next == Failed {
		if current == Pending || current == Sent {
			return Failed, true
		}
		return current, false
	}
	if next < current {
		return current, false
	}
	return next, true
}

// Max returns the level that wins when two sources disagree. Failed beats
// Pending and Sent only; otherwise the higher level wins.
func Max(a, b Level) Level {
	if a == Failed || b == Failed {
		other := a
		if a == Failed {
			other = b
		}
		if other == Delivered || other == Read {
			return other
		}
		return Failed
	}
	if a > b {
		return a
	}
	return b
}
