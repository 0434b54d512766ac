package store

import (
	"database/sql"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// UpsertResult is the outcome of an idempotent write.
type UpsertResult int

const (
	Inserted UpsertResult = iota + 1
	AlreadyPresent
	// AckRaised is AlreadyPresent where the write raised the stored ack.
	AckRaised
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	case AckRaised:
		return "ack_raised"
	default:
		return "unknown"
	}
}

// Order selects the direction of ListByChat.
type Order int

const (
	Chronological Order = iota
	ReverseChronological
)

// Message is a persisted message row.
type Message struct {
	ID         int64
	ChatID     string
	ExternalID string
	TempID     string
	Body       string
	FromMe     bool
	Timestamp  int64
	AckLevel   sql.NullInt64
	Status     string
}

// FromTimeline converts a timeline entry into a row.
func FromTimeline(m timeline.Message) *Message {
	row := &Message{
		ChatID:     m.ChatID,
		ExternalID: m.ExternalID,
		TempID:     m.TempID,
		Body:       m.Body,
		FromMe:     m.FromMe,
		Timestamp:  m.Timestamp,
		Status:     m.Status,
	}
	if m.Ack != nil && m.FromMe {
		row.AckLevel = sql.NullInt64{Int64: int64(*m.Ack), Valid: true}
	}
	return row
}

// Timeline converts the row into a timeline entry.
func (m Message) Timeline() timeline.Message {
	out := timeline.Message{
		ExternalID: m.ExternalID,
		ChatID:     m.ChatID,
		Body:       m.Body,
		FromMe:     m.FromMe,
		Timestamp:  m.Timestamp,
		Status:     m.Status,
		TempID:     m.TempID,
	}
	if m.AckLevel.Valid {
		out.Ack = timeline.AckPtr(ack.Level(m.AckLevel.Int64))
	}
	return out
}

// Avatar is a cached profile picture URL. An empty URL records that the
// contact has no picture.
type Avatar struct {
	ContactID string
	URL       string
	FetchedAt int64
}
