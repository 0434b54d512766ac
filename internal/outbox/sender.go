// Package outbox is the send path: it hands a message to the bridge, stores
// the confirmed record and tells every viewer about it.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/store"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// PlaceholderPrefix marks external ids minted locally because the bridge
// confirmed a send without returning an id.
const PlaceholderPrefix = "local-"

var (
	ErrEmptyChat = errors.New("chat id is required")
	ErrEmptyBody = errors.New("message body is required")
)

// MessageSender is the part of the bridge client the sender needs.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, body string) (bridge.SendResult, error)
}

// Publisher delivers an update to viewers.
type Publisher interface {
	Publish(chatID string, action realtime.Action, payload any)
}

// Request is one outgoing text message. TempID is the id the caller shows
// the optimistic entry under; one is generated when empty.
type Request struct {
	ChatID string
	Body   string
	TempID string
}

// Sender sends messages synchronously.
type Sender struct {
	db     *store.DB
	sender MessageSender
	pub    Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewSender creates a new sender.
func NewSender(db *store.DB, sender MessageSender, pub Publisher, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		sender: sender,
		pub:    pub,
		logger: logger,
		now:    time.Now,
	}
}

// Send delivers req through the bridge. On success the confirmed message
// (ack Sent, carrying the temp id) is stored and broadcast. On failure a
// Failed ack for the temp id is broadcast and the error returned together
// with the failed entry, so callers can report the temp id.
func (s *Sender) Send(ctx context.Context, req Request) (timeline.Message, error) {
	if strings.TrimSpace(req.ChatID) == "" {
		return timeline.Message{}, ErrEmptyChat
	}
	if strings.TrimSpace(req.Body) == "" {
		return timeline.Message{}, ErrEmptyBody
	}
	if req.TempID == "" {
		req.TempID = uuid.NewString()
	}

	tr := ack.NewTracker(ack.Pending)
	res, err := s.sender.SendMessage(ctx, req.ChatID, req.Body)
	if err != nil {
		if terr := tr.Advance(ack.Failed); terr != nil {
			return timeline.Message{}, terr
		}
		s.logger.Error("failed to send message", zap.Error(err),
			zap.String("chat_id", req.ChatID), zap.String("temp_id", req.TempID))
		s.pub.Publish(req.ChatID, realtime.ActionAck, realtime.AckPayload{
			MessageID: req.TempID,
			Ack:       int(tr.Current()),
			Status:    tr.Current().String(),
		})
		return timeline.Message{
			ChatID:     req.ChatID,
			Body:       req.Body,
			FromMe:     true,
			Timestamp:  s.now().UnixMilli(),
			Ack:        timeline.AckPtr(tr.Current()),
			Status:     tr.Current().String(),
			TempID:     req.TempID,
			Optimistic: true,
		}, fmt.Errorf("send message: %w", err)
	}
	if err := tr.Advance(ack.Sent); err != nil {
		return timeline.Message{}, err
	}

	externalID := res.ExternalID
	if externalID == "" {
		externalID = PlaceholderPrefix + uuid.NewString()
		s.logger.Warn("bridge confirmed send without an id, using placeholder",
			zap.String("chat_id", req.ChatID), zap.String("external_id", externalID))
	}
	ts := res.Message.Timestamp.Millis()
	if ts == 0 {
		ts = s.now().UnixMilli()
	}

	msg := timeline.Message{
		ExternalID: externalID,
		ChatID:     req.ChatID,
		Body:       req.Body,
		FromMe:     true,
		Timestamp:  ts,
		Ack:        timeline.AckPtr(tr.Current()),
		Status:     tr.Current().String(),
		TempID:     req.TempID,
	}

	// The message is out; a store failure must not turn it into a failed send.
	if _, err := s.db.Upsert(ctx, store.FromTimeline(msg)); err != nil {
		s.logger.Error("failed to store sent message", zap.Error(err),
			zap.String("external_id", externalID))
	}

	s.logger.Info("message sent",
		zap.String("chat_id", req.ChatID),
		zap.String("temp_id", req.TempID),
		zap.String("external_id", externalID),
		zap.Stringers("acks", tr.History()))
	s.pub.Publish(req.ChatID, realtime.ActionMessage, msg)
	return msg, nil
}

// IsPlaceholder reports whether id was minted by Send.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}
