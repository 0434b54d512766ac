// Package sync ingests bridge messages and delivery acks into the store and
// announces every accepted change to viewers.
package sync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/store"
)

// ErrSkipped is returned for messages that are never stored: broadcast and
// system pseudo-messages, and payloads missing an id or chat.
var ErrSkipped = errors.New("message skipped")

// Publisher delivers an update to viewers. *realtime.Broadcaster satisfies it.
type Publisher interface {
	Publish(chatID string, action realtime.Action, payload any)
}

// Engine handles idempotent ingestion of messages into the store.
type Engine struct {
	db     *store.DB
	pub    Publisher
	logger *zap.Logger
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, pub Publisher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		pub:    pub,
		logger: logger,
	}
}

// IngestMessage stores a bridge message and broadcasts it when it is new.
// Replaying the same message yields AlreadyPresent and no broadcast, unless
// the replay raised the stored ack, which is then broadcast as an ack.
func (e *Engine) IngestMessage(ctx context.Context, m bridge.Message) (store.UpsertResult, error) {
	if m.IsSystem() {
		return 0, fmt.Errorf("%w: system message %s", ErrSkipped, m.ID)
	}
	tm := m.Timeline()
	if tm.ExternalID == "" || tm.ChatID == "" {
		return 0, fmt.Errorf("%w: missing id or chat", ErrSkipped)
	}
	if tm.Timestamp == 0 {
		return 0, fmt.Errorf("%w: missing timestamp on %s", ErrSkipped, tm.ExternalID)
	}

	res, err := e.db.Upsert(ctx, store.FromTimeline(tm))
	if err != nil {
		return 0, fmt.Errorf("upsert message: %w", err)
	}
	switch res {
	case store.Inserted:
		e.pub.Publish(tm.ChatID, realtime.ActionMessage, tm)
	case store.AckRaised:
		e.publishStoredAck(ctx, tm.ChatID, tm.ExternalID)
	}
	e.logger.Debug("message ingested",
		zap.String("chat_id", tm.ChatID),
		zap.String("external_id", tm.ExternalID),
		zap.Stringer("result", res))
	return res, nil
}

// ApplyAck raises the stored ack of an own message and broadcasts the new
// level. Acks for messages the store does not know are broadcast as-is so
// viewers holding the message from the bridge still advance; viewers apply
// them monotonically. It reports whether a broadcast happened.
func (e *Engine) ApplyAck(ctx context.Context, chatID, externalID string, level ack.Level) (bool, error) {
	if externalID == "" || !level.Valid() {
		return false, fmt.Errorf("%w: invalid ack %d for %q", ErrSkipped, level, externalID)
	}
	changed, err := e.db.RaiseAck(ctx, chatID, externalID, level, "")
	if err != nil {
		return false, fmt.Errorf("raise ack: %w", err)
	}
	if !changed {
		row, err := e.db.Get(ctx, chatID, externalID)
		if err != nil {
			return false, fmt.Errorf("load message: %w", err)
		}
		if row != nil {
			return false, nil
		}
	}

	e.pub.Publish(chatID, realtime.ActionAck, realtime.AckPayload{
		MessageID: externalID,
		Ack:       int(level),
		Status:    level.String(),
	})
	return true, nil
}

// publishStoredAck broadcasts the ack the store now holds for a message.
func (e *Engine) publishStoredAck(ctx context.Context, chatID, externalID string) {
	row, err := e.db.Get(ctx, chatID, externalID)
	if err != nil || row == nil || !row.AckLevel.Valid {
		e.logger.Warn("raised ack not readable", zap.String("external_id", externalID), zap.Error(err))
		return
	}
	level := ack.Level(row.AckLevel.Int64)
	e.pub.Publish(chatID, realtime.ActionAck, realtime.AckPayload{
		MessageID: externalID,
		Ack:       int(level),
		Status:    level.String(),
	})
}

// Backfill stores messages fetched from the bridge so the store can answer
// when the bridge is unreachable. Nothing is broadcast. It returns how many
// messages were new.
func (e *Engine) Backfill(ctx context.Context, msgs []bridge.Message) (int, error) {
	inserted := 0
	for _, m := range msgs {
		if m.IsSystem() {
			continue
		}
		tm := m.Timeline()
		if tm.ExternalID == "" || tm.ChatID == "" || tm.Timestamp == 0 {
			continue
		}
		res, err := e.db.Upsert(ctx, store.FromTimeline(tm))
		if err != nil {
			return inserted, fmt.Errorf("backfill %s: %w", tm.ExternalID, err)
		}
		if res == store.Inserted {
			inserted++
		}
	}
	if inserted > 0 {
		e.logger.Debug("backfill stored", zap.Int("inserted", inserted), zap.Int("fetched", len(msgs)))
	}
	return inserted, nil
}
