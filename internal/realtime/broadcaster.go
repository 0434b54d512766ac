// Package realtime fans chat updates out to every connected viewer.
//
// All updates travel on one shared topic; viewers filter by chatId. A
// Broadcaster never blocks its caller and never reports an error: a failed
// publish is logged and dropped.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/bus"
)

// Topic is the single shared topic carrying every chat update.
const Topic = "whatsapp"

// Action names the kind of update carried by an Envelope.
type Action string

const (
	ActionMessage Action = "message"
	ActionAck     Action = "message_ack"
	ActionTyping  Action = "typing"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionMessage, ActionAck, ActionTyping:
		return true
	}
	return false
}

// Envelope is the wire shape pushed to viewers.
type Envelope struct {
	Action    Action          `json:"action"`
	ChatID    string          `json:"chatId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Origin    string          `json:"origin,omitempty"`
}

// AckPayload is the data of a message_ack envelope.
type AckPayload struct {
	MessageID string `json:"messageId"`
	Ack       int    `json:"ack"`
	Status    string `json:"status,omitempty"`
}

// TypingPayload is the data of a typing envelope.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// Relay mirrors envelopes to other daemon instances. *valkey.Client
// satisfies it.
type Relay interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error
}

// Broadcaster publishes envelopes on the local bus and, when a relay is set,
// to other instances.
type Broadcaster struct {
	bus          *bus.Bus
	relay        Relay
	channel      string
	origin       string
	relayTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
	viewers      atomic.Int64
	evicted      atomic.Uint64
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithRelay mirrors envelopes through r on channel.
func WithRelay(r Relay, channel string) Option {
	return func(b *Broadcaster) {
		b.relay = r
		b.channel = channel
	}
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// NewBroadcaster creates a Broadcaster on eventBus.
func NewBroadcaster(eventBus *bus.Bus, logger *zap.Logger, opts ...Option) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broadcaster{
		bus:          eventBus,
		origin:       uuid.NewString(),
		relayTimeout: 2 * time.Second,
		logger:       logger,
		now:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Origin returns the id stamped on envelopes relayed by this instance.
func (b *Broadcaster) Origin() string {
	return b.origin
}

// Publish sends payload to every viewer under the given action.
func (b *Broadcaster) Publish(chatID string, action Action, payload any) {
	if !action.Valid() {
		b.logger.Warn("dropping broadcast with unknown action",
			zap.String("action", string(action)), zap.String("chat_id", chatID))
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("dropping unencodable broadcast",
			zap.String("action", string(action)), zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	env := Envelope{
		Action:    action,
		ChatID:    chatID,
		Data:      data,
		Timestamp: b.now().UnixMilli(),
	}
	b.deliver(env)

	if b.relay != nil {
		env.Origin = b.origin
		go b.mirror(env)
	}
}

func (b *Broadcaster) deliver(env Envelope) {
	b.bus.Publish(bus.Event{
		Topic:     Topic,
		Timestamp: time.UnixMilli(env.Timestamp),
		Payload:   env,
	})
}

func (b *Broadcaster) mirror(env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		b.logger.Warn("relay encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.relayTimeout)
	defer cancel()
	if err := b.relay.Publish(ctx, b.channel, raw); err != nil {
		b.logger.Warn("relay publish failed",
			zap.String("channel", b.channel), zap.String("action", string(env.Action)), zap.Error(err))
	}
}

// Run receives envelopes relayed by other instances and delivers them
// locally until ctx is cancelled. Without a relay it returns immediately.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.relay == nil {
		return nil
	}
	b.logger.Info("relay subscriber started", zap.String("channel", b.channel))
	return b.relay.Subscribe(ctx, b.channel, b.receive)
}

func (b *Broadcaster) receive(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Debug("ignoring malformed relay payload", zap.Error(err))
		return
	}
	if env.Origin == b.origin || !env.Action.Valid() {
		return
	}
	env.Origin = ""
	b.deliver(env)
}

// Subscribe returns the envelopes published from now on. The returned
// function releases the subscription. A viewer that falls bufSize envelopes
// behind has its channel closed rather than missing updates silently; it is
// expected to reconnect and refetch.
func (b *Broadcaster) Subscribe(bufSize int) (<-chan Envelope, func()) {
	events, unsub := b.bus.SubscribeStrict(Topic, bufSize)
	b.viewers.Add(1)
	var (
		once     sync.Once
		released atomic.Bool
	)
	release := func() {
		once.Do(func() {
			released.Store(true)
			b.viewers.Add(-1)
			unsub()
		})
	}
	evict := func() {
		b.evicted.Add(1)
		b.logger.Warn("viewer too slow, closing", zap.Int("buffer", bufSize))
		release()
	}
	out := make(chan Envelope, bufSize)
	go func() {
		defer close(out)
		for evt := range events {
			env, ok := evt.Payload.(Envelope)
			if !ok {
				continue
			}
			select {
			case out <- env:
			default:
				evict()
				return
			}
		}
		// The bus closed a strict subscription that overflowed.
		if !released.Load() {
			evict()
		}
	}()
	return out, release
}

// Viewers returns the number of live subscriptions.
func (b *Broadcaster) Viewers() int {
	return int(b.viewers.Load())
}

// Evicted returns how many viewers were closed for falling behind.
func (b *Broadcaster) Evicted() uint64 {
	return b.evicted.Load()
}
