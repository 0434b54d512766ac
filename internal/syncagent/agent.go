// Package syncagent keeps a client-side copy of the chat list and the open
// chat's timeline in step with the daemon, live over the push channel or by
// polling when the channel is unavailable.
package syncagent

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/chatlist"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// Backend is the daemon API the agent reads and sends through.
type Backend interface {
	Chats(ctx context.Context) ([]chatlist.Chat, error)
	ChatMessages(ctx context.Context, chatID string, limit int) (History, error)
	Send(ctx context.Context, chatID, body, tempID string) (timeline.Message, error)
}

// Config tunes an Agent. Zero values take the defaults.
type Config struct {
	ChatPoll            time.Duration
	ListPoll            time.Duration
	ResubscribeDelay    time.Duration
	ResubscribeAttempts int
	FailureThreshold    int
	MessageLimit        int
}

func (c Config) withDefaults() Config {
	if c.ChatPoll <= 0 {
		c.ChatPoll = 5 * time.Second
	}
	if c.ListPoll <= 0 {
		c.ListPoll = 15 * time.Second
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = 2 * time.Second
	}
	if c.ResubscribeAttempts <= 0 {
		c.ResubscribeAttempts = 5
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = 50
	}
	return c
}

// View is an immutable copy of the session as the UI should render it.
type View struct {
	State State
	// PollingOnly is set once resubscription has given up.
	PollingOnly bool
	// Offline is the passive indicator shown after repeated fetch failures.
	Offline   bool
	ChatID    string
	Messages  []timeline.Message
	Chats     []chatlist.Chat
	Typing    bool
	// HistoryPartial is set when the open chat's history could not be
	// fetched and Messages only holds the chat list's last message.
	HistoryPartial bool
	LastError      string
	Version        uint64
}

// Agent owns one sync session. Every state change runs on the Run loop.
type Agent struct {
	cfg     Config
	backend Backend
	channel Channel
	log     *zap.Logger
	now     func() time.Time

	ops     chan func()
	done    chan struct{}
	changes chan struct{}
	ctx     context.Context

	mu   sync.RWMutex
	view View

	// Loop-owned.
	state       State
	pollingOnly bool
	chatID      string
	gen         uint64
	messages    []timeline.Message
	chats       []chatlist.Chat
	typing      bool
	partial     bool
	failures    int
	offline     bool
	lastErr     string
	version     uint64
}

// New creates an agent. A nil channel means polling only.
func New(backend Backend, channel Channel, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:     cfg.withDefaults(),
		backend: backend,
		channel: channel,
		log:     logger.Named("syncagent"),
		now:     time.Now,
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
		changes: make(chan struct{}, 1),
		ctx:     context.Background(),
		state:   Disconnected,
		view:    View{State: Disconnected},
	}
}

// Run drives the session until ctx ends. It must be called once.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)
	a.ctx = ctx

	if a.channel != nil {
		go a.subscribe(ctx)
	} else {
		a.goPollingOnly()
	}
	a.refreshChats()

	chatTick := time.NewTicker(a.cfg.ChatPoll)
	defer chatTick.Stop()
	listTick := time.NewTicker(a.cfg.ListPoll)
	defer listTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-a.ops:
			op()
		case <-chatTick.C:
			if a.state != Live && a.chatID != "" {
				a.refreshChat()
			}
		case <-listTick.C:
			if a.state != Live {
				a.refreshChats()
			}
		}
	}
}

// Snapshot returns the current view.
func (a *Agent) Snapshot() View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.view
}

// Changes signals after every view update. Signals coalesce.
func (a *Agent) Changes() <-chan struct{} {
	return a.changes
}

// OpenChat makes chatID the open chat and fetches its timeline.
func (a *Agent) OpenChat(chatID string) {
	a.post(func() {
		a.gen++
		a.chatID = chatID
		a.messages = nil
		a.typing = false
		a.partial = false
		for i := range a.chats {
			if a.chats[i].ChatID == chatID {
				a.chats[i].UnreadCount = 0
			}
		}
		a.publish()
		a.refreshChat()
	})
}

// CloseChat closes the open chat. Results still in flight for it are dropped.
func (a *Agent) CloseChat() {
	a.post(func() {
		a.gen++
		a.chatID = ""
		a.messages = nil
		a.typing = false
		a.partial = false
		a.publish()
	})
}

// Refresh refetches the chat list and the open chat now.
func (a *Agent) Refresh() {
	a.post(func() {
		a.refreshChats()
		if a.chatID != "" {
			a.refreshChat()
		}
	})
}

// Send shows body as an optimistic message in chatID and sends it. It
// returns the temp id the message is tracked under.
func (a *Agent) Send(chatID, body string) string {
	tempID := uuid.NewString()
	a.post(func() { a.startSend(chatID, body, tempID) })
	return tempID
}

func (a *Agent) post(fn func()) {
	select {
	case a.ops <- fn:
	case <-a.done:
	}
}

func (a *Agent) startSend(chatID, body, tempID string) {
	if chatID == a.chatID {
		a.messages = append(a.messages, timeline.Message{
			ChatID:     chatID,
			Body:       body,
			FromMe:     true,
			Timestamp:  a.now().UnixMilli(),
			Ack:        timeline.AckPtr(ack.Pending),
			Status:     ack.Pending.String(),
			TempID:     tempID,
			Optimistic: true,
		})
		a.publish()
	}
	gen, ctx := a.gen, a.ctx
	go func() {
		msg, err := a.backend.Send(ctx, chatID, body, tempID)
		a.post(func() { a.finishSend(gen, chatID, tempID, msg, err) })
	}()
}

func (a *Agent) finishSend(gen uint64, chatID, tempID string, msg timeline.Message, err error) {
	if err != nil {
		a.log.Warn("send failed", zap.String("chat_id", chatID), zap.String("temp_id", tempID), zap.Error(err))
		a.lastErr = "send failed: " + err.Error()
	}
	if gen != a.gen || chatID != a.chatID {
		a.publish()
		return
	}
	if err != nil {
		a.messages, _ = timeline.ApplyAck(a.messages, tempID, ack.Failed)
		a.publish()
		return
	}
	msg.Optimistic = false
	msg.TempID = tempID
	if msg.ChatID == "" {
		msg.ChatID = chatID
	}
	if msg.Ack == nil {
		msg.Ack = timeline.AckPtr(ack.Sent)
	}
	a.messages = timeline.Reconcile(a.messages, msg)
	a.bumpChat(msg)
	a.publish()
}

func (a *Agent) refreshChat() {
	gen, chatID, ctx := a.gen, a.chatID, a.ctx
	go func() {
		h, err := a.backend.ChatMessages(ctx, chatID, a.cfg.MessageLimit)
		a.post(func() { a.applyHistory(gen, chatID, h, err) })
	}()
}

func (a *Agent) applyHistory(gen uint64, chatID string, h History, err error) {
	if gen != a.gen || chatID != a.chatID {
		a.log.Debug("discarding stale history", zap.String("chat_id", chatID))
		return
	}
	if err != nil {
		a.fallbackToLastMessage()
		a.fail(err)
		return
	}
	a.succeed()

	var held, pending []timeline.Message
	for _, m := range a.messages {
		if m.Optimistic {
			pending = append(pending, m)
		} else {
			held = append(held, m)
		}
	}
	merged := timeline.Merge(h.Messages, held, pending)
	if keep := max(a.cfg.MessageLimit, len(h.Messages)); len(merged) > keep {
		merged = merged[len(merged)-keep:]
	}
	a.messages = merged
	if len(h.Messages) > 0 {
		a.partial = false
	} else {
		a.fallbackToLastMessage()
	}
	a.publish()
}

// fallbackToLastMessage seeds an open chat that has no confirmed messages
// with the last message known from the chat list.
func (a *Agent) fallbackToLastMessage() {
	if slices.ContainsFunc(a.messages, func(m timeline.Message) bool { return !m.Optimistic }) {
		return
	}
	i := slices.IndexFunc(a.chats, func(c chatlist.Chat) bool { return c.ChatID == a.chatID })
	if i < 0 || a.chats[i].LastMessage == nil {
		return
	}
	lm := *a.chats[i].LastMessage
	if lm.ChatID == "" {
		lm.ChatID = a.chatID
	}
	a.messages = timeline.Reconcile(a.messages, lm)
	a.partial = true
}

func (a *Agent) refreshChats() {
	ctx := a.ctx
	go func() {
		chats, err := a.backend.Chats(ctx)
		a.post(func() { a.applyChats(chats, err) })
	}()
}

func (a *Agent) applyChats(chats []chatlist.Chat, err error) {
	if err != nil {
		a.fail(err)
		return
	}
	a.succeed()
	for i := range chats {
		if chats[i].ChatID == a.chatID {
			chats[i].UnreadCount = 0
		}
	}
	a.chats = chats
	a.publish()
}

func (a *Agent) fail(err error) {
	a.failures++
	a.lastErr = err.Error()
	if a.failures >= a.cfg.FailureThreshold && !a.offline {
		a.offline = true
		a.log.Warn("daemon unreachable", zap.Int("failures", a.failures), zap.Error(err))
	}
	a.publish()
}

func (a *Agent) succeed() {
	a.failures = 0
	a.offline = false
	a.lastErr = ""
}

func (a *Agent) handleEnvelope(env realtime.Envelope) {
	switch env.Action {
	case realtime.ActionMessage:
		var m timeline.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			a.log.Debug("bad message envelope", zap.Error(err))
			return
		}
		if m.ChatID == "" {
			m.ChatID = env.ChatID
		}
		a.bumpChat(m)
		if m.ChatID == a.chatID {
			a.messages = timeline.Reconcile(a.messages, m)
			if !m.FromMe {
				a.typing = false
			}
		}
	case realtime.ActionAck:
		if env.ChatID != a.chatID {
			return
		}
		var p realtime.AckPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			a.log.Debug("bad ack envelope", zap.Error(err))
			return
		}
		var changed bool
		a.messages, changed = timeline.ApplyAck(a.messages, p.MessageID, ack.Level(p.Ack))
		if !changed {
			return
		}
	case realtime.ActionTyping:
		if env.ChatID != a.chatID {
			return
		}
		var p realtime.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		a.typing = p.IsTyping
	default:
		return
	}
	a.publish()
}

// bumpChat moves the chat of m to the top of the list. Unknown chats trigger
// a list refresh.
func (a *Agent) bumpChat(m timeline.Message) {
	i := slices.IndexFunc(a.chats, func(c chatlist.Chat) bool { return c.ChatID == m.ChatID })
	if i < 0 {
		a.refreshChats()
		return
	}
	c := a.chats[i]
	if c.LastMessage == nil || c.LastMessage.Timestamp <= m.Timestamp {
		lm := m
		c.LastMessage = &lm
	}
	if !m.FromMe && m.ChatID != a.chatID {
		c.UnreadCount++
	}
	a.chats = slices.Delete(a.chats, i, i+1)
	a.chats = slices.Insert(a.chats, 0, c)
}

func (a *Agent) setState(to State) {
	if to == a.state {
		return
	}
	if a.pollingOnly && to != Polling {
		return
	}
	if err := checkTransition(a.state, to); err != nil {
		a.log.Debug("ignoring sync transition", zap.Error(err))
		return
	}
	a.log.Debug("sync state", zap.String("from", string(a.state)), zap.String("to", string(to)))
	a.state = to
	a.publish()
}

func (a *Agent) goPollingOnly() {
	a.setState(Polling)
	a.pollingOnly = true
	a.publish()
}

// subscribe keeps the push channel up. After ResubscribeAttempts consecutive
// failed retries the session stays in Polling.
func (a *Agent) subscribe(ctx context.Context) {
	retries := 0
	for {
		a.post(func() { a.setState(Subscribing) })
		opened := false
		err := a.channel.Listen(ctx, func() {
			opened = true
			a.post(a.onLive)
		}, func(env realtime.Envelope) {
			a.post(func() { a.handleEnvelope(env) })
		})
		if ctx.Err() != nil {
			return
		}
		if opened {
			retries = 0
		}
		if retries >= a.cfg.ResubscribeAttempts {
			a.log.Warn("push channel unavailable, polling from now on", zap.Error(err))
			a.post(a.goPollingOnly)
			return
		}
		retries++
		a.log.Info("push channel down, polling", zap.Int("retry", retries), zap.Error(err))
		a.post(a.onDrop)

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.ResubscribeDelay):
		}
	}
}

func (a *Agent) onLive() {
	a.setState(Live)
	// Catch up on anything pushed while the channel was down.
	a.refreshChats()
	if a.chatID != "" {
		a.refreshChat()
	}
}

func (a *Agent) onDrop() {
	a.setState(Polling)
	if a.chatID != "" {
		a.refreshChat()
	}
}

func (a *Agent) publish() {
	a.version++
	v := View{
		State:          a.state,
		PollingOnly:    a.pollingOnly,
		Offline:        a.offline,
		ChatID:         a.chatID,
		Messages:       slices.Clone(a.messages),
		Chats:          slices.Clone(a.chats),
		Typing:         a.typing,
		HistoryPartial: a.partial,
		LastError:      a.lastErr,
		Version:        a.version,
	}
	a.mu.Lock()
	a.view = v
	a.mu.Unlock()
	select {
	case a.changes <- struct{}{}:
	default:
	}
}
