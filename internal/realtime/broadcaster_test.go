package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/skdvlpr/gomercatocrm/internal/bus"
)

type fakeRelay struct {
	mu        sync.Mutex
	published [][]byte
	err       error
	deliver   chan []byte
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{deliver: make(chan []byte, 8)}
}

func (r *fakeRelay) Publish(_ context.Context, _ string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, payload)
	return r.err
}

func (r *fakeRelay) Subscribe(ctx context.Context, _ string, fn func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-r.deliver:
			fn(p)
		}
	}
}

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func recv(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope")
	}
	return Envelope{}
}

func TestPublishEnvelope(t *testing.T) {
	b := NewBroadcaster(bus.New(), nil, WithClock(fixedClock))
	ch, release := b.Subscribe(4)
	defer release()

	b.Publish("391234@c.us", ActionAck, AckPayload{MessageID: "X", Ack: 3, Status: "read"})

	env := recv(t, ch)
	assert.Equal(t, ActionAck, env.Action)
	assert.Equal(t, "391234@c.us", env.ChatID)
	assert.Equal(t, int64(1700000000000), env.Timestamp)
	assert.JSONEq(t, `{"messageId":"X","ack":3,"status":"read"}`, string(env.Data))

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"message_ack","chatId":"391234@c.us","data":{"messageId":"X","ack":3,"status":"read"},"timestamp":1700000000000}`, string(raw))
}

func TestPublishDropsInvalid(t *testing.T) {
	b := NewBroadcaster(bus.New(), nil)
	ch, release := b.Subscribe(4)
	defer release()

	b.Publish("c", Action("presence"), nil)
	b.Publish("c", ActionMessage, func() {})

	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutViewersDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(bus.New(), nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("c", ActionTyping, TypingPayload{IsTyping: true})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}

func TestEveryViewerReceives(t *testing.T) {
	b := NewBroadcaster(bus.New(), nil)
	a, releaseA := b.Subscribe(4)
	defer releaseA()
	c, releaseC := b.Subscribe(4)
	defer releaseC()
	assert.Equal(t, 2, b.Viewers())

	b.Publish("chat-1", ActionMessage, map[string]string{"body": "hi"})
	assert.Equal(t, "chat-1", recv(t, a).ChatID)
	assert.Equal(t, "chat-1", recv(t, c).ChatID)

	releaseC()
	releaseC()
	assert.Equal(t, 1, b.Viewers())
}

func TestRelayMirrorsWithOrigin(t *testing.T) {
	relay := newFakeRelay()
	b := NewBroadcaster(bus.New(), nil, WithRelay(relay, "crmchat:ws"))

	b.Publish("c", ActionMessage, map[string]string{"body": "hi"})

	require.Eventually(t, func() bool { return relay.count() == 1 }, time.Second, 5*time.Millisecond)
	var env Envelope
	relay.mu.Lock()
	require.NoError(t, json.Unmarshal(relay.published[0], &env))
	relay.mu.Unlock()
	assert.Equal(t, b.Origin(), env.Origin)
}

func TestRelayFailureIsSwallowed(t *testing.T) {
	relay := newFakeRelay()
	relay.err = errors.New("connection refused")
	b := NewBroadcaster(bus.New(), nil, WithRelay(relay, "crmchat:ws"))
	ch, release := b.Subscribe(4)
	defer release()

	b.Publish("c", ActionMessage, "x")

	assert.Equal(t, ActionMessage, recv(t, ch).Action)
	require.Eventually(t, func() bool { return relay.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRelayReceiveSkipsOwnOrigin(t *testing.T) {
	relay := newFakeRelay()
	b := NewBroadcaster(bus.New(), nil, WithRelay(relay, "crmchat:ws"))
	ch, release := b.Subscribe(4)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	own, _ := json.Marshal(Envelope{Action: ActionMessage, ChatID: "own", Data: json.RawMessage(`{}`), Origin: b.Origin()})
	other, _ := json.Marshal(Envelope{Action: ActionMessage, ChatID: "other", Data: json.RawMessage(`{}`), Origin: "peer"})
	relay.deliver <- []byte("not json")
	relay.deliver <- own
	relay.deliver <- other

	env := recv(t, ch)
	assert.Equal(t, "other", env.ChatID)
	assert.Empty(t, env.Origin)
}

func TestRunWithoutRelay(t *testing.T) {
	b := NewBroadcaster(bus.New(), nil)
	assert.NoError(t, b.Run(context.Background()))
}

func TestPushEndpoint(t *testing.T) {
	b := NewBroadcaster(bus.New(), nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	b.RegisterRoutes(app.Group("/api/whatsapp"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+ln.Addr().String()+"/api/whatsapp/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return b.Viewers() == 1 }, 2*time.Second, 10*time.Millisecond)

	b.Publish("391234@c.us", ActionTyping, TypingPayload{IsTyping: true})

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, ActionTyping, env.Action)
	assert.Equal(t, "391234@c.us", env.ChatID)
	assert.JSONEq(t, `{"isTyping":true}`, string(env.Data))
}

func TestPushEndpointRequiresUpgrade(t *testing.T) {
	b := NewBroadcaster(bus.New(), nil)
	app := fiber.New()
	b.RegisterRoutes(app.Group("/api/whatsapp"))

	req, _ := http.NewRequest(http.MethodGet, "/api/whatsapp/ws", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestSlowViewerIsClosedNotStarved(t *testing.T) {
	b := NewBroadcaster(bus.New(), nil)
	ch, release := b.Subscribe(64)
	defer release()

	for i := 0; i < 300; i++ {
		b.Publish("c", ActionMessage, map[string]int{"n": i})
	}

	received := 0
	deadline := time.After(time.Second)
	for closed := false; !closed; {
		select {
		case _, ok := <-ch:
			if !ok {
				closed = true
				break
			}
			received++
		case <-deadline:
			t.Fatalf("viewer still subscribed after overflow, received %d", received)
		}
	}
	assert.Less(t, received, 300)
	assert.Equal(t, 0, b.Viewers())
	assert.Equal(t, uint64(1), b.Evicted())
}
