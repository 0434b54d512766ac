package syncagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/skdvlpr/gomercatocrm/internal/realtime"
)

// Channel delivers pushed envelopes. Listen blocks until the channel drops
// or ctx ends; onOpen runs once the channel is established.
type Channel interface {
	Listen(ctx context.Context, onOpen func(), fn func(realtime.Envelope)) error
}

// PushChannel subscribes to the daemon's websocket endpoint.
type PushChannel struct {
	URL         string
	Header      http.Header
	DialTimeout time.Duration
}

// NewPushChannel builds a channel for the daemon behind c.
func NewPushChannel(c *Client) *PushChannel {
	return &PushChannel{URL: c.PushURL(), Header: c.AuthHeader(), DialTimeout: 10 * time.Second}
}

func (p *PushChannel) Listen(ctx context.Context, onOpen func(), fn func(realtime.Envelope)) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, p.URL, &websocket.DialOptions{HTTPHeader: p.Header})
	cancel()
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(1 << 20)

	onOpen()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read push channel: %w", err)
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil || !env.Action.Valid() {
			continue
		}
		fn(env)
	}
}
