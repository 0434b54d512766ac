package realtime

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	viewerBuffer = 64
)

// RegisterRoutes mounts the push endpoint at <router>/ws.
func (b *Broadcaster) RegisterRoutes(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	router.Get("/ws", websocket.New(b.serve))
}

// serve streams every envelope to one viewer until either side closes.
func (b *Broadcaster) serve(conn *websocket.Conn) {
	envs, release := b.Subscribe(viewerBuffer)
	defer release()

	b.logger.Debug("viewer connected", zap.Int("viewers", b.Viewers()))

	// Inbound frames are ignored; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					b.logger.Debug("viewer read error", zap.Error(err))
				}
				return
			}
		}
	}()
	defer func() {
		_ = conn.Close()
		<-closed
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			b.logger.Debug("viewer disconnected")
			return
		case env, ok := <-envs:
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				b.logger.Warn("encode envelope", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.logger.Debug("viewer write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
