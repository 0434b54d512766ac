package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/status"
)

type statusResult struct {
	State       status.State `json:"state"`
	BridgeState string       `json:"bridgeState,omitempty"`
	Message     string       `json:"message,omitempty"`
	IsConnected bool         `json:"isConnected"`
}

// status asks the bridge for the session state. An unreachable bridge is a
// state, not an error.
func (s *server) status(c *fiber.Ctx) error {
	st, err := s.Bridge.Status(c.UserContext())
	if err != nil {
		s.log.Warn("bridge status failed", zap.Error(err))
		s.Session.ObserveUnreachable(err.Error())
		return ok(c, "bridge unreachable", statusResult{
			State:   status.Unreachable,
			Message: err.Error(),
		})
	}
	s.Session.Observe(st.State, st.Message)
	snap := s.Session.Snapshot()
	return ok(c, "session status", statusResult{
		State:       snap.State,
		BridgeState: st.State,
		Message:     st.Message,
		IsConnected: snap.State == status.Ready,
	})
}

// login starts the bridge session and returns the pairing token if one is
// already pending.
func (s *server) login(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if err := s.Bridge.StartSession(ctx); err != nil {
		return bridgeFailed("start session", err)
	}
	qr, err := s.Bridge.QRCode(ctx)
	if err != nil {
		s.log.Debug("qr not ready after start", zap.Error(err))
	}
	return ok(c, "session started", fiber.Map{"qrCode": qr})
}

func (s *server) qrCode(c *fiber.Ctx) error {
	ctx := c.UserContext()
	qr, err := s.Bridge.QRCode(ctx)
	if err != nil {
		return bridgeFailed("fetch qr code", err)
	}
	img, err := s.Bridge.QRImage(ctx)
	if err != nil {
		s.log.Debug("qr image unavailable", zap.Error(err))
	}
	return ok(c, "qr code", fiber.Map{"qr": qr, "qrImage": img})
}

func (s *server) logout(c *fiber.Ctx) error {
	if err := s.Bridge.TerminateSession(c.UserContext()); err != nil {
		return bridgeFailed("terminate session", err)
	}
	s.Session.Observe("DISCONNECTED", "logged out")
	return ok(c, "logged out", nil)
}
