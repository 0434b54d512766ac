package syncagent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/status"
)

// ErrLoginExpired means the pairing window closed without a connected
// session. The operator has to start the login again.
var ErrLoginExpired = errors.New("login expired, retry required")

// LoginPhase is what the login screen should show.
type LoginPhase string

const (
	PhaseStarting      LoginPhase = "STARTING"
	PhaseQR            LoginPhase = "QR"
	PhaseConnecting    LoginPhase = "CONNECTING"
	PhaseReady         LoginPhase = "READY"
	PhaseRetryRequired LoginPhase = "RETRY_REQUIRED"
)

// LoginUpdate is one step of a login attempt.
type LoginUpdate struct {
	Phase       LoginPhase
	QR          QR
	Attempt     int
	MaxAttempts int
	Err         error
}

// LoginBackend is the part of the daemon API used to pair a session.
type LoginBackend interface {
	Login(ctx context.Context) (string, error)
	Status(ctx context.Context) (SessionStatus, error)
	QRCode(ctx context.Context) (QR, error)
}

// LoginPoller polls the session until it is connected or the attempt cap is
// reached. It is independent of message sync.
type LoginPoller struct {
	backend  LoginBackend
	interval time.Duration
	max      int
	log      *zap.Logger
}

// NewLoginPoller defaults to a 3s interval and 60 attempts.
func NewLoginPoller(backend LoginBackend, interval time.Duration, maxAttempts int, logger *zap.Logger) *LoginPoller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginPoller{backend: backend, interval: interval, max: maxAttempts, log: logger.Named("login")}
}

// Run starts the session and reports progress to fn. It returns nil once the
// session is ready and ErrLoginExpired after the last attempt.
func (p *LoginPoller) Run(ctx context.Context, fn func(LoginUpdate)) error {
	fn(LoginUpdate{Phase: PhaseStarting, MaxAttempts: p.max})
	if _, err := p.backend.Login(ctx); err != nil {
		// The bridge may already have the session running; keep polling.
		p.log.Warn("start session failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastQR string
	for attempt := 1; attempt <= p.max; attempt++ {
		u := LoginUpdate{Attempt: attempt, MaxAttempts: p.max}
		st, err := p.backend.Status(ctx)
		switch {
		case err != nil:
			u.Phase, u.Err = PhaseConnecting, err
			fn(u)
		case st.State == status.Ready:
			u.Phase = PhaseReady
			fn(u)
			return nil
		case st.State == status.Connecting:
			u.Phase = PhaseConnecting
			fn(u)
		default:
			qr, err := p.backend.QRCode(ctx)
			if err != nil || qr.Token == "" {
				u.Phase, u.Err = PhaseConnecting, err
				fn(u)
				break
			}
			if qr.Token != lastQR {
				p.log.Debug("new pairing code", zap.Int("attempt", attempt))
				lastQR = qr.Token
			}
			u.Phase, u.QR = PhaseQR, qr
			fn(u)
		}

		if attempt == p.max {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	fn(LoginUpdate{Phase: PhaseRetryRequired, Attempt: p.max, MaxAttempts: p.max, Err: ErrLoginExpired})
	return ErrLoginExpired
}
