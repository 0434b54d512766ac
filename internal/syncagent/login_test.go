package syncagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdvlpr/gomercatocrm/internal/status"
)

type fakeLogin struct {
	mu       sync.Mutex
	states   []status.State
	calls    int
	loginErr error
	qr       string
}

func (f *fakeLogin) Login(context.Context) (string, error) { return "", f.loginErr }

func (f *fakeLogin) Status(context.Context) (SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := status.AuthRequired
	if f.calls < len(f.states) {
		st = f.states[f.calls]
	}
	f.calls++
	return SessionStatus{State: st}, nil
}

func (f *fakeLogin) QRCode(context.Context) (QR, error) {
	return QR{Token: f.qr}, nil
}

func collect(updates *[]LoginUpdate) func(LoginUpdate) {
	return func(u LoginUpdate) { *updates = append(*updates, u) }
}

func TestLoginPollerReady(t *testing.T) {
	f := &fakeLogin{
		states:   []status.State{status.AuthRequired, status.Connecting, status.Ready},
		qr:       "2@abc",
		loginErr: errors.New("already started"),
	}
	p := NewLoginPoller(f, time.Millisecond, 10, nil)

	var updates []LoginUpdate
	require.NoError(t, p.Run(context.Background(), collect(&updates)))

	phases := make([]LoginPhase, 0, len(updates))
	for _, u := range updates {
		phases = append(phases, u.Phase)
	}
	assert.Equal(t, []LoginPhase{PhaseStarting, PhaseQR, PhaseConnecting, PhaseReady}, phases)
	assert.Equal(t, "2@abc", updates[1].QR.Token)
	assert.Equal(t, 3, updates[3].Attempt)
}

func TestLoginPollerExpires(t *testing.T) {
	f := &fakeLogin{qr: "2@abc"}
	p := NewLoginPoller(f, time.Millisecond, 4, nil)

	var updates []LoginUpdate
	err := p.Run(context.Background(), collect(&updates))
	require.ErrorIs(t, err, ErrLoginExpired)

	last := updates[len(updates)-1]
	assert.Equal(t, PhaseRetryRequired, last.Phase)
	assert.Equal(t, 4, f.calls)
}

func TestLoginPollerCanceled(t *testing.T) {
	f := &fakeLogin{qr: "2@abc"}
	p := NewLoginPoller(f, time.Hour, 60, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, func(LoginUpdate) {}) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
