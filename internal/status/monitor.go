package status

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/bridge"
)

// Source reports the bridge session state.
type Source interface {
	Status(ctx context.Context) (bridge.SessionState, error)
}

// Monitor polls the bridge and feeds the Machine.
type Monitor struct {
	src      Source
	machine  *Machine
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor creates a monitor polling src every interval.
func NewMonitor(src Source, machine *Machine, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{src: src, machine: machine, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.Poll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Poll asks the bridge once and returns the resulting state.
func (m *Monitor) Poll(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	st, err := m.src.Status(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return m.machine.Current()
		}
		if m.machine.ObserveUnreachable(err.Error()) {
			m.logger.Warn("bridge unreachable", zap.Error(err))
		}
		return m.machine.Current()
	}
	state := st.State
	if state == "" && st.IsConnected {
		state = "CONNECTED"
	}
	prev := m.machine.Current()
	if m.machine.Observe(state, st.Message) {
		m.logger.Info("session state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(m.machine.Current())),
			zap.String("bridge_state", state))
	}
	return m.machine.Current()
}
