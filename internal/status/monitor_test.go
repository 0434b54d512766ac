package status

import (
	"context"
	"errors"
	"testing"

	"github.com/skdvlpr/gomercatocrm/internal/bridge"
)

type fakeSource struct {
	states []bridge.SessionState
	errs   []error
	calls  int
}

func (f *fakeSource) Status(context.Context) (bridge.SessionState, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return bridge.SessionState{}, f.errs[i]
	}
	if i < len(f.states) {
		return f.states[i], nil
	}
	return f.states[len(f.states)-1], nil
}

func TestMonitorPoll(t *testing.T) {
	src := &fakeSource{
		states: []bridge.SessionState{
			{State: "UNPAIRED"},
			{},
			{IsConnected: true},
			{State: "CONNECTED"},
		},
		errs: []error{nil, errors.New("connection refused")},
	}
	m := NewMachine(nil)
	mon := NewMonitor(src, m, 0, nil)
	ctx := context.Background()

	want := []State{AuthRequired, Unreachable, Ready, Ready}
	for i, w := range want {
		if got := mon.Poll(ctx); got != w {
			t.Errorf("poll %d = %s, want %s", i, got, w)
		}
	}
}
