package ack

import (
	"fmt"
	"sync"
)

// TransitionError describes an ack update that was refused.
type TransitionError struct {
	From Level
	To   Level
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid ack transition from %s to %s", e.From, e.To)
}

// Tracker holds the ack level of a single message and enforces Apply on
// every update.
type Tracker struct {
	mu      sync.Mutex
	current Level
	history []Level
}

// NewTracker starts a tracker at the given level.
func NewTracker(start Level) *Tracker {
	return &Tracker{current: start, history: []Level{start}}
}

// Current returns the tracked level.
func (t *Tracker) Current() Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Advance applies next. A refused update leaves the level untouched and
// returns a *TransitionError; repeating the current level is a no-op.
func (t *Tracker) Advance(next Level) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if next == t.current {
		return nil
	}
	l, changed := Apply(t.current, next)
	if !changed {
		return &TransitionError{From: t.current, To: next}
	}
	t.current = l
	t.history = append(t.history, l)
	return nil
}

// History returns every level the tracker has held, oldest first.
func (t *Tracker) History() []Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Level, len(t.history))
	copy(out, t.history)
	return out
}
