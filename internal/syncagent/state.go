package syncagent

import (
	"fmt"
	"slices"
)

// State is the delivery mode of a sync session.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Subscribing  State = "SUBSCRIBING"
	Live         State = "LIVE"
	Polling      State = "POLLING"
)

var validTransitions = map[State][]State{
	Disconnected: {Subscribing, Polling},
	Subscribing:  {Live, Polling},
	Live:         {Polling},
	Polling:      {Subscribing},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid sync transition from %s to %s", from, to)
	}
	return nil
}
