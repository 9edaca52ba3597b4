package orchestrator

import (
	"fmt"
	"github.com/goccy/go-json"
)

// State is where a cluster is in its lifecycle. States only move forward.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateStopped
	StateRemoved
)

var stateNames = map[State]string{
	StateCreated: "CREATED",
	StateStarted: "STARTED",
	StateStopped: "STOPPED",
	StateRemoved: "REMOVED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range stateNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown cluster state %q", name)
}

// CanMove reports whether a cluster in s may move to next. REMOVED is
// terminal.
func (s State) CanMove(next State) bool {
	return s != StateRemoved && next > s
}
