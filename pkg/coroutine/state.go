package coroutine

import (
	"encoding/json"
	"regexp"
)

// State is the lifecycle state of a task.
type State int

const (
	StateUnknown State = iota
	StateNew
	StateRunning
	StateSuspendedCancelling
	StateSuspendedCompleting
	StateCancelled
	StateCompleted
)

var stateNames = map[State]string{
	StateUnknown:             "UNKNOWN",
	StateNew:                 "NEW",
	StateRunning:             "RUNNING",
	StateSuspendedCancelling: "SUSPENDED_CANCELLING",
	StateSuspendedCompleting: "SUSPENDED_COMPLETING",
	StateCancelled:           "CANCELLED",
	StateCompleted:           "COMPLETED",
}

// String returns the upper-case name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return stateNames[StateUnknown]
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// labels maps the state token printed by a job's toString.
var labels = map[string]State{
	"Active":     StateRunning,
	"Cancelling": StateSuspendedCancelling,
	"Completing": StateSuspendedCompleting,
	"Cancelled":  StateCancelled,
	"Completed":  StateCompleted,
	"New":        StateNew,
}

// StateOf maps a state token. Unknown tokens map to StateUnknown.
func StateOf(token string) State {
	if s, ok := labels[token]; ok {
		return s
	}
	return StateUnknown
}

var stateLabel = regexp.MustCompile(`^\w+\{(\w+)\}@(\w+)$`)

// ParseState parses a textual representation like
// "StandaloneCoroutine{Active}@5b2c7b9" into its state and hex address.
func ParseState(text string) (state State, hexAddress string, ok bool) {
	m := stateLabel.FindStringSubmatch(text)
	if m == nil {
		return StateUnknown, "", false
	}
	return StateOf(m[1]), m[2], true
}
