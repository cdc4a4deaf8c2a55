package service

import "fmt"

// State is a step of the per-request state machine.
type State int

const (
	StateIdle State = iota
	StateEmbeddingQuestion
	StateSearching
	StateAssemblingContext
	StateGenerating
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateEmbeddingQuestion: "embedding_question",
	StateSearching:         "searching",
	StateAssemblingContext: "assembling_context",
	StateGenerating:        "generating",
	StateComplete:          "complete",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// Failed is reachable from every non-terminal state and is therefore not listed.
var transitions = map[State][]State{
	StateIdle:              {StateEmbeddingQuestion},
	StateEmbeddingQuestion: {StateSearching, StateAssemblingContext},
	StateSearching:         {StateAssemblingContext},
	StateAssemblingContext: {StateGenerating},
	StateGenerating:        {StateComplete},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	state    State
	onChange func(from, to State)
}

func (m *stateMachine) transition(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("illegal transition %s -> %s", m.state, to)
	}
	from := m.state
	m.state = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
