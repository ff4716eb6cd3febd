package session

import "github.com/fabricmesh/inference-session-core/internal/xerrors"

// State is a node in the session lifecycle state machine (§4.6).
type State int

const (
	StateNegotiating State = iota
	StatePosted
	StateClaimed
	StateActive
	StatePaused
	StateDraining
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "Negotiating"
	case StatePosted:
		return "Posted"
	case StateClaimed:
		return "Claimed"
	case StateActive:
		return "Active"
	case StatePaused:
		return "Paused"
	case StateDraining:
		return "Draining"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Event drives a state transition.
type Event int

const (
	EventEscrowPosted Event = iota
	EventHostClaimed
	EventSessionReady
	EventPromptStreaming
	EventLocalPause
	EventResume
	EventUserClose
	EventDisconnect
	EventSettlementConfirmed
	EventFatalError
)

func (e Event) String() string {
	switch e {
	case EventEscrowPosted:
		return "EscrowPosted"
	case EventHostClaimed:
		return "HostClaimed"
	case EventSessionReady:
		return "SessionReady"
	case EventPromptStreaming:
		return "PromptStreaming"
	case EventLocalPause:
		return "LocalPause"
	case EventResume:
		return "Resume"
	case EventUserClose:
		return "UserClose"
	case EventDisconnect:
		return "Disconnect"
	case EventSettlementConfirmed:
		return "SettlementConfirmed"
	case EventFatalError:
		return "FatalError"
	default:
		return "Unknown"
	}
}

// transitions encodes the diagram in §4.6. EventFatalError is handled
// separately below since it applies from any non-terminal state.
var transitions = map[State]map[Event]State{
	StateNegotiating: {EventEscrowPosted: StatePosted},
	StatePosted:      {EventHostClaimed: StateClaimed},
	StateClaimed:     {EventSessionReady: StateActive},
	StateActive: {
		EventPromptStreaming: StateActive,
		EventLocalPause:      StatePaused,
		EventUserClose:       StateDraining,
		EventDisconnect:      StateDraining,
	},
	StatePaused: {
		EventResume: StateActive,
	},
	StateDraining: {
		EventSettlementConfirmed: StateCompleted,
	},
}

// Machine is a single session's state machine. It holds no transport or
// I/O concerns; the Engine drives it from frame and chain events.
type Machine struct {
	current State
}

func NewMachine() *Machine {
	return &Machine{current: StateNegotiating}
}

func (m *Machine) Current() State { return m.current }

// Apply validates and performs a transition, returning StateErr if the
// event is not valid from the current state. EventFatalError is valid
// from any non-terminal state and always lands on Failed.
func (m *Machine) Apply(event Event) error {
	if m.current.Terminal() {
		return xerrors.StateErr(m.current.String(), event.String())
	}
	if event == EventFatalError {
		m.current = StateFailed
		return nil
	}

	next, ok := transitions[m.current][event]
	if !ok {
		return xerrors.StateErr(m.current.String(), event.String())
	}
	m.current = next
	return nil
}
