package link

// State is the connection state machine's current position. There is
// exactly one instance per manager; transitions are the only way to
// change it.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
	// StateSilentlyOff is the heuristic "walk-away" state: repeated rapid
	// drops reinterpreted as the console's radio having been powered down.
	// Requires a manual retry; no automatic backoff.
	StateSilentlyOff
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSilentlyOff:
		return "link_silently_off"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status pairs the state with a human-readable reason for error states.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}
