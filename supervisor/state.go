package supervisor

import "fmt"

// State is a server's connection state.
type State int

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
	CircuitOpen
	PermanentlyDisabled
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case CircuitOpen:
		return "circuit_open"
	case PermanentlyDisabled:
		return "permanently_disabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
