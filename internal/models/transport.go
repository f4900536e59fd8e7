package models

// TransportState is the readiness of the messaging transport session.
type TransportState int

const (
	StateInitializing TransportState = iota
	StateAwaitingAuthentication
	StateReady
	StateDisconnected
)

func (s TransportState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingAuthentication:
		return "awaiting_authentication"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s TransportState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
