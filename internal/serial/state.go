package serial

import "time"

// State of a Connector.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is emitted on every state transition.
type Status struct {
	Device    string        `json:"device"`
	State     State         `json:"state"`
	Connected bool          `json:"connected"`
	Endpoint  string        `json:"endpoint,omitempty"`
	Error     string        `json:"error,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	Retry     time.Duration `json:"retryIn,omitempty"`
	GaveUp    bool          `json:"gaveUp,omitempty"`
	Time      time.Time     `json:"time"`
}
