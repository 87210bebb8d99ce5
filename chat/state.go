package chat

import "github.com/onnwee/twitcher/telemetry"

// State is where the client is in its connection lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateActive
	StateLost
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateLost:
		return "lost"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	telemetry.SetConnectionState(int(s))
}
