package room

import "fmt"

type State int

const (
	Idle State = iota
	Joining
	Active
	Reconnecting
	Leaving
	// Disconnected is terminal until Leave: the reconnect budget ran out.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Reconnecting:
		return "reconnecting"
	case Leaving:
		return "leaving"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
