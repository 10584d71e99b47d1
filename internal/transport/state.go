package transport

import "github.com/matheus3301/livechat/internal/status"

// State is the live channel connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// transitions is the connection lifecycle. Polling is not a state: it only
// runs while Disconnected.
var transitions = status.Table[State]{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}
