package handoff

import "github.com/matheus3301/livechat/internal/status"

// State is the escalation state.
type State string

const (
	Idle              State = "IDLE"
	Checking          State = "CHECKING"
	Escalating        State = "ESCALATING"
	RedirectedOffline State = "REDIRECTED_OFFLINE"
)

// Escalating is kept once the handoff request succeeded; a failed request
// returns to Idle. The offline redirect may be retried.
var transitions = status.Table[State]{
	Idle:              {Checking},
	Checking:          {Escalating, RedirectedOffline, Idle},
	Escalating:        {Idle},
	RedirectedOffline: {Checking},
}
