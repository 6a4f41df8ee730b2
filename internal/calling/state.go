package calling

import (
	"context"

	"github.com/looplab/fsm"
)

type State string

const (
	StateNew         State = "new"
	StateOffering    State = "offering"
	StateAwaiting    State = "awaiting_convergence"
	StateReady       State = "ready"
	StateActive      State = "active"
	StateTerminating State = "terminating"
	StateClosed      State = "closed"
)

const (
	evOffer     = "offer"
	evAwait     = "await"
	evConverge  = "converge"
	evActivate  = "activate"
	evTerminate = "terminate"
	evClose     = "close"
)

func states(s ...State) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

// Initial reports whether the call is still negotiating.
func (s State) Initial() bool {
	return s == StateNew || s == StateOffering || s == StateAwaiting
}

func newStateMachine(onChange func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateNew),
		fsm.Events{
			{Name: evOffer, Src: states(StateNew, StateAwaiting), Dst: string(StateOffering)},
			{Name: evAwait, Src: states(StateOffering), Dst: string(StateAwaiting)},
			{Name: evConverge, Src: states(StateNew, StateOffering, StateAwaiting), Dst: string(StateReady)},
			{Name: evActivate, Src: states(StateReady), Dst: string(StateActive)},
			{Name: evTerminate, Src: states(StateNew, StateOffering, StateAwaiting, StateReady, StateActive), Dst: string(StateTerminating)},
			{Name: evClose, Src: states(StateNew, StateOffering, StateAwaiting, StateReady, StateActive, StateTerminating), Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
