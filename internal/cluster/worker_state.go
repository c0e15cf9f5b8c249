package cluster

import (
	"context"

	"github.com/looplab/fsm"
)

// Worker slot states.
const (
	StateStarting      = "starting"
	StateOnline        = "online"
	StateDisconnecting = "disconnecting"
	StateExited        = "exited"
	StateCrashed       = "crashed"
)

// Worker slot events.
const (
	EventOnline     = "online"
	EventDisconnect = "disconnect"
	EventExit       = "exit"
	EventCrash      = "crash"
	EventRestart    = "restart"
)

// newWorkerFSM builds the lifecycle of one worker slot:
//
//	starting -> online -> (disconnecting -> exited) | (crashed -> starting)
//
// A slot that is still starting may also disconnect, crash or exit.
// onChange is called after every transition.
func newWorkerFSM(onChange func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		StateStarting,
		fsm.Events{
			{Name: EventOnline, Src: []string{StateStarting}, Dst: StateOnline},
			{Name: EventDisconnect, Src: []string{StateStarting, StateOnline}, Dst: StateDisconnecting},
			{Name: EventExit, Src: []string{StateStarting, StateOnline, StateDisconnecting}, Dst: StateExited},
			{Name: EventCrash, Src: []string{StateStarting, StateOnline}, Dst: StateCrashed},
			{Name: EventRestart, Src: []string{StateCrashed}, Dst: StateStarting},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(e.Src, e.Dst)
				}
			},
		},
	)
}
