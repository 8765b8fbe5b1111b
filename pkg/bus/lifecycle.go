package bus

import "github.com/fluxorio/msgbus/pkg/fsm"

// QueuedBus worker states.
const (
	StateIdle       fsm.State = "idle"
	StateDelivering fsm.State = "delivering"
	StateDraining   fsm.State = "draining"
	StateStopped    fsm.State = "stopped"
)

// QueuedBus worker events.
const (
	EventDequeue   fsm.Event = "dequeue"
	EventDelivered fsm.Event = "delivered"
	EventShutdown  fsm.Event = "shutdown"
	EventDrained   fsm.Event = "drained"
)

// newLifecycle builds the worker state machine. Only the worker goroutine
// triggers events; everyone else reads.
func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(StateIdle,
		fsm.Transition{From: StateIdle, Event: EventDequeue, To: StateDelivering},
		fsm.Transition{From: StateDelivering, Event: EventDelivered, To: StateIdle},
		fsm.Transition{From: StateIdle, Event: EventShutdown, To: StateDraining},
		fsm.Transition{From: StateDraining, Event: EventDequeue, To: StateDraining},
		fsm.Transition{From: StateDraining, Event: EventDelivered, To: StateDraining},
		fsm.Transition{From: StateDraining, Event: EventDrained, To: StateStopped},
	)
}
