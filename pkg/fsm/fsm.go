package fsm

import (
	"fmt"
	"sync"
)

// State represents a state in the machine
type State string

// Event represents an event that triggers a transition
type Event string

// Transition represents a valid state transition
type Transition struct {
	From  State
	Event Event
	To    State
}

// TransitionError is returned by Trigger when the event is not valid in the
// current state.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from state '%s' with event '%s'", e.From, e.Event)
}

// Listener observes every successful transition.
type Listener func(t Transition)

// FSM is a thread-safe finite state machine
type FSM struct {
	currentState State
	transitions  map[State]map[Event]State
	callbacks    map[State]func(event Event)
	listeners    []Listener
	changed      *sync.Cond
	mu           sync.RWMutex
}

// NewFSM creates a new FSM with the initial state
func NewFSM(initialState State, transitions ...Transition) *FSM {
	f := &FSM{
		currentState: initialState,
		transitions:  make(map[State]map[Event]State),
		callbacks:    make(map[State]func(event Event)),
	}
	f.changed = sync.NewCond(&f.mu)
	for _, t := range transitions {
		f.addTransition(t.From, t.Event, t.To)
	}
	return f
}

// AddTransition adds a valid transition
func (f *FSM) AddTransition(from State, event Event, to State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addTransition(from, event, to)
}

func (f *FSM) addTransition(from State, event Event, to State) {
	if _, ok := f.transitions[from]; !ok {
		f.transitions[from] = make(map[Event]State)
	}
	f.transitions[from][event] = to
}

// SetStateCallback sets a callback to be executed when entering a state
func (f *FSM) SetStateCallback(state State, callback func(event Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[state] = callback
}

// OnTransition registers a listener called after every transition, outside
// the machine's lock.
func (f *FSM) OnTransition(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// CurrentState returns the current state
func (f *FSM) CurrentState() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentState
}

// Is reports whether the machine is currently in state s.
func (f *FSM) Is(s State) bool {
	return f.CurrentState() == s
}

// Trigger triggers an event
func (f *FSM) Trigger(event Event) error {
	f.mu.Lock()

	from := f.currentState
	toState, ok := f.transitions[from][event]
	if !ok {
		f.mu.Unlock()
		return &TransitionError{From: from, Event: event}
	}

	f.currentState = toState
	callback := f.callbacks[toState]
	listeners := f.listeners
	f.changed.Broadcast()
	f.mu.Unlock()

	// execute callback synchronously to ensure state consistency
	// for async callbacks, the user should handle goroutines inside the callback
	if callback != nil {
		callback(event)
	}
	t := Transition{From: from, Event: event, To: toState}
	for _, l := range listeners {
		l(t)
	}
	return nil
}

// CanTrigger checks if an event can be triggered from the current state
func (f *FSM) CanTrigger(event Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.transitions[f.currentState][event]
	return ok
}

// WaitFor blocks until the machine enters one of states.
func (f *FSM) WaitFor(states ...State) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		for _, s := range states {
			if f.currentState == s {
				return s
			}
		}
		f.changed.Wait()
	}
}
