package transfermodel

import "fmt"

// Event is a trigger that may move a Record from one State to
// another. BlobTransfer and BlockTransfer share the same transition
// table below.
type Event string

const (
	EventScheduled     Event = "scheduled"     // queue dispatched the unit
	EventProgress      Event = "progress"      // a chunk finished, more remain
	EventFinished      Event = "finished"      // the final unit finished OK
	EventError         Event = "error"
	EventPause         Event = "pause"
	EventResume        Event = "resume"
	EventCancel        Event = "cancel"
	EventRemove        Event = "remove"
)

// ErrInvalidTransition is returned by Transition for any (state,
// event) pair not present in the table. Callers treat this as an
// invalid-state condition and ignore it silently — commands are
// idempotent, not fatal.
type ErrInvalidTransition struct {
	From  State
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("transfermodel: no transition for state %q on event %q", e.From, e.Event)
}

// Transition returns the next state for (from, event), or
// ErrInvalidTransition if the move is not in the table.
func Transition(from State, event Event) (State, error) {
	switch event {
	case EventScheduled:
		if from == StatePending {
			return StateInProgress, nil
		}
	case EventProgress:
		if from == StateInProgress {
			return StateInProgress, nil
		}
	case EventFinished:
		if from == StateInProgress {
			return StateComplete, nil
		}
	case EventError:
		if from == StateInProgress {
			return StateFailed, nil
		}
	case EventPause:
		if from.Pauseable() {
			return StatePaused, nil
		}
	case EventResume:
		if from == StatePaused || from == StateFailed {
			return StatePending, nil
		}
	case EventCancel:
		switch from {
		case StatePending, StateInProgress, StatePaused, StateFailed:
			return StateCanceled, nil
		}
	case EventRemove:
		if from != StateDeleted {
			return StateDeleted, nil
		}
	}
	return from, &ErrInvalidTransition{From: from, Event: event}
}

// Apply transitions *current in place and returns the invalid-move
// error, if any, so callers can log-and-ignore it rather than surface
// it as a failure.
func Apply(current *State, event Event) error {
	next, err := Transition(*current, event)
	if err != nil {
		return err
	}
	*current = next
	return nil
}
