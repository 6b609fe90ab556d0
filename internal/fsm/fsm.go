// Package fsm defines the recorder lifecycle: idle, recording, and the short cutting
// phase between two chunks.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateCutting   State = "cutting"
	StateError     State = "error"
)

const (
	EventStart  Event = "start"
	EventCut    Event = "cut"
	EventRearm  Event = "rearm"
	EventStop   Event = "stop"
	EventFinish Event = "finish"
	EventFail   Event = "fail"
	EventReset  Event = "reset"
)

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventCut:
			return StateCutting, nil
		case EventStop:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCutting:
		switch event {
		case EventRearm:
			return StateRecording, nil
		case EventFinish:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateError:
		switch event {
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Active reports whether the state holds a live device.
func (s State) Active() bool {
	return s == StateRecording || s == StateCutting
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
