package bench

import (
	"fmt"
	"time"
)

// EventKind classifies a progress event.
type EventKind int

const (
	// EventStatus is a progress message from the loop itself.
	EventStatus EventKind = iota
	// EventOutput is a raw line from git or the build tool.
	EventOutput
	// EventWarning needs the operator's attention but does not stop the run.
	EventWarning
	// EventScore carries the counter after a successful iteration.
	EventScore
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventOutput:
		return "output"
	case EventWarning:
		return "warning"
	case EventScore:
		return "score"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one line of progress emitted by the worker, in order.
type Event struct {
	Kind  EventKind
	Line  string
	Score int
	At    time.Time
}

// String renders the line as it should be shown to the operator.
func (e Event) String() string {
	if e.Kind == EventScore {
		return fmt.Sprintf("Current Score: %d", e.Score)
	}
	return e.Line
}
