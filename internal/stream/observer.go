package stream

import (
	"fmt"
	"io"
)

// State is a deployment's progress stage as seen from the event stream.
type State int

const (
	StateNone State = iota
	StateFetching
	StateProcessing
	StateFinalizing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "none"
	}
}

// ProgressObserver receives state transitions from the watch loop. Calls
// are synchronous with event arrival, so observation order always matches
// stream order. Rendering (spinner, log line) is up to the implementation.
type ProgressObserver interface {
	Transition(prev, next State, message string)
}

// WriterObserver renders each transition as one line on an io.Writer.
type WriterObserver struct {
	Out io.Writer
}

func (o *WriterObserver) Transition(prev, next State, message string) {
	fmt.Fprintln(o.Out, message)
}
