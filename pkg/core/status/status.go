// Package status defines the result and lifecycle-state codes shared by all
// Flowgraph core components. Framework operations that can fail for
// scheduling reasons (a full port, a stopped pipeline, an unknown event)
// report one of the Status values below rather than a free-form error, so
// callers can branch on the exact condition.
package status

import "fmt"

// Status is the result code returned by framework operations.
//
// Status implements the error interface; Success is the only value that
// callers may treat as nil-equivalent. Everything else describes why the
// operation did not take effect.
type Status int

const (
	// Success indicates the operation completed.
	Success Status = iota
	// Failure is the generic failure, also reported by any blocking call
	// that observes pipeline stop.
	Failure
	// PortFullDiscarded indicates a push found a full queue under the
	// Discard policy and the blob was dropped.
	PortFullDiscarded
	// PortFullTimeout indicates a push waited the full timeout for queue
	// space that never appeared.
	PortFullTimeout
	// PortNullPtr indicates a nil blob or an unlinked port.
	PortNullPtr
	// EventRegisterFailed indicates event registration could not complete.
	EventRegisterFailed
	// EventNotFound indicates an emit, callback registration or wait named
	// an event that was never registered.
	EventNotFound
	// CallbackFail indicates at least one event callback returned an error.
	CallbackFail
)

// String returns the canonical name of the status code.
func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	case PortFullDiscarded:
		return "PortFullDiscarded"
	case PortFullTimeout:
		return "PortFullTimeout"
	case PortNullPtr:
		return "PortNullPtr"
	case EventRegisterFailed:
		return "EventRegisterFailed"
	case EventNotFound:
		return "EventNotFound"
	case CallbackFail:
		return "CallbackFail"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Error implements the error interface so a Status can travel through
// error-typed plumbing unchanged.
func (s Status) Error() string {
	return s.String()
}

// OK reports whether the status is Success.
func (s Status) OK() bool {
	return s == Success
}

// State is the lifecycle state of a port, node or pipeline.
type State int

const (
	// Idle is the state before Prepare.
	Idle State = iota
	// Initialized is the state after a successful Prepare.
	Initialized
	// Running is the state after Start.
	Running
	// Paused is reserved for suspended pipelines.
	Paused
	// Stop is the terminal state; blocked operations observing it return
	// Failure.
	Stop
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
