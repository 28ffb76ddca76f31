// ABOUTME: Lifecycle phases of a single call.
// ABOUTME: The client stores the current phase atomically for observers.

package rpc

// Phase is where a call is in its lifecycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseDiscovering
	PhaseDispatching
	PhaseCollecting
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDiscovering:
		return "discovering"
	case PhaseDispatching:
		return "dispatching"
	case PhaseCollecting:
		return "collecting"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}
