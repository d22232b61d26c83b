// Package lifecycle tracks the process phase reported by the health endpoint.
package lifecycle

import "sync/atomic"

// Phase is the process lifecycle phase.
type Phase int32

const (
	// PhaseStarting lasts until the initial cache warm has run.
	PhaseStarting Phase = iota
	PhaseServing
	// PhaseShuttingDown is set on SIGTERM/SIGINT while in-flight requests drain.
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// SetServing marks startup complete. It does not leave the shutting-down phase.
func SetServing() {
	phase.CompareAndSwap(int32(PhaseStarting), int32(PhaseServing))
}

// SetShuttingDown marks the process as draining. Health returns 503 from then on.
func SetShuttingDown() {
	phase.Store(int32(PhaseShuttingDown))
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == PhaseShuttingDown
}

// Reset returns to PhaseStarting. For tests only.
func Reset() {
	phase.Store(int32(PhaseStarting))
}
