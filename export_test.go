package frontier

import "time"

// SetClock swaps the engine's clock, so tests can steer politeness windows
// and refetch times without sleeping.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}
