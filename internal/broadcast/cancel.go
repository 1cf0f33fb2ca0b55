package broadcast

import "sync/atomic"

const (
	tokenRunning int32 = iota
	tokenStopRequested
	tokenStopped
)

// CancelToken is the cooperative stop signal for one run.
//
// The runner checks it at every batch boundary (no new sends are launched
// once a stop is requested) and the sender checks it before every retry
// sleep. Sends already in flight are allowed to finish: the engine favors
// consistent counters over instant shutdown.
type CancelToken struct {
	state atomic.Int32
}

// RequestStop flips the token to stop-requested. Idempotent; safe from any
// goroutine. Returns false if the run already reached the stopped state.
func (t *CancelToken) RequestStop() bool {
	for {
		s := t.state.Load()
		if s == tokenStopped {
			return false
		}
		if s == tokenStopRequested {
			return true
		}
		if t.state.CompareAndSwap(s, tokenStopRequested) {
			return true
		}
	}
}

// StopRequested reports whether a stop has been requested (or honored).
func (t *CancelToken) StopRequested() bool {
	return t.state.Load() != tokenRunning
}

// markStopped records that the run has fully wound down.
func (t *CancelToken) markStopped() {
	t.state.Store(tokenStopped)
}

// Stopped reports whether the run has finished winding down after a stop.
func (t *CancelToken) Stopped() bool {
	return t.state.Load() == tokenStopped
}
