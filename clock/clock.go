// Package clock abstracts time for code that waits between network calls.
//
// Production code uses Real(). Tests use Fake() and move time forward with
// Advance, synchronizing with WaitForTimers so that a goroutine has
// registered its timer before time moves.
package clock

import "time"

// Clock is the subset of the time package used by the poller, the
// reconciler and the outbox projector.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If d <= 0
	// the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C until Stop is called.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }
