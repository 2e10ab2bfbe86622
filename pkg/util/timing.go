// Package util holds small shared helpers for the framework.
package util

import (
	"runtime"
	"time"
)

// spinThreshold is the tail of a precise sleep handed to the spin loop.
// Timer wakeups below this are not dependable across platforms.
const spinThreshold = 500 * time.Microsecond

// PreciseSleep sleeps for d with sub-millisecond accuracy on the
// monotonic clock. The bulk of the wait uses the regular timer sleep; the
// final fraction spins, yielding the processor between checks, so short
// source-throttling intervals keep their cadence.
func PreciseSleep(d time.Duration) {
	if d <= 0 {
		return
	}
	start := time.Now()
	if coarse := d - spinThreshold; coarse > 0 {
		time.Sleep(coarse)
	}
	for time.Since(start) < d {
		runtime.Gosched()
	}
}

// SleepUntil sleeps precisely until the deadline on the monotonic clock.
func SleepUntil(deadline time.Time) {
	PreciseSleep(time.Until(deadline))
}
