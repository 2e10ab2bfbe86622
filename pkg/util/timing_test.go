package util

import (
	"testing"
	"time"
)

func TestPreciseSleepDuration(t *testing.T) {
	for _, d := range []time.Duration{
		200 * time.Microsecond,
		2 * time.Millisecond,
		20 * time.Millisecond,
	} {
		start := time.Now()
		PreciseSleep(d)
		elapsed := time.Since(start)
		if elapsed < d {
			t.Errorf("PreciseSleep(%v) returned after %v", d, elapsed)
		}
		// Generous upper bound; the point is sub-millisecond wakeup, not
		// hard real time.
		if elapsed > d+50*time.Millisecond {
			t.Errorf("PreciseSleep(%v) overslept: %v", d, elapsed)
		}
	}
}

func TestPreciseSleepNonPositive(t *testing.T) {
	start := time.Now()
	PreciseSleep(0)
	PreciseSleep(-time.Second)
	if time.Since(start) > 5*time.Millisecond {
		t.Error("non-positive sleeps should return immediately")
	}
}

func TestSleepUntil(t *testing.T) {
	deadline := time.Now().Add(5 * time.Millisecond)
	SleepUntil(deadline)
	if time.Now().Before(deadline) {
		t.Error("SleepUntil returned before the deadline")
	}
}
