package domain

import "github.com/jonboulle/clockwork"

// clock is a package-level time source so tests can drive delays via SetClock.
// Production code uses the real clock; tests inject a fake to step through
// throttle and retry waits without sleeping.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used for politeness delays and retry waits.
// Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Clock returns the current time source.
func Clock() clockwork.Clock {
	return clock
}
