package scheduler

import "time"

// TicksPerSecond defines the resolution of the tick counter (30.5us per tick).
const TicksPerSecond = 32768

// Ticks is a free-running, wrapping 32 bit tick counter value.
//
// Two values must only be compared through After or by their signed
// difference, this keeps comparisons valid across a counter wrap as long as
// the two values are less than half the counter range apart.
type Ticks int32

// After returns true when a is strictly later than b.
func After(a, b Ticks) bool {
	return a-b > 0
}

// Sec returns the number of ticks for the given number of seconds.
func Sec(s int64) Ticks {
	return Ticks(s * TicksPerSecond)
}

// MS returns the number of ticks for the given number of milliseconds.
func MS(ms int64) Ticks {
	return Ticks(ms * TicksPerSecond / 1000)
}

// US returns the number of ticks for the given number of microseconds.
func US(us int64) Ticks {
	return Ticks(us * TicksPerSecond / 1000000)
}

// USRound returns the number of ticks for the given number of microseconds,
// rounded to the nearest tick.
func USRound(us int64) Ticks {
	return Ticks((us*TicksPerSecond + 500000) / 1000000)
}

// FromDuration converts the given duration to ticks.
func FromDuration(d time.Duration) Ticks {
	return Ticks(int64(d) * TicksPerSecond / int64(time.Second))
}

// Duration converts the ticks to a time.Duration.
func (t Ticks) Duration() time.Duration {
	return time.Duration(int64(t) * int64(time.Second) / TicksPerSecond)
}

// Micros returns the ticks in microseconds.
func (t Ticks) Micros() int64 {
	return int64(t) * 1000000 / TicksPerSecond
}
