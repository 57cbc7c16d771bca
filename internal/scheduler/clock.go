package scheduler

import (
	"context"
	"runtime"
	"time"

	"github.com/brocaar/chirpstack-lorawan-device/internal/syncutil"
)

// Clock provides the tick counter and the waiting primitives of the
// scheduler.
type Clock interface {
	// Now returns the current tick counter value.
	Now() Ticks

	// Sleep enters a low-power wait for d ticks, or until something is sent
	// on wake or the context is cancelled. A negative d waits until woken.
	Sleep(ctx context.Context, d Ticks, wake <-chan struct{})

	// BusyWait spins until the counter has reached until. Callers must keep
	// this short, it is only used to align the start of a receive window.
	BusyWait(until Ticks)
}

// SystemClock implements Clock on top of the monotonic system clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a SystemClock with the counter starting at zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now implements Clock.
func (c *SystemClock) Now() Ticks {
	// truncating to 32 bit gives the wrapping behaviour
	return Ticks(int64(time.Since(c.start)) * TicksPerSecond / int64(time.Second))
}

// Sleep implements Clock.
func (c *SystemClock) Sleep(ctx context.Context, d Ticks, wake <-chan struct{}) {
	if d == 0 {
		return
	}

	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d.Duration())
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ctx.Done():
	case <-wake:
	case <-timeout:
	}
}

// BusyWait implements Clock.
func (c *SystemClock) BusyWait(until Ticks) {
	for After(until, c.Now()) {
		runtime.Gosched()
	}
}

// VirtualClock implements a deterministic Clock of which the time only
// moves forward when the scheduler waits. It is used by the simulated radio
// and in tests.
type VirtualClock struct {
	mu  syncutil.Mutex
	now Ticks
}

// NewVirtualClock returns a VirtualClock starting at the given tick.
func NewVirtualClock(start Ticks) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now implements Clock.
func (c *VirtualClock) Now() Ticks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock d ticks forward.
func (c *VirtualClock) Advance(d Ticks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now += d
	}
}

// Sleep implements Clock. When a wake-up is already pending, the time is
// not advanced. A negative d blocks until woken as nothing else can move
// the time forward.
func (c *VirtualClock) Sleep(ctx context.Context, d Ticks, wake <-chan struct{}) {
	select {
	case <-wake:
		return
	default:
	}

	if d < 0 {
		select {
		case <-ctx.Done():
		case <-wake:
		}
		return
	}

	c.Advance(d)
}

// BusyWait implements Clock.
func (c *VirtualClock) BusyWait(until Ticks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if After(until, c.now) {
		c.now = until
	}
}
