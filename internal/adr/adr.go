// Package adr implements the device-local ADR backoff. When the network
// stays silent for too long, the ADRACKReq bit is set on the uplinks and
// eventually the data-rate is lowered until a downlink is received again.
package adr

// Counter values.
const (
	// CounterInit is the value after a downlink, ADRACKReq is set once the
	// counter becomes positive.
	CounterInit = -12
	// CounterCont is the value after the link has been declared dead.
	CounterCont = 12
	// CounterDead is the value above which the link is declared dead.
	CounterDead = 24
	// CounterOff disables the backoff.
	CounterOff = -128
)

// Backoff holds the ADR acknowledgement counter.
type Backoff struct {
	counter int
}

// NewBackoff returns a new Backoff.
func NewBackoff(enabled bool) Backoff {
	b := Backoff{counter: CounterOff}
	b.SetEnabled(enabled)
	return b
}

// Counter returns the counter value.
func (b *Backoff) Counter() int {
	return b.counter
}

// Enabled returns true when the backoff is enabled.
func (b *Backoff) Enabled() bool {
	return b.counter != CounterOff
}

// SetEnabled enables or disables the backoff. Enabling an enabled backoff
// keeps its counter.
func (b *Backoff) SetEnabled(enabled bool) {
	switch {
	case !enabled:
		b.counter = CounterOff
	case b.counter == CounterOff:
		b.counter = CounterInit
	}
}

// ADRACKReq returns true when the ADRACKReq bit must be set.
func (b *Backoff) ADRACKReq() bool {
	return b.Enabled() && b.counter >= 0
}

// Downlink resets the counter, any valid downlink proves the link.
func (b *Backoff) Downlink() {
	if b.Enabled() {
		b.counter = CounterInit
	}
}

// Missed must be called for every uplink without downlink. It returns true
// when the backoff expired, the caller then lowers the data-rate one step or
// declares the link dead when it is already at the lowest data-rate.
func (b *Backoff) Missed() bool {
	if !b.Enabled() {
		return false
	}

	b.counter++
	if b.counter > CounterDead {
		b.counter = CounterCont
		return true
	}
	return false
}

// Request makes the next uplink carry the ADRACKReq bit, e.g. after the
// network changed the data-rate or TX power.
func (b *Backoff) Request() {
	if b.Enabled() && b.counter < 0 {
		b.counter = 0
	}
}
