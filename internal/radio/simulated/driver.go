// Package simulated implements a radio driver running on the scheduler
// clock. Transmitted frames are handed to a Responder which models the
// network, its downlinks are received when they fall within an open
// receive window with matching modem settings.
package simulated

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
)

// Transmission holds a frame sent by the device.
type Transmission struct {
	Frame  []byte
	Config radio.ModemConfig
	Start  scheduler.Ticks
	End    scheduler.Ticks
}

// Downlink holds a frame sent to the device.
type Downlink struct {
	Frame  []byte
	Config radio.ModemConfig

	// At holds the start of the downlink preamble.
	At   scheduler.Ticks
	RSSI int
	SNR  float64
}

// Responder models the network side of the medium.
type Responder interface {
	// Uplink is called for every transmitted frame at the end of its
	// airtime. It returns the downlinks to transmit in response.
	Uplink(tx Transmission) []Downlink
}

// ResponderFunc implements Responder.
type ResponderFunc func(tx Transmission) []Downlink

// Uplink implements Responder.
func (f ResponderFunc) Uplink(tx Transmission) []Downlink {
	return f(tx)
}

// Driver implements radio.Driver.
type Driver struct {
	sched     *scheduler.Scheduler
	responder Responder
	notify    func(radio.Kind)

	state  radio.State
	config radio.ModemConfig

	job       scheduler.Job
	pending   []Downlink
	received  *Downlink
	tx        []Transmission
	rxWindows int
}

// NewDriver creates a new simulated driver.
func NewDriver(s *scheduler.Scheduler, r Responder) *Driver {
	return &Driver{
		sched:     s,
		responder: r,
	}
}

// Transmissions returns the frames transmitted so far.
func (d *Driver) Transmissions() []Transmission {
	return d.tx
}

// RXWindows returns the number of receive windows opened so far.
func (d *Driver) RXWindows() int {
	return d.rxWindows
}

// SetNotifier implements radio.Driver.
func (d *Driver) SetNotifier(f func(radio.Kind)) {
	d.notify = f
}

// ConfigureModem implements radio.Driver.
func (d *Driver) ConfigureModem(c radio.ModemConfig) error {
	if d.state != radio.Standby {
		return errors.Errorf("configure modem in state %s", d.state)
	}
	d.config = c
	return nil
}

// SetState implements radio.Driver.
func (d *Driver) SetState(s radio.State) error {
	d.state = s
	return nil
}

// StartTX implements radio.Driver.
func (d *Driver) StartTX(frame []byte) error {
	at, err := radio.Airtime(d.config, len(frame))
	if err != nil {
		return err
	}

	tx := Transmission{
		Frame:  append([]byte(nil), frame...),
		Config: d.config,
		Start:  d.sched.Now(),
	}
	tx.End = tx.Start + at

	d.state = radio.TX
	d.sched.ScheduleAt(&d.job, tx.End, func(*scheduler.Job) {
		d.tx = append(d.tx, tx)
		if d.responder != nil {
			d.pending = append(d.pending, d.responder.Uplink(tx)...)
		}
		d.state = radio.Standby
		d.notify(radio.TXDone)
	})

	return nil
}

// StartRX implements radio.Driver.
func (d *Driver) StartRX(mode radio.RXMode, timeoutSymbols int) error {
	open := d.sched.Now()
	sym := radio.SymbolTime(d.config)
	d.received = nil
	d.state = radio.RX
	d.rxWindows++

	for i, dl := range d.pending {
		if !d.config.Matches(dl.Config) {
			continue
		}

		// the preamble must still be detectable when the receiver opens
		// and must start before the window times out
		if mode == radio.RXSingle {
			if scheduler.After(open-4*sym, dl.At) || scheduler.After(dl.At, open+scheduler.Ticks(timeoutSymbols)*sym) {
				continue
			}
		} else if scheduler.After(open, dl.At) {
			continue
		}

		at, err := radio.Airtime(dl.Config, len(dl.Frame))
		if err != nil {
			return err
		}

		dl := dl
		d.pending = append(d.pending[:i], d.pending[i+1:]...)
		d.sched.ScheduleAt(&d.job, dl.At+at, func(*scheduler.Job) {
			d.received = &dl
			d.state = radio.Standby
			d.notify(radio.RXDone)
		})
		return nil
	}

	if mode == radio.RXSingle {
		d.sched.ScheduleAt(&d.job, open+scheduler.Ticks(timeoutSymbols)*sym, func(*scheduler.Job) {
			d.state = radio.Standby
			d.notify(radio.RXTimeout)
		})
	}
	return nil
}

// ReadFrame implements radio.Driver.
func (d *Driver) ReadFrame() ([]byte, error) {
	if d.received == nil {
		return nil, errors.New("no frame received")
	}
	return d.received.Frame, nil
}

// SignalQuality implements radio.Driver.
func (d *Driver) SignalQuality() (int, float64) {
	if d.received == nil {
		return 0, 0
	}
	return d.received.RSSI, d.received.SNR
}

// Abort implements radio.Driver.
func (d *Driver) Abort() error {
	d.sched.Cancel(&d.job)
	if d.state == radio.TX || d.state == radio.RX {
		log.WithField("state", d.state).Debug("radio/simulated: operation aborted")
	}
	d.state = radio.Standby
	return nil
}
