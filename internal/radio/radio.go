// Package radio implements the radio state machine. It drives the external
// transceiver driver through SLEEP, STANDBY, TX / RX and back and turns the
// driver completion signals into TX-done, RX-done and RX-timeout results
// delivered on the scheduler loop.
package radio

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
)

// MaxBusyWait defines the max. time StartRX spins before arming the
// receiver.
var MaxBusyWait = scheduler.MS(20)

// State defines the radio state.
type State int

// Available states.
const (
	Sleep State = iota
	Standby
	TX
	RX
)

func (s State) String() string {
	switch s {
	case Sleep:
		return "SLEEP"
	case Standby:
		return "STANDBY"
	case TX:
		return "TX"
	case RX:
		return "RX"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Modem defines the modem type.
type Modem int

// Available modems.
const (
	LoRa Modem = iota
	FSK
)

func (m Modem) String() string {
	if m == FSK {
		return "FSK"
	}
	return "LORA"
}

// RXMode defines the receive mode.
type RXMode int

// Available receive modes.
const (
	// RXSingle receives a single frame within a window of timeout symbols.
	RXSingle RXMode = iota
	// RXScan receives continuously until aborted.
	RXScan
)

// Kind defines the completion kind.
type Kind int

// Available completion kinds.
const (
	TXDone Kind = iota
	RXDone
	RXTimeout
)

func (k Kind) String() string {
	switch k {
	case TXDone:
		return "TX_DONE"
	case RXDone:
		return "RX_DONE"
	case RXTimeout:
		return "RX_TIMEOUT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// errors
var (
	ErrInvalidState = errors.New("radio in invalid state")
	ErrBusyWait     = errors.New("rx open time too far in the future")
)

// ModemConfig holds the modem configuration.
type ModemConfig struct {
	Modem        Modem
	Frequency    uint32
	SpreadFactor int
	Bandwidth    int // kHz
	BitRate      int // FSK only
	TXPower      int // dBm

	// IQInverted is set for receiving downlinks.
	IQInverted bool
}

// Driver defines the interface of the external transceiver driver.
type Driver interface {
	// SetNotifier sets the function called by the driver on completion of
	// the current operation. It can be called from any goroutine.
	SetNotifier(func(Kind))

	ConfigureModem(ModemConfig) error
	SetState(State) error
	StartTX(frame []byte) error
	StartRX(mode RXMode, timeoutSymbols int) error
	ReadFrame() ([]byte, error)
	SignalQuality() (rssi int, snr float64)
	Abort() error
}

// Result holds the outcome of a radio operation.
type Result struct {
	Kind Kind

	// Time holds the end of the airtime (TX) or of the received frame (RX).
	Time scheduler.Ticks

	Frame    []byte
	RSSI     int
	SNR      float64
	TimedOut bool
}

// Radio implements the radio state machine. Except for the driver
// notifications, all methods must be called from the scheduler loop.
type Radio struct {
	sched  *scheduler.Scheduler
	driver Driver

	state  State
	config ModemConfig
	result Result
	done   func(Result)
}

// New creates a new Radio.
func New(s *scheduler.Scheduler, d Driver) *Radio {
	r := Radio{
		sched:  s,
		driver: d,
	}
	d.SetNotifier(r.notify)
	return &r
}

// notify is the interrupt line of the driver.
func (r *Radio) notify(k Kind) {
	r.sched.Interrupt(func(stamp scheduler.Ticks) {
		r.complete(k, stamp)
	})
}

// State returns the radio state.
func (r *Radio) State() State {
	return r.state
}

// Configure sets the modem configuration used by the next operation.
func (r *Radio) Configure(c ModemConfig) {
	r.config = c
}

// ReadResult returns the result of the last completed operation.
func (r *Radio) ReadResult() Result {
	return r.result
}

// Reset aborts any outstanding operation and puts the radio to sleep.
func (r *Radio) Reset() error {
	r.done = nil
	if err := r.driver.Abort(); err != nil {
		return errors.Wrap(err, "abort error")
	}
	return r.setState(Sleep)
}

func (r *Radio) setState(s State) error {
	if err := r.driver.SetState(s); err != nil {
		return errors.Wrapf(err, "set state %s error", s)
	}
	r.state = s
	return nil
}

// prepare brings the radio from SLEEP into STANDBY and applies the modem
// configuration. Starting an operation while not in SLEEP is an invariant
// violation, the radio is forced back to SLEEP first.
func (r *Radio) prepare(c ModemConfig) error {
	if r.state != Sleep {
		prev := r.state
		if err := r.Reset(); err != nil {
			return err
		}
		return errors.Wrapf(ErrInvalidState, "start operation in state %s", prev)
	}

	if err := r.setState(Standby); err != nil {
		return err
	}
	if err := r.driver.ConfigureModem(c); err != nil {
		return errors.Wrap(err, "configure modem error")
	}
	return nil
}

// StartTX transmits the given frame. The done function is called on the
// scheduler loop once the frame has been sent.
func (r *Radio) StartTX(frame []byte, done func(Result)) error {
	c := r.config
	c.IQInverted = false
	if err := r.prepare(c); err != nil {
		return err
	}

	r.done = done
	if err := r.driver.StartTX(frame); err != nil {
		r.done = nil
		return errors.Wrap(err, "start tx error")
	}
	r.state = TX

	log.WithFields(log.Fields{
		"frequency": c.Frequency,
		"modem":     c.Modem,
		"sf":        c.SpreadFactor,
		"bw":        c.Bandwidth,
		"tx_power":  c.TXPower,
		"size":      len(frame),
	}).Debug("radio: tx started")
	txCounter(c.Modem).Inc()

	return nil
}

// StartRX starts receiving. For RXSingle it waits until openTime before
// arming the receiver, timeoutSymbols defines the window in which a
// preamble must be detected.
func (r *Radio) StartRX(mode RXMode, timeoutSymbols int, openTime scheduler.Ticks, done func(Result)) error {
	c := r.config
	c.IQInverted = true
	if err := r.prepare(c); err != nil {
		return err
	}

	if mode == RXSingle {
		if scheduler.After(openTime, r.sched.Now()+MaxBusyWait) {
			wait := (openTime - r.sched.Now()).Duration()
			if err := r.Reset(); err != nil {
				return errors.Wrapf(err, "reset after busy-wait of %s error", wait)
			}
			return errors.Wrapf(ErrBusyWait, "wait %s", wait)
		}
		r.sched.Clock().BusyWait(openTime)
	}

	r.done = done
	if err := r.driver.StartRX(mode, timeoutSymbols); err != nil {
		r.done = nil
		return errors.Wrap(err, "start rx error")
	}
	r.state = RX

	log.WithFields(log.Fields{
		"frequency": c.Frequency,
		"modem":     c.Modem,
		"sf":        c.SpreadFactor,
		"bw":        c.Bandwidth,
		"symbols":   timeoutSymbols,
	}).Debug("radio: rx started")

	return nil
}

func (r *Radio) complete(k Kind, stamp scheduler.Ticks) {
	completionCounter(k).Inc()

	if r.done == nil {
		log.WithField("kind", k).Warning("radio: completion without outstanding operation")
		return
	}

	switch {
	case k == TXDone && r.state == TX:
	case (k == RXDone || k == RXTimeout) && r.state == RX:
	default:
		r.sched.Fault(errors.Wrapf(ErrInvalidState, "%s in state %s", k, r.state))
		return
	}

	res := Result{Kind: k, Time: stamp}
	switch k {
	case TXDone:
		if r.config.Modem == LoRa {
			res.Time -= scheduler.US(43)
		}
	case RXDone:
		b, err := r.driver.ReadFrame()
		if err != nil {
			log.WithError(err).Error("radio: read frame error")
			res.TimedOut = true
			break
		}
		res.Frame = b
		res.RSSI, res.SNR = r.driver.SignalQuality()
		res.Time -= rxDoneFixup(r.config)
	case RXTimeout:
		res.TimedOut = true
	}

	done := r.done
	r.done = nil
	if err := r.setState(Standby); err == nil {
		err = r.setState(Sleep)
		if err != nil {
			log.WithError(err).Error("radio: sleep error")
		}
	}

	r.result = res
	done(res)
}

// The RX-done interrupt of the LoRa modem is raised after the frame end by
// a spreading-factor dependent delay (BW125 only).
var rxDoneFixups = map[int]int64{
	8:  1648,
	9:  3265,
	10: 7049,
	11: 13641,
	12: 31189,
}

func rxDoneFixup(c ModemConfig) scheduler.Ticks {
	if c.Modem != LoRa || c.Bandwidth != 125 {
		return 0
	}
	return scheduler.US(rxDoneFixups[c.SpreadFactor])
}
