// Package engine implements the LoRaWAN 1.0 class A MAC engine of the
// device: the join procedure, the uplink / downlink transactions, ADR and
// the duty-cycle gating.
//
// The engine runs on the scheduler loop. Except for New, all methods must
// be called from the goroutine running the scheduler (e.g. from a job or
// from the event handler).
package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/adr"
	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
	"github.com/brocaar/chirpstack-lorawan-device/internal/logging"
	"github.com/brocaar/chirpstack-lorawan-device/internal/maccommand"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/chirpstack-lorawan-device/internal/storage"
	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// MaxPayloadSize defines the max. size of an uplink payload.
const MaxPayloadSize = 242

// KeepTXPower can be passed to SetDataRateTXPower to keep the TX power.
const KeepTXPower = -128

const (
	// MaxClockError defines the clock error value of 100%.
	MaxClockError = 65536

	txConfAttempts  = 8
	retryPeriod     = 3 // seconds
	minRXSymbols    = 5
	preambleSymbols = 8
	maxRejoinCount  = 10

	// the receive window of the FSK modem is given in bytes
	fskRXBytes = 8
)

var (
	txRampup = scheduler.US(2000)
	rxRampup = scheduler.US(2000)

	// the RX2 window opens one second after RX1
	rx2Delay = scheduler.Sec(1)

	// data-rate steps per confirmed retransmission
	drAdjust = [2 + txConfAttempts]int{0, 0, 0, 1, 0, 1, 0, 1, 0, 0}
)

// errors
var (
	ErrBusy            = errors.New("engine busy")
	ErrPayloadSize     = errors.New("payload exceeds max size")
	ErrInvalidPort     = errors.New("invalid fport")
	ErrShutdown        = errors.New("engine shut down")
	ErrInvalidDataRate = errors.New("invalid data-rate")
)

type joinState int

const (
	joinIdle joinState = iota
	joinJoining
	joinJoined
)

type uplink struct {
	port      uint8
	payload   []byte
	confirmed bool
}

// Options holds the engine options.
type Options struct {
	DevEUI  lorawan.EUI64
	JoinEUI lorawan.EUI64
	AppKey  lorawan.AES128Key

	ADR        bool
	LinkCheck  bool
	ClockError int
	Battery    uint8

	Handler Handler

	// Rand is used for the DevNonce and the random delays. When nil, a
	// time seeded source is used.
	Rand *rand.Rand
}

// OptionsFromConfig returns the options for the given configuration.
func OptionsFromConfig(c config.Config) Options {
	return Options{
		DevEUI:     c.Device.DevEUI,
		JoinEUI:    c.Device.JoinEUI,
		AppKey:     c.Device.AppKey,
		ADR:        c.Device.ADR,
		LinkCheck:  c.Device.LinkCheck,
		ClockError: c.Device.ClockError,
		Battery:    uint8(c.Device.BatteryLevel),
	}
}

// SessionInfo holds the session details exposed to the host.
type SessionInfo struct {
	DevEUI   lorawan.EUI64
	NetID    lorawan.NetID
	DevAddr  lorawan.DevAddr
	Joined   bool
	ADR      bool
	DR       int
	TXPower  int
	FCntUp   uint32
	FCntDown uint32
	RSSI     int
	SNR      float64
	LinkDead bool

	// LinkCheck holds the last received LinkCheckAns.
	LinkCheck *maccommand.LinkCheck
	Stats     LinkStats
}

// Engine implements the MAC engine.
type Engine struct {
	sched   *scheduler.Scheduler
	radio   *radio.Radio
	band    band.Strategy
	aes     aes.Backend
	rnd     *rand.Rand
	options Options
	handler Handler

	// context of the current transaction
	ctx context.Context
	job scheduler.Job

	session storage.DeviceSession
	state   maccommand.State
	answers maccommand.Answers
	backoff adr.Backoff
	stats   linkStats

	join       joinState
	joinParams band.JoinState
	joinNonce  lorawan.DevNonce

	adrEnabled  bool
	txrxPending bool
	linkDead    bool
	txData      bool
	poll        bool
	rejoin      bool
	shutdown    bool
	nextChannel bool
	randomTX    bool
	dnConf      bool

	pending    uplink
	txDataSent bool
	txCnt      int
	repeat     int
	rejoinCnt  int
	clockError int

	txChannel   band.Channel
	txBeg       scheduler.Ticks
	txEnd       scheduler.Ticks
	txDR        int
	txLen       int
	txJoin      bool
	rxTime      scheduler.Ticks
	rxSyms      int
	globalAvail scheduler.Ticks
	maxTXPower  map[int]int

	rssi int
	snr  float64
}

// New creates a new Engine. The engine starts without session, the first
// Send (or StartJoining) starts the join procedure.
func New(s *scheduler.Scheduler, r *radio.Radio, b band.Strategy, backend aes.Backend, o Options) *Engine {
	rnd := o.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := Engine{
		sched:   s,
		radio:   r,
		band:    b,
		aes:     backend,
		rnd:     rnd,
		options: o,
		handler: o.Handler,
		ctx:     context.Background(),
	}
	e.reset()
	return &e
}

// SetHandler sets the event handler.
func (e *Engine) SetHandler(h Handler) {
	e.handler = h
}

func (e *Engine) reset() {
	e.sched.Cancel(&e.job)
	if err := e.radio.Reset(); err != nil {
		e.fault(errors.Wrap(err, "reset radio error"))
	}

	now := e.sched.Now()
	e.band.Reset(now, false)
	rx2Freq, rx2DR := e.band.RX2Defaults()

	e.session = storage.DeviceSession{
		DevEUI:   e.options.DevEUI,
		JoinEUI:  e.options.JoinEUI,
		DevNonce: lorawan.DevNonce(e.rnd.Intn(1 << 16)),
	}
	e.state = maccommand.State{
		DR:           e.band.DefaultDataRate(),
		TXPower:      e.band.DefaultTXPower(),
		NbRep:        1,
		RX2Frequency: rx2Freq,
		RX2DR:        uint8(rx2DR),
		RXDelay:      1,
		Battery:      e.options.Battery,
	}
	e.answers.Clear()
	e.backoff = adr.NewBackoff(e.options.LinkCheck)
	e.stats.reset()

	e.join = joinIdle
	e.joinParams = band.JoinState{}
	e.adrEnabled = e.options.ADR
	e.txrxPending = false
	e.linkDead = false
	e.txData = false
	e.poll = false
	e.rejoin = false
	e.shutdown = false
	e.nextChannel = false
	e.randomTX = false
	e.dnConf = false

	e.pending = uplink{}
	e.txDataSent = false
	e.txCnt = 0
	e.repeat = 0
	e.rejoinCnt = 0
	e.clockError = e.options.ClockError

	e.globalAvail = now
	e.maxTXPower = make(map[int]int)
	e.rssi = 0
	e.snr = 0
}

// Reset removes the session and aborts any pending transaction. A new
// DevNonce is generated.
func (e *Engine) Reset() {
	e.reset()
	log.WithField("dev_eui", e.session.DevEUI).Info("engine: reset")
}

// Shutdown stops all activity until the next Reset.
func (e *Engine) Shutdown() {
	e.sched.Cancel(&e.job)
	if err := e.radio.Reset(); err != nil {
		e.fault(errors.Wrap(err, "reset radio error"))
	}
	e.txrxPending = false
	e.shutdown = true
	log.WithField("dev_eui", e.session.DevEUI).Info("engine: shut down")
}

// StartJoining starts the join procedure. It returns false when the device
// already has a session or is joining.
func (e *Engine) StartJoining() bool {
	if e.join != joinIdle {
		return false
	}

	// lift any previous duty-cycle limitation
	e.state.DutyCycle = 0
	e.rejoin = false
	e.linkDead = false
	e.nextChannel = false
	e.rejoinCnt = 0
	e.txCnt = 0

	e.joinParams = e.band.InitJoin(e.sched.Now())
	e.state.DR = e.joinParams.DR
	e.state.TXPower = e.joinParams.TXPower
	e.join = joinJoining

	e.sched.ScheduleNow(&e.job, func(*scheduler.Job) {
		e.raise(Event{Type: EventJoining})
		e.update()
	})
	return true
}

// SetSession sets up a pre-provisioned (ABP) session, the engine behaves
// as if these keys were negotiated by a join.
func (e *Engine) SetSession(netID lorawan.NetID, devAddr lorawan.DevAddr, nwkSKey, appSKey lorawan.AES128Key) {
	if e.txrxPending {
		e.sched.Cancel(&e.job)
		if err := e.radio.Reset(); err != nil {
			e.fault(errors.Wrap(err, "reset radio error"))
		}
	}

	e.session.NetID = netID
	e.session.DevAddr = devAddr
	e.session.NwkSKey = nwkSKey
	e.session.AppSKey = appSKey

	e.band.Reset(e.sched.Now(), false)
	e.join = joinJoined
	e.rejoin = false
	e.txrxPending = false
	e.nextChannel = true
	e.justJoined()
	e.persist()

	log.WithFields(log.Fields{
		"dev_eui":  e.session.DevEUI,
		"dev_addr": devAddr,
	}).Info("engine: session set")
}

// Restore restores the persisted session. It returns
// storage.ErrDoesNotExist when no session was stored for the device.
func (e *Engine) Restore(ctx context.Context) error {
	s, err := storage.GetDeviceSession(ctx, e.options.DevEUI)
	if err != nil {
		return err
	}
	if s.JoinEUI != e.options.JoinEUI {
		return storage.ErrDoesNotExist
	}

	e.session = s
	if s.DevAddr == (lorawan.DevAddr{}) {
		// only the DevNonce was stored
		return nil
	}

	e.band.Reset(e.sched.Now(), false)
	for _, ch := range s.Channels {
		e.band.SetupChannel(ch.Index, ch.Frequency, ch.MinDR, ch.MaxDR)
	}

	e.state.DR = s.DR
	e.state.TXPower = s.TXPower
	e.state.RX1DROffset = s.RX1DROffset
	e.state.RX2DR = s.RX2DR
	e.state.RX2Frequency = s.RX2Frequency
	e.state.RXDelay = s.RXDelay
	if e.state.RXDelay == 0 {
		e.state.RXDelay = 1
	}
	e.adrEnabled = s.ADR
	e.join = joinJoined
	e.nextChannel = true
	e.backoff = adr.NewBackoff(e.backoff.Enabled())

	logging.WithContext(ctx).WithFields(log.Fields{
		"dev_eui":  s.DevEUI,
		"dev_addr": s.DevAddr,
		"f_cnt_up": s.FCntUp,
		"f_cnt_dn": s.FCntDown,
	}).Info("engine: session restored")
	return nil
}

// Send queues the payload for the next uplink. Data sent before the
// device has joined is transmitted once the join completes.
func (e *Engine) Send(payload []byte, port uint8, confirmed bool) error {
	if e.shutdown {
		return ErrShutdown
	}
	if port == 0 || port > 223 {
		return errors.Wrapf(ErrInvalidPort, "fport %d", port)
	}
	if len(payload) > MaxPayloadSize {
		return errors.Wrapf(ErrPayloadSize, "%d bytes", len(payload))
	}
	if e.join == joinJoined && !e.fits(e.state.DR, 0, len(payload)) {
		return errors.Wrapf(ErrPayloadSize, "%d bytes at dr %d", len(payload), e.state.DR)
	}
	if e.txData {
		return ErrBusy
	}

	e.pending = uplink{
		port:      port,
		payload:   append([]byte(nil), payload...),
		confirmed: confirmed,
	}
	e.txData = true
	e.txDataSent = false
	e.repeat = 0
	if e.join != joinJoining {
		e.txCnt = 0
	}
	e.update()
	return nil
}

// SendAlive sends an uplink without payload, e.g. to give the network the
// chance to send pending downlinks.
func (e *Engine) SendAlive() {
	e.poll = true
	e.update()
}

// TryRejoin sends a join-request while keeping the current session until
// the join-accept is received.
func (e *Engine) TryRejoin() {
	e.rejoin = true
	e.update()
}

// RequestLinkCheck adds a LinkCheckReq to the next uplink.
func (e *Engine) RequestLinkCheck() {
	e.answers.RequestLinkCheck()
}

// SetADRMode sets the ADR bit of the uplinks.
func (e *Engine) SetADRMode(enabled bool) {
	e.adrEnabled = enabled
}

// SetLinkCheckMode enables or disables the ADR backoff (ADRACKReq and the
// lowering of the data-rate when the network stays silent).
func (e *Engine) SetLinkCheckMode(enabled bool) {
	e.state.ADRChanged = false
	e.backoff = adr.NewBackoff(enabled)
}

// SetDataRateTXPower sets the data-rate and TX power (dBm) of the next
// uplinks.
func (e *Engine) SetDataRateTXPower(dr, txPower int) error {
	if !e.band.ValidDataRate(dr) {
		return errors.Wrapf(ErrInvalidDataRate, "dr %d", dr)
	}
	e.setDR(dr)
	if txPower != KeepTXPower {
		e.state.TXPower = txPower
	}
	return nil
}

// SetClockError sets the max. clock error of the device in units of
// 1/MaxClockError, the receive windows are widened accordingly.
func (e *Engine) SetClockError(v int) {
	e.clockError = v
}

// SetBatteryLevel sets the battery level reported in the DevStatusAns (0 =
// external power, 1 - 254 level, 255 unknown).
func (e *Engine) SetBatteryLevel(v uint8) {
	e.state.Battery = v
}

// Busy returns true while a join, a transaction or pending data keeps the
// engine from accepting new data.
func (e *Engine) Busy() bool {
	return e.join == joinJoining || e.rejoin || e.txData || e.poll || e.txrxPending
}

// Session returns the session details.
func (e *Engine) Session() SessionInfo {
	return SessionInfo{
		DevEUI:    e.session.DevEUI,
		NetID:     e.session.NetID,
		DevAddr:   e.session.DevAddr,
		Joined:    e.join == joinJoined,
		ADR:       e.adrEnabled,
		DR:        e.state.DR,
		TXPower:   e.state.TXPower,
		FCntUp:    e.session.FCntUp,
		FCntDown:  e.session.FCntDown,
		RSSI:      e.rssi,
		SNR:       e.snr,
		LinkDead:  e.linkDead,
		LinkCheck: e.state.LinkCheck,
		Stats:     e.stats.summary(),
	}
}

// justJoined resets the session state after a join or the set up of an ABP
// session.
func (e *Engine) justJoined() {
	rx2Freq, rx2DR := e.band.RX2Defaults()

	e.session.FCntUp = 0
	e.session.FCntDown = 0
	e.rejoinCnt = 0
	e.dnConf = false
	e.answers.Clear()
	e.state.ADRChanged = false
	e.state.RX2Frequency = rx2Freq
	e.state.RX2DR = uint8(rx2DR)
	e.backoff = adr.NewBackoff(e.backoff.Enabled())
	e.repeat = 0
}

func (e *Engine) setDR(dr int) {
	if dr != e.state.DR {
		e.state.DR = dr
		e.nextChannel = true
	}
}

func (e *Engine) raise(ev Event) {
	eventCounter(ev.Type).Inc()

	logging.WithContext(e.ctx).WithFields(log.Fields{
		"dev_eui": e.session.DevEUI,
		"event":   ev.Type,
	}).Debug("engine: event raised")

	if e.handler != nil {
		e.handler(ev)
	}
}

// fault reports an invariant violation. The scheduler stops and the host
// receives EventFault.
func (e *Engine) fault(err error) {
	err = errors.Wrap(err, "engine fault")
	e.sched.Fault(err)
	e.raise(Event{Type: EventFault, Err: err})
}

func (e *Engine) persist() {
	e.session.DR = e.state.DR
	e.session.TXPower = e.state.TXPower
	e.session.ADR = e.adrEnabled
	e.session.RX1DROffset = e.state.RX1DROffset
	e.session.RX2DR = e.state.RX2DR
	e.session.RX2Frequency = e.state.RX2Frequency
	e.session.RXDelay = e.state.RXDelay
	e.session.Channels = e.band.Channels()

	if err := storage.SaveDeviceSession(e.ctx, e.session); err != nil {
		logging.WithContext(e.ctx).WithError(err).Error("engine: save device-session error")
	}
}

func (e *Engine) modemConfig(dr int, freq uint32, txPower int) (radio.ModemConfig, error) {
	d, err := e.band.DataRate(dr)
	if err != nil {
		return radio.ModemConfig{}, errors.Wrapf(err, "get data-rate %d error", dr)
	}

	c := radio.ModemConfig{
		Frequency: freq,
		TXPower:   txPower,
	}
	if d.Modulation == loraband.FSKModulation {
		c.Modem = radio.FSK
		c.BitRate = d.BitRate
	} else {
		c.Modem = radio.LoRa
		c.SpreadFactor = d.SpreadFactor
		c.Bandwidth = d.Bandwidth
	}
	return c, nil
}
