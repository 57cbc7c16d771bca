package engine

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/chirpstack-lorawan-device/internal/frame"
	"github.com/brocaar/chirpstack-lorawan-device/internal/logging"
	"github.com/brocaar/chirpstack-lorawan-device/internal/maccommand"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/lorawan"
)

// errReplay is returned for downlinks with an already used frame-counter.
var errReplay = errors.New("frame-counter replay")

func (e *Engine) rx1Data(res radio.Result) {
	if e.processData(res) {
		return
	}
	e.scheduleRX(e.rxDelay()+rx2Delay, e.state.RX2Frequency, int(e.state.RX2DR), e.rx2Data)
}

func (e *Engine) rx2Data(res radio.Result) {
	if e.processData(res) {
		return
	}

	if res.TimedOut || len(res.Frame) == 0 {
		// the network might still be transmitting the downlink we missed
		wait := e.band.SafetyZone() + band.RandomDelay(e.rnd, 2)
		e.sched.ScheduleAt(&e.job, e.sched.Now()+wait, func(*scheduler.Job) {
			e.noDownlink()
		})
		return
	}

	e.noDownlink()
}

// noDownlink handles an uplink without (valid) downlink in either window.
func (e *Engine) noDownlink() {
	if e.retransmit() {
		return
	}

	if e.txCnt == 0 && e.txDataSent && e.repeat+1 < e.state.NbRep {
		e.repeat++
		e.txrxPending = false
		e.update()
		return
	}

	nack := e.txCnt != 0
	e.completeTX(false, false, nack, nil, e.backoff.Missed())
}

// retransmit schedules the next attempt of an unacknowledged confirmed
// uplink. It returns false when no attempts are left.
func (e *Engine) retransmit() bool {
	if e.txCnt == 0 || e.txCnt >= txConfAttempts {
		return false
	}

	e.txCnt++
	e.setDR(e.band.LowerDataRate(e.state.DR, drAdjust[e.txCnt]))
	e.txDelay(e.rxTime, retryPeriod)
	e.txrxPending = false

	logging.WithContext(e.ctx).WithFields(log.Fields{
		"dev_eui": e.session.DevEUI,
		"attempt": e.txCnt,
		"dr":      e.state.DR,
	}).Info("engine: no ack received, retransmitting")
	e.update()
	return true
}

// processData decodes and handles the received data frame. It returns
// false when no valid frame was received.
func (e *Engine) processData(res radio.Result) bool {
	if res.TimedOut || len(res.Frame) == 0 {
		return false
	}

	f, err := e.decodeData(res.Frame)
	if err != nil {
		e.rejectDownlink(err)
		return false
	}

	e.session.FCntDown = f.FCnt + 1
	e.recordSignal(res)

	if f.MType == lorawan.ConfirmedDataDown {
		e.dnConf = true
		e.poll = true
	}
	if f.FCtrl.FPending {
		e.poll = true
	}
	e.rejoinCnt = 0
	e.backoff.Downlink()

	var cmds []lorawan.MACCommand
	switch {
	case len(f.FOpts) != 0:
		cmds, err = frame.ParseFOpts(false, f.FOpts)
	case f.FPort != nil && *f.FPort == 0:
		cmds, err = frame.ParseFOpts(false, f.Payload)
	}
	if err != nil {
		logging.WithContext(e.ctx).WithError(err).Warning("engine: parse mac commands error")
	}
	e.handleMACCommands(cmds)

	var ack, nack bool
	if e.txCnt != 0 {
		ack = f.FCtrl.ACK
		nack = !ack
	}

	var rx *Event
	if f.FPort != nil && *f.FPort != 0 {
		rx = &Event{
			Type:    EventRXComplete,
			Port:    *f.FPort,
			Payload: f.Payload,
		}
	}

	logging.WithContext(e.ctx).WithFields(log.Fields{
		"dev_eui":  e.session.DevEUI,
		"dev_addr": f.DevAddr,
		"mtype":    f.MType,
		"f_cnt":    f.FCnt,
		"ack":      f.FCtrl.ACK,
		"rssi":     res.RSSI,
		"snr":      res.SNR,
	}).Info("engine: downlink received")

	// a downlink without ack does not end a confirmed transaction
	if nack && e.txCnt < txConfAttempts {
		e.linkAlive()
		if rx != nil {
			e.raise(*rx)
		}
		e.persist()
		e.retransmit()
		return true
	}

	e.completeTX(true, ack, nack, rx, false)
	return true
}

func (e *Engine) decodeData(b []byte) (frame.DataFrame, error) {
	f, err := frame.DecodeData(b, e.session.DevAddr, e.session.FCntDown, frame.Keys{
		NwkSKey: e.session.NwkSKey,
		AppSKey: e.session.AppSKey,
	}, e.aes)
	if err != nil {
		return f, err
	}

	if f.FCnt < e.session.FCntDown {
		return f, errors.Wrapf(errReplay, "f_cnt %d < %d", f.FCnt, e.session.FCntDown)
	}
	return f, nil
}

func (e *Engine) rejectDownlink(err error) {
	reason := "malformed"
	switch errors.Cause(err) {
	case frame.ErrMIC:
		reason = "mic"
	case frame.ErrAddress:
		reason = "dev_addr"
	case errReplay:
		reason = "replay"
	}
	rejectedCounter(reason).Inc()

	logging.WithContext(e.ctx).WithFields(log.Fields{
		"dev_eui": e.session.DevEUI,
		"reason":  reason,
	}).WithError(err).Warning("engine: downlink rejected")
}

func (e *Engine) handleMACCommands(cmds []lorawan.MACCommand) {
	if len(cmds) == 0 {
		return
	}

	prevDR := e.state.DR
	prevDuty := e.state.DutyCycle
	e.state.SNR = e.snr

	if err := maccommand.HandleAll(&e.state, e.band, cmds, &e.answers); err != nil {
		logging.WithContext(e.ctx).WithError(err).Error("engine: handle mac commands error")
	}

	if e.state.ADRChanged {
		e.state.ADRChanged = false
		e.backoff.Request()
	}
	if e.state.DR != prevDR {
		e.nextChannel = true
	}
	if e.state.DutyCycle != prevDuty {
		e.globalAvail = e.sched.Now()
	}
	if e.state.Shutdown {
		e.shutdown = true
		logging.WithContext(e.ctx).WithField("dev_eui", e.session.DevEUI).Warning("engine: shut down by network")
	}
}

// completeTX completes the current transaction and reports it to the host.
func (e *Engine) completeTX(received, ack, nack bool, rx *Event, expired bool) {
	if e.txDataSent {
		e.txData = false
		e.pending = uplink{}
		e.txDataSent = false
	}
	e.txrxPending = false
	e.txCnt = 0
	e.repeat = 0

	if received {
		e.linkAlive()
	}
	if rx != nil {
		e.raise(*rx)
	}
	e.raise(Event{Type: EventTXComplete, ACK: ack, NACK: nack})

	if expired {
		e.lowerDataRate()
	}

	e.persist()
	e.update()
}

// lowerDataRate steps the data-rate down after the ADR backoff expired.
// The link is dead once the data-rate can not be lowered any further.
func (e *Engine) lowerDataRate() {
	dr := e.band.LowerDataRate(e.state.DR, 1)
	if dr != e.state.DR {
		e.setDR(dr)
		logging.WithContext(e.ctx).WithFields(log.Fields{
			"dev_eui": e.session.DevEUI,
			"dr":      dr,
		}).Info("engine: no downlink received, data-rate lowered")
		return
	}

	if e.linkDead {
		return
	}
	e.rejoin = true
	e.linkDead = true
	e.raise(Event{Type: EventLinkDead})
}

func (e *Engine) linkAlive() {
	if !e.linkDead {
		return
	}
	e.linkDead = false
	e.rejoin = false
	e.raise(Event{Type: EventLinkAlive})
}

func (e *Engine) recordSignal(res radio.Result) {
	e.rssi = res.RSSI
	e.snr = res.SNR
	e.stats.add(res.RSSI, res.SNR)
}
