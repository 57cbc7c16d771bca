package engine

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto"
	"github.com/brocaar/chirpstack-lorawan-device/internal/frame"
	"github.com/brocaar/chirpstack-lorawan-device/internal/logging"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/lorawan"
)

// update decides what to transmit next and when. It is called after every
// state change.
func (e *Engine) update() {
	if e.shutdown || e.txrxPending || e.sched.Err() != nil {
		return
	}

	if e.join == joinIdle {
		e.StartJoining()
		return
	}

	joining := e.join == joinJoining || e.rejoin
	if !joining && !e.txData && !e.poll {
		return
	}

	now := e.sched.Now()
	var txBeg scheduler.Ticks
	dr := e.state.DR

	switch {
	case e.join == joinJoining:
		dr = e.joinParams.DR
		e.txChannel = e.joinParams.Channel
		txBeg = e.joinParams.Next
	case e.rejoin:
		dr = e.band.LowerDataRate(e.state.DR, e.rejoinCnt)
		e.txChannel, txBeg = e.band.NextTXChannel(now, dr)
	default:
		if e.nextChannel {
			e.txChannel, e.txBeg = e.band.NextTXChannel(now, dr)
			e.nextChannel = false
		}
		txBeg = e.txBeg
	}

	if (e.state.DutyCycle != 0 || e.randomTX) && scheduler.After(e.globalAvail, txBeg) {
		txBeg = e.globalAvail
	}

	if scheduler.After(txBeg, now+txRampup) {
		logging.WithContext(e.ctx).WithFields(log.Fields{
			"dev_eui": e.session.DevEUI,
			"wait":    (txBeg - now).Duration(),
		}).Debug("engine: uplink deferred")
		e.sched.ScheduleAt(&e.job, txBeg-txRampup, func(*scheduler.Job) {
			e.update()
		})
		return
	}

	var b []byte
	var mType lorawan.MType
	txPower := e.state.TXPower

	if joining {
		if e.join == joinJoining {
			txPower = e.joinParams.TXPower
		}
		b = e.buildJoinRequest()
		mType = lorawan.JoinRequest
	} else {
		if e.session.FCntDown >= 0xffffff80 || (e.txCnt == 0 && e.repeat == 0 && e.session.FCntUp == 0xffffffff) {
			e.runReset()
			return
		}

		var err error
		b, mType, err = e.buildDataFrame(dr)
		if err != nil {
			e.fault(errors.Wrap(err, "build data frame error"))
			return
		}
	}

	if max, ok := e.maxTXPower[e.txChannel.Index]; ok && txPower > max {
		txPower = max
	}

	c, err := e.modemConfig(dr, e.txChannel.Frequency, txPower)
	if err != nil {
		e.fault(err)
		return
	}

	ctx, err := logging.NewContext(context.Background())
	if err == nil {
		e.ctx = ctx
	}

	e.txDR = dr
	e.txLen = len(b)
	e.txJoin = joining
	e.poll = false
	e.randomTX = false
	e.txrxPending = true
	e.nextChannel = true

	e.radio.Configure(c)
	if err := e.radio.StartTX(b, e.txDone); err != nil {
		e.fault(errors.Wrap(err, "start tx error"))
		return
	}

	uplinkCounter(mType.String()).Inc()
	logging.WithContext(e.ctx).WithFields(log.Fields{
		"dev_eui":   e.session.DevEUI,
		"dev_addr":  e.session.DevAddr,
		"mtype":     mType,
		"f_cnt":     e.session.FCntUp,
		"dr":        dr,
		"frequency": e.txChannel.Frequency,
		"tx_power":  txPower,
	}).Info("engine: uplink sent")
}

func (e *Engine) buildJoinRequest() []byte {
	e.joinNonce = e.session.DevNonce
	e.session.DevNonce++
	e.persist()

	return frame.EncodeJoinRequest(frame.JoinRequest{
		JoinEUI:  e.session.JoinEUI,
		DevEUI:   e.session.DevEUI,
		DevNonce: e.joinNonce,
	}, e.options.AppKey, e.aes)
}

// fits returns true when a data frame with the given FOpts and payload size
// (a payload implies the FPort field) can be sent at the given data-rate.
func (e *Engine) fits(dr, fOptsLen, payloadLen int) bool {
	size := frame.MHDRSize + frame.FHDRMinSize + fOptsLen + crypto.MICSize
	if payloadLen != 0 {
		size += 1 + payloadLen
	}
	return size <= e.band.MaxFrameLength(dr)
}

// fOpts returns the pending MAC command answers that fit the FOpts field.
// All answers are removed.
func (e *Engine) fOpts() []byte {
	var out []byte
	for _, cmd := range e.answers.Commands() {
		b, err := frame.MarshalFOpts([]lorawan.MACCommand{cmd})
		if err != nil {
			logging.WithContext(e.ctx).WithError(err).Error("engine: marshal mac command error")
			continue
		}
		if len(out)+len(b) > frame.MaxFOptsLength {
			logging.WithContext(e.ctx).WithField("cid", cmd.CID).Warning("engine: mac command does not fit fopts")
			break
		}
		out = append(out, b...)
	}
	e.answers.Clear()
	return out
}

func (e *Engine) buildDataFrame(dr int) ([]byte, lorawan.MType, error) {
	fCnt := e.session.FCntUp
	if e.txCnt == 0 && e.repeat == 0 {
		e.session.FCntUp++
	} else {
		fCnt--
	}

	fOpts := e.fOpts()

	sendData := e.txData
	if sendData && !e.fits(dr, len(fOpts), len(e.pending.payload)) {
		if e.fits(dr, 0, len(e.pending.payload)) {
			// the payload goes out with the next frame
			sendData = false
		} else {
			logging.WithContext(e.ctx).WithFields(log.Fields{
				"dev_eui": e.session.DevEUI,
				"size":    len(e.pending.payload),
				"dr":      dr,
			}).Warning("engine: payload exceeds max frame size, dropped")
			e.txData = false
			e.pending = uplink{}
			sendData = false
		}
	}

	f := frame.DataFrame{
		MType:   lorawan.UnconfirmedDataUp,
		DevAddr: e.session.DevAddr,
		FCtrl: frame.FCtrl{
			ADR:       e.adrEnabled,
			ADRACKReq: e.backoff.ADRACKReq(),
			ACK:       e.dnConf,
		},
		FCnt:  fCnt,
		FOpts: fOpts,
	}
	e.dnConf = false

	if sendData {
		port := e.pending.port
		f.FPort = &port
		f.Payload = e.pending.payload
		if e.pending.confirmed {
			f.MType = lorawan.ConfirmedDataUp
			if e.txCnt == 0 {
				e.txCnt = 1
			}
		}
	}
	e.txDataSent = sendData

	b, err := frame.EncodeData(f, frame.Keys{
		NwkSKey: e.session.NwkSKey,
		AppSKey: e.session.AppSKey,
	}, e.aes)
	if err != nil {
		return nil, f.MType, err
	}
	return b, f.MType, nil
}

// runReset handles the exhaustion of the frame-counters, the device
// starts over with a new join.
func (e *Engine) runReset() {
	logging.WithContext(e.ctx).WithFields(log.Fields{
		"dev_eui":    e.session.DevEUI,
		"f_cnt_up":   e.session.FCntUp,
		"f_cnt_down": e.session.FCntDown,
	}).Warning("engine: frame-counter exhausted, rejoining")

	e.reset()
	e.raise(Event{Type: EventReset})
	e.StartJoining()
}

func (e *Engine) txDone(res radio.Result) {
	e.txEnd = res.Time

	airtime, err := e.band.Airtime(e.txDR, e.txLen)
	if err != nil {
		e.fault(errors.Wrap(err, "airtime error"))
		return
	}
	e.maxTXPower[e.txChannel.Index] = e.band.UpdateTX(e.txChannel, e.txEnd, airtime)
	if e.state.DutyCycle != 0 {
		e.globalAvail = e.txEnd + airtime<<e.state.DutyCycle
	}

	if e.txJoin {
		d1, _ := e.band.JoinAcceptDelays()
		freq, dr := e.band.ResolveRX1(e.txChannel, e.txDR, 0)
		e.scheduleRX(d1, freq, dr, e.rx1Join)
		return
	}

	freq, dr := e.band.ResolveRX1(e.txChannel, e.txDR, int(e.state.RX1DROffset))
	e.scheduleRX(e.rxDelay(), freq, dr, e.rx1Data)
}

func (e *Engine) rxDelay() scheduler.Ticks {
	if e.state.RXDelay == 0 {
		return scheduler.Sec(1)
	}
	return scheduler.Sec(int64(e.state.RXDelay))
}

// scheduleRX opens a receive window delay ticks after the end of the
// uplink. The window is widened for the clock error of the device.
func (e *Engine) scheduleRX(delay scheduler.Ticks, freq uint32, dr int, done func(radio.Result)) {
	if e.band.IsFSK(dr) {
		e.rxTime = e.txEnd + delay - scheduler.US(160)
		e.rxSyms = fskRXBytes
	} else {
		hsym := e.band.HalfSymbolTime(dr)
		drift := scheduler.Ticks(int64(delay) * int64(e.clockError) / MaxClockError)
		if (255-minRXSymbols)*hsym < drift {
			e.rxSyms = 255
		} else {
			e.rxSyms = minRXSymbols + int(drift/hsym)
		}
		e.rxTime = e.txEnd + delay + scheduler.Ticks(preambleSymbols-e.rxSyms)*hsym
	}

	c, err := e.modemConfig(dr, freq, 0)
	if err != nil {
		e.fault(err)
		return
	}

	e.sched.ScheduleAt(&e.job, e.rxTime-rxRampup, func(*scheduler.Job) {
		e.radio.Configure(c)
		if err := e.radio.StartRX(radio.RXSingle, e.rxSyms, e.rxTime, done); err != nil {
			e.fault(errors.Wrap(err, "start rx error"))
			return
		}

		logging.WithContext(e.ctx).WithFields(log.Fields{
			"dev_eui":   e.session.DevEUI,
			"dr":        dr,
			"frequency": freq,
			"symbols":   e.rxSyms,
		}).Debug("engine: rx window opened")
	})
}

// txDelay delays the next uplink by a random amount of time within the
// given span.
func (e *Engine) txDelay(ref scheduler.Ticks, secSpan int) {
	ref += band.RandomDelay(e.rnd, secSpan)
	if e.state.DutyCycle == 0 || scheduler.After(ref, e.globalAvail) {
		e.globalAvail = ref
		e.randomTX = true
	}
}
