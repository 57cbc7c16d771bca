package engine

import (
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto"
	"github.com/brocaar/chirpstack-lorawan-device/internal/frame"
	"github.com/brocaar/chirpstack-lorawan-device/internal/logging"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
)

func (e *Engine) rx1Join(res radio.Result) {
	if e.processJoinAccept(res) {
		return
	}
	_, d2 := e.band.JoinAcceptDelays()
	e.scheduleRX(d2, e.state.RX2Frequency, int(e.state.RX2DR), e.rx2Join)
}

func (e *Engine) rx2Join(res radio.Result) {
	if e.processJoinAccept(res) {
		return
	}
	e.joinFailed()
}

func (e *Engine) joinFailed() {
	e.txrxPending = false

	if e.join != joinJoining {
		// rejoin while keeping the current session
		e.rejoin = false
		if e.rejoinCnt < maxRejoinCount {
			e.rejoinCnt++
		}
		e.raise(Event{Type: EventRejoinFailed})
		e.update()
		return
	}

	failed := e.band.NextJoinState(&e.joinParams, e.sched.Now())
	e.state.DR = e.joinParams.DR
	e.state.TXPower = e.joinParams.TXPower

	logging.WithContext(e.ctx).WithFields(log.Fields{
		"dev_eui":  e.session.DevEUI,
		"attempts": e.joinParams.Attempts,
		"dr":       e.joinParams.DR,
		"wait":     (e.joinParams.Next - e.sched.Now()).Duration(),
	}).Info("engine: no join-accept received")

	e.sched.ScheduleAt(&e.job, e.joinParams.Next, func(*scheduler.Job) {
		if failed {
			e.raise(Event{Type: EventJoinFailed})
		}
		e.update()
	})
}

// processJoinAccept handles the received join-accept. It returns false
// when no valid join-accept was received.
func (e *Engine) processJoinAccept(res radio.Result) bool {
	if res.TimedOut || len(res.Frame) == 0 {
		return false
	}

	ja, err := frame.DecodeJoinAccept(res.Frame, e.options.AppKey, e.aes)
	if err != nil {
		e.rejectDownlink(err)
		return false
	}
	e.recordSignal(res)

	nwkSKey, appSKey := crypto.DeriveSessionKeys(e.aes, e.options.AppKey, ja.AppNonce, ja.NetID, e.joinNonce)
	e.session.NetID = ja.NetID
	e.session.DevAddr = ja.DevAddr
	e.session.NwkSKey = nwkSKey
	e.session.AppSKey = appSKey

	e.band.Reset(e.sched.Now(), false)
	if ja.CFList != nil && !e.band.ApplyCFList(ja.CFList) {
		logging.WithContext(e.ctx).WithField("dev_eui", e.session.DevEUI).Warning("engine: cflist ignored")
	}

	if e.join == joinJoining {
		e.setDR(e.joinParams.DR)
	} else {
		e.setDR(e.band.LowerDataRate(e.state.DR, e.rejoinCnt))
	}

	e.join = joinJoined
	e.rejoin = false
	e.txrxPending = false
	e.nextChannel = true
	e.txCnt = 0
	e.justJoined()

	e.state.RX1DROffset = ja.RX1DROffset
	e.state.RX2DR = ja.RX2DataRate
	e.state.RXDelay = ja.RXDelay
	if e.state.RXDelay == 0 {
		e.state.RXDelay = 1
	}
	e.persist()

	logging.WithContext(e.ctx).WithFields(log.Fields{
		"dev_eui":  e.session.DevEUI,
		"dev_addr": e.session.DevAddr,
		"net_id":   e.session.NetID,
		"dr":       e.state.DR,
	}).Info("engine: joined")

	e.raise(Event{Type: EventJoined})
	e.update()
	return true
}
