package engine

import (
	"context"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio/simulated"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/chirpstack-lorawan-device/internal/storage"
	"github.com/brocaar/chirpstack-lorawan-device/internal/test"
	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

var (
	testNetID   = lorawan.NetID{0, 0, 0x13}
	testDevAddr = lorawan.DevAddr{0x26, 1, 2, 3}
)

type EngineTestSuite struct {
	suite.Suite

	clock   *scheduler.VirtualClock
	sched   *scheduler.Scheduler
	network *simulated.Network
	driver  *simulated.Driver
	band    band.Strategy
	options Options
	engine  *Engine
	events  []Event
}

func (ts *EngineTestSuite) SetupTest() {
	assert := require.New(ts.T())
	conf := test.GetConfig()

	storage.SetBackend(storage.NoneBackend{})
	ts.events = nil

	var err error
	ts.clock = scheduler.NewVirtualClock(0)
	ts.sched = scheduler.New(ts.clock)
	ts.network, err = simulated.NewNetwork(simulated.NetworkConfig{
		Band:     loraband.EU868,
		AppKey:   conf.Device.AppKey,
		NetID:    testNetID,
		DevAddr:  testDevAddr,
		AppNonce: 0x010203,
		RSSI:     -60,
		SNR:      7.5,
	})
	assert.NoError(err)
	ts.driver = simulated.NewDriver(ts.sched, ts.network)

	rnd := rand.New(rand.NewSource(1))
	ts.band, err = band.New(loraband.EU868, rnd)
	assert.NoError(err)

	backend, err := aes.Get(conf.General.AESBackend)
	assert.NoError(err)

	ts.options = OptionsFromConfig(conf)
	ts.options.LinkCheck = true
	ts.options.Rand = rnd
	ts.options.Handler = func(e Event) {
		ts.events = append(ts.events, e)
	}

	ts.engine = New(ts.sched, radio.New(ts.sched, ts.driver), ts.band, backend, ts.options)
}

func (ts *EngineTestSuite) run(d scheduler.Ticks) {
	ts.Require().NoError(ts.sched.RunUntil(context.Background(), ts.clock.Now()+d))
}

func (ts *EngineTestSuite) eventTypes() []EventType {
	var out []EventType
	for _, e := range ts.events {
		out = append(out, e.Type)
	}
	return out
}

func (ts *EngineTestSuite) lastEvent(t EventType) (Event, bool) {
	for i := len(ts.events) - 1; i >= 0; i-- {
		if ts.events[i].Type == t {
			return ts.events[i], true
		}
	}
	return Event{}, false
}

func (ts *EngineTestSuite) join() {
	ts.Require().True(ts.engine.StartJoining())
	ts.run(scheduler.Sec(60))
	ts.Require().Contains(ts.eventTypes(), EventJoined)
	ts.events = nil
}

func (ts *EngineTestSuite) dataTransmissions(mType lorawan.MType) []simulated.Transmission {
	var out []simulated.Transmission
	for _, tx := range ts.driver.Transmissions() {
		if lorawan.MType(tx.Frame[0]>>5) == mType {
			out = append(out, tx)
		}
	}
	return out
}

func (ts *EngineTestSuite) TestJoin() {
	assert := require.New(ts.T())

	assert.True(ts.engine.StartJoining())
	assert.False(ts.engine.StartJoining())
	ts.run(scheduler.Sec(60))

	assert.Equal([]EventType{EventJoining, EventJoined}, ts.eventTypes())

	s := ts.engine.Session()
	assert.True(s.Joined)
	assert.Equal(testDevAddr, s.DevAddr)
	assert.Equal(testNetID, s.NetID)
	assert.EqualValues(0, s.FCntUp)
	assert.EqualValues(0, s.FCntDown)
	assert.Equal(5, s.DR)

	ns, ok := ts.network.Session()
	assert.True(ok)
	assert.Equal(ns.NwkSKey, ts.engine.session.NwkSKey)
	assert.Equal(ns.AppSKey, ts.engine.session.AppSKey)
	assert.Equal(ns.DevNonce+1, ts.engine.session.DevNonce)
	assert.Len(ts.driver.Transmissions(), 1)
}

func (ts *EngineTestSuite) TestJoinRetry() {
	assert := require.New(ts.T())

	var dropped int
	ts.network.SetDrop(func(tx simulated.Transmission, phy lorawan.PHYPayload) bool {
		if dropped < 2 {
			dropped++
			return true
		}
		return false
	})

	assert.True(ts.engine.StartJoining())
	ts.run(scheduler.Sec(600))

	assert.Equal([]EventType{EventJoining, EventJoined}, ts.eventTypes())
	assert.Len(ts.driver.Transmissions(), 3)

	// every data-rate is used twice before stepping down
	txs := ts.driver.Transmissions()
	assert.Equal(7, txs[0].Config.SpreadFactor)
	assert.Equal(7, txs[1].Config.SpreadFactor)
	assert.Equal(8, txs[2].Config.SpreadFactor)
	assert.Equal(4, ts.engine.Session().DR)

	var devNonces []uint16
	for _, tx := range txs {
		devNonces = append(devNonces, binary.LittleEndian.Uint16(tx.Frame[17:19]))
	}
	assert.Equal(devNonces[0]+1, devNonces[1])
	assert.Equal(devNonces[1]+1, devNonces[2])
}

func (ts *EngineTestSuite) TestSendBeforeJoin() {
	assert := require.New(ts.T())

	assert.NoError(ts.engine.Send([]byte{1, 2, 3}, 10, false))
	ts.run(scheduler.Sec(120))

	assert.Equal([]EventType{EventJoining, EventJoined, EventTXComplete}, ts.eventTypes())
	ups := ts.network.Uplinks()
	assert.Len(ups, 2)
	assert.Equal(uint8(10), *ups[1].FPort)
	assert.Equal([]byte{1, 2, 3}, ups[1].Payload)
}

func (ts *EngineTestSuite) TestUnconfirmedUplink() {
	assert := require.New(ts.T())
	ts.join()
	ts.network.SetAlwaysAnswer(true)

	assert.NoError(ts.engine.Send([]byte{1, 2, 3, 4, 5}, 1, false))
	assert.True(ts.engine.Busy())
	assert.Equal(ErrBusy, ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))

	assert.Equal([]EventType{EventTXComplete}, ts.eventTypes())
	assert.False(ts.events[0].ACK)
	assert.False(ts.events[0].NACK)
	assert.False(ts.engine.Busy())

	ups := ts.network.Uplinks()
	up := ups[len(ups)-1]
	assert.EqualValues(0, up.FCnt)
	assert.Equal(uint8(1), *up.FPort)
	assert.Equal([]byte{1, 2, 3, 4, 5}, up.Payload)
	assert.Equal(lorawan.UnconfirmedDataUp, up.PHYPayload.MHDR.MType)
	assert.True(up.PHYPayload.MACPayload.(*lorawan.MACPayload).FHDR.FCtrl.ADR)

	s := ts.engine.Session()
	assert.EqualValues(1, s.FCntUp)
	assert.EqualValues(1, s.FCntDown)
	assert.Equal(-60, s.RSSI)
	assert.Equal(7.5, s.SNR)
}

func (ts *EngineTestSuite) TestDownlinkPayload() {
	assert := require.New(ts.T())
	ts.join()

	fPort := uint8(10)
	ts.network.Enqueue(simulated.QueueItem{
		FPort:   &fPort,
		Payload: []byte{0xaa, 0xbb},
	})

	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))

	assert.Equal([]EventType{EventRXComplete, EventTXComplete}, ts.eventTypes())
	assert.Equal(uint8(10), ts.events[0].Port)
	assert.Equal([]byte{0xaa, 0xbb}, ts.events[0].Payload)
}

func (ts *EngineTestSuite) TestDownlinkRX2() {
	assert := require.New(ts.T())
	ts.join()
	ts.network.SetUseRX2(true)

	fPort := uint8(2)
	ts.network.Enqueue(simulated.QueueItem{
		FPort:   &fPort,
		Payload: []byte{1, 2, 3},
	})

	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))

	assert.Equal([]EventType{EventRXComplete, EventTXComplete}, ts.eventTypes())
	assert.Equal([]byte{1, 2, 3}, ts.events[0].Payload)
}

func (ts *EngineTestSuite) TestConfirmedDownlink() {
	assert := require.New(ts.T())
	ts.join()

	fPort := uint8(3)
	ts.network.Enqueue(simulated.QueueItem{
		FPort:     &fPort,
		Payload:   []byte{1},
		Confirmed: true,
	})

	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(120))

	// the ack is sent autonomously
	ups := ts.network.Uplinks()
	assert.Len(ups, 3)
	last := ups[2]
	assert.Nil(last.FPort)
	assert.True(last.PHYPayload.MACPayload.(*lorawan.MACPayload).FHDR.FCtrl.ACK)
}

func (ts *EngineTestSuite) TestConfirmedUplink() {
	assert := require.New(ts.T())
	ts.join()

	assert.NoError(ts.engine.Send([]byte{1, 2}, 5, true))
	ts.run(scheduler.Sec(30))

	e, ok := ts.lastEvent(EventTXComplete)
	assert.True(ok)
	assert.True(e.ACK)
	assert.False(e.NACK)
	assert.Len(ts.dataTransmissions(lorawan.ConfirmedDataUp), 1)
}

func (ts *EngineTestSuite) TestConfirmedUplinkNoAck() {
	assert := require.New(ts.T())
	ts.join()

	ts.network.SetDrop(func(tx simulated.Transmission, phy lorawan.PHYPayload) bool {
		return phy.MHDR.MType == lorawan.ConfirmedDataUp
	})

	assert.NoError(ts.engine.Send([]byte{1, 2}, 5, true))
	ts.run(scheduler.Sec(3600))

	assert.Equal([]EventType{EventTXComplete}, ts.eventTypes())
	assert.False(ts.events[0].ACK)
	assert.True(ts.events[0].NACK)

	txs := ts.dataTransmissions(lorawan.ConfirmedDataUp)
	assert.Len(txs, txConfAttempts)
	for _, tx := range txs {
		assert.Equal(uint16(0), binary.LittleEndian.Uint16(tx.Frame[6:8]))
	}

	// DR5 lowered on the 3rd, 5th and 7th retransmission
	assert.Equal(2, ts.engine.Session().DR)
	assert.EqualValues(1, ts.engine.Session().FCntUp)
	assert.False(ts.engine.Busy())
}

func (ts *EngineTestSuite) TestConfirmedUplinkDownlinkWithoutAck() {
	assert := require.New(ts.T())
	ts.join()
	ts.network.SetWithholdACK(true)

	fPort := uint8(10)
	ts.network.Enqueue(simulated.QueueItem{
		FPort:   &fPort,
		Payload: []byte{0xaa},
	})

	assert.NoError(ts.engine.Send([]byte{1, 2}, 5, true))
	ts.run(scheduler.Sec(3600))

	// the downlink payload is delivered, the uplink is retransmitted until
	// the attempts are exhausted
	assert.Equal([]EventType{EventRXComplete, EventTXComplete}, ts.eventTypes())
	assert.Equal([]byte{0xaa}, ts.events[0].Payload)
	assert.False(ts.events[1].ACK)
	assert.True(ts.events[1].NACK)

	txs := ts.dataTransmissions(lorawan.ConfirmedDataUp)
	assert.Len(txs, txConfAttempts)
	for _, tx := range txs {
		assert.Equal(uint16(0), binary.LittleEndian.Uint16(tx.Frame[6:8]))
	}
	assert.True(txs[1].Start-txs[0].End >= scheduler.Sec(retryPeriod))

	s := ts.engine.Session()
	assert.EqualValues(txConfAttempts, s.FCntDown)
	assert.EqualValues(1, s.FCntUp)
	assert.False(ts.engine.Busy())
}

func (ts *EngineTestSuite) TestConfirmedUplinkRetry() {
	assert := require.New(ts.T())
	ts.join()

	var dropped int
	ts.network.SetDrop(func(tx simulated.Transmission, phy lorawan.PHYPayload) bool {
		if phy.MHDR.MType == lorawan.ConfirmedDataUp && dropped < 2 {
			dropped++
			return true
		}
		return false
	})

	assert.NoError(ts.engine.Send([]byte{1, 2}, 5, true))
	ts.run(scheduler.Sec(600))

	e, ok := ts.lastEvent(EventTXComplete)
	assert.True(ok)
	assert.True(e.ACK)
	assert.Len(ts.dataTransmissions(lorawan.ConfirmedDataUp), 3)

	txs := ts.dataTransmissions(lorawan.ConfirmedDataUp)
	// retransmissions are delayed by at least the retry period
	assert.True(txs[1].Start-txs[0].End >= scheduler.Sec(retryPeriod))
}

func (ts *EngineTestSuite) TestReplayRejected() {
	assert := require.New(ts.T())
	ts.join()
	ts.network.SetAlwaysAnswer(true)

	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))
	assert.EqualValues(1, ts.engine.Session().FCntDown)
	ts.events = nil

	fPort := uint8(4)
	fCnt := uint32(0)
	ts.network.Enqueue(simulated.QueueItem{
		FPort:            &fPort,
		Payload:          []byte{1},
		FCntDownOverride: &fCnt,
	})

	assert.NoError(ts.engine.Send([]byte{2}, 1, false))
	ts.run(scheduler.Sec(30))

	assert.Equal([]EventType{EventTXComplete}, ts.eventTypes())
	assert.EqualValues(1, ts.engine.Session().FCntDown)
}

func (ts *EngineTestSuite) TestLinkADRReq() {
	assert := require.New(ts.T())
	ts.join()

	ts.network.Enqueue(simulated.QueueItem{
		MACCommands: []lorawan.MACCommand{
			{
				CID: lorawan.LinkADRReq,
				Payload: &lorawan.LinkADRReqPayload{
					DataRate: 3,
					TXPower:  1,
					ChMask:   lorawan.ChMask{true, true, true},
					Redundancy: lorawan.Redundancy{
						NbRep: 1,
					},
				},
			},
		},
	})

	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))

	txPower, ok := ts.band.TXPower(1)
	assert.True(ok)
	s := ts.engine.Session()
	assert.Equal(3, s.DR)
	assert.Equal(txPower, s.TXPower)

	assert.NoError(ts.engine.Send([]byte{2}, 1, false))
	ts.run(scheduler.Sec(60))

	ups := ts.network.Uplinks()
	up := ups[len(ups)-1]
	assert.Equal(9, up.Transmission.Config.SpreadFactor)
	assert.Len(up.MACCommands, 1)
	assert.Equal(lorawan.LinkADRAns, up.MACCommands[0].CID)
	assert.Equal(&lorawan.LinkADRAnsPayload{
		ChannelMaskACK: true,
		DataRateACK:    true,
		PowerACK:       true,
	}, up.MACCommands[0].Payload)
	assert.True(up.PHYPayload.MACPayload.(*lorawan.MACPayload).FHDR.FCtrl.ADRACKReq)
}

func (ts *EngineTestSuite) TestDutyCycleReq() {
	assert := require.New(ts.T())
	ts.join()

	ts.network.Enqueue(simulated.QueueItem{
		MACCommands: []lorawan.MACCommand{
			{
				CID:     lorawan.DutyCycleReq,
				Payload: &lorawan.DutyCycleReqPayload{MaxDCycle: 7},
			},
		},
	})

	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))
	assert.EqualValues(7, ts.engine.state.DutyCycle)

	assert.NoError(ts.engine.Send([]byte{2}, 1, false))
	ts.run(scheduler.Sec(30))
	assert.NoError(ts.engine.Send([]byte{3}, 1, false))
	ts.run(scheduler.Sec(600))

	txs := ts.dataTransmissions(lorawan.UnconfirmedDataUp)
	assert.Len(txs, 3)
	airtime := txs[1].End - txs[1].Start
	assert.True(txs[2].Start-txs[1].Start >= airtime*100)
}

func (ts *EngineTestSuite) TestLinkDead() {
	assert := require.New(ts.T())
	ts.join()

	ts.network.SetDrop(func(tx simulated.Transmission, phy lorawan.PHYPayload) bool {
		return true
	})

	// 12 missed downlinks set ADRACKReq, the data-rate is lowered after 25 more
	for i := 0; i < 37; i++ {
		assert.NoError(ts.engine.Send([]byte{byte(i)}, 1, false))
		ts.run(scheduler.Sec(120))
	}

	assert.NotContains(ts.eventTypes(), EventLinkDead)
	assert.False(ts.engine.Session().LinkDead)
	assert.Equal(4, ts.engine.Session().DR)

	txs := ts.dataTransmissions(lorawan.UnconfirmedDataUp)
	assert.False(txs[11].Frame[5]&0x40 != 0)
	assert.True(txs[12].Frame[5]&0x40 != 0)

	// every 13 missed downlinks lower the data-rate, the link is dead once
	// DR0 can not be lowered any further
	sent := 37
	for i := 0; i < 200 && !ts.engine.Session().LinkDead; i++ {
		assert.NotContains(ts.eventTypes(), EventLinkDead)
		if !ts.engine.Busy() {
			assert.NoError(ts.engine.Send([]byte{byte(i)}, 1, false))
			sent++
		}
		ts.run(scheduler.Sec(300))
	}
	ts.run(scheduler.Sec(600))

	assert.True(ts.engine.Session().LinkDead)
	assert.Equal(0, ts.engine.Session().DR)
	assert.Equal(37+5*13, sent)
	assert.Contains(ts.eventTypes(), EventLinkDead)
	assert.Contains(ts.eventTypes(), EventRejoinFailed)

	ts.Run("link alive", func() {
		assert := require.New(ts.T())
		ts.network.SetDrop(nil)
		ts.network.SetAlwaysAnswer(true)
		ts.events = nil

		assert.NoError(ts.engine.Send([]byte{1}, 1, false))
		ts.run(scheduler.Sec(600))

		assert.Equal([]EventType{EventLinkAlive, EventTXComplete}, ts.eventTypes())
		assert.False(ts.engine.Session().LinkDead)
	})
}

func (ts *EngineTestSuite) TestNbRep() {
	assert := require.New(ts.T())
	ts.join()

	ts.network.Enqueue(simulated.QueueItem{
		MACCommands: []lorawan.MACCommand{
			{
				CID: lorawan.LinkADRReq,
				Payload: &lorawan.LinkADRReqPayload{
					DataRate: 5,
					TXPower:  1,
					ChMask:   lorawan.ChMask{true, true, true},
					Redundancy: lorawan.Redundancy{
						NbRep: 3,
					},
				},
			},
		},
	})
	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))
	ts.events = nil

	ts.network.SetDrop(func(tx simulated.Transmission, phy lorawan.PHYPayload) bool {
		return true
	})
	assert.NoError(ts.engine.Send([]byte{2}, 1, false))
	ts.run(scheduler.Sec(600))

	assert.Equal([]EventType{EventTXComplete}, ts.eventTypes())
	txs := ts.dataTransmissions(lorawan.UnconfirmedDataUp)
	assert.Len(txs, 4)
	for _, tx := range txs[1:] {
		assert.Equal(uint16(1), binary.LittleEndian.Uint16(tx.Frame[6:8]))
	}
}

func (ts *EngineTestSuite) TestLinkStats() {
	assert := require.New(ts.T())
	ts.join()
	ts.network.SetAlwaysAnswer(true)

	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))

	stats := ts.engine.Session().Stats
	assert.Equal(2, stats.Count)
	assert.Equal(-60.0, stats.RSSIMean)
	assert.Equal(0.0, stats.RSSIStdDev)
	assert.Equal(7.5, stats.SNRMean)
}

func (ts *EngineTestSuite) TestFrameCounterRollover() {
	assert := require.New(ts.T())
	ts.join()

	ts.engine.session.FCntUp = 0xffffffff
	assert.NoError(ts.engine.Send([]byte{1}, 1, false))

	assert.Equal([]EventType{EventReset}, ts.eventTypes())
	assert.False(ts.engine.Session().Joined)

	ts.run(scheduler.Sec(60))
	assert.Equal([]EventType{EventReset, EventJoining, EventJoined}, ts.eventTypes())
}

func (ts *EngineTestSuite) TestSendValidation() {
	assert := require.New(ts.T())
	ts.join()

	assert.Equal(ErrInvalidPort, errors.Cause(ts.engine.Send([]byte{1}, 0, false)))
	assert.Equal(ErrInvalidPort, errors.Cause(ts.engine.Send([]byte{1}, 224, false)))
	assert.Equal(ErrPayloadSize, errors.Cause(ts.engine.Send(make([]byte, MaxPayloadSize+1), 1, false)))

	// DR5 allows 222 bytes of payload
	assert.Equal(ErrPayloadSize, errors.Cause(ts.engine.Send(make([]byte, 223), 1, false)))
	assert.NoError(ts.engine.Send(make([]byte, 222), 1, false))

	assert.Equal(ErrInvalidDataRate, errors.Cause(ts.engine.SetDataRateTXPower(8, KeepTXPower)))

	ts.engine.Shutdown()
	assert.Equal(ErrShutdown, ts.engine.Send([]byte{1}, 1, false))
}

func (ts *EngineTestSuite) TestSetDataRateTXPower() {
	assert := require.New(ts.T())
	ts.join()

	assert.NoError(ts.engine.SetDataRateTXPower(0, KeepTXPower))
	assert.Equal(0, ts.engine.Session().DR)
	assert.Equal(14, ts.engine.Session().TXPower)

	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(60))

	txs := ts.dataTransmissions(lorawan.UnconfirmedDataUp)
	assert.Len(txs, 1)
	assert.Equal(12, txs[0].Config.SpreadFactor)
}

func (ts *EngineTestSuite) TestABP() {
	assert := require.New(ts.T())

	nwkSKey := lorawan.AES128Key{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	appSKey := lorawan.AES128Key{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2}
	ts.network.SetSession(&simulated.NetworkSession{
		DevEUI:  ts.options.DevEUI,
		DevAddr: testDevAddr,
		NwkSKey: nwkSKey,
		AppSKey: appSKey,
	})

	ts.engine.SetSession(testNetID, testDevAddr, nwkSKey, appSKey)
	assert.True(ts.engine.Session().Joined)

	assert.NoError(ts.engine.Send([]byte{1, 2, 3}, 2, false))
	ts.run(scheduler.Sec(30))

	assert.Equal([]EventType{EventTXComplete}, ts.eventTypes())
	ups := ts.network.Uplinks()
	assert.Len(ups, 1)
	assert.Equal([]byte{1, 2, 3}, ups[0].Payload)
}

func (ts *EngineTestSuite) TestRestore() {
	assert := require.New(ts.T())
	storage.SetBackend(storage.NewFileBackend(ts.T().TempDir()))
	defer storage.SetBackend(storage.NoneBackend{})

	assert.Equal(storage.ErrDoesNotExist, ts.engine.Restore(context.Background()))

	ts.join()
	ts.network.SetAlwaysAnswer(true)
	assert.NoError(ts.engine.Send([]byte{1}, 1, false))
	ts.run(scheduler.Sec(30))

	backend, err := aes.Get("table")
	assert.NoError(err)
	b, err := band.New(loraband.EU868, rand.New(rand.NewSource(2)))
	assert.NoError(err)

	e := New(ts.sched, radio.New(ts.sched, ts.driver), b, backend, ts.options)
	assert.NoError(e.Restore(context.Background()))

	s := e.Session()
	assert.True(s.Joined)
	assert.Equal(testDevAddr, s.DevAddr)
	assert.EqualValues(1, s.FCntUp)
	assert.EqualValues(1, s.FCntDown)
	assert.Equal(ts.engine.session.NwkSKey, e.session.NwkSKey)
	assert.Equal(ts.engine.session.DevNonce, e.session.DevNonce)
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
