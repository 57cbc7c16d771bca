package simulated

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
)

var sf7 = radio.ModemConfig{Modem: radio.LoRa, Frequency: 868100000, SpreadFactor: 7, Bandwidth: 125, TXPower: 14}

func TestDriver(t *testing.T) {
	assert := require.New(t)

	clock := scheduler.NewVirtualClock(0)
	sched := scheduler.New(clock)

	var uplink Transmission
	drv := NewDriver(sched, ResponderFunc(func(tx Transmission) []Downlink {
		uplink = tx
		return []Downlink{
			{Frame: []byte{1, 2, 3}, Config: sf7, At: tx.End + scheduler.Sec(1), RSSI: -60, SNR: 9},
		}
	}))
	r := radio.New(sched, drv)

	r.Configure(sf7)
	var txRes radio.Result
	assert.NoError(r.StartTX([]byte{0x40, 1, 2, 3, 4, 5}, func(res radio.Result) { txRes = res }))
	assert.NoError(sched.RunUntil(context.Background(), scheduler.MS(500)))

	at, err := radio.Airtime(sf7, 6)
	assert.NoError(err)
	assert.Equal(at, uplink.End)
	assert.Equal(at-scheduler.US(43), txRes.Time)
	assert.Len(drv.Transmissions(), 1)

	t.Run("window too late", func(t *testing.T) {
		assert := require.New(t)

		var res radio.Result
		open := uplink.End + scheduler.Sec(1) + scheduler.MS(100)
		clock.Advance(open - clock.Now() - scheduler.MS(1))
		assert.NoError(r.StartRX(radio.RXSingle, 5, open, func(rr radio.Result) { res = rr }))
		assert.NoError(sched.RunUntil(context.Background(), open+scheduler.MS(100)))
		assert.True(res.TimedOut)
	})
}

func TestDriverReceive(t *testing.T) {
	assert := require.New(t)

	clock := scheduler.NewVirtualClock(0)
	sched := scheduler.New(clock)
	drv := NewDriver(sched, ResponderFunc(func(tx Transmission) []Downlink {
		return []Downlink{
			{Frame: []byte{1, 2, 3}, Config: sf7, At: tx.End + scheduler.Sec(1), RSSI: -60, SNR: 9},
		}
	}))
	r := radio.New(sched, drv)
	r.Configure(sf7)

	var txRes radio.Result
	assert.NoError(r.StartTX([]byte{0x40}, func(res radio.Result) { txRes = res }))
	assert.NoError(sched.RunUntil(context.Background(), scheduler.MS(100)))

	// open the window 1.5 symbols after the expected preamble start
	open := txRes.Time + scheduler.US(43) + scheduler.Sec(1) + scheduler.US(1536)
	clock.Advance(open - clock.Now() - scheduler.MS(1))

	var res radio.Result
	assert.NoError(r.StartRX(radio.RXSingle, 5, open, func(rr radio.Result) { res = rr }))
	assert.NoError(sched.RunUntil(context.Background(), open+scheduler.Sec(1)))
	assert.Equal(radio.RXDone, res.Kind)
	assert.Equal([]byte{1, 2, 3}, res.Frame)
	assert.Equal(-60, res.RSSI)
	assert.Equal(float64(9), res.SNR)
	assert.Equal(1, drv.RXWindows())

	t.Run("wrong frequency", func(t *testing.T) {
		assert := require.New(t)

		r.Configure(sf7)
		assert.NoError(r.StartTX([]byte{0x40}, func(res radio.Result) { txRes = res }))
		assert.NoError(sched.RunUntil(context.Background(), clock.Now()+scheduler.MS(100)))

		c := sf7
		c.Frequency = 868300000
		r.Configure(c)
		open := txRes.Time + scheduler.Sec(1)
		clock.Advance(open - clock.Now())
		assert.NoError(r.StartRX(radio.RXSingle, 5, open, func(rr radio.Result) { res = rr }))
		assert.NoError(sched.RunUntil(context.Background(), open+scheduler.Sec(1)))
		assert.Equal(radio.RXTimeout, res.Kind)
	})
}
