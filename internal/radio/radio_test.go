package radio

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
)

type testDriver struct {
	notify  func(Kind)
	states  []State
	config  ModemConfig
	tx      []byte
	rxMode  RXMode
	symbols int
	frame   []byte
	rssi    int
	snr     float64
	aborts  int

	abortErr error
}

func (d *testDriver) SetNotifier(f func(Kind))           { d.notify = f }
func (d *testDriver) ConfigureModem(c ModemConfig) error { d.config = c; return nil }
func (d *testDriver) SetState(s State) error             { d.states = append(d.states, s); return nil }
func (d *testDriver) StartTX(b []byte) error             { d.tx = b; return nil }
func (d *testDriver) ReadFrame() ([]byte, error)         { return d.frame, nil }
func (d *testDriver) SignalQuality() (int, float64)      { return d.rssi, d.snr }
func (d *testDriver) Abort() error                       { d.aborts++; return d.abortErr }

func (d *testDriver) StartRX(mode RXMode, symbols int) error {
	d.rxMode = mode
	d.symbols = symbols
	return nil
}

type RadioTestSuite struct {
	suite.Suite

	clock  *scheduler.VirtualClock
	sched  *scheduler.Scheduler
	driver *testDriver
	radio  *Radio
}

func (ts *RadioTestSuite) SetupTest() {
	ts.clock = scheduler.NewVirtualClock(scheduler.Sec(1))
	ts.sched = scheduler.New(ts.clock)
	ts.driver = &testDriver{}
	ts.radio = New(ts.sched, ts.driver)
}

// complete raises the driver interrupt after d and runs the loop.
func (ts *RadioTestSuite) complete(k Kind, d scheduler.Ticks) {
	ts.clock.Advance(d)
	ts.driver.notify(k)
	ts.sched.RunOnce(context.Background())
}

func (ts *RadioTestSuite) TestTX() {
	assert := require.New(ts.T())

	ts.radio.Configure(ModemConfig{Modem: LoRa, Frequency: 868100000, SpreadFactor: 7, Bandwidth: 125, TXPower: 14})

	var res *Result
	assert.NoError(ts.radio.StartTX([]byte{1, 2, 3}, func(r Result) { res = &r }))
	assert.Equal(TX, ts.radio.State())
	assert.Equal([]byte{1, 2, 3}, ts.driver.tx)
	assert.False(ts.driver.config.IQInverted)

	start := ts.clock.Now()
	ts.complete(TXDone, scheduler.MS(50))
	assert.NotNil(res)
	assert.Equal(TXDone, res.Kind)
	assert.Equal(start+scheduler.MS(50)-scheduler.US(43), res.Time)
	assert.Equal(Sleep, ts.radio.State())
	assert.Equal([]State{Standby, Standby, Sleep}, ts.driver.states)
	assert.Equal(*res, ts.radio.ReadResult())
}

func (ts *RadioTestSuite) TestFSKTX() {
	assert := require.New(ts.T())

	ts.radio.Configure(ModemConfig{Modem: FSK, Frequency: 868800000, BitRate: 50000})
	var res Result
	assert.NoError(ts.radio.StartTX([]byte{1}, func(r Result) { res = r }))
	ts.complete(TXDone, scheduler.MS(2))
	assert.Equal(scheduler.Sec(1)+scheduler.MS(2), res.Time)
}

func (ts *RadioTestSuite) TestStartWhileBusy() {
	assert := require.New(ts.T())

	assert.NoError(ts.radio.StartTX([]byte{1}, func(Result) {}))
	err := ts.radio.StartTX([]byte{2}, func(Result) {})
	assert.Equal(ErrInvalidState, errors.Cause(err))
	assert.Equal(Sleep, ts.radio.State())
	assert.Equal(1, ts.driver.aborts)
}

func (ts *RadioTestSuite) TestRXSingle() {
	assert := require.New(ts.T())

	ts.radio.Configure(ModemConfig{Modem: LoRa, Frequency: 868100000, SpreadFactor: 10, Bandwidth: 125})
	ts.driver.frame = []byte{0x60, 1, 2, 3}
	ts.driver.rssi = -80
	ts.driver.snr = 7.5

	open := ts.clock.Now() + scheduler.MS(2)
	var res Result
	assert.NoError(ts.radio.StartRX(RXSingle, 8, open, func(r Result) { res = r }))
	assert.Equal(open, ts.clock.Now())
	assert.Equal(RX, ts.radio.State())
	assert.Equal(RXSingle, ts.driver.rxMode)
	assert.Equal(8, ts.driver.symbols)
	assert.True(ts.driver.config.IQInverted)

	ts.complete(RXDone, scheduler.MS(100))
	assert.Equal(RXDone, res.Kind)
	assert.False(res.TimedOut)
	assert.Equal([]byte{0x60, 1, 2, 3}, res.Frame)
	assert.Equal(-80, res.RSSI)
	assert.Equal(7.5, res.SNR)
	assert.Equal(open+scheduler.MS(100)-scheduler.US(7049), res.Time)
	assert.Equal(Sleep, ts.radio.State())
}

func (ts *RadioTestSuite) TestRXTimeout() {
	assert := require.New(ts.T())

	var res Result
	assert.NoError(ts.radio.StartRX(RXSingle, 5, ts.clock.Now(), func(r Result) { res = r }))
	ts.complete(RXTimeout, scheduler.MS(10))
	assert.Equal(RXTimeout, res.Kind)
	assert.True(res.TimedOut)
	assert.Nil(res.Frame)
}

func (ts *RadioTestSuite) TestRXTooLate() {
	assert := require.New(ts.T())

	err := ts.radio.StartRX(RXSingle, 5, ts.clock.Now()+scheduler.Sec(1), func(Result) {})
	assert.Equal(ErrBusyWait, errors.Cause(err))
	assert.Equal(Sleep, ts.radio.State())
}

func (ts *RadioTestSuite) TestRXTooLateResetError() {
	assert := require.New(ts.T())

	abortErr := errors.New("spi error")
	ts.driver.abortErr = abortErr

	err := ts.radio.StartRX(RXSingle, 5, ts.clock.Now()+scheduler.Sec(1), func(Result) {})
	assert.Error(err)
	assert.Equal(abortErr, errors.Cause(err))
	assert.Equal(1, ts.driver.aborts)
}

func (ts *RadioTestSuite) TestRXScan() {
	assert := require.New(ts.T())

	now := ts.clock.Now()
	assert.NoError(ts.radio.StartRX(RXScan, 0, now+scheduler.Sec(10), func(Result) {}))
	assert.Equal(now, ts.clock.Now())
	assert.Equal(RXScan, ts.driver.rxMode)
}

func (ts *RadioTestSuite) TestUnexpectedCompletion() {
	assert := require.New(ts.T())

	// no outstanding operation
	ts.complete(TXDone, 1)
	assert.NoError(ts.sched.Err())

	assert.NoError(ts.radio.StartRX(RXSingle, 5, ts.clock.Now(), func(Result) {}))
	ts.complete(TXDone, 1)
	assert.Equal(ErrInvalidState, errors.Cause(ts.sched.Err()))
}

func (ts *RadioTestSuite) TestReset() {
	assert := require.New(ts.T())

	called := false
	assert.NoError(ts.radio.StartTX([]byte{1}, func(Result) { called = true }))
	assert.NoError(ts.radio.Reset())
	assert.Equal(Sleep, ts.radio.State())

	ts.complete(TXDone, 1)
	assert.False(called)
}

func TestRadio(t *testing.T) {
	suite.Run(t, new(RadioTestSuite))
}

func TestRXDoneFixup(t *testing.T) {
	tests := []struct {
		Name     string
		Config   ModemConfig
		Expected scheduler.Ticks
	}{
		{"SF7BW125", ModemConfig{Modem: LoRa, SpreadFactor: 7, Bandwidth: 125}, 0},
		{"SF12BW125", ModemConfig{Modem: LoRa, SpreadFactor: 12, Bandwidth: 125}, scheduler.US(31189)},
		{"SF12BW500", ModemConfig{Modem: LoRa, SpreadFactor: 12, Bandwidth: 500}, 0},
		{"FSK", ModemConfig{Modem: FSK, BitRate: 50000}, 0},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			assert.Equal(tst.Expected, rxDoneFixup(tst.Config))
		})
	}
}

func TestModemHelpers(t *testing.T) {
	assert := require.New(t)

	sf7 := ModemConfig{Modem: LoRa, Frequency: 868100000, SpreadFactor: 7, Bandwidth: 125}
	fsk := ModemConfig{Modem: FSK, Frequency: 868800000, BitRate: 50000}

	assert.Equal(scheduler.US(1024), SymbolTime(sf7))
	assert.Equal(scheduler.US(160), SymbolTime(fsk))

	at, err := Airtime(fsk, 14)
	assert.NoError(err)
	assert.Equal(scheduler.Ticks(25*8*scheduler.TicksPerSecond/50000), at)

	_, err = Airtime(ModemConfig{Modem: FSK}, 14)
	assert.Error(err)

	// SF7BW125, 13 bytes: 46.336ms
	at, err = Airtime(sf7, 13)
	assert.NoError(err)
	assert.Equal(scheduler.US(46336), at)

	assert.True(sf7.Matches(ModemConfig{Modem: LoRa, Frequency: 868100000, SpreadFactor: 7, Bandwidth: 125, TXPower: 14}))
	assert.False(sf7.Matches(ModemConfig{Modem: LoRa, Frequency: 868100000, SpreadFactor: 8, Bandwidth: 125}))
	assert.False(sf7.Matches(fsk))
	assert.True(fsk.Matches(ModemConfig{Modem: FSK, Frequency: 868800000, BitRate: 50000}))
}
