// Package band implements the regional bandplan strategies of the device.
// The MAC engine only calls the Strategy surface, it never branches on the
// active plan family.
package band

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// ErrUnsupportedBand is returned for bands without a strategy.
var ErrUnsupportedBand = errors.New("unsupported band")

// Channel defines an uplink channel.
type Channel struct {
	Index     int
	Frequency uint32
	MinDR     int
	MaxDR     int
}

// JoinState holds the state of the join procedure.
type JoinState struct {
	Channel  Channel
	DR       int
	TXPower  int
	Attempts int

	// Next holds the earliest time of the next join-request.
	Next scheduler.Ticks
}

// Strategy defines the regional bandplan interface.
type Strategy interface {
	// Name returns the name of the band.
	Name() loraband.Name

	// Reset restores the default channel plan. When join is set, the plan
	// used during the join procedure is set up.
	Reset(now scheduler.Ticks, join bool)

	// SaveDefaults makes the current channel plan the plan restored by
	// Reset (when not joining).
	SaveDefaults()

	// NextTXChannel returns the channel for the next uplink at the given
	// data-rate and the earliest time the channel is available.
	NextTXChannel(now scheduler.Ticks, dr int) (Channel, scheduler.Ticks)

	// UpdateTX updates the duty-cycle accounting after transmitting
	// airtime ticks on the channel, ending at txEnd. It returns the maximum
	// TX power (dBm) for the channel.
	UpdateTX(ch Channel, txEnd, airtime scheduler.Ticks) int

	// InitialJoinDataRate returns the data-rate of the first join-request.
	InitialJoinDataRate() int

	// InitJoin returns the initial join state.
	InitJoin(now scheduler.Ticks) JoinState

	// NextJoinState advances the join state after a failed attempt. It
	// returns true when all data-rates have been tried.
	NextJoinState(js *JoinState, now scheduler.Ticks) bool

	// CanApplyChannelMask returns true when ApplyChannelMask would succeed.
	CanApplyChannelMask(page int, mask lorawan.ChMask) bool

	// ApplyChannelMask applies the LinkADRReq channel-mask.
	ApplyChannelMask(page int, mask lorawan.ChMask) bool

	// SetupChannel defines (or removes when freq is 0) a channel. It returns
	// the frequency and data-rate range acknowledgements, the channel is only
	// changed when both are true.
	SetupChannel(index int, freq uint32, minDR, maxDR int) (bool, bool)

	// ValidDownlinkFrequency returns true when the device is able to receive
	// on the given frequency.
	ValidDownlinkFrequency(freq uint32) bool

	// ApplyCFList applies the CFList of a join-accept.
	ApplyCFList(cfList []byte) bool

	// EnableChannel and DisableChannel change the enabled state of a channel.
	EnableChannel(index int) bool
	DisableChannel(index int) bool

	// Channels returns the enabled uplink channels.
	Channels() []Channel

	// ResolveRX1 returns the RX1 frequency and data-rate.
	ResolveRX1(ch Channel, dr, rx1DROffset int) (uint32, int)

	// RX2Defaults returns the default RX2 frequency and data-rate.
	RX2Defaults() (uint32, int)

	// RX1Delay returns the default RX1 delay of data frames.
	RX1Delay() scheduler.Ticks

	// JoinAcceptDelays returns the RX1 and RX2 delays of the join-accept.
	JoinAcceptDelays() (scheduler.Ticks, scheduler.Ticks)

	// SafetyZone returns the guard time after the RX2 window.
	SafetyZone() scheduler.Ticks

	DataRate(dr int) (loraband.DataRate, error)
	ValidDataRate(dr int) bool
	IsFSK(dr int) bool
	HalfSymbolTime(dr int) scheduler.Ticks
	MaxFrameLength(dr int) int
	Airtime(dr, size int) (scheduler.Ticks, error)
	LowerDataRate(dr, steps int) int
	TXPower(index int) (int, bool)
	DefaultTXPower() int
	DefaultDataRate() int
}

var strategy Strategy

// Setup sets up the band with the given configuration.
func Setup(c config.Config) error {
	s, err := New(c.Band.Name, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return errors.Wrap(err, "new band error")
	}

	if c.Band.PlanFile != "" {
		plan, err := LoadPlan(c.Band.PlanFile)
		if err != nil {
			return errors.Wrap(err, "load plan file error")
		}
		if err := plan.Apply(s); err != nil {
			return errors.Wrap(err, "apply plan error")
		}
	}

	for _, ec := range c.Band.ExtraChannels {
		if fOK, drOK := s.SetupChannel(ec.Index, uint32(ec.Frequency), ec.MinDR, ec.MaxDR); !fOK || !drOK {
			return errors.Errorf("add channel %d error", ec.Index)
		}
	}

	if len(c.Band.EnabledUplinkChannels) != 0 {
		for _, ch := range s.Channels() {
			s.DisableChannel(ch.Index)
		}
		for _, i := range c.Band.EnabledUplinkChannels {
			if !s.EnableChannel(i) {
				return errors.Errorf("enable uplink channel %d error", i)
			}
		}
	}

	s.SaveDefaults()
	strategy = s
	return nil
}

// Band returns the configured band strategy.
func Band() Strategy {
	return strategy
}

// New returns the strategy for the given band name.
func New(name loraband.Name, rnd *rand.Rand) (Strategy, error) {
	switch name {
	case loraband.EU868:
		return NewChannelList(name, rnd)
	case loraband.US915:
		return NewFixedGrid(name, rnd)
	default:
		return nil, errors.Wrapf(ErrUnsupportedBand, "band %s", name)
	}
}

// RandomDelay returns a random delay of up to secSpan seconds plus up to
// one second.
func RandomDelay(rnd *rand.Rand, secSpan int) scheduler.Ticks {
	r := rnd.Intn(1 << 16)
	delay := scheduler.Ticks(r)
	if delay > scheduler.TicksPerSecond {
		delay = scheduler.Ticks(r % scheduler.TicksPerSecond)
	}
	if secSpan > 0 {
		delay += scheduler.Sec(int64((r & 0xff) % secSpan))
	}
	return delay
}

func maskBits(mask lorawan.ChMask) uint16 {
	var out uint16
	for i, b := range mask {
		if b {
			out |= 1 << uint(i)
		}
	}
	return out
}
