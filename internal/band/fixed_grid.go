package band

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// Channel counts of a fixed-grid band.
const (
	NarrowbandChannels = 64
	WidebandChannels   = 8
	GridChannels       = NarrowbandChannels + WidebandChannels
)

const (
	gridJoinDR      = 3 // SF7BW125
	gridWidebandDR  = 4 // SF8BW500
	gridJoinTXPower = 20

	narrowbandMaxPower = 30
	widebandMaxPower   = 26
)

// FixedGrid implements the Strategy of bands with 64 narrowband and 8
// wideband channels on fixed frequencies (US915 alike). Channels are
// enabled through bitmasks, there is no duty-cycle limitation.
type FixedGrid struct {
	base
	rnd *rand.Rand

	channels [GridChannels]Channel
	enabled  [(GridChannels + 15) / 16]uint16
	saved    [(GridChannels + 15) / 16]uint16

	last int
}

// NewFixedGrid creates a new FixedGrid strategy.
func NewFixedGrid(name loraband.Name, rnd *rand.Rand) (*FixedGrid, error) {
	b, err := newBase(name, 0, 4)
	if err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	b.safetyZone = scheduler.MS(750)
	for p := 0; p <= 10; p++ {
		b.txPowers = append(b.txPowers, 30-2*p)
	}

	g := FixedGrid{
		base: b,
		rnd:  rnd,
		last: -1,
	}

	for i := 0; i < GridChannels; i++ {
		ch, err := g.band.GetUplinkChannel(i)
		if err != nil {
			return nil, errors.Wrap(err, "get uplink channel error")
		}
		g.channels[i] = Channel{
			Index:     i,
			Frequency: uint32(ch.Frequency),
			MinDR:     int(ch.MinDR),
			MaxDR:     int(ch.MaxDR),
		}
	}

	for i := 0; i < GridChannels; i++ {
		g.setEnabled(i, true)
	}
	g.SaveDefaults()
	return &g, nil
}

func (g *FixedGrid) isEnabled(i int) bool {
	return g.enabled[i/16]&(1<<uint(i%16)) != 0
}

func (g *FixedGrid) setEnabled(i int, on bool) {
	if on {
		g.enabled[i/16] |= 1 << uint(i%16)
	} else {
		g.enabled[i/16] &^= 1 << uint(i%16)
	}
}

// Reset implements Strategy.
func (g *FixedGrid) Reset(now scheduler.Ticks, join bool) {
	g.enabled = g.saved
	g.last = -1
}

// SaveDefaults implements Strategy.
func (g *FixedGrid) SaveDefaults() {
	g.saved = g.enabled
}

// candidates returns the enabled channels usable at the data-rate.
func (g *FixedGrid) candidates(dr int) []int {
	first, last := 0, NarrowbandChannels
	if dr >= gridWidebandDR {
		first, last = NarrowbandChannels, GridChannels
	}

	var out []int
	for i := first; i < last; i++ {
		if g.isEnabled(i) {
			out = append(out, i)
		}
	}
	return out
}

// NextTXChannel implements Strategy. The channel is selected randomly
// among the enabled channels, excluding the previous one unless it is the
// only enabled channel.
func (g *FixedGrid) NextTXChannel(now scheduler.Ticks, dr int) (Channel, scheduler.Ticks) {
	cand := g.candidates(dr)
	if len(cand) == 0 {
		if g.last == -1 {
			g.last = 0
		}
		return g.channels[g.last], now
	}

	if len(cand) > 1 && g.last != -1 {
		for i, c := range cand {
			if c == g.last {
				cand = append(cand[:i], cand[i+1:]...)
				break
			}
		}
	}

	g.last = cand[g.rnd.Intn(len(cand))]
	return g.channels[g.last], now
}

// UpdateTX implements Strategy.
func (g *FixedGrid) UpdateTX(ch Channel, txEnd, airtime scheduler.Ticks) int {
	if ch.Index >= NarrowbandChannels {
		return widebandMaxPower
	}
	return narrowbandMaxPower
}

// InitialJoinDataRate implements Strategy.
func (g *FixedGrid) InitialJoinDataRate() int {
	return gridJoinDR
}

func (g *FixedGrid) randomNarrowband() Channel {
	cand := g.candidates(0)
	if len(cand) == 0 {
		return g.channels[g.rnd.Intn(NarrowbandChannels)]
	}
	return g.channels[cand[g.rnd.Intn(len(cand))]]
}

// InitJoin implements Strategy.
func (g *FixedGrid) InitJoin(now scheduler.Ticks) JoinState {
	return JoinState{
		Channel: g.randomNarrowband(),
		DR:      gridJoinDR,
		TXPower: gridJoinTXPower,
		Next:    now,
	}
}

// NextJoinState implements Strategy. Join-requests alternate between a
// wideband channel at SF8BW500 and a random narrowband channel, stepping
// the narrowband data-rate down from SF7 to SF10.
func (g *FixedGrid) NextJoinState(js *JoinState, now scheduler.Ticks) bool {
	failed := false

	if js.DR != gridWidebandDR {
		// the wideband channel of the sub-band of the previous attempt
		js.Channel = g.channels[NarrowbandChannels+(js.Channel.Index/8)%WidebandChannels]
		js.DR = gridWidebandDR
	} else {
		js.Channel = g.randomNarrowband()
		js.Attempts++
		dr := gridJoinDR - js.Attempts
		if dr < g.minDR {
			dr = g.minDR
			failed = true
		}
		js.DR = dr
	}

	// SF10: 16s, SF9: 8s, .., SF8C: 1s
	js.Next = now + RandomDelay(g.rnd, 16>>uint(js.DR))
	return failed
}

func (g *FixedGrid) checkMask(page int) bool {
	// 0 - 4: the channels 16*page .. 16*page+15, 6 / 7: all narrowband
	// channels on or off
	return (page >= 0 && page <= GridChannels/16) || page == 6 || page == 7
}

// CanApplyChannelMask implements Strategy.
func (g *FixedGrid) CanApplyChannelMask(page int, mask lorawan.ChMask) bool {
	return g.checkMask(page)
}

// ApplyChannelMask implements Strategy.
func (g *FixedGrid) ApplyChannelMask(page int, mask lorawan.ChMask) bool {
	if !g.checkMask(page) {
		return false
	}

	bits := maskBits(mask)
	switch page {
	case 6, 7:
		var nb uint16
		if page == 6 {
			nb = 0xffff
		}
		for i := 0; i < NarrowbandChannels/16; i++ {
			g.enabled[i] = nb
		}
		g.enabled[NarrowbandChannels/16] = bits & 0xff
	default:
		if page == NarrowbandChannels/16 {
			bits &= 0xff
		}
		g.enabled[page] = bits
	}
	return true
}

// SetupChannel implements Strategy. The grid frequencies can't be changed.
func (g *FixedGrid) SetupChannel(index int, freq uint32, minDR, maxDR int) (bool, bool) {
	return false, false
}

// ValidDownlinkFrequency implements Strategy. Only the eight 500kHz
// downlink channels are valid.
func (g *FixedGrid) ValidDownlinkFrequency(freq uint32) bool {
	return freq >= 923300000 && freq <= 927500000 && (freq-923300000)%600000 == 0
}

// ApplyCFList implements Strategy. A CFList of type 1 holds the channel
// masks of the 72 channels.
func (g *FixedGrid) ApplyCFList(cfList []byte) bool {
	if len(cfList) != 16 || cfList[15] != 1 {
		return false
	}
	for i := range g.enabled {
		g.enabled[i] = uint16(cfList[2*i]) | uint16(cfList[2*i+1])<<8
	}
	g.enabled[NarrowbandChannels/16] &= 0xff
	return true
}

// EnableChannel implements Strategy.
func (g *FixedGrid) EnableChannel(index int) bool {
	if index < 0 || index >= GridChannels {
		return false
	}
	g.setEnabled(index, true)
	return true
}

// DisableChannel implements Strategy.
func (g *FixedGrid) DisableChannel(index int) bool {
	if index < 0 || index >= GridChannels {
		return false
	}
	g.setEnabled(index, false)
	return true
}

// SetBank enables or disables the 16 channels of the given bank (0 - 4,
// bank 4 only holds the 8 wideband channels).
func (g *FixedGrid) SetBank(bank int, on bool) bool {
	if bank < 0 || bank >= len(g.enabled) {
		return false
	}
	var v uint16
	if on {
		v = 0xffff
		if bank == NarrowbandChannels/16 {
			v = 0xff
		}
	}
	g.enabled[bank] = v
	return true
}

// SetSubBand enables or disables the 8 narrowband channels of the given
// sub-band (0 - 7) and its wideband channel.
func (g *FixedGrid) SetSubBand(sb int, on bool) bool {
	if sb < 0 || sb >= WidebandChannels {
		return false
	}
	for i := sb * 8; i < sb*8+8; i++ {
		g.setEnabled(i, on)
	}
	g.setEnabled(NarrowbandChannels+sb, on)
	return true
}

// SelectSubBand enables only the 8 narrowband and the wideband channel of
// the given sub-band (0 - 7).
func (g *FixedGrid) SelectSubBand(sb int) bool {
	if sb < 0 || sb >= WidebandChannels {
		return false
	}
	for i := 0; i < GridChannels; i++ {
		g.setEnabled(i, i/8 == sb || i == NarrowbandChannels+sb)
	}
	return true
}

// Channels implements Strategy.
func (g *FixedGrid) Channels() []Channel {
	var out []Channel
	for i := 0; i < GridChannels; i++ {
		if g.isEnabled(i) {
			out = append(out, g.channels[i])
		}
	}
	return out
}

// DefaultTXPower implements Strategy.
func (g *FixedGrid) DefaultTXPower() int {
	return gridJoinTXPower
}

// DefaultDataRate implements Strategy.
func (g *FixedGrid) DefaultDataRate() int {
	return gridJoinDR
}
