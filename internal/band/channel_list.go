package band

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// MaxListChannels defines the max. number of channels of a channel-list
// band.
const MaxListChannels = 16

const (
	joinChannels = 3

	// the join procedure starts at DR5 (SF7) and stays within 1/1000
	joinDR      = 5
	joinTXPower = 14

	// time window in which the earliest available sub-band is searched
	maxBandWait = 8 * 60 * 60
)

// SubBand defines a duty-cycle limited frequency range.
type SubBand struct {
	Name         string
	MinFrequency uint32
	MaxFrequency uint32

	// TXCap defines the inverse of the duty-cycle (100 = 1%).
	TXCap    int
	MaxPower int

	avail       scheduler.Ticks
	lastChannel int
}

type listChannel struct {
	frequency uint32
	drMap     uint16
	subBand   int
}

// ChannelList implements the Strategy of bands with up to 16 individually
// configurable channels and per sub-band duty-cycle limitations (EU868
// alike).
type ChannelList struct {
	base
	rnd *rand.Rand

	channels [MaxListChannels]listChannel
	enabled  uint16

	subBands []SubBand

	// sub-band used for all channels during the join procedure
	joinSubBand int
	// sub-band used for the default channels afterwards
	defaultSubBand int

	defaults [joinChannels]Channel

	// channel plan restored by Reset
	savedChannels [MaxListChannels]listChannel
	savedEnabled  uint16
}

// DefaultSubBands returns the ETSI sub-bands used by the EU868 band.
func DefaultSubBands() []SubBand {
	return []SubBand{
		{Name: "milli", TXCap: 1000, MaxPower: 14},
		{Name: "centi", MinFrequency: 868000000, MaxFrequency: 868600000, TXCap: 100, MaxPower: 14},
		{Name: "deci", MinFrequency: 869400000, MaxFrequency: 869650000, TXCap: 10, MaxPower: 27},
		{Name: "centi", MinFrequency: 869700000, MaxFrequency: 870000000, TXCap: 100, MaxPower: 14},
	}
}

// NewChannelList creates a new ChannelList strategy.
func NewChannelList(name loraband.Name, rnd *rand.Rand) (*ChannelList, error) {
	b, err := newBase(name, 0, 7)
	if err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	b.safetyZone = scheduler.MS(3000)
	b.txPowers = []int{20, 14, 11, 8, 5, 2}

	c := ChannelList{
		base:           b,
		rnd:            rnd,
		subBands:       DefaultSubBands(),
		joinSubBand:    0,
		defaultSubBand: 1,
	}

	for i := 0; i < joinChannels; i++ {
		ch, err := c.band.GetUplinkChannel(i)
		if err != nil {
			return nil, errors.Wrap(err, "get uplink channel error")
		}
		c.defaults[i] = Channel{
			Index:     i,
			Frequency: uint32(ch.Frequency),
			MinDR:     int(ch.MinDR),
			MaxDR:     int(ch.MaxDR),
		}
	}

	c.resetSaved()
	c.Reset(0, false)
	return &c, nil
}

// SetSubBands replaces the sub-band definitions. The first sub-band is
// used for frequencies outside all other ranges and for the join procedure.
func (c *ChannelList) SetSubBands(sb []SubBand) error {
	if len(sb) == 0 {
		return errors.New("at least one sub-band is required")
	}
	for _, s := range sb {
		if s.TXCap <= 0 {
			return errors.Errorf("sub-band %s: tx cap must be > 0", s.Name)
		}
	}
	c.subBands = sb
	c.defaultSubBand = c.subBandIndex(c.defaults[0].Frequency)
	for i := range c.channels {
		if c.channels[i].frequency != 0 {
			c.channels[i].subBand = c.subBandIndex(c.channels[i].frequency)
		}
		if c.savedChannels[i].frequency != 0 {
			c.savedChannels[i].subBand = c.subBandIndex(c.savedChannels[i].frequency)
		}
	}
	for i := range c.subBands {
		c.subBands[i].lastChannel = c.rnd.Intn(MaxListChannels)
	}
	return nil
}

// SubBands returns the sub-band state.
func (c *ChannelList) SubBands() []SubBand {
	out := make([]SubBand, len(c.subBands))
	copy(out, c.subBands)
	return out
}

// SubBandAvailable returns the time from which the sub-band of the given
// channel can be used again.
func (c *ChannelList) SubBandAvailable(index int) scheduler.Ticks {
	return c.subBands[c.channels[index].subBand].avail
}

func (c *ChannelList) subBandIndex(freq uint32) int {
	for i, s := range c.subBands {
		if i == 0 {
			continue
		}
		if freq >= s.MinFrequency && freq <= s.MaxFrequency {
			return i
		}
	}
	return 0
}

func drRange(minDR, maxDR int) uint16 {
	var m uint16
	for i := minDR; i <= maxDR; i++ {
		m |= 1 << uint(i)
	}
	return m
}

// Reset implements Strategy. During the join procedure only the default
// channels are used, within the join sub-band.
func (c *ChannelList) Reset(now scheduler.Ticks, join bool) {
	if join {
		c.channels = [MaxListChannels]listChannel{}
		c.enabled = 0
		for i, d := range c.defaults {
			c.channels[i] = listChannel{
				frequency: d.Frequency,
				drMap:     drRange(d.MinDR, d.MaxDR),
				subBand:   c.joinSubBand,
			}
			c.enabled |= 1 << uint(i)
		}
	} else {
		c.channels = c.savedChannels
		c.enabled = c.savedEnabled
	}

	for i := range c.subBands {
		c.subBands[i].avail = now
		c.subBands[i].lastChannel = c.rnd.Intn(MaxListChannels)
	}
}

// SaveDefaults implements Strategy.
func (c *ChannelList) SaveDefaults() {
	c.savedChannels = c.channels
	c.savedEnabled = c.enabled
}

func (c *ChannelList) resetSaved() {
	c.savedChannels = [MaxListChannels]listChannel{}
	c.savedEnabled = 0
	for i, d := range c.defaults {
		c.savedChannels[i] = listChannel{
			frequency: d.Frequency,
			drMap:     drRange(d.MinDR, d.MaxDR),
			subBand:   c.defaultSubBand,
		}
		c.savedEnabled |= 1 << uint(i)
	}
}

func (c *ChannelList) channel(i int) Channel {
	ch := Channel{
		Index:     i,
		Frequency: c.channels[i].frequency,
		MinDR:     -1,
		MaxDR:     -1,
	}
	for dr := 0; dr < 16; dr++ {
		if c.channels[i].drMap&(1<<uint(dr)) != 0 {
			if ch.MinDR == -1 {
				ch.MinDR = dr
			}
			ch.MaxDR = dr
		}
	}
	return ch
}

// NextTXChannel implements Strategy. The sub-band that becomes available
// first is selected, within that sub-band the channels are used
// round-robin.
func (c *ChannelList) NextTXChannel(now scheduler.Ticks, dr int) (Channel, scheduler.Ticks) {
	candidates := make([]bool, len(c.subBands))
	for i := range candidates {
		candidates[i] = true
	}

	for {
		minTime := now + scheduler.Sec(maxBandWait)
		sb := -1
		for i := range c.subBands {
			if candidates[i] && scheduler.After(minTime, c.subBands[i].avail) {
				minTime = c.subBands[i].avail
				sb = i
			}
		}
		if sb == -1 {
			// every candidate is unavailable for more than 8 hours
			for i := range candidates {
				if candidates[i] {
					sb = i
					break
				}
			}
			if sb == -1 {
				return c.channel(c.subBands[0].lastChannel), now
			}
		}

		ch := c.subBands[sb].lastChannel
		for n := 0; n < MaxListChannels; n++ {
			ch = (ch + 1) % MaxListChannels
			lc := c.channels[ch]
			if c.enabled&(1<<uint(ch)) != 0 && lc.drMap&(1<<uint(dr)) != 0 && lc.subBand == sb {
				c.subBands[sb].lastChannel = ch
				if scheduler.After(now, minTime) {
					minTime = now
				}
				return c.channel(ch), minTime
			}
		}

		candidates[sb] = false
		done := true
		for _, v := range candidates {
			if v {
				done = false
			}
		}
		if done {
			// no feasible channel, keep the previous one
			return c.channel(c.subBands[sb].lastChannel), now
		}
	}
}

// UpdateTX implements Strategy.
func (c *ChannelList) UpdateTX(ch Channel, txEnd, airtime scheduler.Ticks) int {
	sb := &c.subBands[c.channels[ch.Index].subBand]
	sb.avail = txEnd + airtime*scheduler.Ticks(sb.TXCap)
	return sb.MaxPower
}

// InitialJoinDataRate implements Strategy.
func (c *ChannelList) InitialJoinDataRate() int {
	return joinDR
}

// InitJoin implements Strategy.
func (c *ChannelList) InitJoin(now scheduler.Ticks) JoinState {
	c.Reset(now, true)

	idx := c.rnd.Intn(joinChannels)
	return JoinState{
		Channel: c.channel(idx),
		DR:      joinDR,
		TXPower: joinTXPower,
		Next:    c.subBands[c.joinSubBand].avail + RandomDelay(c.rnd, 8),
	}
}

// NextJoinState implements Strategy. Every data-rate is tried on two of the
// default channels before stepping down.
func (c *ChannelList) NextJoinState(js *JoinState, now scheduler.Ticks) bool {
	failed := false

	js.Channel = c.channel((js.Channel.Index + 1) % joinChannels)
	js.Attempts++
	if js.Attempts%2 == 0 {
		if js.DR == c.minDR {
			failed = true
		} else {
			js.DR = c.LowerDataRate(js.DR, 1)
		}
	}

	t := now
	if avail := c.subBands[c.joinSubBand].avail; scheduler.After(avail, t) {
		t = avail
	}
	// SF12: 255s, SF11: 127s, .., SF7: 8s
	js.Next = t + c.safetyZone + RandomDelay(c.rnd, 255>>uint(js.DR))

	return failed
}

func (c *ChannelList) checkMask(page int, mask lorawan.ChMask) (uint16, bool) {
	bits := maskBits(mask)
	switch page {
	case 0:
		if bits == 0 {
			return 0, false
		}
		for i := 0; i < MaxListChannels; i++ {
			if bits&(1<<uint(i)) != 0 && c.channels[i].frequency == 0 {
				return 0, false
			}
		}
		return bits, true
	case 6:
		// all defined channels on
		var out uint16
		for i := 0; i < MaxListChannels; i++ {
			if c.channels[i].frequency != 0 {
				out |= 1 << uint(i)
			}
		}
		return out, true
	default:
		return 0, false
	}
}

// CanApplyChannelMask implements Strategy.
func (c *ChannelList) CanApplyChannelMask(page int, mask lorawan.ChMask) bool {
	_, ok := c.checkMask(page, mask)
	return ok
}

// ApplyChannelMask implements Strategy.
func (c *ChannelList) ApplyChannelMask(page int, mask lorawan.ChMask) bool {
	bits, ok := c.checkMask(page, mask)
	if !ok {
		return false
	}
	c.enabled = bits
	return true
}

// SetupChannel implements Strategy.
func (c *ChannelList) SetupChannel(index int, freq uint32, minDR, maxDR int) (bool, bool) {
	if index < joinChannels || index >= MaxListChannels {
		return false, false
	}

	if freq == 0 {
		c.channels[index] = listChannel{}
		c.enabled &^= 1 << uint(index)
		return true, true
	}

	freqOK := c.ValidDownlinkFrequency(freq)
	drOK := minDR >= c.minDR && maxDR <= c.maxDR && minDR <= maxDR
	if !freqOK || !drOK {
		return freqOK, drOK
	}

	c.channels[index] = listChannel{
		frequency: freq,
		drMap:     drRange(minDR, maxDR),
		subBand:   c.subBandIndex(freq),
	}
	c.enabled |= 1 << uint(index)
	return true, true
}

// ValidDownlinkFrequency implements Strategy.
func (c *ChannelList) ValidDownlinkFrequency(freq uint32) bool {
	return freq >= 863000000 && freq <= 870000000
}

// ApplyCFList implements Strategy. The CFList holds the frequencies of the
// channels 3 - 7 (3 bytes each, in 100 Hz steps).
func (c *ChannelList) ApplyCFList(cfList []byte) bool {
	if len(cfList) != 16 {
		return false
	}
	for i := 0; i < 5; i++ {
		b := cfList[i*3:]
		freq := (uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16) * 100
		if freq == 0 {
			continue
		}
		c.SetupChannel(joinChannels+i, freq, 0, 5)
	}
	return true
}

// EnableChannel implements Strategy.
func (c *ChannelList) EnableChannel(index int) bool {
	if index < 0 || index >= MaxListChannels || c.channels[index].frequency == 0 {
		return false
	}
	c.enabled |= 1 << uint(index)
	return true
}

// DisableChannel implements Strategy.
func (c *ChannelList) DisableChannel(index int) bool {
	if index < 0 || index >= MaxListChannels {
		return false
	}
	c.enabled &^= 1 << uint(index)
	return true
}

// Channels implements Strategy.
func (c *ChannelList) Channels() []Channel {
	var out []Channel
	for i := 0; i < MaxListChannels; i++ {
		if c.enabled&(1<<uint(i)) != 0 {
			out = append(out, c.channel(i))
		}
	}
	return out
}

// DefaultTXPower implements Strategy.
func (c *ChannelList) DefaultTXPower() int {
	return joinTXPower
}

// DefaultDataRate implements Strategy.
func (c *ChannelList) DefaultDataRate() int {
	return joinDR
}
