package band

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/airtime"
	loraband "github.com/brocaar/lorawan/band"
)

// frame overhead on top of the MACPayload (MHDR and MIC)
const phyOverhead = 5

const preambleSymbols = 8

// fskHalfSymbol defines the half symbol time of the 50kbps FSK modem in us.
const fskHalfSymbol = 80

// base implements the Strategy methods that are fully defined by the
// regional parameters tables of the lorawan/band package.
type base struct {
	name  loraband.Name
	band  loraband.Band
	minDR int
	maxDR int

	safetyZone scheduler.Ticks
	txPowers   []int
}

func newBase(name loraband.Name, minDR, maxDR int) (base, error) {
	// the repeater compatible payload sizes keep uplinks forwardable
	b, err := loraband.GetConfig(name, true, lorawan.DwellTimeNoLimit)
	if err != nil {
		return base{}, errors.Wrap(err, "get band config error")
	}
	return base{
		name:  name,
		band:  b,
		minDR: minDR,
		maxDR: maxDR,
	}, nil
}

func (b *base) Name() loraband.Name {
	return b.name
}

func (b *base) DataRate(dr int) (loraband.DataRate, error) {
	return b.band.GetDataRate(dr)
}

func (b *base) ValidDataRate(dr int) bool {
	if dr < b.minDR || dr > b.maxDR {
		return false
	}
	_, err := b.band.GetDataRate(dr)
	return err == nil
}

func (b *base) IsFSK(dr int) bool {
	d, err := b.band.GetDataRate(dr)
	if err != nil {
		return false
	}
	return d.Modulation == loraband.FSKModulation
}

func (b *base) HalfSymbolTime(dr int) scheduler.Ticks {
	d, err := b.band.GetDataRate(dr)
	if err != nil || d.Modulation == loraband.FSKModulation || d.Bandwidth == 0 {
		return scheduler.USRound(fskHalfSymbol)
	}
	return scheduler.USRound(int64(1<<uint(d.SpreadFactor)) * 500 / int64(d.Bandwidth))
}

func (b *base) MaxFrameLength(dr int) int {
	ps, err := b.band.GetMaxPayloadSizeForDataRateIndex("", "", dr)
	if err != nil {
		return 0
	}
	return ps.M + phyOverhead
}

func (b *base) Airtime(dr, size int) (scheduler.Ticks, error) {
	d, err := b.band.GetDataRate(dr)
	if err != nil {
		return 0, errors.Wrap(err, "get data-rate error")
	}

	if d.Modulation == loraband.FSKModulation {
		// preamble (5), sync word (3), length (1) and crc (2)
		bits := int64(size+11) * 8
		return scheduler.Ticks(bits * scheduler.TicksPerSecond / int64(d.BitRate)), nil
	}

	lowDR := d.SpreadFactor >= 11 && d.Bandwidth == 125
	at, err := airtime.CalculateLoRaAirtime(size, d.SpreadFactor, d.Bandwidth, preambleSymbols, airtime.CodingRate45, true, lowDR)
	if err != nil {
		return 0, errors.Wrap(err, "calculate airtime error")
	}
	return scheduler.FromDuration(at), nil
}

func (b *base) ResolveRX1(ch Channel, dr, rx1DROffset int) (uint32, int) {
	freq := ch.Frequency
	if f, err := b.band.GetRX1FrequencyForUplinkFrequency(ch.Frequency); err == nil {
		freq = uint32(f)
	}

	rx1DR := dr
	if d, err := b.band.GetRX1DataRateIndex(dr, rx1DROffset); err == nil {
		rx1DR = d
	}
	return freq, rx1DR
}

func (b *base) RX2Defaults() (uint32, int) {
	d := b.band.GetDefaults()
	return uint32(d.RX2Frequency), d.RX2DataRate
}

func (b *base) RX1Delay() scheduler.Ticks {
	return scheduler.FromDuration(b.band.GetDefaults().ReceiveDelay1)
}

func (b *base) JoinAcceptDelays() (scheduler.Ticks, scheduler.Ticks) {
	d := b.band.GetDefaults()
	return scheduler.FromDuration(d.JoinAcceptDelay1), scheduler.FromDuration(d.JoinAcceptDelay2)
}

func (b *base) SafetyZone() scheduler.Ticks {
	return b.safetyZone
}

func (b *base) LowerDataRate(dr, steps int) int {
	dr -= steps
	if dr < b.minDR {
		return b.minDR
	}
	return dr
}

func (b *base) TXPower(index int) (int, bool) {
	if index < 0 || index >= len(b.txPowers) {
		return 0, false
	}
	return b.txPowers[index], true
}
