package radio

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/lorawan/airtime"
)

// Matches returns true when a receiver configured with c is able to
// demodulate a frame sent with o.
func (c ModemConfig) Matches(o ModemConfig) bool {
	if c.Frequency != o.Frequency || c.Modem != o.Modem {
		return false
	}
	if c.Modem == FSK {
		return c.BitRate == o.BitRate
	}
	return c.SpreadFactor == o.SpreadFactor && c.Bandwidth == o.Bandwidth
}

// SymbolTime returns the symbol time for the given modem configuration. For
// FSK a byte is used as symbol.
func SymbolTime(c ModemConfig) scheduler.Ticks {
	if c.Modem == FSK || c.Bandwidth == 0 {
		if c.BitRate == 0 {
			return 1
		}
		return scheduler.US(8 * 1000000 / int64(c.BitRate))
	}
	return scheduler.US(int64(1<<uint(c.SpreadFactor)) * 1000 / int64(c.Bandwidth))
}

// Airtime returns the airtime of a frame of the given size.
func Airtime(c ModemConfig, size int) (scheduler.Ticks, error) {
	if c.Modem == FSK {
		if c.BitRate == 0 {
			return 0, errors.New("bit-rate must be set")
		}
		// preamble (5), sync word (3), length (1) and crc (2)
		return scheduler.Ticks(int64(size+11) * 8 * scheduler.TicksPerSecond / int64(c.BitRate)), nil
	}

	lowDR := c.SpreadFactor >= 11 && c.Bandwidth == 125
	d, err := airtime.CalculateLoRaAirtime(size, c.SpreadFactor, c.Bandwidth, 8, airtime.CodingRate45, true, lowDR)
	if err != nil {
		return 0, errors.Wrap(err, "calculate airtime error")
	}
	return scheduler.FromDuration(d), nil
}
