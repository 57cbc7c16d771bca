package engine

import (
	"gonum.org/v1/gonum/stat"
)

// statsWindow defines the number of downlinks the link statistics cover.
const statsWindow = 16

// LinkStats holds the signal quality statistics of the last received
// downlinks.
type LinkStats struct {
	Count      int
	RSSIMean   float64
	RSSIStdDev float64
	SNRMean    float64
	SNRStdDev  float64
}

type linkStats struct {
	rssi []float64
	snr  []float64
}

func (s *linkStats) add(rssi int, snr float64) {
	s.rssi = append(s.rssi, float64(rssi))
	s.snr = append(s.snr, snr)
	if len(s.rssi) > statsWindow {
		s.rssi = s.rssi[1:]
		s.snr = s.snr[1:]
	}
}

func (s *linkStats) reset() {
	s.rssi = nil
	s.snr = nil
}

func (s *linkStats) summary() LinkStats {
	out := LinkStats{Count: len(s.rssi)}
	if out.Count == 0 {
		return out
	}

	out.RSSIMean, out.RSSIStdDev = stat.MeanStdDev(s.rssi, nil)
	out.SNRMean, out.SNRStdDev = stat.MeanStdDev(s.snr, nil)
	if out.Count == 1 {
		// the sample std-dev of a single value is NaN
		out.RSSIStdDev = 0
		out.SNRStdDev = 0
	}
	return out
}
