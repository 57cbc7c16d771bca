package maccommand

import (
	"math"

	"github.com/brocaar/lorawan"
)

// margin returns the 6 bit signed demodulation margin for the given SNR.
func margin(snr float64) int8 {
	m := math.Round(snr)
	if m < -32 {
		return -32
	}
	if m > 31 {
		return 31
	}
	return int8(m)
}

func handleDevStatusReq(s *State, answers *Answers) error {
	answers.Set(lorawan.MACCommand{
		CID: lorawan.DevStatusAns,
		Payload: &lorawan.DevStatusAnsPayload{
			Battery: s.Battery,
			Margin:  margin(s.SNR),
		},
	})
	return nil
}
