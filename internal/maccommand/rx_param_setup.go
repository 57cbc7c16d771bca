package maccommand

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/lorawan"
)

// maxRX1DROffset defines the largest RX1 data-rate offset.
const maxRX1DROffset = 5

func handleRXParamSetupReq(s *State, b band.Strategy, cmd lorawan.MACCommand, answers *Answers) error {
	pl, ok := cmd.Payload.(*lorawan.RXParamSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.RXParamSetupReqPayload, got %T", cmd.Payload)
	}

	ans := lorawan.RXParamSetupAnsPayload{
		ChannelACK:     b.ValidDownlinkFrequency(pl.Frequency),
		RX2DataRateACK: b.ValidDataRate(int(pl.DLSettings.RX2DataRate)),
		RX1DROffsetACK: pl.DLSettings.RX1DROffset <= maxRX1DROffset,
	}

	if ans.ChannelACK && ans.RX2DataRateACK && ans.RX1DROffsetACK {
		s.RX2Frequency = pl.Frequency
		s.RX2DR = pl.DLSettings.RX2DataRate
		s.RX1DROffset = pl.DLSettings.RX1DROffset

		log.WithFields(log.Fields{
			"rx2_frequency": pl.Frequency,
			"rx2_dr":        pl.DLSettings.RX2DataRate,
			"rx1_dr_offset": pl.DLSettings.RX1DROffset,
		}).Info("maccommand: rx_param_setup request applied")
	} else {
		log.WithFields(log.Fields{
			"channel_ack":       ans.ChannelACK,
			"rx1_dr_offset_ack": ans.RX1DROffsetACK,
			"rx2_dr_ack":        ans.RX2DataRateACK,
		}).Warning("maccommand: rx_param_setup request rejected")
	}

	answers.Set(lorawan.MACCommand{
		CID:     lorawan.RXParamSetupAns,
		Payload: &ans,
	})
	return nil
}
