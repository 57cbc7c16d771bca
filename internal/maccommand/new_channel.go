package maccommand

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/lorawan"
)

func handleNewChannelReq(b band.Strategy, cmd lorawan.MACCommand, answers *Answers) error {
	pl, ok := cmd.Payload.(*lorawan.NewChannelReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.NewChannelReqPayload, got %T", cmd.Payload)
	}

	freqOK, drOK := b.SetupChannel(int(pl.ChIndex), pl.Freq, int(pl.MinDR), int(pl.MaxDR))

	log.WithFields(log.Fields{
		"channel":      pl.ChIndex,
		"frequency":    pl.Freq,
		"min_dr":       pl.MinDR,
		"max_dr":       pl.MaxDR,
		"frequency_ok": freqOK,
		"dr_range_ok":  drOK,
	}).Info("maccommand: new_channel request handled")

	answers.Set(lorawan.MACCommand{
		CID: lorawan.NewChannelAns,
		Payload: &lorawan.NewChannelAnsPayload{
			ChannelFrequencyOK: freqOK,
			DataRateRangeOK:    drOK,
		},
	})
	return nil
}
