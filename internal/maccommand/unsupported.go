package maccommand

import (
	"github.com/brocaar/lorawan"
)

// The device has neither separate downlink channels nor Class-B support,
// these requests are always answered negatively.

func handleDLChannelReq(answers *Answers) error {
	answers.Set(lorawan.MACCommand{
		CID:     lorawan.DLChannelAns,
		Payload: &lorawan.DLChannelAnsPayload{},
	})
	return nil
}

func handlePingSlotChannelReq(answers *Answers) error {
	answers.Set(lorawan.MACCommand{
		CID:     lorawan.PingSlotChannelAns,
		Payload: &lorawan.PingSlotChannelAnsPayload{},
	})
	return nil
}

func handleBeaconFreqReq(answers *Answers) error {
	answers.Set(lorawan.MACCommand{
		CID:     lorawan.BeaconFreqAns,
		Payload: &lorawan.BeaconFreqAnsPayload{},
	})
	return nil
}
