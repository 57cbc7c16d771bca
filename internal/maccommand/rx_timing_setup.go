package maccommand

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"
)

func handleRXTimingSetupReq(s *State, cmd lorawan.MACCommand, answers *Answers) error {
	pl, ok := cmd.Payload.(*lorawan.RXTimingSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.RXTimingSetupReqPayload, got %T", cmd.Payload)
	}

	// 0 means 1 second
	s.RXDelay = pl.Delay
	if s.RXDelay == 0 {
		s.RXDelay = 1
	}
	log.WithField("rx_delay", s.RXDelay).Info("maccommand: rx_timing_setup request applied")

	answers.Set(lorawan.MACCommand{CID: lorawan.RXTimingSetupAns})
	return nil
}
