package maccommand

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"
)

func handleDutyCycleReq(s *State, cmd lorawan.MACCommand, answers *Answers) error {
	pl, ok := cmd.Payload.(*lorawan.DutyCycleReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.DutyCycleReqPayload, got %T", cmd.Payload)
	}

	if pl.MaxDCycle == DutyCycleShutdown {
		s.Shutdown = true
		log.Warning("maccommand: duty_cycle request, shutting down uplink traffic")
	} else {
		s.DutyCycle = pl.MaxDCycle & 0x0f
		log.WithField("max_duty_cycle", s.DutyCycle).Info("maccommand: duty_cycle request applied")
	}

	answers.Set(lorawan.MACCommand{CID: lorawan.DutyCycleAns})
	return nil
}
