package maccommand

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"
)

func handleLinkCheckAns(s *State, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.LinkCheckAnsPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.LinkCheckAnsPayload, got %T", cmd.Payload)
	}

	s.LinkCheck = &LinkCheck{
		Margin: pl.Margin,
		GwCnt:  pl.GwCnt,
	}

	log.WithFields(log.Fields{
		"margin":   pl.Margin,
		"gw_count": pl.GwCnt,
	}).Info("maccommand: link_check answer received")
	return nil
}
