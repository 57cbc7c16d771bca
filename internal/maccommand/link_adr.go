package maccommand

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/lorawan"
)

// handleLinkADRReq handles a block of contiguous LinkADRReq commands. The
// channel-masks are applied in order, the data-rate, TX power and NbRep are
// taken from the last command. The block is only applied when the
// resulting channel-mask, data-rate and TX power are all acknowledged, every
// command of the block gets the same answer.
func handleLinkADRReq(s *State, b band.Strategy, cmds []lorawan.MACCommand, answers *Answers) error {
	pls := make([]*lorawan.LinkADRReqPayload, 0, len(cmds))
	for _, cmd := range cmds {
		pl, ok := cmd.Payload.(*lorawan.LinkADRReqPayload)
		if !ok {
			return fmt.Errorf("expected *lorawan.LinkADRReqPayload, got %T", cmd.Payload)
		}
		pls = append(pls, pl)
	}
	if len(pls) == 0 {
		return nil
	}

	last := pls[len(pls)-1]
	dr := int(last.DataRate)
	txPower, powerOK := b.TXPower(int(last.TXPower))

	saved := b.Channels()
	maskOK := true
	for _, pl := range pls {
		page := int(pl.Redundancy.ChMaskCntl)
		if !b.CanApplyChannelMask(page, pl.ChMask) || !b.ApplyChannelMask(page, pl.ChMask) {
			maskOK = false
			break
		}
	}
	if maskOK && len(b.Channels()) == 0 {
		maskOK = false
	}

	ans := lorawan.LinkADRAnsPayload{
		ChannelMaskACK: maskOK,
		DataRateACK:    b.ValidDataRate(dr),
		PowerACK:       powerOK,
	}

	if ans.ChannelMaskACK && ans.DataRateACK && ans.PowerACK {
		if s.DR != dr || s.TXPower != txPower {
			s.ADRChanged = true
		}
		s.DR = dr
		s.TXPower = txPower
		s.NbRep = int(last.Redundancy.NbRep)
		if s.NbRep == 0 {
			s.NbRep = 1
		}

		log.WithFields(log.Fields{
			"dr":       dr,
			"tx_power": txPower,
			"nb_rep":   s.NbRep,
			"ch_page":  last.Redundancy.ChMaskCntl,
			"commands": len(pls),
		}).Info("maccommand: link_adr request applied")
	} else {
		restoreChannels(b, saved)

		log.WithFields(log.Fields{
			"channel_mask_ack": ans.ChannelMaskACK,
			"dr_ack":           ans.DataRateACK,
			"power_ack":        ans.PowerACK,
			"commands":         len(pls),
		}).Warning("maccommand: link_adr request rejected")
	}

	out := make([]lorawan.MACCommand, len(pls))
	for i := range out {
		a := ans
		out[i] = lorawan.MACCommand{
			CID:     lorawan.LinkADRAns,
			Payload: &a,
		}
	}
	answers.SetAll(out)
	return nil
}

// restoreChannels enables exactly the given channels.
func restoreChannels(b band.Strategy, channels []band.Channel) {
	for _, ch := range b.Channels() {
		b.DisableChannel(ch.Index)
	}
	for _, ch := range channels {
		b.EnableChannel(ch.Index)
	}
}
