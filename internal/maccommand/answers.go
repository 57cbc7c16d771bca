package maccommand

import (
	"github.com/brocaar/lorawan"
)

// answerOrder defines the order in which pending answers are sent.
var answerOrder = []lorawan.CID{
	lorawan.DutyCycleAns,
	lorawan.RXParamSetupAns,
	lorawan.DevStatusAns,
	lorawan.LinkADRAns,
	lorawan.NewChannelAns,
	lorawan.RXTimingSetupAns,
	lorawan.DLChannelAns,
	lorawan.PingSlotChannelAns,
	lorawan.BeaconFreqAns,
}

// Answers holds the answers pending for the next uplink. A later request
// replaces the pending answers of the same command.
type Answers struct {
	pending      map[lorawan.CID][]lorawan.MACCommand
	linkCheckReq bool
}

// Set sets the pending answer, replacing an earlier answer of the same
// command.
func (a *Answers) Set(cmd lorawan.MACCommand) {
	a.SetAll([]lorawan.MACCommand{cmd})
}

// SetAll sets the answers to a block of requests of the same command,
// replacing the earlier answers of that command.
func (a *Answers) SetAll(cmds []lorawan.MACCommand) {
	if len(cmds) == 0 {
		return
	}
	if a.pending == nil {
		a.pending = make(map[lorawan.CID][]lorawan.MACCommand)
	}
	a.pending[cmds[0].CID] = cmds
}

// RequestLinkCheck adds a LinkCheckReq to the next uplink.
func (a *Answers) RequestLinkCheck() {
	a.linkCheckReq = true
}

// Empty returns true when nothing is pending.
func (a *Answers) Empty() bool {
	return len(a.pending) == 0 && !a.linkCheckReq
}

// Commands returns the pending commands in transmission order.
func (a *Answers) Commands() []lorawan.MACCommand {
	var out []lorawan.MACCommand
	for _, cid := range answerOrder {
		out = append(out, a.pending[cid]...)
	}
	if a.linkCheckReq {
		out = append(out, lorawan.MACCommand{CID: lorawan.LinkCheckReq})
	}
	return out
}

// Clear removes all pending commands, it is called once they have been
// sent.
func (a *Answers) Clear() {
	a.pending = nil
	a.linkCheckReq = false
}
