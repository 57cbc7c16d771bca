// Package maccommand implements the device side of the LoRaWAN 1.0 MAC
// commands. Received requests update the State, their answers are kept in
// Answers until the next uplink.
package maccommand

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/lorawan"
)

// ErrUnknownCommand is returned for commands the device does not
// implement. Processing of the remaining commands must stop as their size
// is unknown.
var ErrUnknownCommand = errors.New("unknown mac command")

// DutyCycleShutdown is the DutyCycleReq value which stops all uplink
// traffic.
const DutyCycleShutdown = 0xff

// LinkCheck holds the result of a link-check.
type LinkCheck struct {
	Margin uint8
	GwCnt  uint8
}

// State holds the session parameters the MAC commands operate on.
type State struct {
	DR      int
	TXPower int // dBm
	NbRep   int

	RX1DROffset  uint8
	RX2DR        uint8
	RX2Frequency uint32
	RXDelay      uint8

	// DutyCycle holds the aggregated duty-cycle exponent, the device is
	// limited to 1/2^DutyCycle of the time.
	DutyCycle uint8
	Shutdown  bool

	// Battery is reported in the DevStatusAns, SNR holds the SNR of the
	// downlink carrying the commands.
	Battery uint8
	SNR     float64

	// LinkCheck is set when a LinkCheckAns was received.
	LinkCheck *LinkCheck

	// ADRChanged is set when a LinkADRReq changed the data-rate or the
	// TX power.
	ADRChanged bool
}

// Handle handles a MACCommand sent by the network.
func Handle(s *State, b band.Strategy, cmd lorawan.MACCommand, answers *Answers) error {
	switch cmd.CID {
	case lorawan.LinkCheckAns:
		return handleLinkCheckAns(s, cmd)
	case lorawan.LinkADRReq:
		return handleLinkADRReq(s, b, []lorawan.MACCommand{cmd}, answers)
	case lorawan.DutyCycleReq:
		return handleDutyCycleReq(s, cmd, answers)
	case lorawan.RXParamSetupReq:
		return handleRXParamSetupReq(s, b, cmd, answers)
	case lorawan.DevStatusReq:
		return handleDevStatusReq(s, answers)
	case lorawan.NewChannelReq:
		return handleNewChannelReq(b, cmd, answers)
	case lorawan.RXTimingSetupReq:
		return handleRXTimingSetupReq(s, cmd, answers)
	case lorawan.DLChannelReq:
		return handleDLChannelReq(answers)
	case lorawan.PingSlotChannelReq:
		return handlePingSlotChannelReq(answers)
	case lorawan.BeaconFreqReq:
		return handleBeaconFreqReq(answers)
	default:
		return errors.Wrapf(ErrUnknownCommand, "cid %s", cmd.CID)
	}
}

// HandleAll handles the given commands in order and stops at the first
// error. Contiguous LinkADRReq commands are handled as a single block.
func HandleAll(s *State, b band.Strategy, cmds []lorawan.MACCommand, answers *Answers) error {
	for i := 0; i < len(cmds); i++ {
		if cmds[i].CID == lorawan.LinkADRReq {
			j := i + 1
			for j < len(cmds) && cmds[j].CID == lorawan.LinkADRReq {
				j++
			}
			if err := handleLinkADRReq(s, b, cmds[i:j], answers); err != nil {
				return err
			}
			i = j - 1
			continue
		}

		if err := Handle(s, b, cmds[i], answers); err != nil {
			return err
		}
	}
	return nil
}
