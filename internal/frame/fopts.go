package frame

import (
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// commands without payload, these are not registered in the lorawan
// payload registry
var emptyCommands = map[bool]map[lorawan.CID]struct{}{
	true: {
		lorawan.LinkCheckReq:     {},
		lorawan.DutyCycleAns:     {},
		lorawan.RXTimingSetupAns: {},
		lorawan.TXParamSetupAns:  {},
		lorawan.DeviceTimeReq:    {},
	},
	false: {
		lorawan.DevStatusReq: {},
	},
}

// ParseFOpts decodes the given MAC commands (FOpts or port 0 payload).
// Parsing stops at the first unknown command, the commands decoded so far
// are returned together with the error.
func ParseFOpts(uplink bool, b []byte) ([]lorawan.MACCommand, error) {
	var out []lorawan.MACCommand

	for i := 0; i < len(b); {
		cmd := lorawan.MACCommand{CID: lorawan.CID(b[i])}
		i++

		if _, ok := emptyCommands[uplink][cmd.CID]; ok {
			out = append(out, cmd)
			continue
		}

		pl, size, err := lorawan.GetMACPayloadAndSize(uplink, cmd.CID)
		if err != nil {
			return out, errors.Wrapf(ErrMalformed, "unknown mac command %s", cmd.CID)
		}
		if i+size > len(b) {
			return out, errors.Wrapf(ErrMalformed, "mac command %s truncated", cmd.CID)
		}
		if err := pl.UnmarshalBinary(b[i : i+size]); err != nil {
			return out, errors.Wrapf(err, "unmarshal mac command %s error", cmd.CID)
		}
		cmd.Payload = pl
		out = append(out, cmd)
		i += size
	}

	return out, nil
}

// MarshalFOpts encodes the given MAC commands.
func MarshalFOpts(cmds []lorawan.MACCommand) ([]byte, error) {
	var out []byte
	for i := range cmds {
		b, err := cmds[i].MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "marshal mac command %s error", cmds[i].CID)
		}
		out = append(out, b...)
	}
	return out, nil
}
