// Package deveui derives the DevEUI of the device from a MAC address.
//
// Transmitted LSB first, the DevEUI consists of FF FE followed by the
// reversed MAC address. As a result the (MSB first) DevEUI shown by the
// network server starts with the MAC address.
package deveui

import (
	"net"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// errors
var (
	ErrInvalidMAC  = errors.New("invalid mac address")
	ErrNoInterface = errors.New("no network interface with mac address")
)

// FromMAC returns the DevEUI for the given MAC address.
func FromMAC(mac net.HardwareAddr) (lorawan.EUI64, error) {
	var out lorawan.EUI64
	if len(mac) != 6 {
		return out, errors.Wrapf(ErrInvalidMAC, "%d bytes", len(mac))
	}

	copy(out[:6], mac)
	out[6] = 0xfe
	out[7] = 0xff
	return out, nil
}

// FromString parses the given MAC address and returns its DevEUI.
func FromString(s string) (lorawan.EUI64, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return lorawan.EUI64{}, errors.Wrap(ErrInvalidMAC, err.Error())
	}
	return FromMAC(mac)
}

// FromSystem returns the DevEUI for the MAC address of the first
// non-loopback network interface.
func FromSystem() (lorawan.EUI64, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return lorawan.EUI64{}, errors.Wrap(err, "get network interfaces error")
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		return FromMAC(iface.HardwareAddr)
	}

	return lorawan.EUI64{}, ErrNoInterface
}
