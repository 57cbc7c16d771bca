// Package frame implements the LoRaWAN 1.0 frame codec of the device: data
// frames, the join-request and the join-accept. The codec only transforms
// bytes, the session state (counters, keys) is owned by the caller.
package frame

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto"
	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
	"github.com/brocaar/lorawan"
)

// Frame layout constants.
const (
	MHDRSize        = 1
	FHDRMinSize     = 7
	MaxFOptsLength  = 15
	MinDataLength   = MHDRSize + FHDRMinSize + crypto.MICSize
	JoinRequestSize = 23
	JoinAcceptSize  = 17
	CFListSize      = 16
)

// errors
var (
	ErrMalformed = errors.New("malformed frame")
	ErrAddress   = errors.New("address mismatch")
	ErrMIC       = errors.New("invalid mic")
)

// FCtrl holds the frame control flags.
type FCtrl struct {
	ADR       bool
	ADRACKReq bool
	ACK       bool
	FPending  bool
}

func (c FCtrl) byte(fOptsLen int) byte {
	b := byte(fOptsLen & 0x0f)
	if c.ADR {
		b |= 0x80
	}
	if c.ADRACKReq {
		b |= 0x40
	}
	if c.ACK {
		b |= 0x20
	}
	if c.FPending {
		b |= 0x10
	}
	return b
}

func parseFCtrl(b byte) FCtrl {
	return FCtrl{
		ADR:       b&0x80 != 0,
		ADRACKReq: b&0x40 != 0,
		ACK:       b&0x20 != 0,
		FPending:  b&0x10 != 0,
	}
}

// Keys holds the session keys.
type Keys struct {
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key
}

// DataFrame holds a decoded (plaintext) data frame.
type DataFrame struct {
	MType   lorawan.MType
	DevAddr lorawan.DevAddr
	FCtrl   FCtrl

	// FCnt holds the full 32 bit frame-counter, only the lower 16 bits are
	// transmitted.
	FCnt  uint32
	FOpts []byte

	// FPort is nil when the frame has no payload.
	FPort   *uint8
	Payload []byte
}

// Uplink returns true for uplink frames.
func (f DataFrame) Uplink() bool {
	return f.MType == lorawan.UnconfirmedDataUp || f.MType == lorawan.ConfirmedDataUp
}

// Confirmed returns true for confirmed frames.
func (f DataFrame) Confirmed() bool {
	return f.MType == lorawan.ConfirmedDataUp || f.MType == lorawan.ConfirmedDataDown
}

func mhdr(t lorawan.MType) byte {
	return byte(t)<<5 | byte(lorawan.LoRaWANR1)
}

func direction(t lorawan.MType) crypto.Direction {
	if t == lorawan.UnconfirmedDataDown || t == lorawan.ConfirmedDataDown {
		return crypto.Downlink
	}
	return crypto.Uplink
}

func putDevAddr(b []byte, a lorawan.DevAddr) {
	b[0] = a[3]
	b[1] = a[2]
	b[2] = a[1]
	b[3] = a[0]
}

func getDevAddr(b []byte) lorawan.DevAddr {
	return lorawan.DevAddr{b[3], b[2], b[1], b[0]}
}

func putEUI(b []byte, e lorawan.EUI64) {
	for i := range e {
		b[i] = e[7-i]
	}
}

// EncodeData encodes, encrypts and signs the given data frame. The port 0
// payload is encrypted with the NwkSKey, any other port with the AppSKey.
func EncodeData(f DataFrame, keys Keys, b aes.Backend) ([]byte, error) {
	if len(f.FOpts) > MaxFOptsLength {
		return nil, errors.Wrapf(ErrMalformed, "fopts length %d exceeds %d", len(f.FOpts), MaxFOptsLength)
	}
	if f.FPort == nil && len(f.Payload) != 0 {
		return nil, errors.Wrap(ErrMalformed, "payload without fport")
	}
	if f.FPort != nil && *f.FPort == 0 && len(f.FOpts) != 0 {
		return nil, errors.Wrap(ErrMalformed, "fopts with fport 0")
	}

	size := MHDRSize + FHDRMinSize + len(f.FOpts) + crypto.MICSize
	if f.FPort != nil {
		size += 1 + len(f.Payload)
	}

	out := make([]byte, size)
	out[0] = mhdr(f.MType)
	putDevAddr(out[1:5], f.DevAddr)
	out[5] = f.FCtrl.byte(len(f.FOpts))
	binary.LittleEndian.PutUint16(out[6:8], uint16(f.FCnt))
	i := 8 + copy(out[8:], f.FOpts)

	dir := direction(f.MType)
	if f.FPort != nil {
		out[i] = *f.FPort
		i++
		n := copy(out[i:], f.Payload)

		key := keys.AppSKey
		if *f.FPort == 0 {
			key = keys.NwkSKey
		}
		crypto.CipherFRMPayload(b, key, dir, f.DevAddr, f.FCnt, out[i:i+n])
		i += n
	}

	mic := crypto.DataMIC(b, keys.NwkSKey, dir, f.DevAddr, f.FCnt, out[:i])
	copy(out[i:], mic[:])

	return out, nil
}

// FullFCnt restores the 32 bit frame-counter from its transmitted lower 16
// bits, given the next expected counter value.
func FullFCnt(expected uint32, fCnt uint16) uint32 {
	return expected + uint32(fCnt-uint16(expected))
}

// DecodeData validates and decrypts the given downlink data frame. It
// returns ErrMalformed for frames the device must not process, ErrAddress
// for frames of an other device and ErrMIC when the MIC does not match.
func DecodeData(raw []byte, devAddr lorawan.DevAddr, expectedFCnt uint32, keys Keys, b aes.Backend) (DataFrame, error) {
	var f DataFrame

	if len(raw) < MinDataLength {
		return f, errors.Wrapf(ErrMalformed, "frame of %d bytes", len(raw))
	}
	if lorawan.Major(raw[0]&0x03) != lorawan.LoRaWANR1 {
		return f, errors.Wrap(ErrMalformed, "unsupported major version")
	}
	f.MType = lorawan.MType(raw[0] >> 5)
	if f.MType != lorawan.UnconfirmedDataDown && f.MType != lorawan.ConfirmedDataDown {
		return f, errors.Wrapf(ErrMalformed, "unexpected mtype %s", f.MType)
	}

	f.DevAddr = getDevAddr(raw[1:5])
	if f.DevAddr != devAddr {
		return f, errors.Wrapf(ErrAddress, "devaddr %s", f.DevAddr)
	}

	fOptsLen := int(raw[5] & 0x0f)
	f.FCtrl = parseFCtrl(raw[5])
	end := len(raw) - crypto.MICSize
	if 8+fOptsLen > end {
		return f, errors.Wrap(ErrMalformed, "fopts exceed frame")
	}

	f.FCnt = FullFCnt(expectedFCnt, binary.LittleEndian.Uint16(raw[6:8]))

	var mic lorawan.MIC
	copy(mic[:], raw[end:])
	if crypto.DataMIC(b, keys.NwkSKey, crypto.Downlink, f.DevAddr, f.FCnt, raw[:end]) != mic {
		return f, ErrMIC
	}

	if fOptsLen != 0 {
		f.FOpts = append([]byte(nil), raw[8:8+fOptsLen]...)
	}

	i := 8 + fOptsLen
	if i < end {
		port := raw[i]
		f.FPort = &port
		if port == 0 && fOptsLen != 0 {
			return f, errors.Wrap(ErrMalformed, "fopts with fport 0")
		}

		f.Payload = append([]byte(nil), raw[i+1:end]...)
		key := keys.AppSKey
		if port == 0 {
			key = keys.NwkSKey
		}
		crypto.CipherFRMPayload(b, key, crypto.Downlink, f.DevAddr, f.FCnt, f.Payload)
	}

	return f, nil
}

// JoinRequest holds the join-request fields.
type JoinRequest struct {
	JoinEUI  lorawan.EUI64
	DevEUI   lorawan.EUI64
	DevNonce lorawan.DevNonce
}

// EncodeJoinRequest encodes and signs the join-request.
func EncodeJoinRequest(r JoinRequest, appKey lorawan.AES128Key, b aes.Backend) []byte {
	out := make([]byte, JoinRequestSize)
	out[0] = mhdr(lorawan.JoinRequest)
	putEUI(out[1:9], r.JoinEUI)
	putEUI(out[9:17], r.DevEUI)
	binary.LittleEndian.PutUint16(out[17:19], uint16(r.DevNonce))

	mic := crypto.JoinMIC(b, appKey, out[:19])
	copy(out[19:], mic[:])
	return out
}

// JoinAccept holds the decoded join-accept fields.
type JoinAccept struct {
	AppNonce    lorawan.JoinNonce
	NetID       lorawan.NetID
	DevAddr     lorawan.DevAddr
	RX1DROffset uint8
	RX2DataRate uint8

	// RXDelay holds the RX1 delay in seconds, 0 means 1.
	RXDelay uint8

	// CFList is nil when the join-accept does not carry one.
	CFList []byte
}

// DecodeJoinAccept decrypts and validates the join-accept.
func DecodeJoinAccept(raw []byte, appKey lorawan.AES128Key, b aes.Backend) (JoinAccept, error) {
	var ja JoinAccept

	if len(raw) != JoinAcceptSize && len(raw) != JoinAcceptSize+CFListSize {
		return ja, errors.Wrapf(ErrMalformed, "join-accept of %d bytes", len(raw))
	}
	if lorawan.MType(raw[0]>>5) != lorawan.JoinAccept {
		return ja, errors.Wrap(ErrMalformed, "expected join-accept mtype")
	}

	dec := append([]byte(nil), raw...)
	if err := crypto.DecryptJoinAccept(b, appKey, dec); err != nil {
		return ja, errors.Wrap(ErrMalformed, err.Error())
	}

	end := len(dec) - crypto.MICSize
	var mic lorawan.MIC
	copy(mic[:], dec[end:])
	if crypto.JoinMIC(b, appKey, dec[:end]) != mic {
		return ja, ErrMIC
	}

	ja.AppNonce = lorawan.JoinNonce(uint32(dec[1]) | uint32(dec[2])<<8 | uint32(dec[3])<<16)
	ja.NetID = lorawan.NetID{dec[6], dec[5], dec[4]}
	ja.DevAddr = getDevAddr(dec[7:11])
	ja.RX1DROffset = (dec[11] >> 4) & 0x07
	ja.RX2DataRate = dec[11] & 0x0f
	ja.RXDelay = dec[12] & 0x0f
	if len(dec) == JoinAcceptSize+CFListSize {
		ja.CFList = append([]byte(nil), dec[13:13+CFListSize]...)
	}

	return ja, nil
}
