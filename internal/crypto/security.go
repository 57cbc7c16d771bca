// Package crypto implements the LoRaWAN 1.0 frame security on top of a
// pluggable AES backend: the data and join MICs, the CTR payload cipher,
// the join-accept decoding and the session-key derivation.
package crypto

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/cmac"
	"github.com/brocaar/lorawan"
)

// Direction defines the frame direction.
type Direction uint8

// Frame directions as used in the B0 and A_i blocks.
const (
	Uplink   Direction = 0
	Downlink Direction = 1
)

// MICSize defines the size of the MIC in bytes.
const MICSize = 4

// ErrInvalidLength is returned when a join-accept has an invalid size.
var ErrInvalidLength = errors.New("invalid length")

func block(prefix byte, dir Direction, devAddr lorawan.DevAddr, fCnt uint32) [aes.BlockSize]byte {
	var b [aes.BlockSize]byte
	b[0] = prefix
	b[5] = byte(dir)
	// the DevAddr type holds the address in big-endian order
	b[6] = devAddr[3]
	b[7] = devAddr[2]
	b[8] = devAddr[1]
	b[9] = devAddr[0]
	binary.LittleEndian.PutUint32(b[10:14], fCnt)
	return b
}

// DataMIC computes the MIC of a data frame. msg must contain the frame
// without the MIC (MHDR up to and including the FRMPayload).
func DataMIC(b aes.Backend, key lorawan.AES128Key, dir Direction, devAddr lorawan.DevAddr, fCnt uint32, msg []byte) lorawan.MIC {
	b0 := block(0x49, dir, devAddr, fCnt)
	b0[15] = byte(len(msg))

	buf := make([]byte, 0, len(b0)+len(msg))
	buf = append(buf, b0[:]...)
	buf = append(buf, msg...)

	tag := cmac.Sum(b, key, buf)
	var mic lorawan.MIC
	copy(mic[:], tag[:MICSize])
	return mic
}

// JoinMIC computes the MIC of a join-request or join-accept (plaintext,
// without the MIC).
func JoinMIC(b aes.Backend, key lorawan.AES128Key, msg []byte) lorawan.MIC {
	tag := cmac.Sum(b, key, msg)
	var mic lorawan.MIC
	copy(mic[:], tag[:MICSize])
	return mic
}

// CipherFRMPayload encrypts or decrypts (the operation is symmetric) the
// FRMPayload in place.
func CipherFRMPayload(b aes.Backend, key lorawan.AES128Key, dir Direction, devAddr lorawan.DevAddr, fCnt uint32, payload []byte) {
	a := block(0x01, dir, devAddr, fCnt)

	for i := 0; i < len(payload); i += aes.BlockSize {
		a[15] = byte(i/aes.BlockSize + 1)
		s := b.EncryptBlock(key, a)
		for j := 0; j < aes.BlockSize && i+j < len(payload); j++ {
			payload[i+j] ^= s[j]
		}
	}
}

// DecryptJoinAccept decodes the join-accept in place. The first byte (MHDR)
// is left untouched. The network encrypts the join-accept with the AES
// decrypt operation, so the device recovers it by running the encrypt
// direction of the block cipher on each block.
func DecryptJoinAccept(b aes.Backend, key lorawan.AES128Key, frame []byte) error {
	if len(frame) < 1 || (len(frame)-1)%aes.BlockSize != 0 {
		return errors.Wrapf(ErrInvalidLength, "join-accept of %d bytes", len(frame))
	}

	for i := 1; i < len(frame); i += aes.BlockSize {
		var in [aes.BlockSize]byte
		copy(in[:], frame[i:i+aes.BlockSize])
		out := b.EncryptBlock(key, in)
		copy(frame[i:], out[:])
	}
	return nil
}

// DeriveSessionKeys returns the NwkSKey and AppSKey for the given join
// parameters.
func DeriveSessionKeys(b aes.Backend, appKey lorawan.AES128Key, appNonce lorawan.JoinNonce, netID lorawan.NetID, devNonce lorawan.DevNonce) (lorawan.AES128Key, lorawan.AES128Key) {
	var in [aes.BlockSize]byte

	// AppNonce, NetID and DevNonce are little-endian on the wire
	in[1] = byte(appNonce)
	in[2] = byte(appNonce >> 8)
	in[3] = byte(appNonce >> 16)
	in[4] = netID[2]
	in[5] = netID[1]
	in[6] = netID[0]
	binary.LittleEndian.PutUint16(in[7:9], uint16(devNonce))

	in[0] = 0x01
	nwkSKey := b.EncryptBlock(appKey, in)
	in[0] = 0x02
	appSKey := b.EncryptBlock(appKey, in)

	return lorawan.AES128Key(nwkSKey), lorawan.AES128Key(appSKey)
}
