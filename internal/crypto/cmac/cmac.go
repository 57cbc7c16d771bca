// Package cmac implements the AES-CMAC message authentication code
// (RFC 4493) on top of any AES backend.
package cmac

import (
	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
)

// Size of a CMAC tag in bytes.
const Size = aes.BlockSize

const rb = 0x87

// CMAC holds the key and the derived subkeys.
type CMAC struct {
	backend aes.Backend
	key     [aes.KeySize]byte
	k1, k2  [aes.BlockSize]byte
}

// New returns a CMAC for the given backend and key.
func New(b aes.Backend, key [aes.KeySize]byte) *CMAC {
	c := CMAC{
		backend: b,
		key:     key,
	}

	l := b.EncryptBlock(key, [aes.BlockSize]byte{})
	c.k1 = double(l)
	c.k2 = double(c.k1)
	return &c
}

// double multiplies the block by x in GF(2^128).
func double(in [aes.BlockSize]byte) [aes.BlockSize]byte {
	var out [aes.BlockSize]byte
	carry := in[0] >> 7
	for i := 0; i < aes.BlockSize-1; i++ {
		out[i] = in[i]<<1 | in[i+1]>>7
	}
	out[aes.BlockSize-1] = in[aes.BlockSize-1] << 1
	if carry != 0 {
		out[aes.BlockSize-1] ^= rb
	}
	return out
}

// Sum returns the CMAC tag of the message.
func (c *CMAC) Sum(msg []byte) [Size]byte {
	n := (len(msg) + aes.BlockSize - 1) / aes.BlockSize
	complete := n != 0 && len(msg)%aes.BlockSize == 0
	if n == 0 {
		n = 1
	}

	var last [aes.BlockSize]byte
	tail := msg[(n-1)*aes.BlockSize:]
	if complete {
		for i := range last {
			last[i] = tail[i] ^ c.k1[i]
		}
	} else {
		copy(last[:], tail)
		last[len(tail)] = 0x80
		for i := range last {
			last[i] ^= c.k2[i]
		}
	}

	var x [aes.BlockSize]byte
	for i := 0; i < n-1; i++ {
		for j := range x {
			x[j] ^= msg[i*aes.BlockSize+j]
		}
		x = c.backend.EncryptBlock(c.key, x)
	}
	for j := range x {
		x[j] ^= last[j]
	}
	return c.backend.EncryptBlock(c.key, x)
}

// Sum is a shortcut for New(b, key).Sum(msg).
func Sum(b aes.Backend, key [aes.KeySize]byte, msg []byte) [Size]byte {
	return New(b, key).Sum(msg)
}
