package aes

import "encoding/binary"

// Table implements the Backend in software using four 1 KiB lookup tables
// combining SubBytes, ShiftRows and MixColumns.
type Table struct{}

// Name implements Backend.
func (Table) Name() string {
	return "table"
}

func subWord(w uint32) uint32 {
	return uint32(sbox[w>>24])<<24 | uint32(sbox[w>>16&0xff])<<16 | uint32(sbox[w>>8&0xff])<<8 | uint32(sbox[w&0xff])
}

func expandKey(key [KeySize]byte) [44]uint32 {
	var rk [44]uint32
	for i := 0; i < 4; i++ {
		rk[i] = binary.BigEndian.Uint32(key[4*i:])
	}
	for i := 4; i < 44; i++ {
		t := rk[i-1]
		if i%4 == 0 {
			t = subWord(t<<8|t>>24) ^ uint32(rcon[i/4-1])<<24
		}
		rk[i] = rk[i-4] ^ t
	}
	return rk
}

// EncryptBlock implements Backend.
func (Table) EncryptBlock(key [KeySize]byte, block [BlockSize]byte) [BlockSize]byte {
	rk := expandKey(key)

	s0 := binary.BigEndian.Uint32(block[0:]) ^ rk[0]
	s1 := binary.BigEndian.Uint32(block[4:]) ^ rk[1]
	s2 := binary.BigEndian.Uint32(block[8:]) ^ rk[2]
	s3 := binary.BigEndian.Uint32(block[12:]) ^ rk[3]

	for r := 1; r < 10; r++ {
		k := rk[4*r:]
		t0 := te[0][s0>>24] ^ te[1][s1>>16&0xff] ^ te[2][s2>>8&0xff] ^ te[3][s3&0xff] ^ k[0]
		t1 := te[0][s1>>24] ^ te[1][s2>>16&0xff] ^ te[2][s3>>8&0xff] ^ te[3][s0&0xff] ^ k[1]
		t2 := te[0][s2>>24] ^ te[1][s3>>16&0xff] ^ te[2][s0>>8&0xff] ^ te[3][s1&0xff] ^ k[2]
		t3 := te[0][s3>>24] ^ te[1][s0>>16&0xff] ^ te[2][s1>>8&0xff] ^ te[3][s2&0xff] ^ k[3]
		s0, s1, s2, s3 = t0, t1, t2, t3
	}

	final := func(a, b, c, d uint32) uint32 {
		return uint32(sbox[a>>24])<<24 | uint32(sbox[b>>16&0xff])<<16 | uint32(sbox[c>>8&0xff])<<8 | uint32(sbox[d&0xff])
	}

	var out [BlockSize]byte
	binary.BigEndian.PutUint32(out[0:], final(s0, s1, s2, s3)^rk[40])
	binary.BigEndian.PutUint32(out[4:], final(s1, s2, s3, s0)^rk[41])
	binary.BigEndian.PutUint32(out[8:], final(s2, s3, s0, s1)^rk[42])
	binary.BigEndian.PutUint32(out[12:], final(s3, s0, s1, s2)^rk[43])
	return out
}
