package aes

var (
	sbox [256]byte

	// encryption tables, te[1..3] are byte rotations of te[0]
	te [4][256]uint32

	rcon = [10]byte{0x01, 0x02, 0x04, 0x08, 0x10, 0x20, 0x40, 0x80, 0x1b, 0x36}
)

func init() {
	var p, q byte = 1, 1
	for {
		// p * 3 in GF(2^8)
		var hi byte
		if p&0x80 != 0 {
			hi = 0x1b
		}
		p = p ^ (p << 1) ^ hi

		// q / 3
		q ^= q << 1
		q ^= q << 2
		q ^= q << 4
		if q&0x80 != 0 {
			q ^= 0x09
		}

		sbox[p] = q ^ rotl8(q, 1) ^ rotl8(q, 2) ^ rotl8(q, 3) ^ rotl8(q, 4) ^ 0x63

		if p == 1 {
			break
		}
	}
	sbox[0] = 0x63

	for i := 0; i < 256; i++ {
		s := sbox[i]
		w := uint32(xtime(s))<<24 | uint32(s)<<16 | uint32(s)<<8 | uint32(xtime(s)^s)
		te[0][i] = w
		te[1][i] = w>>8 | w<<24
		te[2][i] = w>>16 | w<<16
		te[3][i] = w>>24 | w<<8
	}
}

func rotl8(x byte, n uint) byte {
	return x<<n | x>>(8-n)
}

func xtime(x byte) byte {
	if x&0x80 != 0 {
		return x<<1 ^ 0x1b
	}
	return x << 1
}
