package aes

// Compact implements the Backend in software using only the S-box. The
// round keys are derived on the fly, so no expanded key is kept in memory.
type Compact struct{}

// Name implements Backend.
func (Compact) Name() string {
	return "compact"
}

// EncryptBlock implements Backend.
func (Compact) EncryptBlock(key [KeySize]byte, block [BlockSize]byte) [BlockSize]byte {
	state := block
	rk := key

	addRoundKey(&state, &rk)
	for r := 0; r < 10; r++ {
		for i := range state {
			state[i] = sbox[state[i]]
		}
		shiftRows(&state)
		if r != 9 {
			mixColumns(&state)
		}
		nextRoundKey(&rk, rcon[r])
		addRoundKey(&state, &rk)
	}
	return state
}

func addRoundKey(state, rk *[BlockSize]byte) {
	for i := range state {
		state[i] ^= rk[i]
	}
}

// the state is stored column-major, state[4*c+r]
func shiftRows(s *[BlockSize]byte) {
	s[1], s[5], s[9], s[13] = s[5], s[9], s[13], s[1]
	s[2], s[6], s[10], s[14] = s[10], s[14], s[2], s[6]
	s[3], s[7], s[11], s[15] = s[15], s[3], s[7], s[11]
}

func mixColumns(s *[BlockSize]byte) {
	for c := 0; c < 4; c++ {
		col := s[4*c : 4*c+4]
		a0, a1, a2, a3 := col[0], col[1], col[2], col[3]
		all := a0 ^ a1 ^ a2 ^ a3
		col[0] = a0 ^ all ^ xtime(a0^a1)
		col[1] = a1 ^ all ^ xtime(a1^a2)
		col[2] = a2 ^ all ^ xtime(a2^a3)
		col[3] = a3 ^ all ^ xtime(a3^a0)
	}
}

func nextRoundKey(k *[KeySize]byte, rc byte) {
	k[0] ^= sbox[k[13]] ^ rc
	k[1] ^= sbox[k[14]]
	k[2] ^= sbox[k[15]]
	k[3] ^= sbox[k[12]]
	for i := 4; i < KeySize; i++ {
		k[i] ^= k[i-4]
	}
}
