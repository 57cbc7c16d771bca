package cmac

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	jcmac "github.com/jacobsa/crypto/cmac"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
)

func TestRFC4493(t *testing.T) {
	key := [16]byte{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}
	message := "6bc1bee22e409f96e93d7e117393172a" +
		"ae2d8a571e03ac9c9eb76fac45af8e51" +
		"30c81c46a35ce411e5fbc1191a0a52ef" +
		"f69f2445df4f9b17ad2b417be66c3710"
	msg, err := hex.DecodeString(message)
	require.NoError(t, err)

	tests := []struct {
		Name     string
		Length   int
		Expected string
	}{
		{"example 1: len = 0", 0, "bb1d6929e95937287fa37d129b756746"},
		{"example 2: len = 16", 16, "070a16b46b4d4144f79bdd9dd04a287c"},
		{"example 3: len = 40", 40, "dfa66747de9ae63030ca32611497c827"},
		{"example 4: len = 64", 64, "51f0bebf7e3b9d92fc49741779363cfe"},
	}

	for _, name := range aes.Names() {
		b, err := aes.Get(name)
		require.NoError(t, err)

		t.Run(name+"/subkeys", func(t *testing.T) {
			assert := require.New(t)
			c := New(b, key)
			assert.Equal("fbeed618357133667c85e08f7236a8de", hex.EncodeToString(c.k1[:]))
			assert.Equal("f7ddac306ae266ccf90bc11ee46d513b", hex.EncodeToString(c.k2[:]))
		})

		for _, tst := range tests {
			t.Run(name+"/"+tst.Name, func(t *testing.T) {
				assert := require.New(t)
				tag := Sum(b, key, msg[:tst.Length])
				assert.Equal(tst.Expected, hex.EncodeToString(tag[:]))
			})
		}
	}
}

func TestAgainstReference(t *testing.T) {
	assert := require.New(t)
	b, err := aes.Get("table")
	assert.NoError(err)

	for l := 0; l < 70; l++ {
		var key [16]byte
		msg := make([]byte, l)
		_, err := rand.Read(key[:])
		assert.NoError(err)
		_, err = rand.Read(msg)
		assert.NoError(err)

		h, err := jcmac.New(key[:])
		assert.NoError(err)
		_, err = h.Write(msg)
		assert.NoError(err)

		tag := Sum(b, key, msg)
		assert.Equal(h.Sum(nil), tag[:], "length %d", l)
	}
}
