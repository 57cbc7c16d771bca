package deveui

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lorawan"
)

func TestFromString(t *testing.T) {
	tests := []struct {
		Name     string
		MAC      string
		Expected lorawan.EUI64
		Error    error
	}{
		{
			Name:     "valid mac",
			MAC:      "24:0a:c4:01:02:03",
			Expected: lorawan.EUI64{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03, 0xfe, 0xff},
		},
		{
			Name:     "dash separated",
			MAC:      "24-0A-C4-01-02-03",
			Expected: lorawan.EUI64{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03, 0xfe, 0xff},
		},
		{
			Name:  "eui-64 mac",
			MAC:   "02:00:5e:10:00:00:00:01",
			Error: ErrInvalidMAC,
		},
		{
			Name:  "invalid",
			MAC:   "foo",
			Error: ErrInvalidMAC,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			eui, err := FromString(tst.MAC)
			if tst.Error != nil {
				assert.Equal(tst.Error, errors.Cause(err))
				return
			}
			assert.NoError(err)
			assert.Equal(tst.Expected, eui)

			// LSB first on the wire
			b, err := eui.MarshalBinary()
			assert.NoError(err)
			assert.Equal([]byte{0xff, 0xfe, 0x03, 0x02, 0x01, 0xc4, 0x0a, 0x24}, b)
		})
	}
}
