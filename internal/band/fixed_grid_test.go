package band

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

func newTestFixedGrid(t *testing.T) *FixedGrid {
	g, err := NewFixedGrid(loraband.US915, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	return g
}

func enabledIndices(s Strategy) []int {
	var out []int
	for _, ch := range s.Channels() {
		out = append(out, ch.Index)
	}
	return out
}

func TestFixedGridDefaults(t *testing.T) {
	assert := require.New(t)
	g := newTestFixedGrid(t)

	chans := g.Channels()
	assert.Len(chans, GridChannels)
	assert.EqualValues(902300000, chans[0].Frequency)
	assert.EqualValues(902500000, chans[1].Frequency)
	assert.EqualValues(914900000, chans[63].Frequency)
	assert.EqualValues(903000000, chans[64].Frequency)
	assert.EqualValues(914200000, chans[71].Frequency)

	freq, dr := g.ResolveRX1(chans[0], 0, 0)
	assert.EqualValues(923300000, freq)
	assert.Equal(10, dr)

	freq, dr = g.RX2Defaults()
	assert.EqualValues(923300000, freq)
	assert.Equal(8, dr)

	assert.Equal(3, g.InitialJoinDataRate())
	assert.False(g.IsFSK(0))
	assert.Equal(30, g.UpdateTX(chans[0], 0, 100))
	assert.Equal(26, g.UpdateTX(chans[64], 0, 100))
}

func TestFixedGridHopping(t *testing.T) {
	t.Run("no consecutive channel", func(t *testing.T) {
		assert := require.New(t)
		g := newTestFixedGrid(t)

		prev := -1
		seen := make(map[int]bool)
		for i := 0; i < 1000; i++ {
			ch, at := g.NextTXChannel(100, 0)
			assert.EqualValues(100, at)
			assert.NotEqual(prev, ch.Index)
			assert.True(ch.Index < NarrowbandChannels)
			prev = ch.Index
			seen[ch.Index] = true
		}
		assert.Len(seen, NarrowbandChannels)
	})

	t.Run("two channels", func(t *testing.T) {
		assert := require.New(t)
		g := newTestFixedGrid(t)
		assert.True(g.ApplyChannelMask(7, lorawan.ChMask{}))
		assert.True(g.ApplyChannelMask(0, lorawan.ChMask{false, false, true, false, false, true}))

		ch, _ := g.NextTXChannel(0, 1)
		for i := 0; i < 50; i++ {
			next, _ := g.NextTXChannel(0, 1)
			assert.NotEqual(ch.Index, next.Index)
			assert.Contains([]int{2, 5}, next.Index)
			ch = next
		}
	})

	t.Run("single channel", func(t *testing.T) {
		assert := require.New(t)
		g := newTestFixedGrid(t)
		assert.True(g.ApplyChannelMask(7, lorawan.ChMask{}))
		assert.True(g.EnableChannel(9))

		for i := 0; i < 5; i++ {
			ch, _ := g.NextTXChannel(0, 2)
			assert.Equal(9, ch.Index)
		}
	})

	t.Run("wideband data-rate", func(t *testing.T) {
		assert := require.New(t)
		g := newTestFixedGrid(t)

		for i := 0; i < 20; i++ {
			ch, _ := g.NextTXChannel(0, 4)
			assert.True(ch.Index >= NarrowbandChannels)
		}
	})
}

func TestFixedGridChannelMask(t *testing.T) {
	tests := []struct {
		Name            string
		Page            int
		Mask            lorawan.ChMask
		ExpectedOK      bool
		ExpectedEnabled []int
	}{
		{
			Name:            "all 125kHz off, 500kHz mask",
			Page:            7,
			Mask:            lorawan.ChMask{true},
			ExpectedOK:      true,
			ExpectedEnabled: []int{64},
		},
		{
			Name:            "bank 4",
			Page:            4,
			Mask:            lorawan.ChMask{false, true},
			ExpectedOK:      true,
			ExpectedEnabled: []int{65},
		},
		{
			Name:       "unsupported page",
			Page:       5,
			ExpectedOK: false,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			g := newTestFixedGrid(t)
			for i := 0; i < 4; i++ {
				assert.True(g.SetBank(i, false))
			}

			assert.Equal(tst.ExpectedOK, g.CanApplyChannelMask(tst.Page, tst.Mask))
			assert.Equal(tst.ExpectedOK, g.ApplyChannelMask(tst.Page, tst.Mask))
			if tst.ExpectedOK {
				assert.Equal(tst.ExpectedEnabled, enabledIndices(g))
			}
		})
	}

	t.Run("all 125kHz on", func(t *testing.T) {
		assert := require.New(t)
		g := newTestFixedGrid(t)
		assert.True(g.ApplyChannelMask(6, lorawan.ChMask{}))
		assert.Len(g.Channels(), NarrowbandChannels)
	})
}

func TestFixedGridSubBands(t *testing.T) {
	assert := require.New(t)
	g := newTestFixedGrid(t)

	assert.True(g.SelectSubBand(1))
	assert.Equal([]int{8, 9, 10, 11, 12, 13, 14, 15, 65}, enabledIndices(g))
	assert.False(g.SelectSubBand(8))

	assert.True(g.SetSubBand(2, true))
	assert.Len(g.Channels(), 18)
	assert.True(g.SetSubBand(1, false))
	assert.Equal([]int{16, 17, 18, 19, 20, 21, 22, 23, 66}, enabledIndices(g))

	g.SaveDefaults()
	assert.True(g.DisableChannel(16))
	g.Reset(0, false)
	assert.Len(g.Channels(), 9)
}

func TestFixedGridCFList(t *testing.T) {
	assert := require.New(t)
	g := newTestFixedGrid(t)

	cfList := make([]byte, 16)
	cfList[2] = 0xff // channels 16 - 23
	cfList[8] = 0x02 // channel 65
	cfList[15] = 1
	assert.True(g.ApplyCFList(cfList))
	assert.Equal([]int{16, 17, 18, 19, 20, 21, 22, 23, 65}, enabledIndices(g))

	cfList[15] = 0
	assert.False(g.ApplyCFList(cfList))
}

func TestFixedGridJoin(t *testing.T) {
	assert := require.New(t)
	g := newTestFixedGrid(t)
	g.SelectSubBand(1)

	js := g.InitJoin(0)
	assert.Equal(3, js.DR)
	assert.True(js.Channel.Index >= 8 && js.Channel.Index < 16)

	var drs []int
	failed := false
	for i := 0; i < 20 && !failed; i++ {
		failed = g.NextJoinState(&js, 0)
		drs = append(drs, js.DR)
		if js.DR == 4 {
			assert.Equal(65, js.Channel.Index)
		} else {
			assert.True(js.Channel.Index >= 8 && js.Channel.Index < 16)
		}
	}
	assert.True(failed)
	assert.Equal([]int{4, 2, 4, 1, 4, 0, 4, 0}, drs)

	fOK, drOK := g.SetupChannel(3, 903000000, 0, 3)
	assert.False(fOK)
	assert.False(drOK)
}

func TestFixedGridDownlinkFrequency(t *testing.T) {
	assert := require.New(t)

	g, err := NewFixedGrid(loraband.US915, rand.New(rand.NewSource(1)))
	assert.NoError(err)

	assert.True(g.ValidDownlinkFrequency(923300000))
	assert.True(g.ValidDownlinkFrequency(927500000))
	assert.False(g.ValidDownlinkFrequency(923400000))
	assert.False(g.ValidDownlinkFrequency(902300000))
}
