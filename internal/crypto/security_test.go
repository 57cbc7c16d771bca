package crypto

import (
	stdaes "crypto/aes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
	"github.com/brocaar/lorawan"
)

func backends(t *testing.T) []aes.Backend {
	var out []aes.Backend
	for _, n := range aes.Names() {
		b, err := aes.Get(n)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func dataFrame(mType lorawan.MType, devAddr lorawan.DevAddr, fCnt uint32, fPort uint8, pl []byte) lorawan.PHYPayload {
	return lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: mType,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.MACPayload{
			FHDR: lorawan.FHDR{
				DevAddr: devAddr,
				FCtrl: lorawan.FCtrl{
					ADR: true,
				},
				FCnt: fCnt,
			},
			FPort: &fPort,
			FRMPayload: []lorawan.Payload{
				&lorawan.DataPayload{Bytes: pl},
			},
		},
	}
}

func TestDataMIC(t *testing.T) {
	key := lorawan.AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	devAddr := lorawan.DevAddr{0x26, 0x01, 0x1b, 0xda}

	for _, b := range backends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			t.Run("uplink", func(t *testing.T) {
				assert := require.New(t)

				phy := dataFrame(lorawan.UnconfirmedDataUp, devAddr, 10, 1, []byte{1, 2, 3, 4, 5})
				assert.NoError(phy.SetUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, key, key))
				raw, err := phy.MarshalBinary()
				assert.NoError(err)

				mic := DataMIC(b, key, Uplink, devAddr, 10, raw[:len(raw)-MICSize])
				assert.Equal(phy.MIC, mic)
			})

			t.Run("downlink with 32 bit counter", func(t *testing.T) {
				assert := require.New(t)

				phy := dataFrame(lorawan.ConfirmedDataDown, devAddr, 0x00012345, 3, []byte{9, 8, 7})
				assert.NoError(phy.SetDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, key))
				raw, err := phy.MarshalBinary()
				assert.NoError(err)

				mic := DataMIC(b, key, Downlink, devAddr, 0x00012345, raw[:len(raw)-MICSize])
				assert.Equal(phy.MIC, mic)
			})
		})
	}
}

func TestCipherFRMPayload(t *testing.T) {
	key := lorawan.AES128Key{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}
	devAddr := lorawan.DevAddr{1, 2, 3, 4}

	tests := []struct {
		Name  string
		MType lorawan.MType
		Dir   Direction
		Size  int
	}{
		{"uplink, single block", lorawan.UnconfirmedDataUp, Uplink, 5},
		{"uplink, exactly one block", lorawan.ConfirmedDataUp, Uplink, 16},
		{"downlink, three blocks", lorawan.UnconfirmedDataDown, Downlink, 40},
	}

	for _, b := range backends(t) {
		for _, tst := range tests {
			t.Run(b.Name()+"/"+tst.Name, func(t *testing.T) {
				assert := require.New(t)

				plain := make([]byte, tst.Size)
				for i := range plain {
					plain[i] = byte(i)
				}

				phy := dataFrame(tst.MType, devAddr, 77, 10, append([]byte{}, plain...))
				assert.NoError(phy.EncryptFRMPayload(key))
				expected := phy.MACPayload.(*lorawan.MACPayload).FRMPayload[0].(*lorawan.DataPayload).Bytes

				out := append([]byte{}, plain...)
				CipherFRMPayload(b, key, tst.Dir, devAddr, 77, out)
				assert.Equal(expected, out)

				CipherFRMPayload(b, key, tst.Dir, devAddr, 77, out)
				assert.Equal(plain, out)
			})
		}
	}
}

func TestJoin(t *testing.T) {
	appKey := lorawan.AES128Key{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	joinEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	devNonce := lorawan.DevNonce(0x1234)
	appNonce := lorawan.JoinNonce(0x563412)
	netID := lorawan.NetID{0x00, 0x00, 0x13}

	for _, b := range backends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			t.Run("join-request MIC", func(t *testing.T) {
				assert := require.New(t)

				phy := lorawan.PHYPayload{
					MHDR: lorawan.MHDR{MType: lorawan.JoinRequest, Major: lorawan.LoRaWANR1},
					MACPayload: &lorawan.JoinRequestPayload{
						JoinEUI:  joinEUI,
						DevEUI:   lorawan.EUI64{8, 7, 6, 5, 4, 3, 2, 1},
						DevNonce: devNonce,
					},
				}
				assert.NoError(phy.SetUplinkJoinMIC(appKey))
				raw, err := phy.MarshalBinary()
				assert.NoError(err)
				assert.Len(raw, 23)

				assert.Equal(phy.MIC, JoinMIC(b, appKey, raw[:19]))
			})

			for _, cfList := range []bool{false, true} {
				name := "join-accept"
				if cfList {
					name += " with CFList"
				}

				t.Run(name, func(t *testing.T) {
					assert := require.New(t)

					jaPL := lorawan.JoinAcceptPayload{
						JoinNonce: appNonce,
						HomeNetID: netID,
						DevAddr:   lorawan.DevAddr{0x26, 0x01, 0x02, 0x03},
						DLSettings: lorawan.DLSettings{
							RX2DataRate: 3,
							RX1DROffset: 1,
						},
						RXDelay: 2,
					}
					if cfList {
						jaPL.CFList = &lorawan.CFList{
							CFListType: lorawan.CFListChannel,
							Payload: &lorawan.CFListChannelPayload{
								Channels: [5]uint32{867100000, 867300000, 867500000, 867700000, 867900000},
							},
						}
					}
					phy := lorawan.PHYPayload{
						MHDR:       lorawan.MHDR{MType: lorawan.JoinAccept, Major: lorawan.LoRaWANR1},
						MACPayload: &jaPL,
					}
					assert.NoError(phy.SetDownlinkJoinMIC(lorawan.JoinRequestType, joinEUI, devNonce, appKey))
					mic := phy.MIC
					assert.NoError(phy.EncryptJoinAcceptPayload(appKey))
					raw, err := phy.MarshalBinary()
					assert.NoError(err)

					assert.NoError(DecryptJoinAccept(b, appKey, raw))
					plain, err := jaPL.MarshalBinary()
					assert.NoError(err)
					assert.Equal(plain, raw[1:len(raw)-MICSize])
					assert.Equal(mic[:], raw[len(raw)-MICSize:])
					assert.Equal(mic, JoinMIC(b, appKey, raw[:len(raw)-MICSize]))
				})
			}

			t.Run("invalid join-accept length", func(t *testing.T) {
				require.Error(t, DecryptJoinAccept(b, appKey, make([]byte, 20)))
			})

			t.Run("session keys", func(t *testing.T) {
				assert := require.New(t)

				nwkSKey, appSKey := DeriveSessionKeys(b, appKey, appNonce, netID, devNonce)
				assert.Equal(referenceSessionKey(t, 0x01, appKey, appNonce, netID, devNonce), nwkSKey)
				assert.Equal(referenceSessionKey(t, 0x02, appKey, appNonce, netID, devNonce), appSKey)
				assert.NotEqual(nwkSKey, appSKey)
			})
		})
	}
}

// referenceSessionKey derives the key with crypto/aes from the big-endian
// representation of the join fields.
func referenceSessionKey(t *testing.T, typ byte, appKey lorawan.AES128Key, appNonce lorawan.JoinNonce, netID lorawan.NetID, devNonce lorawan.DevNonce) lorawan.AES128Key {
	an := [3]byte{byte(appNonce >> 16), byte(appNonce >> 8), byte(appNonce)}
	dn := [2]byte{byte(devNonce >> 8), byte(devNonce)}

	b := make([]byte, 0, 16)
	b = append(b, typ)

	// little endian
	for i := len(an) - 1; i >= 0; i-- {
		b = append(b, an[i])
	}
	for i := len(netID) - 1; i >= 0; i-- {
		b = append(b, netID[i])
	}
	for i := len(dn) - 1; i >= 0; i-- {
		b = append(b, dn[i])
	}
	b = append(b, make([]byte, 7)...)

	block, err := stdaes.NewCipher(appKey[:])
	require.NoError(t, err)

	var key lorawan.AES128Key
	block.Encrypt(key[:], b)
	return key
}
