package simulated

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto"
	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/chirpstack-lorawan-device/internal/syncutil"
	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// NetworkSession holds the network side of a device session.
type NetworkSession struct {
	DevEUI   lorawan.EUI64
	JoinEUI  lorawan.EUI64
	DevNonce lorawan.DevNonce
	DevAddr  lorawan.DevAddr
	NwkSKey  lorawan.AES128Key
	AppSKey  lorawan.AES128Key
	FCntUp   uint32
	FCntDown uint32
}

// QueueItem holds a downlink waiting for the next uplink.
type QueueItem struct {
	FPort       *uint8
	Payload     []byte
	MACCommands []lorawan.MACCommand
	Confirmed   bool

	// FCntDownOverride forces the downlink frame-counter (replay tests).
	FCntDownOverride *uint32
}

// Uplink holds a decoded uplink received by the network.
type Uplink struct {
	Transmission Transmission
	PHYPayload   lorawan.PHYPayload

	// FCnt holds the full (32 bit) frame-counter.
	FCnt        uint32
	FPort       *uint8
	Payload     []byte
	MACCommands []lorawan.MACCommand
}

// NetworkConfig holds the network simulator configuration.
type NetworkConfig struct {
	Band     loraband.Name
	AppKey   lorawan.AES128Key
	NetID    lorawan.NetID
	DevAddr  lorawan.DevAddr
	AppNonce lorawan.JoinNonce

	RX1DROffset uint8
	RX2DR       uint8
	RXDelay     uint8
	CFList      *lorawan.CFList

	RSSI int
	SNR  float64
}

// Network implements a Responder acting as a LoRaWAN 1.0 network server
// for a single device.
type Network struct {
	mu syncutil.Mutex

	config  NetworkConfig
	band    loraband.Band
	backend aes.Backend

	// UseRX2 makes the network answer in the RX2 window.
	useRX2 bool
	// drop returns true for uplinks that must be lost.
	drop func(Transmission, lorawan.PHYPayload) bool
	// always answer data uplinks, even when nothing is pending
	alwaysAnswer bool
	// answer confirmed uplinks without setting the ACK bit
	withholdACK bool

	session *NetworkSession
	queue   []QueueItem
	uplinks []Uplink
}

// NewNetwork creates a new network simulator.
func NewNetwork(c NetworkConfig) (*Network, error) {
	b, err := loraband.GetConfig(c.Band, false, lorawan.DwellTimeNoLimit)
	if err != nil {
		return nil, errors.Wrap(err, "get band config error")
	}
	backend, err := aes.Get("")
	if err != nil {
		return nil, errors.Wrap(err, "get aes backend error")
	}

	return &Network{
		config:  c,
		band:    b,
		backend: backend,
	}, nil
}

// SetSession sets (or with nil removes) the device session, e.g. for
// pre-provisioned devices.
func (n *Network) SetSession(s *NetworkSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.session = s
}

// Session returns a copy of the device session.
func (n *Network) Session() (NetworkSession, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return NetworkSession{}, false
	}
	return *n.session, true
}

// Enqueue adds a downlink to the queue.
func (n *Network) Enqueue(item QueueItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, item)
}

// SetUseRX2 makes the network answer in the RX2 window.
func (n *Network) SetUseRX2(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.useRX2 = v
}

// SetAlwaysAnswer makes the network answer every data uplink with a
// (possibly empty) downlink.
func (n *Network) SetAlwaysAnswer(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alwaysAnswer = v
}

// SetWithholdACK makes the network answer confirmed uplinks with a
// downlink which does not acknowledge the uplink.
func (n *Network) SetWithholdACK(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.withholdACK = v
}

// SetDrop sets the function deciding which uplinks are lost.
func (n *Network) SetDrop(f func(Transmission, lorawan.PHYPayload) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

// Uplinks returns the uplinks received so far.
func (n *Network) Uplinks() []Uplink {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Uplink, len(n.uplinks))
	copy(out, n.uplinks)
	return out
}

// Uplink implements Responder.
func (n *Network) Uplink(tx Transmission) []Downlink {
	n.mu.Lock()
	defer n.mu.Unlock()

	var phy lorawan.PHYPayload
	if err := phy.UnmarshalBinary(tx.Frame); err != nil {
		log.WithError(err).Warning("radio/simulated: unmarshal uplink error")
		return nil
	}

	if n.drop != nil && n.drop(tx, phy) {
		return nil
	}

	var dl []Downlink
	var err error
	switch phy.MHDR.MType {
	case lorawan.JoinRequest:
		dl, err = n.handleJoinRequest(tx, phy)
	case lorawan.UnconfirmedDataUp, lorawan.ConfirmedDataUp:
		dl, err = n.handleDataUp(tx, phy)
	default:
		err = errors.Errorf("unexpected mtype %s", phy.MHDR.MType)
	}
	if err != nil {
		log.WithError(err).Warning("radio/simulated: handle uplink error")
		return nil
	}
	return dl
}

func (n *Network) handleJoinRequest(tx Transmission, phy lorawan.PHYPayload) ([]Downlink, error) {
	ok, err := phy.ValidateUplinkJoinMIC(n.config.AppKey)
	if err != nil {
		return nil, errors.Wrap(err, "validate mic error")
	}
	if !ok {
		return nil, errors.New("invalid join-request mic")
	}

	jr, ok := phy.MACPayload.(*lorawan.JoinRequestPayload)
	if !ok {
		return nil, errors.Errorf("expected *lorawan.JoinRequestPayload, got %T", phy.MACPayload)
	}

	n.uplinks = append(n.uplinks, Uplink{Transmission: tx, PHYPayload: phy})

	appNonce := n.config.AppNonce
	n.config.AppNonce++

	nwkSKey, appSKey := crypto.DeriveSessionKeys(n.backend, n.config.AppKey, appNonce, n.config.NetID, jr.DevNonce)
	n.session = &NetworkSession{
		DevEUI:   jr.DevEUI,
		JoinEUI:  jr.JoinEUI,
		DevNonce: jr.DevNonce,
		DevAddr:  n.config.DevAddr,
		NwkSKey:  nwkSKey,
		AppSKey:  appSKey,
	}

	ja := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: lorawan.JoinAccept,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.JoinAcceptPayload{
			JoinNonce: appNonce,
			HomeNetID: n.config.NetID,
			DevAddr:   n.config.DevAddr,
			DLSettings: lorawan.DLSettings{
				RX2DataRate: n.config.RX2DR,
				RX1DROffset: n.config.RX1DROffset,
			},
			RXDelay: n.config.RXDelay,
			CFList:  n.config.CFList,
		},
	}

	if err := ja.SetDownlinkJoinMIC(lorawan.JoinRequestType, jr.JoinEUI, jr.DevNonce, n.config.AppKey); err != nil {
		return nil, errors.Wrap(err, "set join-accept mic error")
	}
	if err := ja.EncryptJoinAcceptPayload(n.config.AppKey); err != nil {
		return nil, errors.Wrap(err, "encrypt join-accept error")
	}
	b, err := ja.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshal join-accept error")
	}

	d := n.band.GetDefaults()
	return n.downlink(tx, b, 0, int(d.RX2DataRate), uint32(d.RX2Frequency), scheduler.FromDuration(d.JoinAcceptDelay1))
}

func (n *Network) handleDataUp(tx Transmission, phy lorawan.PHYPayload) ([]Downlink, error) {
	if n.session == nil {
		return nil, errors.New("no session")
	}
	s := n.session

	mac, ok := phy.MACPayload.(*lorawan.MACPayload)
	if !ok {
		return nil, errors.Errorf("expected *lorawan.MACPayload, got %T", phy.MACPayload)
	}
	if mac.FHDR.DevAddr != s.DevAddr {
		return nil, errors.Errorf("unknown devaddr %s", mac.FHDR.DevAddr)
	}

	// restore the full frame-counter, retransmissions reuse the previous one
	fCnt := s.FCntUp + uint32(int16(uint16(mac.FHDR.FCnt)-uint16(s.FCntUp)))
	mac.FHDR.FCnt = fCnt

	ok, err := phy.ValidateUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, s.NwkSKey, s.NwkSKey)
	if err != nil {
		return nil, errors.Wrap(err, "validate mic error")
	}
	if !ok {
		return nil, errors.New("invalid uplink mic")
	}

	if err := phy.DecodeFOptsToMACCommands(); err != nil {
		return nil, errors.Wrap(err, "decode fopts error")
	}

	up := Uplink{
		Transmission: tx,
		PHYPayload:   phy,
		FCnt:         fCnt,
		FPort:        mac.FPort,
	}
	for _, pl := range mac.FHDR.FOpts {
		if mc, ok := pl.(*lorawan.MACCommand); ok {
			up.MACCommands = append(up.MACCommands, *mc)
		}
	}

	if mac.FPort != nil {
		key := s.AppSKey
		if *mac.FPort == 0 {
			key = s.NwkSKey
		}
		if err := phy.DecryptFRMPayload(key); err != nil {
			return nil, errors.Wrap(err, "decrypt frmpayload error")
		}
		for _, pl := range mac.FRMPayload {
			switch v := pl.(type) {
			case *lorawan.DataPayload:
				up.Payload = append(up.Payload, v.Bytes...)
			case *lorawan.MACCommand:
				up.MACCommands = append(up.MACCommands, *v)
			}
		}
	}

	n.uplinks = append(n.uplinks, up)
	s.FCntUp = fCnt + 1

	confirmed := phy.MHDR.MType == lorawan.ConfirmedDataUp
	if !confirmed && !mac.FHDR.FCtrl.ADRACKReq && len(n.queue) == 0 && !n.alwaysAnswer {
		return nil, nil
	}

	var item QueueItem
	if len(n.queue) != 0 {
		item = n.queue[0]
		n.queue = n.queue[1:]
	}

	mType := lorawan.UnconfirmedDataDown
	if item.Confirmed {
		mType = lorawan.ConfirmedDataDown
	}

	fCntDown := s.FCntDown
	if item.FCntDownOverride != nil {
		fCntDown = *item.FCntDownOverride
	}

	var fOpts []lorawan.Payload
	for i := range item.MACCommands {
		fOpts = append(fOpts, &item.MACCommands[i])
	}

	down := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: mType,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.MACPayload{
			FHDR: lorawan.FHDR{
				DevAddr: s.DevAddr,
				FCtrl: lorawan.FCtrl{
					ACK: confirmed && !n.withholdACK,
				},
				FCnt:  fCntDown,
				FOpts: fOpts,
			},
			FPort: item.FPort,
		},
	}

	if item.FPort != nil {
		down.MACPayload.(*lorawan.MACPayload).FRMPayload = []lorawan.Payload{
			&lorawan.DataPayload{Bytes: item.Payload},
		}
		key := s.AppSKey
		if *item.FPort == 0 {
			key = s.NwkSKey
		}
		if err := down.EncryptFRMPayload(key); err != nil {
			return nil, errors.Wrap(err, "encrypt frmpayload error")
		}
	}

	if err := down.SetDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, s.NwkSKey); err != nil {
		return nil, errors.Wrap(err, "set downlink mic error")
	}
	b, err := down.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshal downlink error")
	}

	if item.FCntDownOverride == nil {
		s.FCntDown++
	}

	delay := scheduler.FromDuration(n.band.GetDefaults().ReceiveDelay1)
	if n.config.RXDelay != 0 {
		delay = scheduler.Sec(int64(n.config.RXDelay))
	}

	rx2Freq := uint32(n.band.GetDefaults().RX2Frequency)
	return n.downlink(tx, b, int(n.config.RX1DROffset), int(n.config.RX2DR), rx2Freq, delay)
}

// downlink returns the downlink for the RX1 (or RX2) window following the
// given transmission.
func (n *Network) downlink(tx Transmission, b []byte, rx1DROffset, rx2DR int, rx2Freq uint32, rx1Delay scheduler.Ticks) ([]Downlink, error) {
	var freq uint32
	var dr int

	if n.useRX2 {
		freq = rx2Freq
		dr = rx2DR
	} else {
		upDR, err := n.band.GetDataRateIndex(true, dataRate(tx.Config))
		if err != nil {
			return nil, errors.Wrap(err, "get data-rate index error")
		}
		dr, err = n.band.GetRX1DataRateIndex(upDR, rx1DROffset)
		if err != nil {
			return nil, errors.Wrap(err, "get rx1 data-rate error")
		}
		f, err := n.band.GetRX1FrequencyForUplinkFrequency(tx.Config.Frequency)
		if err != nil {
			return nil, errors.Wrap(err, "get rx1 frequency error")
		}
		freq = uint32(f)
	}

	c, err := ModemConfig(n.band, dr, freq)
	if err != nil {
		return nil, err
	}

	at := tx.End + rx1Delay
	if n.useRX2 {
		at += scheduler.Sec(1)
	}

	return []Downlink{
		{
			Frame:  b,
			Config: c,
			At:     at,
			RSSI:   n.config.RSSI,
			SNR:    n.config.SNR,
		},
	}, nil
}

func dataRate(c radio.ModemConfig) loraband.DataRate {
	if c.Modem == radio.FSK {
		return loraband.DataRate{
			Modulation: loraband.FSKModulation,
			BitRate:    c.BitRate,
		}
	}
	return loraband.DataRate{
		Modulation:   loraband.LoRaModulation,
		SpreadFactor: c.SpreadFactor,
		Bandwidth:    c.Bandwidth,
	}
}

// ModemConfig returns the modem configuration for the given data-rate.
func ModemConfig(b loraband.Band, dr int, freq uint32) (radio.ModemConfig, error) {
	d, err := b.GetDataRate(dr)
	if err != nil {
		return radio.ModemConfig{}, errors.Wrap(err, "get data-rate error")
	}

	c := radio.ModemConfig{
		Frequency: freq,
	}
	if d.Modulation == loraband.FSKModulation {
		c.Modem = radio.FSK
		c.BitRate = d.BitRate
	} else {
		c.Modem = radio.LoRa
		c.SpreadFactor = d.SpreadFactor
		c.Bandwidth = d.Bandwidth
	}
	return c, nil
}
