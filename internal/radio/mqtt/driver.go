// Package mqtt implements a radio driver using a MQTT broker as virtual
// medium. Transmitted frames are published on the uplink topic, frames
// published on the downlink topic are received when a matching receive
// window is open.
package mqtt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/chirpstack-lorawan-device/internal/syncutil"
	"github.com/brocaar/chirpstack-lorawan-device/internal/tls"
	"github.com/brocaar/lorawan"
)

// downlinkBufferTTL defines how long a downlink frame received outside a
// receive window is kept for the next window.
const downlinkBufferTTL = 2 * time.Second

// Frame defines the JSON frame published on the medium.
type Frame struct {
	Frequency       uint32  `json:"frequency"`
	Modulation      string  `json:"modulation"`
	SpreadingFactor int     `json:"spreading_factor,omitempty"`
	Bandwidth       int     `json:"bandwidth,omitempty"`
	BitRate         int     `json:"bit_rate,omitempty"`
	TXPower         int     `json:"tx_power,omitempty"`
	RSSI            int     `json:"rssi,omitempty"`
	SNR             float64 `json:"snr,omitempty"`
	PHYPayload      []byte  `json:"phy_payload"`
}

// NewFrame creates a Frame for the given modem configuration.
func NewFrame(c radio.ModemConfig, phy []byte) Frame {
	f := Frame{
		Frequency:  c.Frequency,
		Modulation: c.Modem.String(),
		TXPower:    c.TXPower,
		PHYPayload: phy,
	}
	if c.Modem == radio.FSK {
		f.BitRate = c.BitRate
	} else {
		f.SpreadingFactor = c.SpreadFactor
		f.Bandwidth = c.Bandwidth
	}
	return f
}

// ModemConfig returns the modem configuration of the frame.
func (f Frame) ModemConfig() radio.ModemConfig {
	c := radio.ModemConfig{
		Frequency:    f.Frequency,
		SpreadFactor: f.SpreadingFactor,
		Bandwidth:    f.Bandwidth,
		BitRate:      f.BitRate,
		TXPower:      f.TXPower,
	}
	if f.Modulation == radio.FSK.String() {
		c.Modem = radio.FSK
	}
	return c
}

type bufferedFrame struct {
	frame    Frame
	received time.Time
}

// Driver implements radio.Driver.
type Driver struct {
	mu syncutil.Mutex

	conn             paho.Client
	devEUI           lorawan.EUI64
	qos              uint8
	rxMargin         time.Duration
	uplinkTopic      string
	downlinkTemplate *template.Template

	notify func(radio.Kind)
	state  radio.State
	config radio.ModemConfig
	rxMode radio.RXMode
	timer  *time.Timer

	buffer   []bufferedFrame
	received *Frame
}

// NewDriver creates a new Driver and connects to the MQTT broker.
func NewDriver(c config.Config) (*Driver, error) {
	var err error
	conf := c.Radio.MQTT

	d := Driver{
		devEUI:   c.Device.DevEUI,
		qos:      conf.QOS,
		rxMargin: conf.RXMargin,
	}

	uplinkTemplate, err := template.New("uplink").Parse(conf.UplinkTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "radio/mqtt: parse uplink template error")
	}
	topic := bytes.NewBuffer(nil)
	if err := uplinkTemplate.Execute(topic, struct{ DevEUI lorawan.EUI64 }{d.devEUI}); err != nil {
		return nil, errors.Wrap(err, "radio/mqtt: execute uplink template error")
	}
	d.uplinkTopic = topic.String()

	d.downlinkTemplate, err = template.New("downlink").Parse(conf.DownlinkTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "radio/mqtt: parse downlink template error")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	opts.SetClientID(conf.ClientID)
	opts.SetOnConnectHandler(d.onConnected)
	opts.SetConnectionLostHandler(d.onConnectionLost)

	tlsconfig, err := tls.GetConfig(conf.CACert, conf.TLSCert, conf.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "radio/mqtt: load tls configuration error")
	}
	if tlsconfig != nil {
		opts.SetTLSConfig(tlsconfig)
	}

	log.WithField("server", conf.Server).Info("radio/mqtt: connecting to mqtt broker")
	d.conn = paho.NewClient(opts)
	for {
		if token := d.conn.Connect(); token.Wait() && token.Error() != nil {
			log.Errorf("radio/mqtt: connecting to mqtt broker failed, will retry in 2s: %s", token.Error())
			time.Sleep(2 * time.Second)
		} else {
			break
		}
	}

	return &d, nil
}

// Close closes the connection with the MQTT broker.
func (d *Driver) Close() error {
	log.Info("radio/mqtt: closing driver")

	topic, err := d.downlinkTopic()
	if err != nil {
		return err
	}
	if token := d.conn.Unsubscribe(topic); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "radio/mqtt: unsubscribe from %s error", topic)
	}

	d.mu.Lock()
	d.stopTimer()
	d.mu.Unlock()

	d.conn.Disconnect(250)
	return nil
}

// SetNotifier implements radio.Driver.
func (d *Driver) SetNotifier(f func(radio.Kind)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notify = f
}

// ConfigureModem implements radio.Driver.
func (d *Driver) ConfigureModem(c radio.ModemConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != radio.Standby {
		return errors.Errorf("configure modem in state %s", d.state)
	}
	d.config = c
	return nil
}

// SetState implements radio.Driver.
func (d *Driver) SetState(s radio.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
	return nil
}

// StartTX implements radio.Driver. The frame is published directly, TX-done
// is signalled after its airtime.
func (d *Driver) StartTX(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, err := radio.Airtime(d.config, len(frame))
	if err != nil {
		return err
	}

	b, err := json.Marshal(NewFrame(d.config, frame))
	if err != nil {
		return errors.Wrap(err, "radio/mqtt: marshal frame error")
	}

	log.WithFields(log.Fields{
		"topic": d.uplinkTopic,
		"qos":   d.qos,
	}).Info("radio/mqtt: publishing uplink frame")
	if token := d.conn.Publish(d.uplinkTopic, d.qos, false, b); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "radio/mqtt: publish uplink frame error")
	}
	mqttPublishCounter().Inc()

	d.state = radio.TX
	d.startTimer(at.Duration(), radio.TXDone)
	return nil
}

// StartRX implements radio.Driver.
func (d *Driver) StartRX(mode radio.RXMode, timeoutSymbols int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = radio.RX
	d.rxMode = mode
	d.received = nil

	// frames published slightly before the window opened
	now := time.Now()
	var buffer []bufferedFrame
	for _, bf := range d.buffer {
		if now.Sub(bf.received) > downlinkBufferTTL {
			continue
		}
		if d.received == nil && d.config.Matches(bf.frame.ModemConfig()) {
			f := bf.frame
			d.receive(&f)
			continue
		}
		buffer = append(buffer, bf)
	}
	d.buffer = buffer

	if d.received == nil && mode == radio.RXSingle {
		timeout := (radio.SymbolTime(d.config) * scheduler.Ticks(timeoutSymbols)).Duration() + d.rxMargin
		d.startTimer(timeout, radio.RXTimeout)
	}

	return nil
}

// ReadFrame implements radio.Driver.
func (d *Driver) ReadFrame() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.received == nil {
		return nil, errors.New("no frame received")
	}
	return d.received.PHYPayload, nil
}

// SignalQuality implements radio.Driver.
func (d *Driver) SignalQuality() (int, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.received == nil {
		return 0, 0
	}
	return d.received.RSSI, d.received.SNR
}

// Abort implements radio.Driver.
func (d *Driver) Abort() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopTimer()
	d.state = radio.Standby
	return nil
}

// receive starts the reception of the given frame, RX-done is signalled
// after its airtime. It must be called with the lock held.
func (d *Driver) receive(f *Frame) {
	at, err := radio.Airtime(d.config, len(f.PHYPayload))
	if err != nil {
		log.WithError(err).Error("radio/mqtt: calculate airtime error")
		return
	}
	d.received = f
	d.startTimer(at.Duration(), radio.RXDone)
}

func (d *Driver) startTimer(after time.Duration, k radio.Kind) {
	d.stopTimer()

	var t *time.Timer
	t = time.AfterFunc(after, func() {
		d.mu.Lock()
		if d.timer != t {
			// stopped or replaced
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.state = radio.Standby
		notify := d.notify
		d.mu.Unlock()

		if notify != nil {
			notify(k)
		}
	})
	d.timer = t
}

func (d *Driver) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Driver) downlinkTopic() (string, error) {
	topic := bytes.NewBuffer(nil)
	if err := d.downlinkTemplate.Execute(topic, struct{ DevEUI lorawan.EUI64 }{d.devEUI}); err != nil {
		return "", errors.Wrap(err, "radio/mqtt: execute downlink template error")
	}
	return topic.String(), nil
}

func (d *Driver) downlinkHandler(c paho.Client, msg paho.Message) {
	mqttEventCounter("downlink").Inc()

	var f Frame
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		log.WithFields(log.Fields{
			"data_base64": base64.StdEncoding.EncodeToString(msg.Payload()),
		}).WithError(err).Error("radio/mqtt: unmarshal downlink frame error")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == radio.RX && d.received == nil && d.config.Matches(f.ModemConfig()) {
		log.WithField("frequency", f.Frequency).Info("radio/mqtt: downlink frame received")
		d.receive(&f)
		return
	}

	log.WithFields(log.Fields{
		"frequency": f.Frequency,
		"state":     d.state,
	}).Debug("radio/mqtt: downlink frame buffered")
	d.buffer = append(d.buffer, bufferedFrame{frame: f, received: time.Now()})
}

func (d *Driver) onConnected(c paho.Client) {
	log.Info("radio/mqtt: connected to mqtt server")
	mqttConnectCounter().Inc()

	topic, err := d.downlinkTopic()
	if err != nil {
		log.WithError(err).Error("radio/mqtt: get downlink topic error")
		return
	}

	for {
		log.WithFields(log.Fields{
			"topic": topic,
			"qos":   d.qos,
		}).Info("radio/mqtt: subscribing to downlink topic")
		if token := d.conn.Subscribe(topic, d.qos, d.downlinkHandler); token.Wait() && token.Error() != nil {
			log.WithFields(log.Fields{
				"topic": topic,
				"qos":   d.qos,
			}).Errorf("radio/mqtt: subscribe error: %s", token.Error())
			time.Sleep(time.Second)
			continue
		}
		break
	}
}

func (d *Driver) onConnectionLost(c paho.Client, reason error) {
	log.Errorf("radio/mqtt: mqtt connection error: %s", reason)
	mqttDisconnectCounter().Inc()
}
