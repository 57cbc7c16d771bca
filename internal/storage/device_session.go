package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"encoding/gob"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/chirpstack-lorawan-device/internal/logging"
	"github.com/brocaar/lorawan"
)

// kekLabel is the label of the configured KEK in the key envelope.
const kekLabel = "kek"

// DeviceSession defines the device-session of a joined (or activated by
// personalization) device.
type DeviceSession struct {
	DevEUI  lorawan.EUI64
	JoinEUI lorawan.EUI64
	DevAddr lorawan.DevAddr
	NetID   lorawan.NetID
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key

	// FCntUp holds the next uplink frame-counter, FCntDown the next
	// expected downlink frame-counter.
	FCntUp   uint32
	FCntDown uint32

	// DevNonce holds the DevNonce of the next join-request.
	DevNonce lorawan.DevNonce

	DR           int
	TXPower      int
	ADR          bool
	RX1DROffset  uint8
	RX2DR        uint8
	RX2Frequency uint32
	RXDelay      uint8

	// Channels holds the enabled uplink channels.
	Channels []band.Channel
}

// KeyEnvelope holds a (possibly wrapped) session key.
type KeyEnvelope struct {
	KEKLabel string
	AESKey   []byte
}

type sessionRecord struct {
	Session DeviceSession
	NwkSKey KeyEnvelope
	AppSKey KeyEnvelope
}

func wrapKey(key lorawan.AES128Key) (KeyEnvelope, error) {
	if kek == nil {
		return KeyEnvelope{AESKey: key[:]}, nil
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return KeyEnvelope{}, errors.Wrap(err, "new cipher error")
	}
	b, err := keywrap.Wrap(block, key[:])
	if err != nil {
		return KeyEnvelope{}, errors.Wrap(err, "wrap key error")
	}
	return KeyEnvelope{KEKLabel: kekLabel, AESKey: b}, nil
}

func unwrapKey(ke KeyEnvelope) (lorawan.AES128Key, error) {
	var key lorawan.AES128Key

	if ke.KEKLabel == "" {
		copy(key[:], ke.AESKey)
		return key, nil
	}
	if kek == nil {
		return key, ErrNoKEK
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return key, errors.Wrap(err, "new cipher error")
	}
	b, err := keywrap.Unwrap(block, ke.AESKey)
	if err != nil {
		return key, errors.Wrap(err, "unwrap key error")
	}
	copy(key[:], b)
	return key, nil
}

// MarshalDeviceSession encodes the device-session. When a KEK is
// configured, the session keys are wrapped.
func MarshalDeviceSession(s DeviceSession) ([]byte, error) {
	var rec sessionRecord
	var err error

	// the keys are only stored in their envelopes
	rec.Session = s
	rec.Session.NwkSKey = lorawan.AES128Key{}
	rec.Session.AppSKey = lorawan.AES128Key{}
	rec.NwkSKey, err = wrapKey(s.NwkSKey)
	if err != nil {
		return nil, errors.Wrap(err, "wrap nwk_s_key error")
	}
	rec.AppSKey, err = wrapKey(s.AppSKey)
	if err != nil {
		return nil, errors.Wrap(err, "wrap app_s_key error")
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, errors.Wrap(err, "gob encode error")
	}
	return buf.Bytes(), nil
}

// UnmarshalDeviceSession decodes the device-session.
func UnmarshalDeviceSession(b []byte) (DeviceSession, error) {
	rec, err := decodeRecord(b)
	if err != nil {
		return DeviceSession{}, err
	}

	s := rec.Session
	s.NwkSKey, err = unwrapKey(rec.NwkSKey)
	if err != nil {
		return s, errors.Wrap(err, "unwrap nwk_s_key error")
	}
	s.AppSKey, err = unwrapKey(rec.AppSKey)
	if err != nil {
		return s, errors.Wrap(err, "unwrap app_s_key error")
	}
	return s, nil
}

func decodeRecord(b []byte) (sessionRecord, error) {
	var rec sessionRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return rec, errors.Wrap(err, "gob decode error")
	}
	return rec, nil
}

// SaveDeviceSession saves the device-session. In case it doesn't exist yet
// it will be created.
func SaveDeviceSession(ctx context.Context, s DeviceSession) error {
	b, err := MarshalDeviceSession(s)
	if err != nil {
		return err
	}

	if err := backend.SaveDeviceSession(ctx, b, s.DevEUI); err != nil {
		return errors.Wrap(err, "save device-session error")
	}
	storageCounter("save").Inc()

	logging.WithContext(ctx).WithFields(log.Fields{
		"dev_eui":  s.DevEUI,
		"dev_addr": s.DevAddr,
		"f_cnt_up": s.FCntUp,
		"f_cnt_dn": s.FCntDown,
	}).Debug("storage: device-session saved")

	return nil
}

// GetDeviceSession returns the device-session for the given DevEUI.
func GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (DeviceSession, error) {
	b, err := backend.GetDeviceSession(ctx, devEUI)
	if err != nil {
		if err == ErrDoesNotExist {
			return DeviceSession{}, err
		}
		return DeviceSession{}, errors.Wrap(err, "get device-session error")
	}
	storageCounter("get").Inc()

	s, err := UnmarshalDeviceSession(b)
	if err != nil {
		return s, err
	}
	if s.DevEUI != devEUI {
		return DeviceSession{}, ErrDoesNotExist
	}
	return s, nil
}

// DeleteDeviceSession deletes the device-session matching the given DevEUI.
func DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	if err := backend.DeleteDeviceSession(ctx, devEUI); err != nil {
		if err == ErrDoesNotExist {
			return err
		}
		return errors.Wrap(err, "delete device-session error")
	}
	storageCounter("delete").Inc()

	logging.WithContext(ctx).WithField("dev_eui", devEUI).Info("storage: device-session deleted")
	return nil
}
