package config

import (
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"
)

// Version defines the ChirpStack LoRaWAN Device version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int    `mapstructure:"log_level"`
		LogToSyslog bool   `mapstructure:"log_to_syslog"`
		AESBackend  string `mapstructure:"aes_backend"`
	} `mapstructure:"general"`

	Device struct {
		DevEUI        lorawan.EUI64     `mapstructure:"-"`
		DevEUIString  string            `mapstructure:"dev_eui"`
		JoinEUI       lorawan.EUI64     `mapstructure:"-"`
		JoinEUIString string            `mapstructure:"join_eui"`
		AppKey        lorawan.AES128Key `mapstructure:"-"`
		AppKeyString  string            `mapstructure:"app_key"`
		MACAddress    string            `mapstructure:"mac_address"`
		ADR           bool              `mapstructure:"adr"`
		LinkCheck     bool              `mapstructure:"link_check"`
		DataRate      int               `mapstructure:"data_rate"`
		TXPower       int               `mapstructure:"tx_power"`
		ClockError    int               `mapstructure:"clock_error"`
		BatteryLevel  int               `mapstructure:"battery_level"`

		ABP struct {
			DevAddr       lorawan.DevAddr   `mapstructure:"-"`
			DevAddrString string            `mapstructure:"dev_addr"`
			NetID         lorawan.NetID     `mapstructure:"-"`
			NetIDString   string            `mapstructure:"net_id"`
			NwkSKey       lorawan.AES128Key `mapstructure:"-"`
			NwkSKeyString string            `mapstructure:"nwk_s_key"`
			AppSKey       lorawan.AES128Key `mapstructure:"-"`
			AppSKeyString string            `mapstructure:"app_s_key"`
		} `mapstructure:"abp"`
	} `mapstructure:"device"`

	Band struct {
		Name                  band.Name `mapstructure:"name"`
		PlanFile              string    `mapstructure:"plan_file"`
		EnabledUplinkChannels []int     `mapstructure:"enabled_uplink_channels"`

		ExtraChannels []struct {
			Index     int `mapstructure:"index"`
			Frequency int `mapstructure:"frequency"`
			MinDR     int `mapstructure:"min_dr"`
			MaxDR     int `mapstructure:"max_dr"`
		} `mapstructure:"extra_channels"`
	} `mapstructure:"band"`

	Radio struct {
		Type string `mapstructure:"type"`

		MQTT struct {
			Server                string        `mapstructure:"server"`
			Username              string        `mapstructure:"username"`
			Password              string        `mapstructure:"password"`
			ClientID              string        `mapstructure:"client_id"`
			QOS                   uint8         `mapstructure:"qos"`
			CleanSession          bool          `mapstructure:"clean_session"`
			CACert                string        `mapstructure:"ca_cert"`
			TLSCert               string        `mapstructure:"tls_cert"`
			TLSKey                string        `mapstructure:"tls_key"`
			UplinkTopicTemplate   string        `mapstructure:"uplink_topic_template"`
			DownlinkTopicTemplate string        `mapstructure:"downlink_topic_template"`
			RXMargin              time.Duration `mapstructure:"rx_margin"`
		} `mapstructure:"mqtt"`
	} `mapstructure:"radio"`

	Storage struct {
		Type string `mapstructure:"type"`
		KEK  string `mapstructure:"kek"`

		File struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"file"`

		Redis struct {
			URL      string   `mapstructure:"url"` // deprecated
			Servers  []string `mapstructure:"servers"`
			Database int      `mapstructure:"database"`
			Password string   `mapstructure:"password"`
			PoolSize int      `mapstructure:"pool_size"`
		} `mapstructure:"redis"`
	} `mapstructure:"storage"`

	Queue struct {
		Size        int `mapstructure:"size"`
		CommandPort int `mapstructure:"command_port"`
		StatusPort  int `mapstructure:"status_port"`
	} `mapstructure:"queue"`

	Metrics struct {
		Prometheus struct {
			EndpointEnabled bool   `mapstructure:"endpoint_enabled"`
			Bind            string `mapstructure:"bind"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"metrics"`
}

// C holds the global configuration.
var C Config

// DecodeStrings decodes the hex-encoded string fields into their typed
// counterparts. Empty strings leave the typed value untouched.
func (c *Config) DecodeStrings() error {
	fields := []struct {
		Name  string
		Value string
		Out   interface{ UnmarshalText([]byte) error }
	}{
		{"device.dev_eui", c.Device.DevEUIString, &c.Device.DevEUI},
		{"device.join_eui", c.Device.JoinEUIString, &c.Device.JoinEUI},
		{"device.app_key", c.Device.AppKeyString, &c.Device.AppKey},
		{"device.abp.dev_addr", c.Device.ABP.DevAddrString, &c.Device.ABP.DevAddr},
		{"device.abp.net_id", c.Device.ABP.NetIDString, &c.Device.ABP.NetID},
		{"device.abp.nwk_s_key", c.Device.ABP.NwkSKeyString, &c.Device.ABP.NwkSKey},
		{"device.abp.app_s_key", c.Device.ABP.AppSKeyString, &c.Device.ABP.AppSKey},
	}

	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		if err := f.Out.UnmarshalText([]byte(f.Value)); err != nil {
			return errors.Wrapf(err, "decode %s error", f.Name)
		}
	}

	return nil
}

// ABPEnabled returns true when pre-provisioned session keys are configured.
func (c *Config) ABPEnabled() bool {
	return c.Device.ABP.DevAddrString != ""
}
