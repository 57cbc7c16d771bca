package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
)

const configTemplate = `[general]
# Log level
#
# debug=5, info=4, warning=3, error=2, fatal=1, panic=0
log_level={{ .General.LogLevel }}

# Log to syslog.
#
# When set to true, log messages are being written to syslog.
log_to_syslog={{ .General.LogToSyslog }}

# AES backend.
#
# The AES implementation used for the MIC and the payload encryption.
# Valid values are:
# * table    - the table based (T-table) implementation
# * compact  - the byte oriented implementation (slow, small footprint)
# * hardware - the crypto/aes implementation of the Go runtime
aes_backend="{{ .General.AESBackend }}"


# Device settings.
[device]
# DevEUI (8 bytes, HEX encoded).
#
# When left blank, the DevEUI is derived from the mac_address (or from the
# MAC address of the first network interface): FF FE followed by the
# reversed MAC address (LSB first).
dev_eui="{{ .Device.DevEUIString }}"

# MAC address used for deriving the DevEUI (optional).
mac_address="{{ .Device.MACAddress }}"

# JoinEUI / AppEUI (8 bytes, HEX encoded).
join_eui="{{ .Device.JoinEUIString }}"

# AppKey (16 bytes, HEX encoded).
app_key="{{ .Device.AppKeyString }}"

# Set the ADR bit in the uplinks.
#
# When enabled, the network controls the data-rate and TX power of the
# device.
adr={{ .Device.ADR }}

# ADR backoff.
#
# When enabled, the device requests an answer (ADRACKReq) once the network
# stays silent and lowers the data-rate when no answer is received.
link_check={{ .Device.LinkCheck }}

# Data-rate and TX power (dBm) of the uplinks.
#
# Only used when ADR is disabled. Set to -1 to use the band defaults.
data_rate={{ .Device.DataRate }}
tx_power={{ .Device.TXPower }}

# Clock error.
#
# The max. clock error of the device in units of 1/65536. The receive
# windows are widened accordingly.
clock_error={{ .Device.ClockError }}

# Battery level reported in the DevStatusAns.
#
# 0 = external power source, 1 - 254 = battery level, 255 = unknown.
battery_level={{ .Device.BatteryLevel }}

  # Activation by personalization.
  #
  # When the dev_addr is set, the device does not join but uses the
  # configured session.
  [device.abp]
  dev_addr="{{ .Device.ABP.DevAddrString }}"
  net_id="{{ .Device.ABP.NetIDString }}"
  nwk_s_key="{{ .Device.ABP.NwkSKeyString }}"
  app_s_key="{{ .Device.ABP.AppSKeyString }}"


# LoRaWAN regional band configuration.
[band]
# LoRaWAN band to use.
#
# Valid values are:
# * EU868
# * US915
name="{{ .Band.Name }}"

# Channel-plan file (optional).
#
# YAML file overriding the sub-bands (duty-cycle) and adding uplink
# channels.
plan_file="{{ .Band.PlanFile }}"

# Enabled uplink channels.
#
# Use this when ony a sub-set of the by default enabled channels are being
# used. For example when only using the first 8 channels of the US band.
# Example:
# enabled_uplink_channels=[0, 1, 2, 3, 4, 5, 6, 7]
enabled_uplink_channels=[{{ range $index, $element := .Band.EnabledUplinkChannels }}{{ if $index }}, {{ end }}{{ $element }}{{ end }}]

# Extra channel configuration.
#
# Use this for LoRaWAN regions where it is possible to extend the by default
# available channels with additional channels (e.g. the EU band).
#
# Example:
# [[band.extra_channels]]
# index=3
# frequency=867100000
# min_dr=0
# max_dr=5
{{ range $index, $element := .Band.ExtraChannels }}
[[band.extra_channels]]
index={{ $element.Index }}
frequency={{ $element.Frequency }}
min_dr={{ $element.MinDR }}
max_dr={{ $element.MaxDR }}
{{ end }}


# Radio settings.
[radio]
# Radio type.
#
# Valid values are:
# * simulated - the device talks to an in-process network simulator
# * mqtt      - the frames are exchanged over MQTT with a virtual gateway
type="{{ .Radio.Type }}"

  # MQTT radio settings.
  [radio.mqtt]
  # MQTT server (e.g. scheme://host:port where scheme is tcp, ssl or ws)
  server="{{ .Radio.MQTT.Server }}"

  # Connect with the given username (optional)
  username="{{ .Radio.MQTT.Username }}"

  # Connect with the given password (optional)
  password="{{ .Radio.MQTT.Password }}"

  # Quality of service level
  #
  # 0: at most once
  # 1: at least once
  # 2: exactly once
  qos={{ .Radio.MQTT.QOS }}

  # Clean session
  #
  # Set the "clean session" flag in the connect message when this client
  # connects to an MQTT broker. By setting this flag you are indicating
  # that no messages saved by the broker for this client should be delivered.
  clean_session={{ .Radio.MQTT.CleanSession }}

  # Client ID
  #
  # Set the client id to be used by this client when connecting to the MQTT
  # broker. A client id must be no longer than 23 characters. When left blank,
  # a random id will be generated.
  client_id="{{ .Radio.MQTT.ClientID }}"

  # CA certificate file (optional)
  ca_cert="{{ .Radio.MQTT.CACert }}"

  # TLS certificate file (optional)
  tls_cert="{{ .Radio.MQTT.TLSCert }}"

  # TLS key file (optional)
  tls_key="{{ .Radio.MQTT.TLSKey }}"

  # Uplink and downlink topic templates.
  #
  # The DevEUI of the device is available as .DevEUI.
  uplink_topic_template="{{ .Radio.MQTT.UplinkTopicTemplate }}"
  downlink_topic_template="{{ .Radio.MQTT.DownlinkTopicTemplate }}"

  # RX margin.
  #
  # Extra time the receive window stays open to compensate for the broker
  # latency.
  rx_margin="{{ .Radio.MQTT.RXMargin }}"


# Session storage.
[storage]
# Storage type.
#
# Valid values are:
# * none  - the session is lost on restart
# * file  - the session is stored in the file.path directory
# * redis - the session is stored in Redis
type="{{ .Storage.Type }}"

# Key encryption key (optional, HEX encoded).
#
# When set, the session keys are wrapped (RFC 3394) before being stored.
kek="{{ .Storage.KEK }}"

  [storage.file]
  # Directory holding the session files.
  path="{{ .Storage.File.Path }}"

  [storage.redis]
  # Server address or addresses.
  servers=[{{ range $index, $element := .Storage.Redis.Servers }}{{ if $index }}, {{ end }}"{{ $element }}"{{ end }}]

  # Redis database.
  database={{ .Storage.Redis.Database }}

  # Optional password.
  password="{{ .Storage.Redis.Password }}"

  # Redis pool size (0 = default).
  pool_size={{ .Storage.Redis.PoolSize }}


# Send queue and remote commands.
[queue]
# Max. number of queued uplinks.
size={{ .Queue.Size }}

# Downlinks on this port are executed as remote commands.
command_port={{ .Queue.CommandPort }}

# Port of the get config / get status answers.
status_port={{ .Queue.StatusPort }}


# Metrics configuration.
[metrics]

  # Metrics stored in Prometheus.
  #
  # These metrics expose information about the state of the device.
  [metrics.prometheus]
  # Enable Prometheus metrics endpoint.
  endpoint_enabled={{ .Metrics.Prometheus.EndpointEnabled }}

  # The ip:port to bind the Prometheus metrics server to for serving the
  # metrics endpoint.
  bind="{{ .Metrics.Prometheus.Bind }}"
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the ChirpStack LoRaWAN Device configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, &config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
