package cmd

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"reflect"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/chirpstack-lorawan-device/internal/deveui"
	"github.com/brocaar/lorawan"
)

var (
	cfgFile    string
	cpuprofile string
	version    string
)

var rootCmd = &cobra.Command{
	Use:   "chirpstack-lorawan-device",
	Short: "ChirpStack LoRaWAN Device",
	Long: `ChirpStack LoRaWAN Device is an open-source LoRaWAN 1.0 class A end-device stack
	> source & copyright information: https://github.com/brocaar/chirpstack-lorawan-device/`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().StringVarP(&cpuprofile, "cpu-profile", "", "", "write cpu profile to file (optional)")
	rootCmd.PersistentFlags().Int("log-level", 4, "debug=5, info=4, error=2, fatal=1, panic=0")

	viper.BindPFlag("general.log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	// default values
	viper.SetDefault("general.aes_backend", "table")

	viper.SetDefault("device.join_eui", "0000000000000000")
	viper.SetDefault("device.adr", true)
	viper.SetDefault("device.link_check", true)
	viper.SetDefault("device.data_rate", -1)
	viper.SetDefault("device.tx_power", -1)
	viper.SetDefault("device.battery_level", 255)

	viper.SetDefault("band.name", "EU868")

	viper.SetDefault("radio.type", "simulated")
	viper.SetDefault("radio.mqtt.server", "tcp://localhost:1883")
	viper.SetDefault("radio.mqtt.clean_session", true)
	viper.SetDefault("radio.mqtt.uplink_topic_template", "device/{{ .DevEUI }}/radio/uplink")
	viper.SetDefault("radio.mqtt.downlink_topic_template", "device/{{ .DevEUI }}/radio/downlink")
	viper.SetDefault("radio.mqtt.rx_margin", 500*time.Millisecond)

	viper.SetDefault("storage.type", "file")
	viper.SetDefault("storage.file.path", "/var/lib/chirpstack-lorawan-device")
	viper.SetDefault("storage.redis.servers", []string{"localhost:6379"})

	viper.SetDefault("queue.size", 10)
	viper.SetDefault("queue.command_port", 2)
	viper.SetDefault("queue.status_port", 2)

	viper.SetDefault("metrics.prometheus.bind", "0.0.0.0:8090")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(printKeysCmd)
	rootCmd.AddCommand(printSessionCmd)
}

// Execute executes the root command.
func Execute(v string) {
	version = v

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	config.Version = version

	if cfgFile != "" {
		b, err := ioutil.ReadFile(cfgFile)
		if err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(b)); err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
	} else {
		viper.SetConfigName("chirpstack-lorawan-device")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/chirpstack-lorawan-device")
		viper.AddConfigPath("/etc/chirpstack-lorawan-device")
		if err := viper.ReadInConfig(); err != nil {
			switch err.(type) {
			case viper.ConfigFileNotFoundError:
				log.Warning("No configuration file found, using defaults.")
			default:
				log.WithError(err).Fatal("read configuration file error")
			}
		}
	}

	viperBindEnvs(config.C)

	viperHooks := mapstructure.ComposeDecodeHookFunc(
		viperDecodeJSONSlice,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := viper.Unmarshal(&config.C, viper.DecodeHook(viperHooks)); err != nil {
		log.WithError(err).Fatal("unmarshal config error")
	}

	if err := config.C.DecodeStrings(); err != nil {
		log.WithError(err).Fatal("decode config error")
	}

	if config.C.Device.DevEUIString == "" {
		eui, err := systemDevEUI(config.C.Device.MACAddress)
		if err != nil {
			log.WithError(err).Fatal("derive dev_eui error")
		}
		config.C.Device.DevEUI = eui
	}

	if config.C.Storage.Redis.URL != "" {
		opt, err := redis.ParseURL(config.C.Storage.Redis.URL)
		if err != nil {
			log.WithError(err).Fatal("redis url error")
		}

		config.C.Storage.Redis.Servers = []string{opt.Addr}
		config.C.Storage.Redis.Database = opt.DB
		config.C.Storage.Redis.Password = opt.Password
	}
}

// systemDevEUI returns the DevEUI derived from the configured MAC address,
// or from the first network interface when no MAC address is configured.
func systemDevEUI(mac string) (lorawan.EUI64, error) {
	if mac != "" {
		eui, err := deveui.FromString(mac)
		return eui, errors.Wrap(err, "device.mac_address")
	}
	return deveui.FromSystem()
}

func viperBindEnvs(iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			tv = strings.ToLower(t.Name)
		}
		if tv == "-" {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			viperBindEnvs(v.Interface(), append(parts, tv)...)
		default:
			// Bash doesn't allow env variable names with a dot so
			// bind the double underscore version.
			keyDot := strings.Join(append(parts, tv), ".")
			keyUnderscore := strings.Join(append(parts, tv), "__")
			viper.BindEnv(keyDot, strings.ToUpper(keyUnderscore))
		}
	}
}

func viperDecodeJSONSlice(rf reflect.Kind, rt reflect.Kind, data interface{}) (interface{}, error) {
	// input must be a string and destination must be a slice
	if rf != reflect.String || rt != reflect.Slice {
		return data, nil
	}

	raw := data.(string)

	// this decoder expects a JSON list
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return data, nil
	}

	var out []map[string]interface{}
	err := json.Unmarshal([]byte(raw), &out)

	return out, err
}
