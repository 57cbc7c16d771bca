// Package test contains helpers shared by the package tests.
package test

import (
	"context"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

// GetConfig returns the test configuration.
func GetConfig() config.Config {
	log.SetLevel(log.ErrorLevel)

	var c config.Config
	c.General.AESBackend = "table"

	c.Device.DevEUI = lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	c.Device.JoinEUI = lorawan.EUI64{8, 7, 6, 5, 4, 3, 2, 1}
	c.Device.AppKey = lorawan.AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	c.Device.ADR = true
	c.Device.BatteryLevel = 255

	c.Band.Name = band.EU868

	c.Radio.Type = "simulated"
	c.Radio.MQTT.Server = "tcp://localhost:1883"
	c.Radio.MQTT.UplinkTopicTemplate = "device/{{ .DevEUI }}/uplink"
	c.Radio.MQTT.DownlinkTopicTemplate = "device/{{ .DevEUI }}/downlink"
	c.Radio.MQTT.RXMargin = 500 * time.Millisecond

	c.Storage.Type = "file"
	c.Storage.Redis.Servers = []string{"localhost:6379"}

	c.Queue.Size = 8
	c.Queue.CommandPort = 200
	c.Queue.StatusPort = 201

	if v := os.Getenv("TEST_REDIS_SERVERS"); v != "" {
		c.Storage.Redis.Servers = []string{v}
	}
	if v := os.Getenv("TEST_MQTT_SERVER"); v != "" {
		c.Radio.MQTT.Server = v
	}
	if v := os.Getenv("TEST_MQTT_USERNAME"); v != "" {
		c.Radio.MQTT.Username = v
	}
	if v := os.Getenv("TEST_MQTT_PASSWORD"); v != "" {
		c.Radio.MQTT.Password = v
	}

	return c
}

// RedisEnabled returns true when the Redis tests must run.
func RedisEnabled() bool {
	return os.Getenv("TEST_REDIS_SERVERS") != ""
}

// MQTTEnabled returns true when the MQTT tests must run.
func MQTTEnabled() bool {
	return os.Getenv("TEST_MQTT_SERVER") != ""
}

// MustFlushRedis flushes the Redis storage.
func MustFlushRedis(c redis.UniversalClient) {
	if err := c.FlushAll(context.Background()).Err(); err != nil {
		log.Fatal(err)
	}
}
