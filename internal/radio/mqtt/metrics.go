package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_mqtt_event_count",
		Help: "The number of received events by the MQTT radio driver (per event type).",
	}, []string{"event"})

	pc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_mqtt_publish_count",
		Help: "The number of uplink frames published by the MQTT radio driver.",
	})

	mqttc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_mqtt_connect_count",
		Help: "The number of times the MQTT radio driver connected to the MQTT broker.",
	})

	mqttd = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_mqtt_disconnect_count",
		Help: "The number of times the MQTT radio driver disconnected from the MQTT broker.",
	})
)

func mqttEventCounter(e string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e})
}

func mqttPublishCounter() prometheus.Counter {
	return pc
}

func mqttConnectCounter() prometheus.Counter {
	return mqttc
}

func mqttDisconnectCounter() prometheus.Counter {
	return mqttd
}
