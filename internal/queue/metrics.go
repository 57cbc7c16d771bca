package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	qc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_message_count",
		Help: "The number of send queue operations (per operation).",
	}, []string{"op"})

	queueGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_length",
		Help: "The number of messages in the send queue.",
	})
)

func queueCounter(op string) prometheus.Counter {
	return qc.With(prometheus.Labels{"op": op})
}
