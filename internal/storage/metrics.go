package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sc = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storage_device_session_count",
	Help: "The number of device-session storage operations (per operation).",
}, []string{"operation"})

func storageCounter(op string) prometheus.Counter {
	return sc.With(prometheus.Labels{"operation": op})
}
