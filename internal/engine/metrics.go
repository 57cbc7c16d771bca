package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_event_count",
		Help: "The number of events raised to the host (per event type).",
	}, []string{"event"})

	uc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_uplink_count",
		Help: "The number of transmitted uplink frames (per message type).",
	}, []string{"mtype"})

	drc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_downlink_rejected_count",
		Help: "The number of rejected downlink frames (per reason).",
	}, []string{"reason"})
)

func eventCounter(t EventType) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": t.String()})
}

func uplinkCounter(mType string) prometheus.Counter {
	return uc.With(prometheus.Labels{"mtype": mType})
}

func rejectedCounter(reason string) prometheus.Counter {
	return drc.With(prometheus.Labels{"reason": reason})
}
