package radio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_completion_count",
		Help: "The number of radio completions (per completion kind).",
	}, []string{"kind"})

	tc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_tx_count",
		Help: "The number of started transmissions (per modem).",
	}, []string{"modem"})
)

func completionCounter(k Kind) prometheus.Counter {
	return cc.With(prometheus.Labels{"kind": k.String()})
}

func txCounter(m Modem) prometheus.Counter {
	return tc.With(prometheus.Labels{"modem": m.String()})
}
