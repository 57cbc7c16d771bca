package rcommand

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rc = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rcommand_count",
	Help: "The number of executed remote commands (per command).",
}, []string{"command"})

func commandCounter(name string) prometheus.Counter {
	return rc.With(prometheus.Labels{"command": name})
}
