package replica

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "listsync"

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ops_total",
		Help:      "Local list mutations by op type and outcome.",
	}, []string{"op", "outcome"})

	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merges_total",
		Help:      "Snapshots merged from other replicas by list kind.",
	}, []string{"kind"})
)
