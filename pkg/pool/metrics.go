package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loomworks/loom/internal/build"
)

var (
	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: build.ProjectName,
		Name:      "active_workers",
		Help:      "Number of live worker processes across all pools.",
	})

	dispatchedBuckets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "dispatched_buckets_total",
		Help:      "Buckets dispatched to workers by map-reduce calls.",
	})
)
