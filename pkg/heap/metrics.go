package heap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loomworks/loom/internal/build"
)

// The gauges read through the process singleton and report 0 until the heap
// has been initialized.
var (
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: build.ProjectName,
		Name:      "shared_heap_use_ratio",
		Help:      "Occupied shared heap bytes over configured capacity.",
	}, UseRatio)

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: build.ProjectName,
		Name:      "shared_heap_slot_use_ratio",
		Help:      "Occupied shared heap hash table slots over total slots.",
	}, SlotUseRatio)
)
