package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// indexOpsTotal counts index operations by op and result.
	indexOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "index",
			Name:      "operations_total",
			Help:      "Total number of index operations",
		},
		[]string{"op", "result"},
	)

	// indexOpDuration tracks how long index operations take.
	indexOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vectord",
			Subsystem: "index",
			Name:      "operation_duration_seconds",
			Help:      "Duration of index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// recordsUpserted counts records written to the index.
	recordsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "index",
			Name:      "records_upserted_total",
			Help:      "Total number of records upserted",
		},
	)
)

// observeIndexOp records duration and outcome for one index operation.
func observeIndexOp(op string, start time.Time, err error) {
	indexOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	indexOpsTotal.WithLabelValues(op, result).Inc()
}
