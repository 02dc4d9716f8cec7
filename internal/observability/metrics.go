package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics registry and standard meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	BytesStored       *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	DedupHits         prometheus.Counter
}

// NewMetrics creates a custom Prometheus registry with the standard filestore meters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filestore_operation_duration_seconds",
		Help:    "Duration of storage operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filestore_operation_total",
		Help: "Total number of storage operations.",
	}, []string{"operation", "status"})

	bytesStored := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filestore_bytes_total",
		Help: "Total bytes moved through the store.",
	}, []string{"direction"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filestore_errors_total",
		Help: "Total number of errors.",
	}, []string{"operation", "type"})

	dedupHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filestore_dedup_hits_total",
		Help: "Uploads resolved to an existing blob by content hash.",
	})

	reg.MustRegister(opDuration, opTotal, bytesStored, errorsTotal, dedupHits)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		BytesStored:       bytesStored,
		ErrorsTotal:       errorsTotal,
		DedupHits:         dedupHits,
	}
}
