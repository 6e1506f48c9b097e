package mutation

import "github.com/prometheus/client_golang/prometheus"

var (
	batchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "elasticsql_mutation_batch_size",
		Help:    "Mutations per batch sent to the store",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"table"})
	batchBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "elasticsql_mutation_bytes",
		Help:    "Estimated bytes per batch sent to the store",
		Buckets: prometheus.ExponentialBuckets(64, 4, 12),
	}, []string{"table"})
	commitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "elasticsql_mutation_commit_seconds",
		Help: "Time spent sending all batches of one table",
	}, []string{"table"})
	batchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "elasticsql_mutation_batch_retries_total",
		Help: "Batches resent after the store lost their index metadata",
	}, []string{"table"})
	commitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "elasticsql_mutation_commit_failures_total",
		Help: "Batches that failed to commit",
	}, []string{"table"})
)

func init() {
	prometheus.MustRegister(batchSize, batchBytes, commitSeconds, batchRetries, commitFailures)
}
