package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the admin engine.
type Metrics struct {
	BulkRecordsProcessed *prometheus.CounterVec
	BulkRecordsFailed    *prometheus.CounterVec
	BulkDuration         *prometheus.HistogramVec
	AuditWriteFailures   prometheus.Counter
	AuditPublishFailures prometheus.Counter
	RateLimitRejections  *prometheus.CounterVec
	ExportRows           *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		BulkRecordsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kosherdir_bulk_records_processed_total",
			Help: "Records processed by bulk operations, by entity type and operation.",
		}, []string{"entity_type", "operation"}),
		BulkRecordsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kosherdir_bulk_records_failed_total",
			Help: "Records that failed during bulk operations.",
		}, []string{"entity_type", "operation"}),
		BulkDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kosherdir_bulk_duration_seconds",
			Help:    "Wall time of bulk operation runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity_type", "operation"}),
		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kosherdir_audit_write_failures_total",
			Help: "Audit store writes that failed after the primary mutation succeeded.",
		}),
		AuditPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kosherdir_audit_publish_failures_total",
			Help: "Audit records that could not be mirrored to Kafka.",
		}),
		RateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kosherdir_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by tier.",
		}, []string{"tier"}),
		ExportRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kosherdir_export_rows_total",
			Help: "Rows serialized by CSV exports, by entity type.",
		}, []string{"entity_type"}),
	}
}
