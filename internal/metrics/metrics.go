// Package metrics exposes the pipeline's prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AdsProcessed counts ads fully processed per account run.
	AdsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adinsights_ads_processed_total",
		Help: "Ads processed by the analytics pipeline.",
	}, []string{"account_id"})

	// AnomaliesDetected counts cpr_spike anomalies by result family.
	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adinsights_anomalies_detected_total",
		Help: "Anomalies detected, by result family.",
	}, []string{"account_id", "result_family"})

	// EntityFailures counts ads whose processing failed and was isolated.
	EntityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adinsights_entity_failures_total",
		Help: "Per-entity processing failures isolated from the account run.",
	}, []string{"account_id", "stage"})

	// StageDuration tracks wall time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adinsights_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	// WriteBatches counts flushed upsert batches by table.
	WriteBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adinsights_write_batches_total",
		Help: "Batched upserts flushed to the store.",
	}, []string{"table"})
)

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
