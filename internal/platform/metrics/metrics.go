package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring ingestion and reconciliation health
var (
	WebhookDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipmark_webhook_decisions_total",
			Help: "Webhook verification decisions by outcome",
		},
		[]string{"outcome"},
	)

	CourierFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipmark_courier_fetches_total",
			Help: "Courier status fetches by courier code and outcome",
		},
		[]string{"courier", "outcome"},
	)

	TrackingEventsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shipmark_tracking_events_ingested_total",
			Help: "New status history entries created by the poller",
		},
	)

	TrackingEventsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shipmark_tracking_events_skipped_total",
			Help: "Tracking events skipped as duplicates or unparseable",
		},
	)

	ImportRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipmark_import_rows_total",
			Help: "Report import rows by classification",
		},
		[]string{"result"},
	)

	CourierFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shipmark_courier_fetch_duration_seconds",
			Help:    "Duration of courier API status fetches",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(WebhookDecisionsTotal)
	prometheus.MustRegister(CourierFetchesTotal)
	prometheus.MustRegister(TrackingEventsIngestedTotal)
	prometheus.MustRegister(TrackingEventsSkippedTotal)
	prometheus.MustRegister(ImportRowsTotal)
	prometheus.MustRegister(CourierFetchDuration)
}
