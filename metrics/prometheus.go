package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_remote_calls_total",
			Help: "Total number of storefront API calls.",
		},
		[]string{"operation", "status"},
	)
	remoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogsync_remote_call_duration_seconds",
			Help:    "Histogram of storefront API call durations.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation", "status"},
	)
	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_items_total",
			Help: "Items processed by bucket and outcome.",
		},
		[]string{"bucket", "outcome"},
	)
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_runs_total",
			Help: "Sync and audit runs by kind and result.",
		},
		[]string{"kind", "result"},
	)
	guardTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_guard_trips_total",
			Help: "Runs aborted by the safety guard.",
		},
		[]string{"kind", "bucket"},
	)
	discrepanciesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_discrepancies_total",
			Help: "Audit findings by kind.",
		},
		[]string{"kind"},
	)
	lastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogsync_last_run_timestamp_seconds",
			Help: "Unix time of the last finished run.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(remoteCallsTotal)
	prometheus.MustRegister(remoteCallDuration)
	prometheus.MustRegister(itemsTotal)
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(guardTripsTotal)
	prometheus.MustRegister(discrepanciesTotal)
	prometheus.MustRegister(lastRunTimestamp)
}

// RecordRemoteCall записывает метрики для запроса к API витрины. statusCode 0 means no response.
func RecordRemoteCall(operation string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	remoteCallsTotal.WithLabelValues(operation, status).Inc()
	remoteCallDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

func RecordItem(bucket, outcome string) {
	itemsTotal.WithLabelValues(bucket, outcome).Inc()
}

func RecordRun(kind, result string, finished time.Time) {
	runsTotal.WithLabelValues(kind, result).Inc()
	lastRunTimestamp.WithLabelValues(kind).Set(float64(finished.Unix()))
}

func RecordGuardTrip(kind, bucket string) {
	guardTripsTotal.WithLabelValues(kind, bucket).Inc()
}

func RecordDiscrepancy(kind string) {
	discrepanciesTotal.WithLabelValues(kind).Inc()
}

// classifyStatus классифицирует HTTP-статус код в строку.
func classifyStatus(statusCode int) string {
	switch {
	case statusCode == 0:
		return "error"
	case statusCode == http.StatusTooManyRequests:
		return "429"
	case statusCode >= 200 && statusCode < 600:
		return strconv.Itoa(statusCode/100) + "xx"
	}
	return "unknown"
}

// MetricsHandler возвращает HTTP-обработчик для экспорта метрик Prometheus.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_http_requests_total",
			Help: "Requests served by the status API.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogsync_http_request_duration_seconds",
			Help:    "Histogram of status API response times.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// RecordRequest записывает метрики для входящего HTTP-запроса.
func RecordRequest(method, path string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
