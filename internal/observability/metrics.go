package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sales_dashboard"

var (
	// Registry holds the application collectors exposed on /metrics.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"method", "route"})

	datasetLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dataset",
		Name:      "loads_total",
		Help:      "Dataset load attempts by result.",
	}, []string{"result"})

	datasetLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dataset",
		Name:      "load_duration_seconds",
		Help:      "Time spent parsing the dataset file.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	datasetRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dataset",
		Name:      "records",
		Help:      "Records in the currently served dataset.",
	})

	datasetGeneration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dataset",
		Name:      "generation",
		Help:      "Generation of the currently served dataset.",
	})

	salesQueries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sales",
		Name:      "queries_total",
		Help:      "Sales queries evaluated.",
	})

	salesQueryMatches = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sales",
		Name:      "query_matches",
		Help:      "Records matching each sales query before pagination.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	authEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Authentication outcomes by kind.",
	}, []string{"kind", "result"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		datasetLoads,
		datasetLoadDuration,
		datasetRecords,
		datasetGeneration,
		salesQueries,
		salesQueryMatches,
		authEvents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// MetricsHandler exposes Registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func HTTPRequestStarted() { httpInFlight.Inc() }

func HTTPRequestFinished(method, route string, status int, duration time.Duration) {
	httpInFlight.Dec()
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordDatasetLoad(duration time.Duration, records int, generation uint64, err error) {
	datasetLoadDuration.Observe(duration.Seconds())
	if err != nil {
		datasetLoads.WithLabelValues("error").Inc()
		return
	}
	datasetLoads.WithLabelValues("ok").Inc()
	datasetRecords.Set(float64(records))
	datasetGeneration.Set(float64(generation))
}

func RecordQuery(matches int) {
	salesQueries.Inc()
	salesQueryMatches.Observe(float64(matches))
}

func RecordAuth(kind, result string) {
	authEvents.WithLabelValues(kind, result).Inc()
}
