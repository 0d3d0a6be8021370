// Package metrics exposes process-wide Prometheus collectors for the courier
// service: HTTP intake, messenger calls, artifact delivery and the scraper.
// Job lifecycle metrics live in progress/sinks and are fed from events.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	messengerCallsTotal        *prometheus.CounterVec
	relayFlushesTotal          *prometheus.CounterVec
	deliveryAttemptsTotal      *prometheus.CounterVec
	deliveryAttemptSeconds     prometheus.Histogram
	workerLaunchesTotal        *prometheus.CounterVec
	scrapePagesTotal           *prometheus.CounterVec
	scrapeBytesTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		messengerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_messenger_calls_total",
				Help: "Messenger calls labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		relayFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_relay_flushes_total",
				Help: "Status message flushes labeled by kind (progress, terminal).",
			},
			[]string{"kind"},
		)

		deliveryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_delivery_attempts_total",
				Help: "Artifact delivery attempts labeled by result.",
			},
			[]string{"result"},
		)

		deliveryAttemptSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "courier_delivery_attempt_seconds",
				Help:    "Latency of a single artifact delivery attempt.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
			},
		)

		workerLaunchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_worker_launches_total",
				Help: "Worker process launches labeled by result.",
			},
			[]string{"result"},
		)

		scrapePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_scrape_pages_total",
				Help: "Pages fetched by workers, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		scrapeBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_scrape_bytes_total",
				Help: "Bytes fetched by workers, labeled by site.",
			},
			[]string{"site"},
		)

	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveMessengerCall records one send, edit or send_file call.
func ObserveMessengerCall(op string, err error) {
	Init()
	messengerCallsTotal.WithLabelValues(op, result(err)).Inc()
}

// ObserveRelayFlush counts a status message flush.
func ObserveRelayFlush(kind string) {
	Init()
	relayFlushesTotal.WithLabelValues(kind).Inc()
}

// ObserveDeliveryAttempt records one artifact delivery attempt.
func ObserveDeliveryAttempt(err error, duration time.Duration) {
	Init()
	deliveryAttemptsTotal.WithLabelValues(result(err)).Inc()
	deliveryAttemptSeconds.Observe(duration.Seconds())
}

// ObserveWorkerLaunch records a worker process start.
func ObserveWorkerLaunch(err error) {
	Init()
	workerLaunchesTotal.WithLabelValues(result(err)).Inc()
}

// ObservePage records a page or file a worker reported fetching. Workers run
// in child processes, so the supervisor calls this from the relayed log line.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	scrapePagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		scrapeBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}
