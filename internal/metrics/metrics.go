// Package metrics exposes Prometheus collectors for the fetch service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	sessionsActive             prometheus.Gauge
	captchaRecords             prometheus.Gauge
	captchaEvictionsTotal      prometheus.Counter
	challengeNotifyErrorsTotal prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stealthfetch_fetch_attempts_total",
				Help: "Total number of browser session attempts, labeled by result.",
			},
			[]string{"result"},
		)

		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stealthfetch_fetch_outcomes_total",
				Help: "Total number of completed fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stealthfetch_fetch_duration_seconds",
				Help:    "Histogram of end-to-end fetch latencies, labeled by outcome.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"outcome"},
		)

		sessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stealthfetch_sessions_active",
				Help: "Number of browser sessions currently open.",
			},
		)

		captchaRecords = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stealthfetch_captcha_records",
				Help: "Number of challenge artifacts currently retained.",
			},
		)

		captchaEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stealthfetch_captcha_evictions_total",
				Help: "Total number of challenge artifacts removed by the retention sweep.",
			},
		)

		challengeNotifyErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stealthfetch_challenge_notify_errors_total",
				Help: "Total number of challenge notifications that failed to publish.",
			},
		)

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stealthfetch_ratelimit_delay_seconds",
				Help:    "Histogram of time spent waiting on the per-host limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt counts one session attempt.
func ObserveAttempt(result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveOutcome counts a completed fetch and records its latency. Target
// hosts stay out of the labels.
func ObserveOutcome(outcome string, duration time.Duration) {
	Init()
	fetchOutcomesTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncSessions increments the open sessions gauge.
func IncSessions() {
	Init()
	sessionsActive.Inc()
}

// DecSessions decrements the open sessions gauge.
func DecSessions() {
	Init()
	sessionsActive.Dec()
}

// SetCaptchaRecords records the current artifact count.
func SetCaptchaRecords(n int) {
	Init()
	captchaRecords.Set(float64(n))
}

// ObserveCaptchaEvictions counts artifacts removed by a sweep.
func ObserveCaptchaEvictions(n int) {
	Init()
	if n > 0 {
		captchaEvictionsTotal.Add(float64(n))
	}
}

// ObserveNotifyError counts a failed challenge notification.
func ObserveNotifyError() {
	Init()
	challengeNotifyErrorsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent blocked on the per-host limiter.
func ObserveRateLimitDelay(delay time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(delay.Seconds())
}
