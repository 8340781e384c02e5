package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by the boundary adapter.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Identity-core metrics. Outcome labels mirror the stable error kinds.
var (
	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Access and refresh tokens issued.",
		},
		[]string{"kind"},
	)

	tokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Access token verification outcomes.",
		},
		[]string{"outcome"},
	)

	otpVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_verifications_total",
			Help: "One-time-code verification outcomes.",
		},
		[]string{"outcome"},
	)

	otpThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_otp_throttled_total",
		Help: "One-time-code requests rejected by the rate limiter.",
	})

	reuseDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Refresh-token replays that invalidated a rotation chain.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		tokensIssuedTotal, tokenVerificationsTotal,
		otpVerificationsTotal, otpThrottledTotal, reuseDetectedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenIssued counts an issued token; kind is "access" or "refresh".
func TokenIssued(kind string) {
	tokensIssuedTotal.WithLabelValues(kind).Inc()
}

// TokenVerified counts a verification outcome ("ok", "expired", "revoked", ...).
func TokenVerified(outcome string) {
	tokenVerificationsTotal.WithLabelValues(outcome).Inc()
}

// OTPVerified counts a code verification outcome.
func OTPVerified(outcome string) {
	otpVerificationsTotal.WithLabelValues(outcome).Inc()
}

// OTPThrottled counts a rate-limited code request.
func OTPThrottled() {
	otpThrottledTotal.Inc()
}

// ReuseDetected counts a refresh replay.
func ReuseDetected() {
	reuseDetectedTotal.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath strips query strings and folds unknown paths into a single
// label so metric cardinality stays bounded even under path scanning.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	if knownPaths[path] {
		return path
	}
	return "other"
}

var knownPaths = map[string]bool{
	"/":                         true,
	"/healthz":                  true,
	"/readyz":                   true,
	"/metrics":                  true,
	"/v1/info":                  true,
	"/v1/auth/otp/request":      true,
	"/v1/auth/otp/verify":       true,
	"/v1/auth/refresh":          true,
	"/v1/auth/logout":           true,
	"/v1/auth/email/request":    true,
	"/v1/auth/email/confirm":    true,
	"/v1/auth/password/request": true,
	"/v1/auth/password/confirm": true,
	"/v1/me":                    true,
	"/v1/admin/tokens/revoke":   true,
}

// statusWriter records the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
