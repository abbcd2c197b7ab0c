package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spitak",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spitak",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spitak",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	stepsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spitak",
			Subsystem: "accrual",
			Name:      "steps_submitted_total",
			Help:      "Total number of steps accepted by the accrual engine.",
		},
	)

	tokensMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spitak",
			Subsystem: "accrual",
			Name:      "tokens_minted_total",
			Help:      "Total tokens minted for step submissions.",
		},
	)

	vouchersPurchased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spitak",
			Subsystem: "redemption",
			Name:      "vouchers_purchased_total",
			Help:      "Total number of successful voucher purchases.",
		},
	)

	tokensSpent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spitak",
			Subsystem: "redemption",
			Name:      "tokens_spent_total",
			Help:      "Total tokens debited for voucher purchases.",
		},
	)

	referralBonuses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spitak",
			Subsystem: "referral",
			Name:      "bonuses_credited_total",
			Help:      "Total number of referral bonuses credited.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		stepsSubmitted,
		tokensMinted,
		vouchersPurchased,
		tokensSpent,
		referralBonuses,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordAccrual records an accepted step submission.
func RecordAccrual(steps int64, tokens float64) {
	if steps > 0 {
		stepsSubmitted.Add(float64(steps))
	}
	if tokens > 0 {
		tokensMinted.Add(tokens)
	}
}

// RecordPurchase records a successful voucher purchase.
func RecordPurchase(price float64) {
	vouchersPurchased.Inc()
	if price > 0 {
		tokensSpent.Add(price)
	}
}

// RecordReferralBonus records one credited referral bonus.
func RecordReferralBonus() {
	referralBonuses.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "users", "steps", "vouchers", "healthz":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		return "/" + parts[0] + "/" + parts[1]
	default:
		return "/" + parts[0]
	}
}
