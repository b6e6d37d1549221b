package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rentledger_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	billingCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rentledger_billing_cycles_total",
			Help: "Total billing cycle runs",
		},
	)

	rentChargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_rent_charges_total",
			Help: "Rent charge outcomes per billing cycle lease",
		},
		[]string{"outcome"}, // generated, skipped, error
	)

	webhookCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_webhook_callbacks_total",
			Help: "Payment gateway callbacks by resolved outcome",
		},
		[]string{"outcome"},
	)

	paymentsReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_payments_reconciled_total",
			Help: "Payment state transitions applied by reconciliation",
		},
		[]string{"status"},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_notifications_processed_total",
			Help: "Notification delivery attempts by result and kind",
		},
		[]string{"result", "kind"},
	)

	notificationsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_notifications_dead_lettered_total",
			Help: "Notifications that exhausted their retries and were dead-lettered",
		},
		[]string{"kind"},
	)

	gatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rentledger_gateway_request_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBillingCycle records one completed billing cycle run.
func RecordBillingCycle(generated, skipped, errors int) {
	billingCyclesTotal.Inc()
	rentChargesTotal.WithLabelValues("generated").Add(float64(generated))
	rentChargesTotal.WithLabelValues("skipped").Add(float64(skipped))
	rentChargesTotal.WithLabelValues("error").Add(float64(errors))
}

// RecordWebhookCallback records a gateway callback by its resolved outcome.
func RecordWebhookCallback(outcome string) {
	webhookCallbacksTotal.WithLabelValues(outcome).Inc()
}

// RecordPaymentReconciled records an applied payment state transition.
func RecordPaymentReconciled(status string) {
	paymentsReconciledTotal.WithLabelValues(status).Inc()
}

// RecordNotificationProcessed records one delivery attempt result.
func RecordNotificationProcessed(result, kind string) {
	notificationsProcessed.WithLabelValues(result, kind).Inc()
}

// RecordNotificationDeadLettered records an item hitting the retry cap.
func RecordNotificationDeadLettered(kind string) {
	notificationsDeadLettered.WithLabelValues(kind).Inc()
}

// ObserveGatewayRequest records gateway call latency.
func ObserveGatewayRequest(operation string, duration time.Duration) {
	gatewayRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
