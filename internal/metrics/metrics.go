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
			Name: "backoffice_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backoffice_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	feedEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_feed_events_total",
			Help: "Change-feed events received by kind",
		},
		[]string{"kind"},
	)

	feedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_feed_reconnects_total",
			Help: "Subscription drops followed by a reconnect cycle",
		},
	)

	feedReconciled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_feed_reconciled_orders_total",
			Help: "Orders replayed by the reconciliation fetch",
		},
	)

	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backoffice_feed_connection_state",
			Help: "Current subscription state (1 for the active state)",
		},
		[]string{"state"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_notifications_created_total",
			Help: "Notification records created by category",
		},
		[]string{"category"},
	)

	notificationsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_notifications_acknowledged_total",
			Help: "Notification records acknowledged",
		},
	)

	alertPulses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_alert_pulses_total",
			Help: "Alert pulses emitted",
		},
	)

	alertPulseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_alert_pulse_failures_total",
			Help: "Alert pulses that failed to play and were skipped",
		},
	)

	popupsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_popups_sent_total",
			Help: "Popup notifications dispatched by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_rate_limit_rejections_total",
			Help: "Requests rejected by the API rate limiter",
		},
	)
)

// connectionStates mirrors the feed state machine for the state gauge.
var connectionStates = []string{"connecting", "connected", "degraded", "reconnecting", "failed"}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// FeedEventReceived counts one change-feed event.
func FeedEventReceived(kind string) {
	feedEventsReceived.WithLabelValues(kind).Inc()
}

// FeedReconnect counts one subscription drop.
func FeedReconnect() {
	feedReconnects.Inc()
}

// FeedReconciled counts orders replayed by a reconciliation fetch.
func FeedReconciled(n int) {
	feedReconciled.Add(float64(n))
}

// SetConnectionState flips the state gauge to the given state.
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

// RecordNotificationCreated counts a new notification record.
func RecordNotificationCreated(category string) {
	notificationsCreated.WithLabelValues(category).Inc()
}

// RecordAcknowledged counts an acknowledgement.
func RecordAcknowledged() {
	notificationsAcknowledged.Inc()
}

// RecordPulse counts an emitted alert pulse.
func RecordPulse() {
	alertPulses.Inc()
}

// RecordPulseFailure counts a pulse that could not play.
func RecordPulseFailure() {
	alertPulseFailures.Inc()
}

// RecordPopup counts a popup notification dispatch.
func RecordPopup(channel string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	popupsSent.WithLabelValues(channel, outcome).Inc()
}

// RecordRateLimitRejection counts a rate limit rejection.
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
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
