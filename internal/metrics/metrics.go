package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splits_gateway_requests_total",
			Help: "Calls made to the Splits API by operation and outcome",
		},
		[]string{"method", "operation", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "splits_gateway_request_duration_ms",
			Help:    "Duration of Splits API calls in ms",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		},
		[]string{"operation"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splits_notifications_total",
			Help: "Inbound notifications by reported vendor status and outcome",
		},
		[]string{"vendor_status", "outcome"},
	)

	Checkouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splits_checkouts_total",
			Help: "Checkout submissions by payment method and result",
		},
		[]string{"method", "result"},
	)
)

// Notification outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeStale     = "stale"
	OutcomeUnknown   = "unknown_status"
	OutcomeNoOrder   = "order_not_found"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
	OutcomeSucceeded = "ok"
)

// Fixed vendor_status labels for notifications whose status cannot be trusted or parsed.
const (
	StatusUnauthenticated = "unauthenticated"
	StatusUnknown         = "unknown"
)

// VendorStatusLabel bounds the vendor_status label to the known vocabulary.
func VendorStatusLabel(raw string, known bool) string {
	if !known {
		return StatusUnknown
	}
	return raw
}
