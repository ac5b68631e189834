package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_api", Name: "bookings_total", Help: "Total ride requests written"})
	BookingsFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_api", Name: "bookings_failed_total", Help: "Total ride request writes that failed"})
	CancelsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_api", Name: "cancellations_total", Help: "Total rider-initiated cancellations"})
	RatingsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_api", Name: "ratings_total", Help: "Total ratings folded into driver aggregates"})
	PaymentsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_api", Name: "payments_completed_total", Help: "Total pending payments cleared"})

	GeocodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rider_api",
		Name:      "geocode_lookup_seconds",
		Help:      "Forward geocode + route lookup latency",
		Buckets:   prometheus.DefBuckets,
	})
	RouteFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_api", Name: "route_fallbacks_total", Help: "Route lookups that fell back to a straight line"})

	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "rider_api", Name: "live_subscribers", Help: "Open WebSocket subscriptions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_api", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rider_api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
