package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersCreated counts accepted orders by kind
var OrdersCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderflow_orders_created_total",
		Help: "Total number of orders accepted by the pipeline",
	},
	[]string{"kind"},
)

// OrderTransitions counts status transitions by target status
var OrderTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderflow_order_transitions_total",
		Help: "Total number of order status transitions",
	},
	[]string{"status"},
)

// OrderLatency records time from creation to terminal status
var OrderLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "orderflow_order_completion_latency_seconds",
		Help:    "Latency in seconds from order creation to terminal status",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"status"},
)

// Work queue metrics
var (
	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderflow_queue_jobs_total",
			Help: "Queue job attempts by outcome (completed, retried, failed)",
		},
		[]string{"outcome"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderflow_queue_depth",
			Help: "Number of jobs in the queue by state",
		},
		[]string{"state"},
	)
)

// Venue metrics
var (
	VenueQuoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderflow_venue_quote_latency_seconds",
			Help:    "Venue quote latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1, 2},
		},
		[]string{"venue"},
	)

	VenueFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderflow_venue_failures_total",
			Help: "Venue failures by venue and operation",
		},
		[]string{"venue", "op"},
	)

	VenueSelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderflow_venue_selected_total",
			Help: "Number of times a venue won best-quote selection",
		},
		[]string{"venue"},
	)
)

// FanoutConnections tracks live status subscribers
var FanoutConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "orderflow_fanout_connections",
		Help: "Number of live status subscribers",
	},
)

// EventsPublished counts status events sent to the event stream by outcome
var EventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderflow_events_published_total",
		Help: "Status events written to the event stream (written, dropped, error)",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(OrdersCreated, OrderTransitions, OrderLatency)
	prometheus.MustRegister(QueueJobs, QueueDepth)
	prometheus.MustRegister(VenueQuoteLatency, VenueFailures, VenueSelected)
	prometheus.MustRegister(FanoutConnections, EventsPublished)
}
