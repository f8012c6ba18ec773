package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exchange Metrics Collector
// Provides metrics for monitoring order flow, matching and connections

var (
	// Singleton collector
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all exchange metrics
type Collector struct {
	// Order metrics
	OrdersTotal  *prometheus.CounterVec
	OrderLatency *prometheus.HistogramVec
	CancelsTotal *prometheus.CounterVec

	// Matching metrics
	ExecutionsTotal *prometheus.CounterVec
	ExecutedShares  *prometheus.CounterVec
	ExecutedValue   *prometheus.CounterVec
	BookDepth       *prometheus.GaugeVec

	// Protocol metrics
	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Feed metrics
	FeedClientsActive prometheus.Gauge
	FeedMessagesTotal *prometheus.CounterVec
}

// GetCollector returns the singleton metrics collector
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

// newCollector creates a new metrics collector
func newCollector() *Collector {
	c := &Collector{}

	// Order metrics
	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "orders",
			Name:      "total",
			Help:      "Total number of orders submitted",
		},
		[]string{"symbol", "side", "result"},
	)

	c.OrderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: "orders",
			Name:      "latency_ms",
			Help:      "Order placement latency in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"symbol"},
	)

	c.CancelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "orders",
			Name:      "cancels_total",
			Help:      "Total number of canceled orders",
		},
		[]string{"symbol"},
	)

	// Matching metrics
	c.ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "matching",
			Name:      "executions_total",
			Help:      "Total number of fills",
		},
		[]string{"symbol"},
	)

	c.ExecutedShares = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "matching",
			Name:      "executed_shares_total",
			Help:      "Total shares executed",
		},
		[]string{"symbol"},
	)

	c.ExecutedValue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "matching",
			Name:      "executed_value_total",
			Help:      "Total traded value (shares times price)",
		},
		[]string{"symbol"},
	)

	c.BookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: "book",
			Name:      "depth_levels",
			Help:      "Number of price levels per side",
		},
		[]string{"symbol", "side"},
	)

	// Protocol metrics
	c.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Total number of protocol requests",
		},
		[]string{"type"},
	)

	c.RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: "protocol",
			Name:      "request_latency_ms",
			Help:      "Request handling latency in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"type"},
	)

	// Connection metrics
	c.ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Number of open client connections",
		},
	)

	c.ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Total number of accepted client connections",
		},
	)

	// Feed metrics
	c.FeedClientsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: "feed",
			Name:      "clients_active",
			Help:      "Number of connected feed clients",
		},
	)

	c.FeedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of feed messages broadcast",
		},
		[]string{"channel"},
	)

	c.registerAll()
	return c
}

// registerAll registers all metrics with Prometheus
func (c *Collector) registerAll() {
	// Order metrics
	prometheus.MustRegister(c.OrdersTotal)
	prometheus.MustRegister(c.OrderLatency)
	prometheus.MustRegister(c.CancelsTotal)

	// Matching metrics
	prometheus.MustRegister(c.ExecutionsTotal)
	prometheus.MustRegister(c.ExecutedShares)
	prometheus.MustRegister(c.ExecutedValue)
	prometheus.MustRegister(c.BookDepth)

	// Protocol metrics
	prometheus.MustRegister(c.RequestsTotal)
	prometheus.MustRegister(c.RequestLatency)

	// Connection metrics
	prometheus.MustRegister(c.ConnectionsActive)
	prometheus.MustRegister(c.ConnectionsTotal)

	// Feed metrics
	prometheus.MustRegister(c.FeedClientsActive)
	prometheus.MustRegister(c.FeedMessagesTotal)
}

// ============ Recording Helpers ============

// RecordOrder records an order placement attempt
func (c *Collector) RecordOrder(symbol, side, result string) {
	c.OrdersTotal.WithLabelValues(symbol, side, result).Inc()
}

// RecordOrderLatency records order placement latency
func (c *Collector) RecordOrderLatency(symbol string, latencyMs float64) {
	c.OrderLatency.WithLabelValues(symbol).Observe(latencyMs)
}

// RecordCancel records a successful cancellation
func (c *Collector) RecordCancel(symbol string) {
	c.CancelsTotal.WithLabelValues(symbol).Inc()
}

// RecordExecution records one fill
func (c *Collector) RecordExecution(symbol string, shares, value float64) {
	c.ExecutionsTotal.WithLabelValues(symbol).Inc()
	c.ExecutedShares.WithLabelValues(symbol).Add(shares)
	c.ExecutedValue.WithLabelValues(symbol).Add(value)
}

// SetBookDepth records the current level count per side
func (c *Collector) SetBookDepth(symbol string, buyLevels, sellLevels int) {
	c.BookDepth.WithLabelValues(symbol, "buy").Set(float64(buyLevels))
	c.BookDepth.WithLabelValues(symbol, "sell").Set(float64(sellLevels))
}

// RecordRequest records a handled protocol request
func (c *Collector) RecordRequest(requestType string, latencyMs float64) {
	c.RequestsTotal.WithLabelValues(requestType).Inc()
	c.RequestLatency.WithLabelValues(requestType).Observe(latencyMs)
}

// RecordConnection records client connection changes
func (c *Collector) RecordConnection(delta int) {
	c.ConnectionsActive.Add(float64(delta))
	if delta > 0 {
		c.ConnectionsTotal.Add(float64(delta))
	}
}

// RecordFeedClient records feed client connection changes
func (c *Collector) RecordFeedClient(delta int) {
	c.FeedClientsActive.Add(float64(delta))
}

// RecordFeedMessage records a broadcast feed message
func (c *Collector) RecordFeedMessage(channel string) {
	c.FeedMessagesTotal.WithLabelValues(channel).Inc()
}

// ============ HTTP Handler ============

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for measuring latency
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ElapsedMs returns the elapsed time in milliseconds
func (t *Timer) ElapsedMs() float64 {
	return float64(time.Since(t.start).Microseconds()) / 1000.0
}
