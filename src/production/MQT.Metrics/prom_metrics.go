package mqtmetrics

import (
	"strconv"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cuwatch"

// PromObs exports ingestion and rate metrics to prometheus
type PromObs struct {
	received *prometheus.CounterVec
	ingested *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	latency  prometheus.Histogram
	queue    *prometheus.GaugeVec
	emaRate  *prometheus.GaugeVec
	instRate *prometheus.GaugeVec
}

// NewPromObs registers the ingestion collectors with reg
func NewPromObs(reg prometheus.Registerer) *PromObs {
	p := &PromObs{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received from the broker, by kind.",
		}, []string{"kind"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Messages fully processed and acknowledged, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages that were not ingested, by reason.",
		}, []string{"reason"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_latency_seconds",
			Help:      "Latency from broker delivery to storage commit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		queue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Messages waiting on each ingest worker.",
		}, []string{"shard"}),
		emaRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_ema_rate_hz",
			Help:      "Smoothed event rate of each device.",
		}, []string{"device_id"}),
		instRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_inst_rate_hz",
			Help:      "Instantaneous event rate of each device.",
		}, []string{"device_id"}),
	}

	reg.MustRegister(p.received, p.ingested, p.dropped, p.latency, p.queue, p.emaRate, p.instRate)
	return p
}

func (p *PromObs) MessageReceived(kind mqtmodels.MessageKind) {
	p.received.WithLabelValues(string(kind)).Inc()
}

func (p *PromObs) MessageIngested(kind mqtmodels.MessageKind, latency time.Duration) {
	p.ingested.WithLabelValues(string(kind)).Inc()
	p.latency.Observe(latency.Seconds())
}

func (p *PromObs) MessageDropped(reason string) {
	p.dropped.WithLabelValues(reason).Inc()
}

func (p *PromObs) QueueDepth(shard, depth int) {
	p.queue.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
}

// ReportRate mirrors the latest device rates into gauges
func (p *PromObs) ReportRate(deviceID string, _ time.Time, m mqtmodels.DeviceMetrics) {
	if m.EmaRateHz != nil {
		p.emaRate.WithLabelValues(deviceID).Set(*m.EmaRateHz)
	}
	if m.InstRateHz != nil {
		p.instRate.WithLabelValues(deviceID).Set(*m.InstRateHz)
	}
}

// HTTPMetrics counts API requests by route and status
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	h := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(h.requests, h.duration)
	return h
}

// Middleware records every request passing through the gin engine
func (h *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		h.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
