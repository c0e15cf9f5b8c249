package rest

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Counters are the worker's request and error tallies between two metrics
// reports.
type Counters struct {
	requests atomic.Int64
	errors   atomic.Int64
}

// Swap returns the current tallies and resets them to zero.
func (c *Counters) Swap() (requests, errors int64) {
	return c.requests.Swap(0), c.errors.Swap(0)
}

// Peek returns the current tallies without resetting them.
func (c *Counters) Peek() (requests, errors int64) {
	return c.requests.Load(), c.errors.Load()
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// countRequests feeds both the reporting Counters and prometheus. Any
// response with status >= 400 counts as an error.
func countRequests(counters *Counters, m *httpMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		counters.requests.Add(1)
		if status >= 400 {
			counters.errors.Add(1)
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
