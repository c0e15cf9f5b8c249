package cluster

import "github.com/prometheus/client_golang/prometheus"

type supervisorMetrics struct {
	online   prometheus.Gauge
	spawned  prometheus.Counter
	restarts prometheus.Counter
	reports  *prometheus.CounterVec
	requests prometheus.Counter
	errors   prometheus.Counter
}

func newSupervisorMetrics(reg prometheus.Registerer) *supervisorMetrics {
	m := &supervisorMetrics{
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_workers_online",
			Help: "Workers that have reported healthy and are serving.",
		}),
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cluster_workers_spawned_total",
			Help: "Worker processes started, including replacements.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cluster_worker_restarts_total",
			Help: "Crashed workers replaced.",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cluster_worker_reports_total",
			Help: "Reports received from workers, by type.",
		}, []string{"type"}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cluster_requests_total",
			Help: "Requests served across all workers, summed from metrics reports.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cluster_request_errors_total",
			Help: "Error responses across all workers, summed from metrics reports.",
		}),
	}
	reg.MustRegister(m.online, m.spawned, m.restarts, m.reports, m.requests, m.errors)
	return m
}
