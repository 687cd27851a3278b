package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the service-level Prometheus collectors. The reaper reports
// sweeps through SweepRemoved so eviction activity is visible next to
// request traffic.
type Metrics struct {
	Requests     *prometheus.CounterVec
	Generations  *prometheus.CounterVec
	InFlight     prometheus.Gauge
	SweepRemoved prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ydownloader_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		Generations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ydownloader_generations_total",
			Help: "Generation pipeline runs by output kind and outcome.",
		}, []string{"output", "outcome"}),
		InFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ydownloader_generations_in_flight",
			Help: "Generations currently running.",
		}),
		SweepRemoved: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ydownloader_sweep_removed_total",
			Help: "Artifacts removed by the reaper.",
		}),
	}
}
