/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "triviaboard"

type Metrics struct {
	ActiveSessions   prometheus.Gauge
	ConnectedClients prometheus.Gauge
	BoardBuilds      *prometheus.CounterVec
	BuildDuration    prometheus.Histogram
	Reveals          *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of board sessions held in memory",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_clients",
			Help:      "Number of open websocket connections",
		}),
		BoardBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "board_builds_total",
			Help:      "Board builds by outcome",
		}, []string{"result"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "board_build_seconds",
			Help:      "Time taken to fetch and assemble a board",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Reveals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cell_reveals_total",
			Help:      "Cell transitions by the state entered",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.ConnectedClients,
		m.BoardBuilds,
		m.BuildDuration,
		m.Reveals,
	)

	return m
}

func (m *Metrics) observeBuild(err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = failureKind(err)
	}

	m.BoardBuilds.WithLabelValues(result).Inc()
	m.BuildDuration.Observe(took.Seconds())
}

func (m *Metrics) observeReveal(state RevealState) {
	m.Reveals.WithLabelValues(state.String()).Inc()
}

func registerMetricsHandler(cfg *Config, mux *httprouter.Router, reg *prometheus.Registry) {
	mux.Handler("GET", cfg.prefix+"/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}
