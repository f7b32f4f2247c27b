// Package metrics exposes Prometheus counters for the watcher pipeline
// and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_bars_ingested_total", Help: "Completed bars received from the feed"},
		[]string{"symbol"},
	)
	BarsInjected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_bars_injected_total", Help: "Bars accepted by the injection sink"},
		[]string{"symbol"},
	)
	BarsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_bars_dropped_total", Help: "Bars dropped after sink retries were exhausted"},
		[]string{"symbol"},
	)
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_scans_total", Help: "Scan cycles run, by outcome"},
		[]string{"outcome"},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_alerts_total", Help: "Alerts by disposition (dispatched or suppressed)"},
		[]string{"disposition"},
	)
	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "watcher_feed_reconnects_total", Help: "Feed reconnect attempts"},
	)
)

func init() {
	prometheus.MustRegister(
		BarsIngested, BarsInjected, BarsDropped,
		ScansTotal, AlertsTotal, FeedReconnects,
	)
}

// Serve starts the metrics endpoint on addr at the given path and returns
// the server so the caller can shut it down.
func Serve(addr, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
