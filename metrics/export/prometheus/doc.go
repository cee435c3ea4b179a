// Package prometheus exposes authflow engine counters through
// prometheus/client_golang.
//
// [Exporter] is a prometheus.Collector that reads Engine.MetricsSnapshot on
// every scrape. Counters are named authflow_*_total; login latency is the
// authflow_login_latency_seconds histogram. Register it on your own
// registry, or mount [Exporter.Handler], which serves a private one.
package prometheus
