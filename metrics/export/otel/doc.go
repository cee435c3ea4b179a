// Package otel publishes authflow engine counters as OpenTelemetry
// observable instruments.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter. Login
// latency becomes a cumulative bucket gauge keyed by an "le" attribute plus a
// sample counter. One callback reads Engine.MetricsSnapshot at collection
// time; the caller owns the MeterProvider.
package otel
