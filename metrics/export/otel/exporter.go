package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is what the exporter reads. *authflow.Engine implements it.
type MetricsSource interface {
	MetricsSnapshot() authflow.MetricsSnapshot
	AuditDropped() uint64
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithAttributes attaches kv to every observation, e.g. a service or
// deployment name shared by several engines on one meter.
func WithAttributes(kv ...attribute.KeyValue) Option {
	return func(e *Exporter) {
		e.common = append(e.common, kv...)
	}
}

// latency is the bucketed view of one engine histogram.
type latency struct {
	id      authflow.MetricID
	buckets metric.Int64ObservableGauge
	total   metric.Int64ObservableCounter
	// le holds one precomputed attribute option per bucket.
	le []metric.ObserveOption
}

// Exporter keeps the callback registration alive until Close.
type Exporter struct {
	source  MetricsSource
	common  []attribute.KeyValue
	base    metric.ObserveOption
	reg     metric.Registration
	counts  map[authflow.MetricID]metric.Int64ObservableCounter
	latency []latency
	dropped metric.Int64ObservableCounter
}

// NewExporter creates the instruments on meter and registers a callback
// that reads source at collection time.
func NewExporter(meter metric.Meter, source MetricsSource, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source, counts: make(map[authflow.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs))}
	for _, opt := range opts {
		opt(e)
	}
	e.base = metric.WithAttributes(e.common...)

	var observed []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel counter %s: %w", def.Name, err)
		}
		e.counts[def.ID] = c
		observed = append(observed, c)
	}

	for _, def := range internaldefs.HistogramDefs {
		g, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per le bound."),
			metric.WithUnit("{login}"))
		if err != nil {
			return nil, fmt.Errorf("otel bucket gauge %s: %w", def.Name, err)
		}
		c, err := meter.Int64ObservableCounter(def.Name+"_count", metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("otel sample counter %s: %w", def.Name, err)
		}

		l := latency{id: def.ID, buckets: g, total: c}
		for _, bound := range internaldefs.HistogramBoundLabels {
			kv := append(append([]attribute.KeyValue(nil), e.common...), attribute.String("le", bound))
			l.le = append(l.le, metric.WithAttributes(kv...))
		}
		e.latency = append(e.latency, l)
		observed = append(observed, g, c)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("otel counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.dropped = dropped
	observed = append(observed, dropped)

	reg, err := meter.RegisterCallback(e.collect, observed...)
	if err != nil {
		return nil, fmt.Errorf("otel register callback: %w", err)
	}
	e.reg = reg
	return e, nil
}

func (e *Exporter) collect(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, c := range e.counts {
		o.ObserveInt64(c, int64(snap.Counters[id]), e.base)
	}
	for _, l := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[l.id]))
		for i, opt := range l.le {
			o.ObserveInt64(l.buckets, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(l.total, int64(cumulative[len(cumulative)-1]), e.base)
	}
	o.ObserveInt64(e.dropped, int64(e.source.AuditDropped()), e.base)
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.reg == nil {
		return nil
	}
	return e.reg.Unregister()
}
