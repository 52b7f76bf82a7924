// Package telemetry reports collector counters as OpenTelemetry observable
// instruments.
package telemetry

import (
	"context"

	"perf-collector/internal/core"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil stats source")
)

type statsSource interface {
	Stats() core.Stats
}

type counterDef struct {
	name  string
	help  string
	value func(core.Stats) uint64
}

var counterDefs = []counterDef{
	{"perf_collector_received_total", "Entries received from the live subscription.", func(s core.Stats) uint64 { return s.Received }},
	{"perf_collector_snapshot_entries_total", "Entries buffered by the initial snapshot.", func(s core.Stats) uint64 { return s.SnapshotEntries }},
	{"perf_collector_dropped_after_cancel_total", "Live entries dropped after cancel.", func(s core.Stats) uint64 { return s.DroppedAfterCancel }},
	{"perf_collector_flushes_total", "Buffer flushes.", func(s core.Stats) uint64 { return s.Flushes }},
	{"perf_collector_delivered_total", "Entries passed to the callback.", func(s core.Stats) uint64 { return s.Delivered }},
	{"perf_collector_filtered_out_total", "Entries removed by the filter.", func(s core.Stats) uint64 { return s.FilteredOut }},
	{"perf_collector_taken_total", "Entries harvested with TakeEntries.", func(s core.Stats) uint64 { return s.Taken }},
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

type observedCounter struct {
	def        counterDef
	instrument metric.Int64ObservableCounter
}

// Exporter observes one collector. Instruments are tagged with the
// collector name so several collectors can share a meter.
type Exporter struct {
	source       statsSource
	attrs        metric.MeasurementOption
	registration metric.Registration
	counters     []observedCounter
	setUp        metric.Int64ObservableGauge
	unsupported  metric.Int64ObservableGauge
}

func NewExporter(meter metric.Meter, name string, source statsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		attrs:    metric.WithAttributes(attribute.String("collector", name)),
		counters: make([]observedCounter, 0, len(counterDefs)),
	}
	observables := make([]metric.Observable, 0, len(counterDefs)+2)

	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, errors.Wrapf(err, "creating observable counter %s", def.name)
		}
		exporter.counters = append(exporter.counters, observedCounter{def: def, instrument: ins})
		observables = append(observables, ins)
	}

	var err error
	exporter.setUp, err = meter.Int64ObservableGauge("perf_collector_set_up",
		metric.WithDescription("1 once the live subscription is open."))
	if err != nil {
		return nil, errors.Wrap(err, "creating set up gauge")
	}
	exporter.unsupported, err = meter.Int64ObservableGauge("perf_collector_unsupported",
		metric.WithDescription("1 if the host cannot observe live entries."))
	if err != nil {
		return nil, errors.Wrap(err, "creating unsupported gauge")
	}
	observables = append(observables, exporter.setUp, exporter.unsupported)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		stats := exporter.source.Stats()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(c.def.value(stats)), exporter.attrs)
		}
		observer.ObserveInt64(exporter.setUp, boolValue(stats.SetUp), exporter.attrs)
		observer.ObserveInt64(exporter.unsupported, boolValue(stats.Unsupported), exporter.attrs)
		return nil
	}, observables...)
	if err != nil {
		return nil, errors.Wrap(err, "registering callback")
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
