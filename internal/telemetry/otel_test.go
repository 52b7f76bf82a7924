package telemetry

import (
	"context"
	"testing"

	"perf-collector/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	stats core.Stats
}

func (f *fakeSource) Stats() core.Stats { return f.stats }

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterReportsStats(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("perf-collector-test")

	src := &fakeSource{stats: core.Stats{Received: 7, Flushes: 3, Delivered: 5, FilteredOut: 2, SetUp: true}}
	exp, err := NewExporter(meter, "main", src)
	require.NoError(t, err)
	defer func() { assert.NoError(t, exp.Close()) }()

	values := collect(t, reader)
	assert.EqualValues(t, 7, values["perf_collector_received_total"])
	assert.EqualValues(t, 3, values["perf_collector_flushes_total"])
	assert.EqualValues(t, 5, values["perf_collector_delivered_total"])
	assert.EqualValues(t, 2, values["perf_collector_filtered_out_total"])
	assert.EqualValues(t, 1, values["perf_collector_set_up"])
	assert.EqualValues(t, 0, values["perf_collector_unsupported"])

	src.stats.Received = 9
	assert.EqualValues(t, 9, collect(t, reader)["perf_collector_received_total"])
}

func TestExporterRejectsNilArguments(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("x")

	_, err := NewExporter(nil, "main", &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
	_, err = NewExporter(meter, "main", nil)
	assert.ErrorIs(t, err, ErrNilSource)
}
