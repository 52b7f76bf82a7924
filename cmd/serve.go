package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perf-collector/internal/config"
	"perf-collector/internal/core"
	"perf-collector/internal/host"
	"perf-collector/internal/server"
	"perf-collector/internal/telemetry"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const (
	listenFlagName  = "listen"
	shutdownTimeout = 10 * time.Second
)

func Serve() cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "accept entries over HTTP and relay collected batches",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  listenFlagName,
				Usage: "address to listen on, overrides the config file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.GlobalString(confFlagName))
			if err != nil {
				return err
			}
			if addr := c.String(listenFlagName); addr != "" {
				cfg.Listen = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func loadConfig(path string) (config.File, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func timelineOptions(cfg config.TimelineConfig) []host.Option {
	opts := []host.Option{host.WithCapacity(cfg.Capacity), host.WithObserverBuffer(cfg.ObserverBuffer)}
	if cfg.Unsupported {
		opts = append(opts, host.WithoutObserver())
	}
	return opts
}

func serve(ctx context.Context, cfg config.File) error {
	tl := host.NewTimeline(timelineOptions(cfg.Timeline)...)

	out, err := buildSinks(ctx, cfg.Sinks, tl)
	if err != nil {
		return errors.Wrap(err, "building sinks")
	}
	defer func() {
		grip.Warning(message.WrapError(out.Close(), message.Fields{
			"message": "closing sinks",
		}))
	}()

	collectorCfg := cfg.Collector.CoreConfig()
	collectorCfg.Callback = out.relay.Callback(context.WithoutCancel(ctx))
	collectorCfg.OnSetUp = func() {
		grip.Info(message.Fields{"message": "collector set up", "perf_collector_set_up": 1})
	}
	collectorCfg.OnUnsupported = func() {
		grip.Warning(message.Fields{"message": "collector running snapshot only", "perf_collector_unsupported": 1})
	}
	collector, err := core.Start(tl, collectorCfg)
	if err != nil {
		return errors.Wrap(err, "starting collector")
	}
	defer collector.Cancel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter, err := telemetry.NewExporter(provider.Meter("perf-collector"), "main", collector)
	if err != nil {
		return errors.Wrap(err, "registering metrics")
	}
	if cfg.MetricsInterval > 0 {
		go logMetricsEvery(ctx, reader, cfg.MetricsInterval)
	}
	defer func() {
		logMetrics(reader)
		grip.Warning(message.WrapError(exporter.Close(), message.Fields{"message": "closing exporter"}))
		grip.Warning(message.WrapError(provider.Shutdown(context.Background()), message.Fields{"message": "shutting down meter provider"}))
	}()

	tl.Ready()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(tl, collector).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		grip.Info(message.Fields{"message": "listening", "addr": cfg.Listen})
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down server")
	}

	if err := drain(shutdownCtx, collector, collectorCfg.Filter, out.relay); err != nil {
		return err
	}
	grip.Info(message.Fields{"message": "stopped", "stats": collector.Stats()})
	return nil
}

// drain stops the collector, then relays what is still buffered through the
// same filter a flush would apply.
func drain(ctx context.Context, collector *core.Collector, filter core.Filter, relay *core.Relay) error {
	collector.Cancel()
	left := filter.Keep(collector.TakeEntries())
	if len(left) == 0 {
		return nil
	}
	_, err := relay.Deliver(ctx, left)
	return errors.Wrap(err, "relaying remaining entries")
}

func logMetricsEvery(ctx context.Context, reader *sdkmetric.ManualReader, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logMetrics(reader)
		}
	}
}

func logMetrics(reader *sdkmetric.ManualReader) {
	values, err := metricValues(context.Background(), reader)
	if err != nil {
		grip.Warning(message.WrapError(err, message.Fields{"message": "collecting metrics"}))
		return
	}
	values["message"] = "collector metrics"
	grip.Info(values)
}

// metricValues reads the current value of every int64 counter and gauge.
func metricValues(ctx context.Context, reader *sdkmetric.ManualReader) (message.Fields, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, errors.Wrap(err, "collecting metrics")
	}
	values := message.Fields{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			}
		}
	}
	return values, nil
}
