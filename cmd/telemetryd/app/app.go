package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roman-kulish/launch-telemetry/internal/cache"
	"github.com/roman-kulish/launch-telemetry/internal/device"
	"github.com/roman-kulish/launch-telemetry/internal/device/cansat"
	"github.com/roman-kulish/launch-telemetry/internal/device/rocket"
	"github.com/roman-kulish/launch-telemetry/internal/metrics"
	"github.com/roman-kulish/launch-telemetry/internal/pipeline"
	"github.com/roman-kulish/launch-telemetry/internal/publish"
	"github.com/roman-kulish/launch-telemetry/internal/serial"
	"github.com/roman-kulish/launch-telemetry/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store, err := storage.NewSQLStore(config.Storage.Driver, config.Storage.DSN)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing storage: %s", err.Error()))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.New(registry)

	var hub *publish.Hub
	var publishers publish.Multi
	if config.Publish.Websocket.Enabled {
		hub = publish.NewHub(publish.WithHubLogger(logger))
		publishers = append(publishers, hub)
	}
	if config.Publish.AMQP.URL != "" {
		broker, err := publish.DialAMQP(config.Publish.AMQP.URL, config.Publish.AMQP.Exchange)
		if err != nil {
			return fmt.Errorf("failed to create AMQP publisher: %w", err)
		}
		defer broker.Close()
		publishers = append(publishers, broker)
	}

	pipelines, err := createPipelines(ctx, config, store, publishers, pipelineMetrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create pipelines: %w", err)
	}

	results, err := cache.New[any](time.Duration(config.Cache.TTL), config.Cache.Capacity)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	devices := make(map[string]deviceService, len(pipelines))
	for _, p := range pipelines {
		devices[string(p.Device())] = p
	}

	server := &http.Server{
		Addr:              config.Settings.Listen,
		Handler:           newServer(devices, store, results, hub, registry, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(pipelines)+1)

	if hub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Run(ctx)
		}()
	}

	for _, p := range pipelines {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				errs <- fmt.Errorf("%s pipeline: %w", p.Device(), err)
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(fmt.Sprintf("http server shutdown: %s", err.Error()))
	}

	wg.Wait()
	close(errs)

	var runErrs []error
	for err := range errs {
		runErrs = append(runErrs, err)
	}
	return errors.Join(runErrs...)
}

func createPipelines(ctx context.Context, config *Config, store storage.Store, publishers publish.Multi, c *metrics.Collectors, logger *slog.Logger) ([]*pipeline.Pipeline, error) {
	devices := []struct {
		config  DeviceConfig
		handler device.Handler
	}{
		{config.Devices.Rocket, rocket.New()},
		{config.Devices.CanSat, cansat.New()},
	}

	var pipelines []*pipeline.Pipeline
	for _, d := range devices {
		if !d.config.Enabled {
			continue
		}

		kind := string(d.handler.Kind())
		if err := registerDevice(ctx, store, d.handler); err != nil {
			return nil, fmt.Errorf("registering %s: %w", kind, err)
		}

		eventID, err := resolveEvent(ctx, store, d.config.EventID, &config.Storage.Event, logger)
		if err != nil {
			return nil, fmt.Errorf("resolving event for %s: %w", kind, err)
		}

		connector := serial.NewConnector(kind, serial.SystemPorts{}, d.config.Connector(), serial.WithLogger(logger))

		options := []func(p *pipeline.Pipeline){
			pipeline.WithLogger(logger),
			pipeline.WithStore(store, eventID),
			pipeline.WithLimits(d.config.Limits),
			pipeline.WithAlertThresholds(d.config.Alerts),
			pipeline.WithHistoryCapacity(d.config.HistoryCapacity),
			pipeline.WithMetrics(c.Device(kind)),
		}
		if len(publishers) > 0 {
			options = append(options, pipeline.WithPublisher(publishers))
		}

		p, err := pipeline.New(d.handler, connector, options...)
		if err != nil {
			return nil, err
		}

		logger.Info(fmt.Sprintf("%s pipeline ready", kind),
			slog.Int64("event", eventID),
			slog.String("history", humanize.Comma(int64(d.config.HistoryCapacity))))

		pipelines = append(pipelines, p)
	}

	return pipelines, nil
}

func registerDevice(ctx context.Context, store storage.Store, handler device.Handler) error {
	sensors := handler.Sensors()
	records := make([]storage.Sensor, len(sensors))
	for i, s := range sensors {
		records[i] = storage.Sensor{Name: s.Name, Kind: s.Kind, Reference: s.Reference}
	}

	kind := string(handler.Kind())
	_, err := store.RegisterDevice(ctx, storage.Device{Name: kind, Kind: kind}, records)
	return err
}

// resolveEvent returns the configured event, the latest open event, or a
// newly opened one, in that order.
func resolveEvent(ctx context.Context, store storage.Store, configured int64, event *EventConfig, logger *slog.Logger) (int64, error) {
	if configured > 0 {
		if _, err := store.Event(ctx, configured); err != nil {
			return 0, err
		}
		return configured, nil
	}

	id, err := store.ActiveEventID(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, storage.ErrNoActiveEvent) {
		return 0, err
	}

	now := time.Now().UTC()
	name := event.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", event.Kind, now.Format(time.DateTime))
	}
	if id, err = store.CreateEvent(ctx, event.Kind, name, event.Description, now); err != nil {
		return 0, err
	}

	logger.Info("opened event", slog.Int64("event", id), slog.String("name", name))
	return id, nil
}
