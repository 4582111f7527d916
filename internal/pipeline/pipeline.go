// Package pipeline drives the ingestion of one device: every line received
// by the connector is parsed, validated, sequence-checked and enriched, then
// kept in the recent history, persisted, published and checked for alerts.
//
// Lines are processed on a single goroutine in arrival order. Persistence and
// publishing run on their own goroutines behind bounded queues so the
// connector read loop is never blocked by a slow sink.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/launch-telemetry/internal/device"
	"github.com/roman-kulish/launch-telemetry/internal/history"
	"github.com/roman-kulish/launch-telemetry/internal/metrics"
	"github.com/roman-kulish/launch-telemetry/internal/processing"
	"github.com/roman-kulish/launch-telemetry/internal/serial"
	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

// Published event names.
const (
	EventStatus               = "status"
	EventData                 = "data"
	EventAlert                = "alert"
	EventValidationError      = "validation_error"
	EventPacketLoss           = "packet_loss"
	EventMaxReconnectAttempts = "max_reconnect_attempts"
)

const defaultQueueSize = 256

// Connector is the transport a pipeline consumes. *serial.Connector
// implements it.
type Connector interface {
	OnLine(fn func(telemetry.RawLine)) error
	OnStatus(fn func(serial.Status)) error
	Start(ctx context.Context) error
	Stop()
	Reconnect()
	State() serial.State
	Endpoint() string
	Attempts() int
}

// Store is the persistence sink of sensor readings.
type Store interface {
	FindSensorIDByReference(ctx context.Context, reference string) (int64, error)
	InsertReading(ctx context.Context, sensorID, eventID int64, payload any, timestamp time.Time) (int64, error)
}

// Publisher is the sink of named events.
type Publisher interface {
	Publish(channel, event string, payload any) error
}

// WithLogger sets the logger for the pipeline
func WithLogger(logger *slog.Logger) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.logger = logger.With(slog.String("device", string(p.handler.Kind())))
	}
}

// WithStore persists readings of accepted records under eventID.
func WithStore(store Store, eventID int64) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.store = store
		p.eventID = eventID
	}
}

// WithPublisher sets the sink for published events.
func WithPublisher(publisher Publisher) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.publisher = publisher
	}
}

// WithLimits sets the validity ranges records are checked against.
func WithLimits(limits processing.Limits) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.limits = limits
	}
}

// WithAlertThresholds sets the thresholds that raise alerts.
func WithAlertThresholds(thresholds processing.AlertThresholds) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.thresholds = thresholds
	}
}

// WithHistoryCapacity sets how many enriched records are kept in memory.
func WithHistoryCapacity(capacity int) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.historyCapacity = capacity
	}
}

// WithMetrics sets the collectors the pipeline reports to.
func WithMetrics(m *metrics.Device) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithQueueSize sets the capacity of the line, persistence and publish
// queues.
func WithQueueSize(size int) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.queueSize = size
	}
}

type input struct {
	line   *telemetry.RawLine
	status *serial.Status
}

type persistJob struct {
	readings  []device.Reading
	timestamp time.Time
}

type publication struct {
	event   string
	payload any
}

// progress is the part of Stats owned by the processing goroutine.
type progress struct {
	maxAltitude      float64
	flightTime       float64
	lastPacketID     *int64
	parseErrors      int64
	validationErrors int64
}

// Pipeline processes the telemetry of one device.
type Pipeline struct {
	handler   device.Handler
	connector Connector
	channel   string

	limits          processing.Limits
	thresholds      processing.AlertThresholds
	historyCapacity int
	queueSize       int

	validator *processing.Validator
	tracker   *processing.Tracker
	evaluator *processing.Evaluator
	session   processing.Session
	history   *history.Ring[telemetry.EnrichedRecord]

	store     Store
	eventID   int64
	publisher Publisher
	metrics   *metrics.Device
	logger    *slog.Logger

	inbox     chan input
	persists  chan persistJob
	publishes chan publication
	done      chan struct{}

	parseErrorStreak int
	progress         progress
	snapshot         atomic.Pointer[progress]
	running          atomic.Bool
	droppedLines     atomic.Int64
}

// New creates a pipeline for the device handled by handler, reading from
// connector. Without options nothing is persisted or published.
func New(handler device.Handler, connector Connector, options ...func(p *Pipeline)) (*Pipeline, error) {
	p := Pipeline{
		handler:         handler,
		connector:       connector,
		channel:         "telemetry/" + string(handler.Kind()),
		historyCapacity: history.DefaultCapacity,
		queueSize:       defaultQueueSize,
		tracker:         processing.NewTracker(),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	if err := p.limits.Validate(); err != nil {
		return nil, err
	}
	if err := p.thresholds.Validate(); err != nil {
		return nil, err
	}
	if p.store != nil && p.eventID <= 0 {
		return nil, fmt.Errorf("pipeline %s: event ID is required to persist readings", handler.Kind())
	}
	if p.queueSize <= 0 {
		return nil, fmt.Errorf("pipeline %s: invalid queue size %d", handler.Kind(), p.queueSize)
	}

	var err error
	if p.history, err = history.NewRing[telemetry.EnrichedRecord](p.historyCapacity); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", handler.Kind(), err)
	}

	if p.metrics == nil {
		p.metrics = metrics.Discard(string(handler.Kind()))
	}

	p.validator = processing.NewValidator(handler, p.limits)
	p.evaluator = processing.NewEvaluator(p.thresholds)
	p.inbox = make(chan input, p.queueSize)
	p.persists = make(chan persistJob, p.queueSize)
	p.publishes = make(chan publication, p.queueSize)
	p.done = make(chan struct{})
	p.snapshot.Store(&progress{})

	return &p, nil
}

// Device returns the kind of device the pipeline processes.
func (p *Pipeline) Device() telemetry.DeviceKind {
	return p.handler.Kind()
}

// Run starts the connector and processes its lines until ctx is done. On
// return the connector is stopped and queued readings and events have been
// handed to the sinks. A pipeline can only run once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline %s is already running", p.handler.Kind())
	}

	if err := p.connector.OnLine(p.enqueueLine); err != nil {
		return fmt.Errorf("subscribing to lines: %w", err)
	}
	if err := p.connector.OnStatus(p.enqueueStatus); err != nil {
		return fmt.Errorf("subscribing to status: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.persistReadings(context.WithoutCancel(ctx))
	}()
	go func() {
		defer wg.Done()
		p.publishEvents()
	}()

	processed := make(chan struct{})
	go func() {
		defer close(processed)
		p.processInputs(ctx)
	}()

	var err error
	if err = p.connector.Start(ctx); err != nil {
		err = fmt.Errorf("starting connector: %w", err)
		cancel()
	} else {
		p.logger.Info("pipeline started")
		<-ctx.Done()
		p.connector.Stop()
	}

	<-processed
	close(p.persists)
	close(p.publishes)
	wg.Wait()

	p.logger.Info("pipeline stopped")
	return err
}

// Reconnect asks the connector to reconnect with a fresh retry budget.
func (p *Pipeline) Reconnect() {
	p.connector.Reconnect()
}

// Recent returns a copy of the last n enriched records, oldest first.
func (p *Pipeline) Recent(n int) []telemetry.EnrichedRecord {
	return p.history.Recent(n)
}

func (p *Pipeline) enqueueLine(line telemetry.RawLine) {
	select {
	case p.inbox <- input{line: &line}:
	default:
		p.droppedLines.Add(1)
		p.metrics.Dropped("lines")
		p.logger.Warn("line queue full, dropping line", slog.String("line", line.Text))
	}
}

func (p *Pipeline) enqueueStatus(status serial.Status) {
	select {
	case p.inbox <- input{status: &status}:
	case <-p.done:
	}
}

// processInputs handles inputs until ctx is done, then drains what is
// already queued.
func (p *Pipeline) processInputs(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case in := <-p.inbox:
			p.handle(in)
		case <-ctx.Done():
			for {
				select {
				case in := <-p.inbox:
					p.handle(in)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) handle(in input) {
	switch {
	case in.line != nil:
		p.processLine(*in.line)
	case in.status != nil:
		p.processStatus(*in.status)
	}
	snapshot := p.progress
	p.snapshot.Store(&snapshot)
}

func (p *Pipeline) publish(event string, payload any) {
	if p.publisher == nil {
		return
	}

	select {
	case p.publishes <- publication{event: event, payload: payload}:
	default:
		p.metrics.Dropped("publish")
		p.logger.Warn("publish queue full, dropping event", slog.String("event", event))
	}
}

func (p *Pipeline) publishEvents() {
	for pub := range p.publishes {
		if err := p.publisher.Publish(p.channel, pub.event, pub.payload); err != nil {
			p.logger.Warn("publishing event failed", slog.String("event", pub.event), slog.Any("error", err))
		}
	}
}
