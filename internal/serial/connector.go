// Package serial maintains the connection to a flight device receiver over a
// serial port: endpoint discovery, line framing and reconnection with
// exponential backoff.
package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

var (
	// ErrHandlerRegistered is returned when a second line or status consumer
	// is registered.
	ErrHandlerRegistered = errors.New("handler already registered")

	// ErrStopped is returned when starting a connector that was stopped.
	ErrStopped = errors.New("connector stopped")

	// ErrEndpointClosed is reported when the endpoint stops producing data.
	ErrEndpointClosed = errors.New("endpoint closed")

	errDiscoveryTimeout = errors.New("discovery timed out")
)

const (
	DefaultBaudRate             = 115200
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultDiscoveryTimeout     = 10 * time.Second

	// MaxLineLength bounds a single framed line.
	MaxLineLength = 64 * 1024
)

// Config configures a Connector.
type Config struct {
	Discovery

	BaudRate             int
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	DiscoveryTimeout     time.Duration
}

// WithLogger sets the logger for the connector
func WithLogger(logger *slog.Logger) func(c *Connector) {
	return func(c *Connector) {
		c.logger = logger.With(slog.String("device", c.device))
	}
}

// WithClock replaces the wall clock used for timestamps and retry delays.
func WithClock(clock Clock) func(c *Connector) {
	return func(c *Connector) {
		c.clock = clock
	}
}

// Connector owns the serial connection of one device. Lines are delivered to
// a single consumer in arrival order; status changes to a single observer.
type Connector struct {
	device string
	ports  Ports
	config Config
	clock  Clock
	logger *slog.Logger

	mu       sync.Mutex
	onLine   func(telemetry.RawLine)
	onStatus func(Status)
	state    State
	endpoint string
	port     io.Closer

	attempts  atomic.Int32
	reconnect chan struct{}
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewConnector creates a connector for device with a discard logger.
func NewConnector(device string, ports Ports, config Config, options ...func(c *Connector)) *Connector {
	if config.BaudRate <= 0 {
		config.BaudRate = DefaultBaudRate
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	c := Connector{
		device:    device,
		ports:     ports,
		config:    config,
		clock:     realClock{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		reconnect: make(chan struct{}, 1),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// OnLine registers the consumer of received lines.
func (c *Connector) OnLine(fn func(telemetry.RawLine)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onLine != nil {
		return ErrHandlerRegistered
	}
	c.onLine = fn
	return nil
}

// OnStatus registers the observer of status changes.
func (c *Connector) OnStatus(fn func(Status)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onStatus != nil {
		return ErrHandlerRegistered
	}
	c.onStatus = fn
	return nil
}

// Start begins connecting in the background. The connector keeps
// reconnecting until ctx is done, Stop is called or the reconnection budget
// is exhausted; in the last case it waits for Reconnect.
func (c *Connector) Start(ctx context.Context) error {
	if c.State() == StateStopped {
		return ErrStopped
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("connector is already running")
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run(ctx)

	return nil
}

// Stop closes the connection and stops reconnecting. A stopped connector
// cannot be restarted.
func (c *Connector) Stop() {
	if !c.running.Load() {
		c.transition(StateStopped, "", nil)
		return
	}

	c.cancel()
	c.closePort()
	c.wg.Wait()
}

// Reconnect drops the current connection, if any, and retries immediately
// with a fresh reconnection budget.
func (c *Connector) Reconnect() {
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
	c.closePort()
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the endpoint of the current or last connection.
func (c *Connector) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Attempts returns the number of consecutive failed connection attempts.
func (c *Connector) Attempts() int {
	return int(c.attempts.Load())
}

func (c *Connector) run(ctx context.Context) {
	defer func() {
		c.transition(StateStopped, c.Endpoint(), nil)
		c.running.Store(false)
		c.wg.Done()
	}()

	for {
		endpoint, err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		attempt := int(c.attempts.Load()) + 1
		status := c.status(StateDisconnected, endpoint, err)

		if attempt > c.config.MaxReconnectAttempts {
			status.GaveUp = true
			c.logger.Error("giving up reconnecting", slog.Int("attempts", attempt-1))
			c.emit(status)

			select {
			case <-ctx.Done():
				return
			case <-c.reconnect:
				c.attempts.Store(0)
				continue
			}
		}

		c.attempts.Store(int32(attempt))
		delay := Backoff(attempt, c.config.ReconnectBaseDelay)
		status.Attempt, status.Retry = attempt, delay

		c.logger.Warn(fmt.Sprintf("reconnecting in %s", delay), slog.Int("attempt", attempt), slog.Any("error", err))
		c.emit(status)

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(delay):
		case <-c.reconnect:
			c.attempts.Store(0)
		}
	}
}

// connect discovers and opens an endpoint, then reads from it until it
// fails. It returns the endpoint used and the reason the session ended.
func (c *Connector) connect(ctx context.Context) (string, error) {
	c.transition(StateConnecting, "", nil)

	name, err := c.discover(ctx)
	if err != nil {
		return "", err
	}

	port, err := c.ports.Open(name, c.config.BaudRate)
	if err != nil {
		return name, fmt.Errorf("opening %s: %w", name, err)
	}

	c.mu.Lock()
	c.port = port
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.closePort)
	defer stop()

	c.attempts.Store(0)
	c.transition(StateConnected, name, nil)
	c.logger.Info("connected", slog.String("endpoint", name))

	err = c.read(port)
	c.closePort()

	return name, err
}

func (c *Connector) discover(ctx context.Context) (string, error) {
	type result struct {
		endpoints []Endpoint
		err       error
	}

	done := make(chan result, 1)
	go func() {
		endpoints, err := c.ports.List()
		done <- result{endpoints, err}
	}()

	var timeout <-chan time.Time
	if c.config.DiscoveryTimeout > 0 {
		timer := time.NewTimer(c.config.DiscoveryTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("listing serial ports: %w", r.err)
		}
		return c.config.Select(r.endpoints)

	case <-timeout:
		return "", errDiscoveryTimeout

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// read delivers newline framed, trimmed, non-empty lines to the consumer.
// Lines longer than MaxLineLength are discarded and reading continues.
func (c *Connector) read(r io.Reader) error {
	br := bufio.NewReaderSize(r, MaxLineLength)
	for {
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = br.ReadSlice('\n')
			}
			c.logger.Warn(fmt.Sprintf("discarded line longer than %d bytes", MaxLineLength))
			line = nil
		}

		if text := strings.TrimSpace(string(line)); text != "" {
			c.mu.Lock()
			fn := c.onLine
			c.mu.Unlock()

			if fn != nil {
				fn(telemetry.RawLine{Text: text, ReceivedAt: c.clock.Now()})
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return ErrEndpointClosed
			}
			return fmt.Errorf("reading: %w", err)
		}
	}
}

func (c *Connector) closePort() {
	c.mu.Lock()
	port := c.port
	c.port = nil
	c.mu.Unlock()

	if port != nil {
		if err := port.Close(); err != nil {
			c.logger.Debug(fmt.Sprintf("closing port: %s", err.Error()))
		}
	}
}

func (c *Connector) status(state State, endpoint string, err error) Status {
	s := Status{
		Device:    c.device,
		State:     state,
		Connected: state == StateConnected,
		Endpoint:  endpoint,
		Time:      c.clock.Now(),
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

func (c *Connector) transition(state State, endpoint string, err error) {
	c.emit(c.status(state, endpoint, err))
}

// emit records the state of s and notifies the observer. Once stopped the
// connector emits nothing further.
func (c *Connector) emit(s Status) {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.state = s.State
	if s.Endpoint != "" {
		c.endpoint = s.Endpoint
	}
	fn := c.onStatus
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
