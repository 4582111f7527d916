package serial

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

// fakeClock fires every timer immediately and records the requested delays.
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

type fakePorts struct {
	mu        sync.Mutex
	endpoints []Endpoint
	readers   []io.ReadCloser
	opened    []string
}

func (p *fakePorts) List() ([]Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints, nil
}

func (p *fakePorts) Open(name string, _ int) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opened = append(p.opened, name)
	if len(p.readers) == 0 {
		return nil, errors.New("resource busy")
	}
	r := p.readers[0]
	p.readers = p.readers[1:]
	return r, nil
}

func collectStatuses(t *testing.T, c *Connector) <-chan Status {
	t.Helper()
	ch := make(chan Status, 64)
	if err := c.OnStatus(func(s Status) { ch <- s }); err != nil {
		t.Fatalf("OnStatus() error = %v", err)
	}
	return ch
}

func waitFor(t *testing.T, ch <-chan Status, match func(Status) bool) Status {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for status")
		}
	}
}

func TestConnector_BackoffAndGiveUp(t *testing.T) {
	clock := &fakeClock{}
	c := NewConnector("rocket", &fakePorts{}, Config{
		ReconnectBaseDelay:   5 * time.Second,
		MaxReconnectAttempts: 5,
	}, WithClock(clock))

	statuses := collectStatuses(t, c)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	gaveUp := waitFor(t, statuses, func(s Status) bool { return s.GaveUp })
	if gaveUp.Connected || gaveUp.Error == "" {
		t.Errorf("give up status = %+v", gaveUp)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}
	got := clock.Delays()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i+1, got[i], want[i])
		}
	}

	// a manual reconnect starts over with a fresh budget
	c.Reconnect()
	retry := waitFor(t, statuses, func(s Status) bool { return s.Attempt > 0 })
	if retry.Attempt != 1 || retry.Retry != 5*time.Second {
		t.Errorf("status after Reconnect() = %+v", retry)
	}
}

func TestConnector_DeliversLinesInOrder(t *testing.T) {
	pr, pw := io.Pipe()
	ports := &fakePorts{
		endpoints: []Endpoint{{Name: "/dev/ttyUSB0", Manufacturer: "FTDI"}},
		readers:   []io.ReadCloser{pr},
	}

	c := NewConnector("cansat", ports, Config{
		Discovery:            Discovery{Manufacturers: []string{"ftdi"}},
		MaxReconnectAttempts: 1,
	}, WithClock(&fakeClock{}))

	lines := make(chan telemetry.RawLine, 16)
	if err := c.OnLine(func(l telemetry.RawLine) { lines <- l }); err != nil {
		t.Fatalf("OnLine() error = %v", err)
	}
	if err := c.OnLine(func(telemetry.RawLine) {}); !errors.Is(err, ErrHandlerRegistered) {
		t.Errorf("second OnLine() error = %v, want ErrHandlerRegistered", err)
	}

	statuses := collectStatuses(t, c)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	connected := waitFor(t, statuses, func(s Status) bool { return s.Connected })
	if connected.Endpoint != "/dev/ttyUSB0" || connected.State != StateConnected {
		t.Errorf("connected status = %+v", connected)
	}
	if c.Attempts() != 0 {
		t.Errorf("Attempts() = %d after connecting", c.Attempts())
	}

	go func() {
		_, _ = io.WriteString(pw, "first\r\n\n  second  \nthird\n")
		_ = pw.Close()
	}()

	for _, want := range []string{"first", "second", "third"} {
		select {
		case l := <-lines:
			if l.Text != want {
				t.Errorf("line = %q, want %q", l.Text, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	lost := waitFor(t, statuses, func(s Status) bool { return s.State == StateDisconnected })
	if lost.Endpoint != "/dev/ttyUSB0" || lost.Error != ErrEndpointClosed.Error() {
		t.Errorf("disconnect status = %+v", lost)
	}

	c.Stop()
	if c.State() != StateStopped {
		t.Errorf("State() = %s after Stop()", c.State())
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop() error = %v, want ErrStopped", err)
	}
}

func TestConnector_StopWhileConnected(t *testing.T) {
	pr, _ := io.Pipe()
	ports := &fakePorts{
		endpoints: []Endpoint{{Name: "COM4"}},
		readers:   []io.ReadCloser{pr},
	}

	c := NewConnector("rocket", ports, Config{}, WithClock(&fakeClock{}))
	statuses := collectStatuses(t, c)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, statuses, func(s Status) bool { return s.Connected })

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}

	stopped := waitFor(t, statuses, func(s Status) bool { return s.State == StateStopped })
	if stopped.Connected {
		t.Errorf("stopped status = %+v", stopped)
	}
}

func TestConnector_ReadSkipsOversizedLine(t *testing.T) {
	c := NewConnector("rocket", &fakePorts{}, Config{}, WithClock(&fakeClock{}))

	var got []string
	if err := c.OnLine(func(l telemetry.RawLine) { got = append(got, l.Text) }); err != nil {
		t.Fatalf("OnLine() error = %v", err)
	}

	input := "before\n" + strings.Repeat("x", 3*MaxLineLength) + "\nafter\n" + strings.Repeat("y", MaxLineLength-1) + "\nlast"
	if err := c.read(strings.NewReader(input)); !errors.Is(err, ErrEndpointClosed) {
		t.Fatalf("read() error = %v, want ErrEndpointClosed", err)
	}

	want := []string{"before", "after", strings.Repeat("y", MaxLineLength-1), "last"}
	if len(got) != len(want) {
		t.Fatalf("read() delivered %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %.20q, want %.20q", i, got[i], want[i])
		}
	}
}
