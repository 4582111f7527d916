package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/streadway/amqp"
)

type recordingPublisher struct {
	events []string
	err    error
}

func (r *recordingPublisher) Publish(channel, event string, _ any) error {
	r.events = append(r.events, channel+" "+event)
	return r.err
}

func TestMulti(t *testing.T) {
	failing := errors.New("broker down")
	a := &recordingPublisher{}
	b := &recordingPublisher{err: failing}
	c := &recordingPublisher{}

	err := Multi{a, b, c}.Publish("telemetry/rocket", "data", nil)
	if !errors.Is(err, failing) {
		t.Errorf("Publish() error = %v, want %v", err, failing)
	}
	for i, p := range []*recordingPublisher{a, b, c} {
		if len(p.events) != 1 || p.events[0] != "telemetry/rocket data" {
			t.Errorf("publisher %d events = %v", i, p.events)
		}
	}

	if err = (Multi{a, c}).Publish("telemetry/cansat", "alert", nil); err != nil {
		t.Errorf("Publish() error = %v, want nil", err)
	}
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeConn struct{ closed bool }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	conn := &fakeConn{}
	p := newAMQPPublisher(conn, ch, "telemetry")
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	if err := p.Publish("telemetry/cansat", "alert", map[string]string{"type": "HIGH_CO2"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if ch.exchange != "telemetry" || ch.key != "telemetry/cansat" {
		t.Errorf("published to %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.Type != "alert" || ch.msg.ContentType != "application/json" || !ch.msg.Timestamp.Equal(fixed) {
		t.Errorf("message = %+v", ch.msg)
	}

	var env struct {
		Channel string            `json:"channel"`
		Event   string            `json:"event"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(ch.msg.Body, &env); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if env.Channel != "telemetry/cansat" || env.Event != "alert" || env.Payload["type"] != "HIGH_CO2" {
		t.Errorf("envelope = %+v", env)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ch.closed || !conn.closed {
		t.Error("Close() did not close channel and connection")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return env
}

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dial(t, srv.URL)
	rocketOnly := dial(t, srv.URL)
	waitFor(t, func() bool { return hub.Clients() == 2 })

	if err := rocketOnly.WriteJSON(request{Action: "subscribe", Channel: "telemetry/rocket"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if !c.subscribed("telemetry/cansat") {
				return true
			}
		}
		return false
	})

	if err := hub.Publish("telemetry/cansat", "data", map[string]int{"packet_id": 7}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := hub.Publish("telemetry/rocket", "alert", map[string]int{"packet_id": 8}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if env := readEnvelope(t, all); env.Channel != "telemetry/cansat" || env.Event != "data" {
		t.Errorf("first envelope = %+v", env)
	}
	if env := readEnvelope(t, all); env.Channel != "telemetry/rocket" || env.Event != "alert" {
		t.Errorf("second envelope = %+v", env)
	}
	if env := readEnvelope(t, rocketOnly); env.Channel != "telemetry/rocket" {
		t.Errorf("subscribed client got %+v", env)
	}

	_ = all.Close()
	waitFor(t, func() bool { return hub.Clients() == 1 })
}

func TestHubPublishWhenBusy(t *testing.T) {
	hub := NewHub() // not running, so nothing drains the queue

	for i := 0; i < broadcastQueueSize; i++ {
		if err := hub.Publish("telemetry/rocket", "data", i); err != nil {
			t.Fatalf("Publish() %d error = %v", i, err)
		}
	}
	if err := hub.Publish("telemetry/rocket", "data", 0); !errors.Is(err, ErrHubBusy) {
		t.Errorf("Publish() on full queue error = %v, want ErrHubBusy", err)
	}
}
