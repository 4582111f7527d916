package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// amqpChannel is the subset of *amqp.Channel used for publishing.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes envelopes to a fanout exchange. The routing key is
// the event channel so topic-bound consumers can still filter.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     closer
	ch       amqpChannel
	exchange string
	now      func() time.Time
}

type closer interface {
	Close() error
}

// DialAMQP connects to the broker and declares a durable fanout exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		return nil, errors.New("AMQP exchange name is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}

	if err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return nil, errors.Join(fmt.Errorf("declaring exchange %s: %w", exchange, err), ch.Close(), conn.Close())
	}

	return newAMQPPublisher(conn, ch, exchange), nil
}

func newAMQPPublisher(conn closer, ch amqpChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, now: time.Now}
}

func (p *AMQPPublisher) Publish(channel, event string, payload any) error {
	now := p.now().UTC()
	body, err := json.Marshal(Envelope{Channel: channel, Event: event, Payload: payload, Time: now})
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.Publish(p.exchange, channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Type:         event,
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s event: %w", event, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.ch.Close(), p.conn.Close())
}
