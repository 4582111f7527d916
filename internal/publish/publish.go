// Package publish fans pipeline events out to live subscribers.
package publish

import (
	"errors"
	"time"
)

// Envelope is the wire form of a published event.
type Envelope struct {
	Channel string    `json:"channel"`
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

// Publisher sends a named event on a channel such as "telemetry/rocket".
type Publisher interface {
	Publish(channel, event string, payload any) error
}

// Multi publishes to every publisher in order and joins their errors.
type Multi []Publisher

func (m Multi) Publish(channel, event string, payload any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(channel, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(string, string, any) error { return nil }
