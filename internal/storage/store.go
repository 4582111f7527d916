package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSensorNotFound is returned when no sensor has the given reference.
	ErrSensorNotFound = errors.New("sensor not found")

	// ErrNoActiveEvent is returned when no event is currently open.
	ErrNoActiveEvent = errors.New("no active event")

	// ErrEventNotFound is returned when an event does not exist.
	ErrEventNotFound = errors.New("event not found")
)

// Store provides an interface for persisting flight telemetry. It manages
// the registered devices and their sensors, the events (launches and tests)
// readings belong to, and the readings themselves.
type Store interface {
	// RegisterDevice creates the device and any of its sensors not yet
	// registered. Sensors are matched by reference.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - device: Device name and kind
	//   - sensors: Sensors of the device; DeviceID and ID are ignored
	//
	// Returns:
	//   - deviceID: Identifier of the (possibly pre-existing) device
	//   - error: If registration fails or context is cancelled
	RegisterDevice(ctx context.Context, device Device, sensors []Sensor) (deviceID int64, err error)

	// Sensors returns the sensors registered for the named device.
	Sensors(ctx context.Context, deviceName string) ([]Sensor, error)

	// CreateEvent opens a new event and returns its identifier.
	CreateEvent(ctx context.Context, kind EventKind, name, description string, startedAt time.Time) (eventID int64, err error)

	// EndEvent closes an event.
	EndEvent(ctx context.Context, eventID int64, endedAt time.Time) error

	// Event returns a single event, or ErrEventNotFound.
	Event(ctx context.Context, eventID int64) (*Event, error)

	// ActiveEventID returns the most recently started event that is still
	// open, or ErrNoActiveEvent.
	ActiveEventID(ctx context.Context) (int64, error)

	// FindSensorIDByReference resolves a sensor reference, or returns
	// ErrSensorNotFound.
	FindSensorIDByReference(ctx context.Context, reference string) (int64, error)

	// InsertReading stores a reading.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sensorID: Sensor the reading belongs to
	//   - eventID: Event the reading was taken during
	//   - payload: JSON-serializable reading, or raw JSON as []byte
	//   - timestamp: Time of the reading, stored with millisecond precision
	//
	// Returns:
	//   - readingID: Identifier of the stored reading
	//   - error: If storage fails or context is cancelled
	InsertReading(ctx context.Context, sensorID, eventID int64, payload any, timestamp time.Time) (readingID int64, err error)

	// ReadReadings returns a reader over the readings of one sensor within
	// an event, ordered by time.
	ReadReadings(ctx context.Context, eventID int64, reference string, opts ...ReaderOption) (*ReadingReader, error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}
