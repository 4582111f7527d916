package storage

import (
	"database/sql"
	"encoding/json"
	"time"
)

type EventKind string

const (
	EventLaunch EventKind = "launch"
	EventTest   EventKind = "test"
)

const (
	StatusActive   = "active"
	StatusFinished = "finished"
)

// Device is a flight device registered in storage.
type Device struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Kind string `db:"kind"`
}

// Sensor is a sensor of a device, looked up by its reference.
type Sensor struct {
	ID        int64  `db:"id"`
	DeviceID  int64  `db:"device_id"`
	Name      string `db:"name"`
	Kind      string `db:"kind"`
	Reference string `db:"reference"`
	Status    string `db:"status"`
}

// Event is a launch or test campaign readings are attached to.
type Event struct {
	ID          int64
	Kind        EventKind
	Name        string
	Description string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string
}

// Reading is a structured sensor reading.
type Reading struct {
	ID        int64
	SensorID  int64
	EventID   int64
	Payload   json.RawMessage
	Timestamp time.Time
}

type eventData struct {
	ID          int64         `db:"id"`
	Kind        string        `db:"kind"`
	Name        string        `db:"name"`
	Description string        `db:"description"`
	StartedAt   int64         `db:"started_at"`
	EndedAt     sql.NullInt64 `db:"ended_at"`
	Status      string        `db:"status"`
}

type readingData struct {
	ID       int64  `db:"id"`
	SensorID int64  `db:"sensor_id"`
	EventID  int64  `db:"event_id"`
	Payload  []byte `db:"payload"`
	ReadAt   int64  `db:"read_at"`
}
