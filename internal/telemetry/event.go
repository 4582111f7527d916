package telemetry

import "time"

type FlightEventType string

const (
	EventStateChange    FlightEventType = "state_change"
	EventApogeeReached  FlightEventType = "apogee_reached"
	EventGPSFixAcquired FlightEventType = "gps_fix_acquired"
)

// FlightEvent marks a transition observed between consecutive records.
type FlightEvent struct {
	Device    DeviceKind      `json:"device"`
	Type      FlightEventType `json:"type"`
	From      FlightState     `json:"from,omitempty"`
	To        FlightState     `json:"to,omitempty"`
	Altitude  float64         `json:"altitude"`
	PacketID  *int64          `json:"packetId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// PacketLoss is reported when a gap is detected in the packet id sequence.
type PacketLoss struct {
	Device    DeviceKind `json:"device"`
	Lost      int64      `json:"lost"`
	TotalLost int64      `json:"totalLost"`
	LastID    int64      `json:"lastId"`
	CurrentID int64      `json:"currentId"`
	Rate      float64    `json:"rate"`
}

// ValidationFailure is reported for a parsed record that was rejected.
type ValidationFailure struct {
	Device     DeviceKind `json:"device"`
	PacketID   *int64     `json:"packetId,omitempty"`
	Violations []string   `json:"errors"`
	Record     *Record    `json:"record"`
}
