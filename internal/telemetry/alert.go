package telemetry

import "time"

type AlertType string

const (
	AlertHighAcceleration AlertType = "HIGH_ACCELERATION"
	AlertHighCO2          AlertType = "HIGH_CO2"
	AlertNoGPSFix         AlertType = "NO_GPS_FIX"
	AlertHighPacketLoss   AlertType = "HIGH_PACKET_LOSS"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Alert is a threshold breach detected on an enriched record or on the
// packet-loss path.
type Alert struct {
	Device    DeviceKind `json:"device"`
	Type      AlertType  `json:"type"`
	Severity  Severity   `json:"severity"`
	Message   string     `json:"message"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
	Timestamp time.Time  `json:"timestamp"`
}
