package telemetry

import (
	"math"
	"time"
)

// DeviceKind identifies the flight device family a record was produced by.
type DeviceKind string

const (
	DeviceRocket DeviceKind = "rocket"
	DeviceCanSat DeviceKind = "cansat"
)

// FlightState is the state reported by the rocket flight computer.
type FlightState string

const (
	StateGround   FlightState = "GROUND"
	StateLaunched FlightState = "LAUNCHED"
	StateApogee   FlightState = "APOGEE"
	StateDescent  FlightState = "DESCENT"
)

// Valid reports whether s is one of the known flight states.
func (s FlightState) Valid() bool {
	switch s {
	case StateGround, StateLaunched, StateApogee, StateDescent:
		return true
	}
	return false
}

// RawLine is a single line of text read from a serial endpoint.
type RawLine struct {
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Vector3 holds a three-axis measurement (acceleration in g, rotation in °/s).
type Vector3 struct {
	X Number `json:"x"`
	Y Number `json:"y"`
	Z Number `json:"z"`
}

// NewVector3 returns a vector with every axis unset.
func NewVector3() *Vector3 {
	return &Vector3{X: NaN(), Y: NaN(), Z: NaN()}
}

// Magnitude returns the euclidean norm of the vector.
func (v Vector3) Magnitude() Number {
	return Number(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Barometer holds temperature (°C), pressure and, when the device reports it,
// altitude (m). Rocket pressure is in hPa, CanSat pressure in Pa.
type Barometer struct {
	Temperature Number `json:"temperature"`
	Pressure    Number `json:"pressure"`
	Altitude    Number `json:"altitude"`
}

func NewBarometer() *Barometer {
	return &Barometer{Temperature: NaN(), Pressure: NaN(), Altitude: NaN()}
}

// Atmosphere is the CO2/temperature/humidity sensor group.
type Atmosphere struct {
	CO2         Number `json:"co2"`
	Temperature Number `json:"temperature"`
	Humidity    Number `json:"humidity"`
}

func NewAtmosphere() *Atmosphere {
	return &Atmosphere{CO2: NaN(), Temperature: NaN(), Humidity: NaN()}
}

// GPS is a position fix. NoFix is set when the device explicitly reported
// that no fix is available.
type GPS struct {
	Latitude   Number `json:"latitude"`
	Longitude  Number `json:"longitude"`
	Altitude   Number `json:"altitude"`
	HDOP       Number `json:"hdop"`
	Satellites Number `json:"satellites"`
	NoFix      bool   `json:"noFix,omitempty"`
}

func NewGPS() *GPS {
	return &GPS{Latitude: NaN(), Longitude: NaN(), Altitude: NaN(), HDOP: NaN(), Satellites: NaN()}
}

// HasFix reports whether the position is usable: at least one satellite and
// non-zero coordinates.
func (g *GPS) HasFix() bool {
	if g == nil || g.NoFix {
		return false
	}
	return g.Satellites.Valid() && g.Satellites > 0 &&
		g.Latitude.Valid() && g.Latitude != 0 &&
		g.Longitude.Valid() && g.Longitude != 0
}

// Gas holds the raw reducing and oxidising gas sensor channels.
type Gas struct {
	Reducing  Number `json:"reducing"`
	Oxidising Number `json:"oxidising"`
}

func NewGas() *Gas {
	return &Gas{Reducing: NaN(), Oxidising: NaN()}
}

// Link is the radio link quality reported by the receiving modem.
type Link struct {
	RSSI Number `json:"rssi"`
	SNR  Number `json:"snr"`
}

// Record is one parsed telemetry frame. Absent sensor groups are nil.
type Record struct {
	Device     DeviceKind  `json:"device"`
	PacketID   *int64      `json:"packetId"`
	DeviceTime *int64      `json:"deviceTimeMs,omitempty"` // device-side elapsed time in ms
	ReceivedAt time.Time   `json:"receivedAt"`
	State      FlightState `json:"state,omitempty"`
	Checksum   string      `json:"checksum,omitempty"`

	Acceleration *Vector3    `json:"acceleration,omitempty"`
	Rotation     *Vector3    `json:"rotation,omitempty"`
	Barometer    *Barometer  `json:"barometer,omitempty"`
	Atmosphere   *Atmosphere `json:"atmosphere,omitempty"`
	GPS          *GPS        `json:"gps,omitempty"`
	Gas          *Gas        `json:"gas,omitempty"`
	Link         *Link       `json:"link,omitempty"`
}

// Metrics are values derived from a record and the session state that
// preceded it.
type Metrics struct {
	Velocity       float64 `json:"velocity"`       // m/s
	Acceleration   Number  `json:"acceleration"`   // magnitude in g
	Rotation       Number  `json:"rotation"`       // magnitude in °/s
	Altitude       Number  `json:"altitude"`       // m
	MaxAltitude    float64 `json:"maxAltitude"`    // m
	FlightTime     float64 `json:"flightTime"`     // s
	PacketLossRate float64 `json:"packetLossRate"` // percent
	SignalQuality  int     `json:"signalQuality"`  // 0..100
	GPSFix         bool    `json:"gpsFix"`
}

// EnrichedRecord is a validated record together with its derived metrics.
// It is not modified once built.
type EnrichedRecord struct {
	Record
	Metrics Metrics `json:"metrics"`
}
