package processing

import (
	"math"

	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

const (
	seaLevelPressure = 101325.0 // Pa

	defaultSignalQuality = 50

	rssiFloor, rssiCeiling = -120.0, -30.0 // dBm
	snrFloor, snrCeiling   = -20.0, 20.0   // dB
)

// Session is the per-device state carried between consecutive records. The
// zero value is a fresh session.
type Session struct {
	hasPrevious  bool
	prevAltitude float64
	prevTime     int64

	maxAltitude float64
	flightStart *int64
	lastState   telemetry.FlightState
	gpsFix      bool
}

// Derive computes the metrics of rec given the state left by the previous
// record. It does not modify s.
func Derive(rec *telemetry.Record, s *Session, loss LossStats) telemetry.Metrics {
	m := telemetry.Metrics{
		Acceleration:   telemetry.NaN(),
		Rotation:       telemetry.NaN(),
		Altitude:       Altitude(rec),
		MaxAltitude:    s.maxAltitude,
		PacketLossRate: loss.Rate(),
		SignalQuality:  SignalQuality(rec.Link),
		GPSFix:         rec.GPS.HasFix(),
	}

	if rec.Acceleration != nil {
		m.Acceleration = rec.Acceleration.Magnitude()
	}
	if rec.Rotation != nil {
		m.Rotation = rec.Rotation.Magnitude()
	}

	if m.Altitude.Valid() {
		m.MaxAltitude = math.Max(m.MaxAltitude, m.Altitude.Float())

		if s.hasPrevious && rec.DeviceTime != nil {
			if dt := float64(*rec.DeviceTime-s.prevTime) / 1000; dt > 0 {
				m.Velocity = (m.Altitude.Float() - s.prevAltitude) / dt
			}
		}
	}

	if rec.DeviceTime != nil && s.flightStart != nil {
		m.FlightTime = float64(*rec.DeviceTime-*s.flightStart) / 1000
	}

	return m
}

// Advance moves the session past rec and returns the flight events the
// transition produced.
func (s *Session) Advance(rec *telemetry.EnrichedRecord) []telemetry.FlightEvent {
	var events []telemetry.FlightEvent

	event := func(typ telemetry.FlightEventType) telemetry.FlightEvent {
		return telemetry.FlightEvent{
			Device:    rec.Device,
			Type:      typ,
			Altitude:  rec.Metrics.MaxAltitude,
			PacketID:  rec.PacketID,
			Timestamp: rec.ReceivedAt,
		}
	}

	if rec.State.Valid() && rec.State != s.lastState {
		if s.lastState != "" {
			e := event(telemetry.EventStateChange)
			e.From, e.To = s.lastState, rec.State
			events = append(events, e)
		}
		if rec.State == telemetry.StateApogee {
			events = append(events, event(telemetry.EventApogeeReached))
		}
		s.lastState = rec.State
	}

	if rec.Metrics.GPSFix && !s.gpsFix {
		events = append(events, event(telemetry.EventGPSFixAcquired))
	}
	s.gpsFix = rec.Metrics.GPSFix

	if rec.Metrics.Altitude.Valid() && rec.DeviceTime != nil {
		s.hasPrevious = true
		s.prevAltitude = rec.Metrics.Altitude.Float()
		s.prevTime = *rec.DeviceTime
	}
	s.maxAltitude = rec.Metrics.MaxAltitude

	if s.flightStart == nil && inFlight(rec.State) && rec.DeviceTime != nil {
		start := *rec.DeviceTime
		s.flightStart = &start
	}

	return events
}

// Reset returns the session to its initial state.
func (s *Session) Reset() {
	*s = Session{}
}

// MaxAltitude is the highest altitude seen in the session.
func (s *Session) MaxAltitude() float64 {
	return s.maxAltitude
}

// State is the last flight state seen in the session.
func (s *Session) State() telemetry.FlightState {
	return s.lastState
}

func inFlight(state telemetry.FlightState) bool {
	return state.Valid() && state != telemetry.StateGround
}

// Altitude returns the device reported altitude, or the barometric altitude
// derived from pressure when the device does not report one.
func Altitude(rec *telemetry.Record) telemetry.Number {
	b := rec.Barometer
	if b == nil {
		return telemetry.NaN()
	}
	if b.Altitude.Valid() {
		return b.Altitude
	}
	if !b.Pressure.Valid() || b.Pressure <= 0 {
		return telemetry.NaN()
	}

	pressure := b.Pressure.Float()
	if rec.Device == telemetry.DeviceRocket {
		pressure *= 100 // hPa
	}
	return telemetry.Number(BarometricAltitude(pressure))
}

// BarometricAltitude converts pressure in Pa to altitude in meters using the
// international standard atmosphere.
func BarometricAltitude(pressure float64) float64 {
	return 44330 * (1 - math.Pow(pressure/seaLevelPressure, 1/5.255))
}

// SignalQuality maps RSSI and SNR linearly to 0..100 and averages them.
func SignalQuality(link *telemetry.Link) int {
	if link == nil || !link.RSSI.Valid() || !link.SNR.Valid() {
		return defaultSignalQuality
	}

	rssi := scale(link.RSSI.Float(), rssiFloor, rssiCeiling)
	snr := scale(link.SNR.Float(), snrFloor, snrCeiling)

	return int(math.Round((rssi + snr) / 2))
}

func scale(v, lo, hi float64) float64 {
	return math.Max(0, math.Min(100, (v-lo)/(hi-lo)*100))
}
