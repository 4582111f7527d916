// Package cansat decodes the comma separated frames sent by the CanSat
// payload:
//
//	CANSAT,<packet id>,<elapsed ms>,<TAG>,<v1>,...,<TAG>,<v1>,...
//
// Every TAG introduces a sensor group with a fixed number of values.
package cansat

import (
	"strings"

	"github.com/roman-kulish/launch-telemetry/internal/device"
	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

const (
	framePrefix = "CANSAT,"

	// Sensor group tags, also used as sensor references in storage.
	RefIMU        = "GY_91_C"
	RefAtmosphere = "SCD_40_C"
	RefGPS        = "GPS_NEO_C"
	RefGas        = "MiCS_4514_C"
)

// group widths, tag included
var widths = map[string]int{
	RefIMU:        9,
	RefAtmosphere: 4,
	RefGPS:        6,
	RefGas:        3,
}

// Handler implements device.Handler for the CanSat.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Kind() telemetry.DeviceKind {
	return telemetry.DeviceCanSat
}

func (h *Handler) Sensors() []device.Sensor {
	return []device.Sensor{
		{Name: "GY-91", Kind: "imu", Reference: RefIMU},
		{Name: "SCD40", Kind: "co2", Reference: RefAtmosphere},
		{Name: "NEO-6M", Kind: "gps", Reference: RefGPS},
		{Name: "MiCS-4514", Kind: "gas", Reference: RefGas},
	}
}

// Parse decodes a CanSat frame. Parsing stops at the first unknown tag and
// the groups decoded so far are kept. Values missing at the end of the line
// are left unset.
func (h *Handler) Parse(line telemetry.RawLine) (*telemetry.Record, error) {
	text := strings.TrimSpace(line.Text)
	if !strings.HasPrefix(text, framePrefix) {
		return nil, device.ErrIgnored
	}

	fields := strings.Split(text, ",")
	if len(fields) < 3 {
		return nil, device.NewParseError(text, "incomplete frame: %d fields", len(fields))
	}

	rec := telemetry.Record{
		Device:     telemetry.DeviceCanSat,
		PacketID:   device.ParseInt(fields[1]),
		DeviceTime: device.ParseInt(fields[2]),
		ReceivedAt: line.ReceivedAt,
	}

	for i := 3; i < len(fields); {
		tag := strings.TrimSpace(fields[i])
		width, ok := widths[tag]
		if !ok {
			break
		}

		v := values(fields, i+1, width-1)
		switch tag {
		case RefIMU:
			rec.Acceleration = &telemetry.Vector3{X: v[0], Y: v[1], Z: v[2]}
			rec.Rotation = &telemetry.Vector3{X: v[3], Y: v[4], Z: v[5]}
			rec.Barometer = &telemetry.Barometer{Temperature: v[6], Pressure: v[7], Altitude: telemetry.NaN()}
		case RefAtmosphere:
			rec.Atmosphere = &telemetry.Atmosphere{CO2: v[0], Temperature: v[1], Humidity: v[2]}
		case RefGPS:
			rec.GPS = &telemetry.GPS{Latitude: v[0], Longitude: v[1], Altitude: v[2], HDOP: v[3], Satellites: v[4]}
		case RefGas:
			rec.Gas = &telemetry.Gas{Reducing: v[0], Oxidising: v[1]}
		}

		i += width
	}

	return &rec, nil
}

func values(fields []string, from, n int) []telemetry.Number {
	out := make([]telemetry.Number, n)
	for j := range out {
		if k := from + j; k < len(fields) {
			out[j] = telemetry.ParseNumber(strings.TrimSpace(fields[k]))
		} else {
			out[j] = telemetry.NaN()
		}
	}
	return out
}

// Check requires a packet id and every sensor group.
func (h *Handler) Check(rec *telemetry.Record) []string {
	var violations []string
	if rec.PacketID == nil {
		violations = append(violations, "missing packet_id")
	}
	if rec.Acceleration == nil || rec.Rotation == nil || rec.Barometer == nil {
		violations = append(violations, "missing "+RefIMU+" group")
	}
	if rec.Atmosphere == nil {
		violations = append(violations, "missing "+RefAtmosphere+" group")
	}
	if rec.GPS == nil {
		violations = append(violations, "missing "+RefGPS+" group")
	}
	if rec.Gas == nil {
		violations = append(violations, "missing "+RefGas+" group")
	}
	return violations
}

// Readings returns the per-sensor payloads for rec.
func (h *Handler) Readings(rec *telemetry.EnrichedRecord) []device.Reading {
	var readings []device.Reading

	if rec.Acceleration != nil && rec.Rotation != nil && rec.Barometer != nil {
		a, r, b := rec.Acceleration, rec.Rotation, rec.Barometer
		readings = append(readings, device.Reading{
			Reference: RefIMU,
			Payload: map[string]any{
				"accelerometer": map[string]device.Quantity{
					"x":         device.Q(a.X, "g"),
					"y":         device.Q(a.Y, "g"),
					"z":         device.Q(a.Z, "g"),
					"magnitude": device.Q(rec.Metrics.Acceleration, "g"),
				},
				"gyroscope": map[string]device.Quantity{
					"x":         device.Q(r.X, "°/s"),
					"y":         device.Q(r.Y, "°/s"),
					"z":         device.Q(r.Z, "°/s"),
					"magnitude": device.Q(rec.Metrics.Rotation, "°/s"),
				},
				"temperature": device.Q(b.Temperature, "C"),
				"pressure":    device.Q(b.Pressure, "Pa"),
				"altitude":    device.Q(rec.Metrics.Altitude, "m"),
			},
		})
	}

	if s := rec.Atmosphere; s != nil {
		readings = append(readings, device.Reading{
			Reference: RefAtmosphere,
			Payload: map[string]any{
				"co2":         device.Q(s.CO2, "ppm"),
				"temperature": device.Q(s.Temperature, "C"),
				"humidity":    device.Q(s.Humidity, "%"),
			},
		})
	}

	if g := rec.GPS; g != nil && rec.Metrics.GPSFix {
		readings = append(readings, device.Reading{
			Reference: RefGPS,
			Payload: map[string]any{
				"location": map[string]any{
					"latitude":  g.Latitude,
					"longitude": g.Longitude,
					"altitude":  device.Q(g.Altitude, "m"),
				},
				"satellites": g.Satellites,
				"hdop":       g.HDOP,
				"fix":        true,
			},
		})
	}

	if m := rec.Gas; m != nil {
		readings = append(readings, device.Reading{
			Reference: RefGas,
			Payload: map[string]any{
				"red": device.Q(m.Reducing, "raw"),
				"nox": device.Q(m.Oxidising, "raw"),
			},
		})
	}

	return readings
}
