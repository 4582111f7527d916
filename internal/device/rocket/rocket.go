// Package rocket decodes frames relayed by the LoRa ground modem for the
// rocket flight computer.
//
// A frame looks like
//
//	+RCV=<address>,<length>,<payload>,<rssi>,<snr>
//
// where payload is a '|' separated list of tokens. Section markers (MPU_R,
// BMP_R, GPS_NEO_R) switch the context in which the following KEY:VALUE
// tokens are interpreted.
package rocket

import (
	"fmt"
	"strings"

	"github.com/roman-kulish/launch-telemetry/internal/device"
	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

const (
	framePrefix    = "+RCV="
	minFrameFields = 5
	payloadField   = 2

	// Sensor references, as registered in storage.
	RefIMU       = "MPU_R"
	RefBarometer = "BMP_R"
	RefGPS       = "GPS_NEO_R"

	noFixToken = "NO_FIX"
)

type section int

const (
	sectionGlobal section = iota
	sectionIMU
	sectionBarometer
	sectionGPS
)

var markers = map[string]section{
	RefIMU:       sectionIMU,
	RefBarometer: sectionBarometer,
	RefGPS:       sectionGPS,
}

// Handler implements device.Handler for the rocket.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Kind() telemetry.DeviceKind {
	return telemetry.DeviceRocket
}

func (h *Handler) Sensors() []device.Sensor {
	return []device.Sensor{
		{Name: "MPU6050", Kind: "accelerometer", Reference: RefIMU},
		{Name: "BMP280", Kind: "barometer", Reference: RefBarometer},
		{Name: "NEO-6M", Kind: "gps", Reference: RefGPS},
	}
}

// Parse decodes a single modem line. Lines without the receive prefix are
// ignored.
func (h *Handler) Parse(line telemetry.RawLine) (*telemetry.Record, error) {
	text := strings.TrimSpace(strings.ReplaceAll(line.Text, "\r", ""))
	if !strings.HasPrefix(text, framePrefix) {
		return nil, device.ErrIgnored
	}

	parts := strings.Split(text, ",")
	if len(parts) < minFrameFields {
		return nil, device.NewParseError(text, "incomplete LoRa frame: %d fields", len(parts))
	}

	rec := telemetry.Record{
		Device:     telemetry.DeviceRocket,
		ReceivedAt: line.ReceivedAt,
	}

	if err := parsePayload(strings.TrimSpace(parts[payloadField]), &rec); err != nil {
		return nil, device.NewParseError(text, "%s", err.Error())
	}

	rec.Link = &telemetry.Link{
		RSSI: telemetry.ParseNumber(strings.TrimSpace(parts[len(parts)-2])),
		SNR:  telemetry.ParseNumber(strings.TrimSpace(parts[len(parts)-1])),
	}

	return &rec, nil
}

func parsePayload(payload string, rec *telemetry.Record) error {
	current := sectionGlobal

	for _, token := range strings.Split(payload, "|") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		key, value, hasValue := strings.Cut(token, ":")

		if !hasValue {
			if s, ok := markers[token]; ok {
				current = s
				openSection(rec, s)
				continue
			}
			if token == noFixToken {
				if rec.GPS != nil {
					rec.GPS.NoFix = true
				}
				continue
			}
			if isMarker(token) {
				return fmt.Errorf("unknown section %q", token)
			}
			continue
		}

		// Global keys are recognised in any section.
		switch key {
		case "ID":
			rec.PacketID = device.ParseInt(value)
			continue
		case "STATE":
			rec.State = telemetry.FlightState(strings.TrimSpace(value))
			continue
		case "CRC":
			rec.Checksum = strings.TrimSpace(value)
			continue
		}

		n := telemetry.ParseNumber(strings.TrimSpace(value))

		switch current {
		case sectionGlobal:
			if key == "T" {
				rec.DeviceTime = device.ParseInt(value)
			}

		case sectionIMU:
			switch key {
			case "AX":
				rec.Acceleration.X = n
			case "AY":
				rec.Acceleration.Y = n
			case "AZ":
				rec.Acceleration.Z = n
			}

		case sectionBarometer:
			switch key {
			case "T":
				rec.Barometer.Temperature = n
			case "P":
				rec.Barometer.Pressure = n
			case "A":
				rec.Barometer.Altitude = n
			}

		case sectionGPS:
			switch key {
			case "LAT":
				rec.GPS.Latitude = n
			case "LON":
				rec.GPS.Longitude = n
			case "ALT":
				rec.GPS.Altitude = n
			case "SATS":
				rec.GPS.Satellites = n
			}
		}
	}

	return nil
}

func openSection(rec *telemetry.Record, s section) {
	switch s {
	case sectionIMU:
		rec.Acceleration = telemetry.NewVector3()
	case sectionBarometer:
		rec.Barometer = telemetry.NewBarometer()
	case sectionGPS:
		rec.GPS = telemetry.NewGPS()
	}
}

// isMarker reports whether token has the shape of a section marker.
func isMarker(token string) bool {
	if !strings.HasSuffix(token, "_R") {
		return false
	}
	for _, r := range token {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

// Check returns the rocket specific violations: a packet id is required and
// the flight state must be one of the known states.
func (h *Handler) Check(rec *telemetry.Record) []string {
	var violations []string
	if rec.PacketID == nil {
		violations = append(violations, "missing packet_id")
	}
	if !rec.State.Valid() {
		violations = append(violations, fmt.Sprintf("invalid flight state %q", rec.State))
	}
	return violations
}

// Readings returns the per-sensor payloads for rec. GPS readings are only
// stored while the receiver has a fix.
func (h *Handler) Readings(rec *telemetry.EnrichedRecord) []device.Reading {
	var readings []device.Reading

	if a := rec.Acceleration; a != nil {
		readings = append(readings, device.Reading{
			Reference: RefIMU,
			Payload: map[string]any{
				"accelerometer": map[string]device.Quantity{
					"x": device.Q(a.X, "g"),
					"y": device.Q(a.Y, "g"),
					"z": device.Q(a.Z, "g"),
				},
			},
		})
	}

	if b := rec.Barometer; b != nil {
		readings = append(readings, device.Reading{
			Reference: RefBarometer,
			Payload: map[string]any{
				"temperature": device.Q(b.Temperature, "C"),
				"pressure":    device.Q(b.Pressure, "hPa"),
				"altitude":    device.Q(b.Altitude, "m"),
			},
		})
	}

	if g := rec.GPS; g != nil && rec.Metrics.GPSFix {
		readings = append(readings, device.Reading{
			Reference: RefGPS,
			Payload: map[string]any{
				"latitude":   g.Latitude,
				"longitude":  g.Longitude,
				"altitude":   device.Q(g.Altitude, "m"),
				"satellites": g.Satellites,
			},
		})
	}

	return readings
}
