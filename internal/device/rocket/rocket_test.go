package rocket

import (
	"errors"
	"testing"
	"time"

	"github.com/roman-kulish/launch-telemetry/internal/device"
	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

func line(text string) telemetry.RawLine {
	return telemetry.RawLine{Text: text, ReceivedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestHandler_Parse(t *testing.T) {
	h := New()

	rec, err := h.Parse(line("+RCV=1,60,ID:12|T:3400|STATE:LAUNCHED|MPU_R|AX:0.5|AY:-0.25|AZ:9.8|BMP_R|T:21.5|P:1003.2|A:152.4|GPS_NEO_R|LAT:-33.45|LON:-70.66|ALT:160|SATS:7|CRC:AB12,-45,11\r"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if rec.Device != telemetry.DeviceRocket {
		t.Errorf("Device = %s", rec.Device)
	}
	if rec.PacketID == nil || *rec.PacketID != 12 {
		t.Errorf("PacketID = %v, want 12", rec.PacketID)
	}
	if rec.DeviceTime == nil || *rec.DeviceTime != 3400 {
		t.Errorf("DeviceTime = %v, want 3400", rec.DeviceTime)
	}
	if rec.State != telemetry.StateLaunched {
		t.Errorf("State = %s", rec.State)
	}
	if rec.Checksum != "AB12" {
		t.Errorf("Checksum = %s", rec.Checksum)
	}
	if rec.Acceleration == nil || rec.Acceleration.X != 0.5 || rec.Acceleration.Y != -0.25 || rec.Acceleration.Z != 9.8 {
		t.Errorf("Acceleration = %+v", rec.Acceleration)
	}
	if rec.Barometer == nil || rec.Barometer.Temperature != 21.5 || rec.Barometer.Pressure != 1003.2 || rec.Barometer.Altitude != 152.4 {
		t.Errorf("Barometer = %+v", rec.Barometer)
	}
	if rec.GPS == nil || rec.GPS.Latitude != -33.45 || rec.GPS.Longitude != -70.66 || rec.GPS.Satellites != 7 {
		t.Errorf("GPS = %+v", rec.GPS)
	}
	if !rec.GPS.HasFix() {
		t.Error("GPS should have a fix")
	}
	if rec.Link == nil || rec.Link.RSSI != -45 || rec.Link.SNR != 11 {
		t.Errorf("Link = %+v", rec.Link)
	}
	if !rec.ReceivedAt.Equal(line("").ReceivedAt) {
		t.Errorf("ReceivedAt = %v", rec.ReceivedAt)
	}
}

func TestHandler_ParseEdgeCases(t *testing.T) {
	h := New()

	t.Run("ignores modem chatter", func(t *testing.T) {
		for _, text := range []string{"+OK", "", "LoRa ready", "CANSAT,1,2"} {
			if _, err := h.Parse(line(text)); !errors.Is(err, device.ErrIgnored) {
				t.Errorf("Parse(%q) error = %v, want ErrIgnored", text, err)
			}
		}
	})

	t.Run("incomplete frame", func(t *testing.T) {
		_, err := h.Parse(line("+RCV=1,10,ID:1|STATE:GROUND,-40"))
		var pe *device.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse() error = %v, want *ParseError", err)
		}
		if pe.Line == "" {
			t.Error("ParseError should carry the line")
		}
	})

	t.Run("unknown section marker discards frame", func(t *testing.T) {
		_, err := h.Parse(line("+RCV=1,10,ID:1|STATE:GROUND|MAG_R|X:1,-40,9"))
		var pe *device.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse() error = %v, want *ParseError", err)
		}
	})

	t.Run("explicit no fix", func(t *testing.T) {
		rec, err := h.Parse(line("+RCV=1,10,ID:3|STATE:GROUND|GPS_NEO_R|LAT:-33.4|LON:-70.6|SATS:5|NO_FIX,-40,9"))
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if !rec.GPS.NoFix || rec.GPS.HasFix() {
			t.Errorf("GPS = %+v, want no fix", rec.GPS)
		}
	})

	t.Run("non numeric values become NaN", func(t *testing.T) {
		rec, err := h.Parse(line("+RCV=1,10,ID:x|STATE:GROUND|BMP_R|T:abc|P:1000,n/a,9"))
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if rec.PacketID != nil {
			t.Errorf("PacketID = %v, want nil", *rec.PacketID)
		}
		if rec.Barometer.Temperature.Valid() {
			t.Errorf("Temperature = %v, want NaN", rec.Barometer.Temperature)
		}
		if rec.Barometer.Pressure != 1000 {
			t.Errorf("Pressure = %v", rec.Barometer.Pressure)
		}
		if rec.Barometer.Altitude.Valid() {
			t.Error("absent altitude should be NaN")
		}
		if rec.Link.RSSI.Valid() {
			t.Errorf("RSSI = %v, want NaN", rec.Link.RSSI)
		}
		if rec.Acceleration != nil || rec.GPS != nil {
			t.Error("absent groups should be nil")
		}
	})
}

func TestHandler_Check(t *testing.T) {
	h := New()
	id := int64(1)

	tests := []struct {
		name string
		rec  telemetry.Record
		want int
	}{
		{"valid", telemetry.Record{PacketID: &id, State: telemetry.StateApogee}, 0},
		{"missing id", telemetry.Record{State: telemetry.StateGround}, 1},
		{"unknown state", telemetry.Record{PacketID: &id, State: "HOVER"}, 1},
		{"both", telemetry.Record{}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Check(&tt.rec); len(got) != tt.want {
				t.Errorf("Check() = %v, want %d violations", got, tt.want)
			}
		})
	}
}

func TestHandler_Readings(t *testing.T) {
	h := New()

	rec, err := h.Parse(line("+RCV=1,60,ID:1|STATE:GROUND|MPU_R|AX:0|AY:0|AZ:1|BMP_R|T:20|P:1013|A:0|GPS_NEO_R|NO_FIX,-45,11"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	readings := h.Readings(&telemetry.EnrichedRecord{Record: *rec})
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2 (no GPS without fix)", len(readings))
	}
	if readings[0].Reference != RefIMU || readings[1].Reference != RefBarometer {
		t.Errorf("references = %s, %s", readings[0].Reference, readings[1].Reference)
	}

	p := readings[1].Payload["pressure"].(device.Quantity)
	if p.Value != 1013 || p.Unit != "hPa" {
		t.Errorf("pressure = %+v", p)
	}

	fixed := telemetry.EnrichedRecord{Record: *rec, Metrics: telemetry.Metrics{GPSFix: true}}
	if got := h.Readings(&fixed); len(got) != 3 || got[2].Reference != RefGPS {
		t.Errorf("Readings() with fix = %v", got)
	}
}
