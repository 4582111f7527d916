package app

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/launch-telemetry/internal/storage"
)

func TestFieldValue(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		path     string
		want     float64
		wantUnit string
		wantOK   bool
		wantErr  bool
	}{
		{
			name:     "quantity",
			payload:  `{"altitude":{"value":412.5,"unit":"m"}}`,
			path:     "altitude",
			want:     412.5,
			wantUnit: "m",
			wantOK:   true,
		},
		{
			name:    "plain number",
			payload: `{"satellites":7}`,
			path:    "satellites",
			want:    7,
			wantOK:  true,
		},
		{
			name:     "nested quantity",
			payload:  `{"accelerometer":{"x":{"value":0.1,"unit":"g"},"magnitude":{"value":3.2,"unit":"g"}}}`,
			path:     "accelerometer.magnitude",
			want:     3.2,
			wantUnit: "g",
			wantOK:   true,
		},
		{
			name:     "null value",
			payload:  `{"altitude":{"value":null,"unit":"m"}}`,
			path:     "altitude",
			wantUnit: "m",
		},
		{
			name:    "missing field",
			payload: `{"pressure":{"value":1003.2,"unit":"hPa"}}`,
			path:    "altitude",
		},
		{
			name:    "not numeric",
			payload: `{"fix":true}`,
			path:    "fix",
			wantErr: true,
		},
		{
			name:    "path through a number",
			payload: `{"satellites":7}`,
			path:    "satellites.count",
		},
		{
			name:    "object without value",
			payload: `{"location":{"latitude":-33.9}}`,
			path:    "location",
			wantErr: true,
		},
		{
			name:    "invalid json",
			payload: `{"altitude":`,
			path:    "altitude",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unit, ok, err := fieldValue(json.RawMessage(tt.payload), tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("fieldValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK || got != tt.want || unit != tt.wantUnit {
				t.Errorf("fieldValue() = %v, %q, %v; want %v, %q, %v", got, unit, ok, tt.want, tt.wantUnit, tt.wantOK)
			}
		})
	}
}

func TestSeriesUpdate(t *testing.T) {
	start := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	readings := []storage.Reading{
		{ID: 1, Payload: json.RawMessage(`{"altitude":{"value":2,"unit":"m"}}`), Timestamp: start},
		{ID: 2, Payload: json.RawMessage(`{"altitude":{"value":null,"unit":"m"}}`), Timestamp: start.Add(time.Second)},
		{ID: 3, Payload: json.RawMessage(`{"altitude":{"value":410,"unit":"m"}}`), Timestamp: start.Add(2 * time.Second)},
		{ID: 4, Payload: json.RawMessage(`{"altitude":{"value":-1.5,"unit":"m"}}`), Timestamp: start.Add(3 * time.Second)},
	}

	s := NewSeries("BMP_R", "altitude")
	if !s.Empty() {
		t.Fatal("new series is not empty")
	}
	for _, r := range readings {
		if err := s.Update(r); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	if len(s.Points) != 3 || s.Skipped != 1 {
		t.Errorf("points = %d skipped = %d, want 3 and 1", len(s.Points), s.Skipped)
	}
	if s.Min != -1.5 || s.Max != 410 {
		t.Errorf("range = [%v, %v], want [-1.5, 410]", s.Min, s.Max)
	}
	if !s.Start.Equal(start) || !s.End.Equal(start.Add(3*time.Second)) {
		t.Errorf("time range = %v - %v", s.Start, s.End)
	}
	if got := s.Label(); got != "BMP_R altitude (m)" {
		t.Errorf("Label() = %q", got)
	}

	err := s.Update(storage.Reading{ID: 9, Payload: json.RawMessage(`{"altitude":"high"}`)})
	if err == nil {
		t.Error("Update() accepted a non numeric value")
	}
}

func TestNewSeriesRange(t *testing.T) {
	s := NewSeries("GAS_R", "co2")
	if s.Min != math.MaxFloat64 || s.Max != -math.MaxFloat64 {
		t.Errorf("initial range = [%v, %v]", s.Min, s.Max)
	}
	if got := s.Label(); got != "GAS_R co2" {
		t.Errorf("Label() = %q", got)
	}
}
