package app

import (
	"testing"
	"time"
)

func TestNiceStep(t *testing.T) {
	tests := []struct {
		span   float64
		pixels int
		want   float64
	}{
		{span: 400, pixels: 600, want: 50},
		{span: 1000, pixels: 600, want: 100},
		{span: 2.3, pixels: 600, want: 0.5},
		{span: 70, pixels: 600, want: 10},
		{span: 0, pixels: 600, want: 1},
	}

	for _, tt := range tests {
		if got := niceStep(tt.span, tt.pixels, pixelsPerValueLabel); got != tt.want {
			t.Errorf("niceStep(%v, %d) = %v, want %v", tt.span, tt.pixels, got, tt.want)
		}
	}
}

func TestNiceTimeStep(t *testing.T) {
	tests := []struct {
		duration time.Duration
		pixels   int
		want     time.Duration
	}{
		{duration: 0, pixels: 1200, want: 100 * time.Millisecond},
		{duration: 4 * time.Second, pixels: 1200, want: 500 * time.Millisecond},
		{duration: 90 * time.Second, pixels: 1200, want: 15 * time.Second},
		{duration: 20 * time.Minute, pixels: 1200, want: 5 * time.Minute},
		{duration: 48 * time.Hour, pixels: 1200, want: 6 * time.Hour},
	}

	for _, tt := range tests {
		if got := niceTimeStep(tt.duration, tt.pixels); got != tt.want {
			t.Errorf("niceTimeStep(%v, %d) = %v, want %v", tt.duration, tt.pixels, got, tt.want)
		}
	}
}

func TestFormatting(t *testing.T) {
	if got := formatElapsed(2500 * time.Millisecond); got != "T+2.5s" {
		t.Errorf("formatElapsed(2.5s) = %q", got)
	}
	if got := formatElapsed(90 * time.Second); got != "T+1m30s" {
		t.Errorf("formatElapsed(90s) = %q", got)
	}
	if got := formatValue(1.5, 0.5); got != "1.5" {
		t.Errorf("formatValue(1.5, 0.5) = %q", got)
	}
	if got := formatValue(400, 50); got != "400" {
		t.Errorf("formatValue(400, 50) = %q", got)
	}
}
