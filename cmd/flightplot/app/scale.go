package app

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	pixelsPerValueLabel = 60.0
	pixelsPerTimeLabel  = 150.0
)

// niceStep returns a 1, 2 or 5 multiple of a power of ten close to the step
// that puts one label every pixelsPerLabel pixels.
func niceStep(span float64, pixels int, pixelsPerLabel float64) float64 {
	if span <= 0 || pixels <= 0 {
		return 1
	}

	target := span / math.Max(1, float64(pixels)/pixelsPerLabel)
	magnitude := math.Pow(10, math.Floor(math.Log10(target)))

	for _, m := range []float64{1, 2, 5} {
		if step := m * magnitude; step >= target {
			return step
		}
	}
	return 10 * magnitude
}

var niceDurations = []time.Duration{
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
}

// niceTimeStep picks the interval between time labels.
func niceTimeStep(duration time.Duration, pixels int) time.Duration {
	labels := math.Max(1, float64(pixels)/pixelsPerTimeLabel)
	rough := time.Duration(float64(duration) / labels)

	for _, d := range niceDurations {
		if rough <= d {
			return d
		}
	}
	return 6 * time.Hour
}

// formatElapsed prints a time label relative to the first sample.
func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return "T+" + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
	}
	return "T+" + d.String()
}

// formatValue prints v with no more decimals than step needs.
func formatValue(v, step float64) string {
	decimals := 0
	if step < 1 {
		decimals = int(math.Ceil(-math.Log10(step)))
	}
	return fmt.Sprintf("%.*f", decimals, v)
}
