package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roman-kulish/launch-telemetry/internal/storage"
)

// Point is one plotted sample.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is a single payload field of one sensor over time.
type Series struct {
	Reference string
	Field     string
	Unit      string

	Points     []Point
	Start, End time.Time
	Min, Max   float64

	// Skipped counts readings without a usable value for Field.
	Skipped int
}

func NewSeries(reference, field string) *Series {
	return &Series{
		Reference: reference,
		Field:     field,
		Min:       math.MaxFloat64,
		Max:       -math.MaxFloat64,
		Points:    make([]Point, 0),
	}
}

// Update appends the field value of r. Readings are expected in time order.
func (s *Series) Update(r storage.Reading) error {
	value, unit, ok, err := fieldValue(r.Payload, s.Field)
	if err != nil {
		return fmt.Errorf("reading %d: %w", r.ID, err)
	}
	if !ok {
		s.Skipped++
		return nil
	}

	if s.Unit == "" {
		s.Unit = unit
	}
	s.Min = min(s.Min, value)
	s.Max = max(s.Max, value)

	if s.Start.IsZero() || s.Start.After(r.Timestamp) {
		s.Start = r.Timestamp
	}
	if s.End.IsZero() || s.End.Before(r.Timestamp) {
		s.End = r.Timestamp
	}

	s.Points = append(s.Points, Point{Time: r.Timestamp, Value: value})
	return nil
}

func (s *Series) Empty() bool {
	return len(s.Points) == 0
}

// Label names the plotted quantity, e.g. "BMP_R altitude (m)".
func (s *Series) Label() string {
	if s.Unit == "" {
		return s.Reference + " " + s.Field
	}
	return fmt.Sprintf("%s %s (%s)", s.Reference, s.Field, s.Unit)
}

// fieldValue resolves a dotted path in a reading payload. The leaf is either
// a number or a quantity object carrying "value" and "unit". Absent and null
// values are reported with ok set to false.
func fieldValue(payload json.RawMessage, path string) (value float64, unit string, ok bool, err error) {
	if !gjson.ValidBytes(payload) {
		return 0, "", false, errors.New("invalid payload JSON")
	}

	res := gjson.GetBytes(payload, path)
	if !res.Exists() {
		return 0, "", false, nil
	}

	if res.IsObject() {
		unit = res.Get("unit").String()
		if res = res.Get("value"); !res.Exists() {
			return 0, "", false, fmt.Errorf("field %q is not a quantity", path)
		}
	}

	switch res.Type {
	case gjson.Null:
		return 0, unit, false, nil
	case gjson.Number:
		return res.Float(), unit, true, nil
	}
	return 0, "", false, fmt.Errorf("field %q is not numeric: %s", path, res.Raw)
}
