// Package device defines how raw serial lines from a flight device are turned
// into telemetry records and storable sensor readings.
package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

// ErrIgnored is returned by Handler.Parse for lines that are not telemetry
// frames, such as modem chatter or boot messages.
var ErrIgnored = errors.New("line ignored")

// ParseError is returned for lines that look like telemetry frames but could
// not be decoded.
type ParseError struct {
	Reason string
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Reason)
}

// NewParseError creates a ParseError for line.
func NewParseError(line, format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Line: line}
}

// Handler interface defines the device specific part of the ingestion
// pipeline. Check returns the device specific violations of a parsed record,
// for example missing sensor groups. Readings returns what is persisted per
// sensor for an accepted record.
type Handler interface {
	Kind() telemetry.DeviceKind
	Parse(line telemetry.RawLine) (*telemetry.Record, error)
	Check(rec *telemetry.Record) []string
	Readings(rec *telemetry.EnrichedRecord) []Reading
	Sensors() []Sensor
}

// Sensor describes a physical sensor and the reference used to look it up
// in storage.
type Sensor struct {
	Name      string
	Kind      string
	Reference string
}

// Reading is a structured sensor reading ready to be persisted under the
// sensor with the given reference.
type Reading struct {
	Reference string
	Payload   map[string]any
}

// Quantity is a value with its unit, the leaf of a reading payload.
type Quantity struct {
	Value telemetry.Number `json:"value"`
	Unit  string           `json:"unit"`
}

// Q is shorthand for a Quantity literal.
func Q(v telemetry.Number, unit string) Quantity {
	return Quantity{Value: v, Unit: unit}
}

// ParseInt parses an integer token. Nil is returned for tokens that are not
// numbers; fractional values are truncated.
func ParseInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &v
	}
	if f := telemetry.ParseNumber(s); f.Valid() {
		v := int64(f)
		return &v
	}
	return nil
}
