package processing

import (
	"fmt"
	"math"

	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

// Checker reports device specific violations of a record.
type Checker interface {
	Check(rec *telemetry.Record) []string
}

// Validator decides whether a parsed record is accepted for processing.
type Validator struct {
	checker Checker
	limits  Limits
}

func NewValidator(checker Checker, limits Limits) *Validator {
	return &Validator{checker: checker, limits: limits}
}

// Validate returns every violation found in rec; an empty result means the
// record is accepted. Values that are not numbers are skipped by the range
// checks.
func (v *Validator) Validate(rec *telemetry.Record) []string {
	var violations []string
	if v.checker != nil {
		violations = append(violations, v.checker.Check(rec)...)
	}

	l := v.limits

	if a := rec.Acceleration; a != nil && l.MaxAcceleration != nil {
		if l.PerAxisAcceleration {
			for _, axis := range []struct {
				name  string
				value telemetry.Number
			}{{"x", a.X}, {"y", a.Y}, {"z", a.Z}} {
				if axis.value.Valid() && math.Abs(axis.value.Float()) > *l.MaxAcceleration {
					violations = append(violations, fmt.Sprintf("acceleration %s %.2f g exceeds %.2f g", axis.name, axis.value.Float(), *l.MaxAcceleration))
				}
			}
		} else if m := a.Magnitude(); m.Valid() && m.Float() > *l.MaxAcceleration {
			violations = append(violations, fmt.Sprintf("acceleration %.2f g exceeds %.2f g", m.Float(), *l.MaxAcceleration))
		}
	}

	if b := rec.Barometer; b != nil {
		violations = appendOutOfRange(violations, "pressure", b.Pressure, l.MinPressure, l.MaxPressure)
		violations = appendOutOfRange(violations, "temperature", b.Temperature, l.MinTemperature, l.MaxTemperature)
	}

	if s := rec.Atmosphere; s != nil {
		violations = appendOutOfRange(violations, "CO2", s.CO2, l.MinCO2, l.MaxCO2)
		violations = appendOutOfRange(violations, "atmosphere temperature", s.Temperature, l.MinTemperature, l.MaxTemperature)
	}

	if link := rec.Link; link != nil {
		violations = appendOutOfRange(violations, "RSSI", link.RSSI, l.MinRSSI, nil)
		violations = appendOutOfRange(violations, "SNR", link.SNR, l.MinSNR, nil)
	}

	return violations
}

func appendOutOfRange(violations []string, name string, n telemetry.Number, lo, hi *float64) []string {
	if !n.Valid() {
		return violations
	}
	switch {
	case lo != nil && n.Float() < *lo:
		return append(violations, fmt.Sprintf("%s %g below %g", name, n.Float(), *lo))
	case hi != nil && n.Float() > *hi:
		return append(violations, fmt.Sprintf("%s %g above %g", name, n.Float(), *hi))
	}
	return violations
}
