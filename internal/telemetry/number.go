package telemetry

import (
	"math"
	"strconv"
)

// Number is a sensor reading. A token that could not be parsed is kept as NaN
// and encodes to JSON null.
type Number float64

// NaN returns the "not a number" sentinel.
func NaN() Number {
	return Number(math.NaN())
}

// ParseNumber parses s as a decimal number, returning NaN if it is not one.
func ParseNumber(s string) Number {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NaN()
	}
	return Number(v)
}

// Valid reports whether n holds a finite value.
func (n Number) Valid() bool {
	f := float64(n)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float returns n as float64.
func (n Number) Float() float64 {
	return float64(n)
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(n), 'f', -1, 64), nil
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = NaN()
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = Number(v)
	return nil
}
