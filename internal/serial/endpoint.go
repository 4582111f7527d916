package serial

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrNoEndpoint is returned when discovery finds nothing to connect to.
var ErrNoEndpoint = errors.New("no serial endpoint found")

// Endpoint is a serial port reported by the operating system.
type Endpoint struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

// Discovery configures endpoint selection.
type Discovery struct {
	// Preferred is an endpoint named by the operator, used when it is
	// enumerated.
	Preferred string

	// Manufacturers are case-insensitive substrings matched against the
	// endpoint manufacturer and product description.
	Manufacturers []string

	// Candidates are endpoint names tried in order.
	Candidates []string
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// Select picks the endpoint to connect to:
//
//  1. the preferred endpoint, if configured and enumerated;
//  2. among endpoints whose metadata matches a known manufacturer, the one
//     with the highest trailing number;
//  3. the first enumerated endpoint that is also a candidate;
//  4. the only enumerated endpoint;
//  5. the enumerated endpoint with the highest trailing number.
func (d Discovery) Select(available []Endpoint) (string, error) {
	if len(available) == 0 {
		return "", ErrNoEndpoint
	}

	if d.Preferred != "" {
		for _, e := range available {
			if e.Name == d.Preferred {
				return e.Name, nil
			}
		}
	}

	var matched []Endpoint
	for _, e := range available {
		if d.matchesManufacturer(e) {
			matched = append(matched, e)
		}
	}
	if len(matched) > 0 {
		return highest(matched).Name, nil
	}

	for _, c := range d.Candidates {
		for _, e := range available {
			if e.Name == c {
				return e.Name, nil
			}
		}
	}

	if len(available) == 1 {
		return available[0].Name, nil
	}

	return highest(available).Name, nil
}

func (d Discovery) matchesManufacturer(e Endpoint) bool {
	meta := strings.ToLower(e.Manufacturer + " " + e.Product)
	for _, m := range d.Manufacturers {
		if m != "" && strings.Contains(meta, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// highest returns the endpoint with the highest trailing number, breaking
// ties by name.
func highest(endpoints []Endpoint) Endpoint {
	return slices.MaxFunc(endpoints, func(a, b Endpoint) int {
		if n := suffix(a.Name) - suffix(b.Name); n != 0 {
			if n < 0 {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
}

func suffix(name string) int64 {
	m := trailingDigits.FindString(name)
	if m == "" {
		return -1
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
