package processing

import "fmt"

// Limits are the physical plausibility bounds applied by the Validator.
// A nil bound is not checked.
type Limits struct {
	MaxAcceleration *float64 `yaml:"maxAcceleration"` // g, magnitude
	MinPressure     *float64 `yaml:"minPressure"`
	MaxPressure     *float64 `yaml:"maxPressure"`
	MinTemperature  *float64 `yaml:"minTemperature"` // °C
	MaxTemperature  *float64 `yaml:"maxTemperature"` // °C
	MinCO2          *float64 `yaml:"minCO2"`         // ppm
	MaxCO2          *float64 `yaml:"maxCO2"`         // ppm
	MinRSSI         *float64 `yaml:"minRSSI"`        // dBm
	MinSNR          *float64 `yaml:"minSNR"`         // dB

	// PerAxisAcceleration applies MaxAcceleration to |x|, |y| and |z|
	// separately instead of to the magnitude.
	PerAxisAcceleration bool `yaml:"perAxisAcceleration"`
}

func (l *Limits) Validate() error {
	if err := checkRange("pressure", l.MinPressure, l.MaxPressure); err != nil {
		return err
	}
	if err := checkRange("temperature", l.MinTemperature, l.MaxTemperature); err != nil {
		return err
	}
	if err := checkRange("CO2", l.MinCO2, l.MaxCO2); err != nil {
		return err
	}
	if l.MaxAcceleration != nil && *l.MaxAcceleration <= 0 {
		return fmt.Errorf("processing.Limits: acceleration limit must be positive: %g", *l.MaxAcceleration)
	}
	return nil
}

// AlertThresholds configure the Evaluator. A nil threshold disables the
// corresponding alert.
type AlertThresholds struct {
	MaxAcceleration *float64 `yaml:"maxAcceleration"` // g, magnitude
	MaxCO2          *float64 `yaml:"maxCO2"`          // ppm
	MaxPacketLoss   *float64 `yaml:"maxPacketLoss"`   // percent of all expected packets
	NoGPSFix        bool     `yaml:"noGPSFix"`
}

func (a *AlertThresholds) Validate() error {
	if a.MaxPacketLoss != nil && (*a.MaxPacketLoss < 0 || *a.MaxPacketLoss > 100) {
		return fmt.Errorf("processing.AlertThresholds: packet loss must be between 0 and 100: %g", *a.MaxPacketLoss)
	}
	return nil
}

func checkRange(name string, lo, hi *float64) error {
	if lo != nil && hi != nil && *lo >= *hi {
		return fmt.Errorf("processing.Limits: %s minimum must be below maximum: %g >= %g", name, *lo, *hi)
	}
	return nil
}

// Float is a helper for building limits in code.
func Float(v float64) *float64 {
	return &v
}
