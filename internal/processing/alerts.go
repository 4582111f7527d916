package processing

import (
	"fmt"
	"time"

	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

// Evaluator turns threshold breaches into alerts.
type Evaluator struct {
	thresholds AlertThresholds
}

func NewEvaluator(thresholds AlertThresholds) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks an enriched record against the acceleration, CO2 and GPS
// fix thresholds.
func (e *Evaluator) Evaluate(rec *telemetry.EnrichedRecord) []telemetry.Alert {
	var alerts []telemetry.Alert

	alert := func(typ telemetry.AlertType, sev telemetry.Severity, value, threshold float64, msg string) {
		alerts = append(alerts, telemetry.Alert{
			Device:    rec.Device,
			Type:      typ,
			Severity:  sev,
			Message:   msg,
			Value:     value,
			Threshold: threshold,
			Timestamp: rec.ReceivedAt,
		})
	}

	if limit := e.thresholds.MaxAcceleration; limit != nil {
		if a := rec.Metrics.Acceleration; a.Valid() && a.Float() > *limit {
			alert(telemetry.AlertHighAcceleration, telemetry.SeverityWarning, a.Float(), *limit,
				fmt.Sprintf("acceleration %.2f g above %.2f g", a.Float(), *limit))
		}
	}

	if limit := e.thresholds.MaxCO2; limit != nil && rec.Atmosphere != nil {
		if c := rec.Atmosphere.CO2; c.Valid() && c.Float() > *limit {
			alert(telemetry.AlertHighCO2, telemetry.SeverityWarning, c.Float(), *limit,
				fmt.Sprintf("CO2 %.0f ppm above %.0f ppm", c.Float(), *limit))
		}
	}

	if e.thresholds.NoGPSFix && !rec.Metrics.GPSFix {
		var sats float64
		if rec.GPS != nil && rec.GPS.Satellites.Valid() {
			sats = rec.GPS.Satellites.Float()
		}
		alert(telemetry.AlertNoGPSFix, telemetry.SeverityInfo, sats, 1, "no GPS fix")
	}

	return alerts
}

// EvaluateLoss checks the cumulative loss rate of a device. It is called on
// the packet loss path rather than for every record. Only rockets raise loss
// alerts; other devices report the loss event alone.
func (e *Evaluator) EvaluateLoss(device telemetry.DeviceKind, stats LossStats, now time.Time) (telemetry.Alert, bool) {
	limit := e.thresholds.MaxPacketLoss
	if limit == nil || device != telemetry.DeviceRocket {
		return telemetry.Alert{}, false
	}

	rate := stats.Rate()
	if rate <= *limit {
		return telemetry.Alert{}, false
	}

	return telemetry.Alert{
		Device:    device,
		Type:      telemetry.AlertHighPacketLoss,
		Severity:  telemetry.SeverityWarning,
		Message:   fmt.Sprintf("packet loss %.1f%% above %.1f%%", rate, *limit),
		Value:     rate,
		Threshold: *limit,
		Timestamp: now,
	}, true
}
