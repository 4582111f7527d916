package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/launch-telemetry/internal/device"
	"github.com/roman-kulish/launch-telemetry/internal/processing"
	"github.com/roman-kulish/launch-telemetry/internal/serial"
	"github.com/roman-kulish/launch-telemetry/internal/storage"
	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

func (p *Pipeline) processLine(line telemetry.RawLine) {
	rec, err := p.handler.Parse(line)
	if errors.Is(err, device.ErrIgnored) {
		p.metrics.LinesIgnored.Inc()
		return
	}
	if err != nil {
		p.parseErrorStreak++
		p.progress.parseErrors++
		p.metrics.ParseErrors.Inc()
		p.logger.Debug(fmt.Sprintf("%s consecutive parse error: %s", humanize.Ordinal(p.parseErrorStreak), err.Error()),
			slog.String("line", line.Text))
		return
	}
	p.parseErrorStreak = 0
	p.metrics.PacketsReceived.Inc()

	if violations := p.validator.Validate(rec); len(violations) > 0 {
		p.progress.validationErrors++
		p.metrics.ValidationErrors.Inc()
		p.logger.Warn("record rejected", packetIDAttr(rec.PacketID), slog.Any("errors", violations))
		p.publish(EventValidationError, telemetry.ValidationFailure{
			Device:     rec.Device,
			PacketID:   rec.PacketID,
			Violations: violations,
			Record:     rec,
		})
		return
	}

	var alerts []telemetry.Alert
	if rec.PacketID != nil {
		if alert, ok := p.trackSequence(*rec.PacketID, rec.ReceivedAt); ok {
			alerts = append(alerts, alert)
		}
		p.progress.lastPacketID = rec.PacketID
	}

	enriched := telemetry.EnrichedRecord{
		Record:  *rec,
		Metrics: processing.Derive(rec, &p.session, p.tracker.Stats(string(rec.Device))),
	}
	for _, event := range p.session.Advance(&enriched) {
		p.logger.Info(fmt.Sprintf("flight event %s", event.Type),
			slog.String("from", string(event.From)),
			slog.String("to", string(event.To)),
			slog.Float64("altitude", event.Altitude))
		p.publish(string(event.Type), event)
	}
	p.progress.maxAltitude = enriched.Metrics.MaxAltitude
	p.progress.flightTime = enriched.Metrics.FlightTime

	p.history.Push(enriched)
	p.persist(&enriched)
	p.publish(EventData, enriched)

	for _, alert := range append(alerts, p.evaluator.Evaluate(&enriched)...) {
		p.metrics.Alert(string(alert.Type))
		p.logger.Info(alert.Message, slog.String("alert", string(alert.Type)), slog.String("severity", string(alert.Severity)))
		p.publish(EventAlert, alert)
	}
}

// trackSequence feeds packetID to the tracker, reports lost packets and
// returns a loss alert when the loss rate crosses its threshold.
func (p *Pipeline) trackSequence(packetID int64, now time.Time) (telemetry.Alert, bool) {
	kind := p.handler.Kind()
	obs := p.tracker.Observe(string(kind), packetID)

	if obs.Anomaly {
		p.metrics.SequenceAnomalies.Inc()
		p.logger.Debug("packet id did not advance, restarting sequence",
			slog.Int64("lastId", obs.LastID), slog.Int64("packetId", packetID))
	}
	if obs.Lost == 0 {
		return telemetry.Alert{}, false
	}

	stats := p.tracker.Stats(string(kind))
	p.metrics.PacketsLost.Add(float64(obs.Lost))
	p.logger.Warn(fmt.Sprintf("lost %s packets", humanize.Comma(obs.Lost)),
		slog.Int64("lastId", obs.LastID),
		slog.Int64("packetId", packetID),
		slog.String("totalLost", humanize.Comma(obs.TotalLost)))

	p.publish(EventPacketLoss, telemetry.PacketLoss{
		Device:    kind,
		Lost:      obs.Lost,
		TotalLost: obs.TotalLost,
		LastID:    obs.LastID,
		CurrentID: packetID,
		Rate:      stats.Rate(),
	})

	return p.evaluator.EvaluateLoss(kind, stats, now)
}

func (p *Pipeline) processStatus(status serial.Status) {
	p.metrics.ConnectionState.Set(float64(status.State))
	p.publish(EventStatus, status)

	switch status.State {
	case serial.StateDisconnected, serial.StateStopped:
		// the next session starts clean
		p.session.Reset()
		p.tracker.Reset(string(p.handler.Kind()))
		p.parseErrorStreak = 0
	}

	if status.GaveUp {
		p.publish(EventMaxReconnectAttempts, status)
	}
}

func (p *Pipeline) persist(rec *telemetry.EnrichedRecord) {
	if p.store == nil {
		return
	}

	readings := p.handler.Readings(rec)
	if len(readings) == 0 {
		return
	}

	select {
	case p.persists <- persistJob{readings: readings, timestamp: rec.ReceivedAt}:
	default:
		p.metrics.Dropped("persist")
		p.logger.Warn("persistence queue full, dropping readings", packetIDAttr(rec.PacketID))
	}
}

// persistReadings writes queued readings until the queue is closed. Sensor
// ids are resolved once per reference; unknown references are skipped.
func (p *Pipeline) persistReadings(ctx context.Context) {
	sensors := make(map[string]int64)

	for job := range p.persists {
		for _, reading := range job.readings {
			sensorID, ok := sensors[reading.Reference]
			if !ok {
				id, err := p.store.FindSensorIDByReference(ctx, reading.Reference)
				if errors.Is(err, storage.ErrSensorNotFound) {
					p.logger.Warn("sensor not registered, skipping reading", slog.String("sensor", reading.Reference))
					continue
				}
				if err != nil {
					p.metrics.PersistenceFailures.Inc()
					p.logger.Error(fmt.Sprintf("resolving sensor: %s", err.Error()), slog.String("sensor", reading.Reference))
					continue
				}
				sensors[reading.Reference], sensorID = id, id
			}

			start := time.Now()
			if _, err := p.store.InsertReading(ctx, sensorID, p.eventID, reading.Payload, job.timestamp); err != nil {
				p.metrics.PersistenceFailures.Inc()
				p.logger.Error(fmt.Sprintf("storing reading: %s", err.Error()), slog.String("sensor", reading.Reference))
				continue
			}
			p.metrics.InsertDuration.Observe(time.Since(start).Seconds())
			p.metrics.ReadingsPersisted.Inc()
		}
	}
}

func packetIDAttr(id *int64) slog.Attr {
	if id == nil {
		return slog.String("packetId", "none")
	}
	return slog.Int64("packetId", *id)
}
