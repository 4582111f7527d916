// Package metrics defines the Prometheus collectors of the ingestion
// pipeline. All series are labelled by device.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "launch_telemetry"

type Collectors struct {
	packets          *prometheus.CounterVec
	ignored          *prometheus.CounterVec
	parseErrors      *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	packetsLost      *prometheus.CounterVec
	anomalies        *prometheus.CounterVec
	persisted        *prometheus.CounterVec
	persistFailures  *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec
	insertDuration   *prometheus.HistogramVec
}

// New registers the pipeline collectors with reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, append([]string{"device"}, labels...))
	}

	return &Collectors{
		packets:          counter("packets_received_total", "Frames parsed into records"),
		ignored:          counter("lines_ignored_total", "Lines that are not telemetry frames"),
		parseErrors:      counter("parse_errors_total", "Lines that failed to parse"),
		validationErrors: counter("validation_errors_total", "Records rejected by validation"),
		packetsLost:      counter("packets_lost_total", "Packets missing from the sequence"),
		anomalies:        counter("sequence_anomalies_total", "Packet ids that did not advance"),
		persisted:        counter("readings_persisted_total", "Sensor readings written to storage"),
		persistFailures:  counter("persistence_failures_total", "Sensor readings that could not be stored"),
		dropped:          counter("dispatch_dropped_total", "Items dropped because a queue was full", "queue"),
		alerts:           counter("alerts_total", "Alerts raised", "type"),
		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Transport state: 0 disconnected, 1 connecting, 2 connected, 3 stopped",
		}, []string{"device"}),
		insertDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insert_duration_seconds",
			Help:      "How long storing one sensor reading takes",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"device"}),
	}
}

// Device holds the collectors of a single device.
type Device struct {
	PacketsReceived     prometheus.Counter
	LinesIgnored        prometheus.Counter
	ParseErrors         prometheus.Counter
	ValidationErrors    prometheus.Counter
	PacketsLost         prometheus.Counter
	SequenceAnomalies   prometheus.Counter
	ReadingsPersisted   prometheus.Counter
	PersistenceFailures prometheus.Counter
	ConnectionState     prometheus.Gauge
	InsertDuration      prometheus.Observer

	dropped *prometheus.CounterVec
	alerts  *prometheus.CounterVec
}

func (c *Collectors) Device(name string) *Device {
	labels := prometheus.Labels{"device": name}
	return &Device{
		PacketsReceived:     c.packets.With(labels),
		LinesIgnored:        c.ignored.With(labels),
		ParseErrors:         c.parseErrors.With(labels),
		ValidationErrors:    c.validationErrors.With(labels),
		PacketsLost:         c.packetsLost.With(labels),
		SequenceAnomalies:   c.anomalies.With(labels),
		ReadingsPersisted:   c.persisted.With(labels),
		PersistenceFailures: c.persistFailures.With(labels),
		ConnectionState:     c.connectionState.With(labels),
		InsertDuration:      c.insertDuration.With(labels),
		dropped:             c.dropped.MustCurryWith(labels),
		alerts:              c.alerts.MustCurryWith(labels),
	}
}

// Dropped counts an item dropped from the named queue.
func (d *Device) Dropped(queue string) {
	d.dropped.WithLabelValues(queue).Inc()
}

// Alert counts a raised alert of the given type.
func (d *Device) Alert(alertType string) {
	d.alerts.WithLabelValues(alertType).Inc()
}

// Discard returns collectors registered nowhere.
func Discard(name string) *Device {
	return New(prometheus.NewRegistry()).Device(name)
}
