package pipeline

import (
	"github.com/roman-kulish/launch-telemetry/internal/serial"
	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

// Stats is a snapshot of a pipeline and its connection.
type Stats struct {
	Device            telemetry.DeviceKind `json:"device"`
	State             serial.State         `json:"state"`
	Connected         bool                 `json:"connected"`
	Endpoint          string               `json:"endpoint,omitempty"`
	ReconnectAttempts int                  `json:"reconnectAttempts"`
	TotalPackets      int64                `json:"totalPackets"`
	LostPackets       int64                `json:"lostPackets"`
	LossRate          float64              `json:"lossRate"`
	LastPacketID      *int64               `json:"lastPacketId,omitempty"`
	MaxAltitude       float64              `json:"maxAltitude"`
	FlightTime        float64              `json:"flightTime"`
	BufferSize        int                  `json:"bufferSize"`
	ParseErrors       int64                `json:"parseErrors"`
	ValidationErrors  int64                `json:"validationErrors"`

	// DroppedLines counts lines discarded because the inbox was full. Their
	// packet IDs show up as gaps, so they are also included in LostPackets.
	DroppedLines int64 `json:"droppedLines"`
}

// Stats may be called from any goroutine.
func (p *Pipeline) Stats() Stats {
	kind := p.handler.Kind()
	loss := p.tracker.Stats(string(kind))
	progress := p.snapshot.Load()
	state := p.connector.State()

	return Stats{
		Device:            kind,
		State:             state,
		Connected:         state == serial.StateConnected,
		Endpoint:          p.connector.Endpoint(),
		ReconnectAttempts: p.connector.Attempts(),
		TotalPackets:      loss.Received,
		LostPackets:       loss.Lost,
		LossRate:          loss.Rate(),
		LastPacketID:      progress.lastPacketID,
		MaxAltitude:       progress.maxAltitude,
		FlightTime:        progress.flightTime,
		BufferSize:        p.history.Len(),
		ParseErrors:       progress.parseErrors,
		ValidationErrors:  progress.validationErrors,
		DroppedLines:      p.droppedLines.Load(),
	}
}
