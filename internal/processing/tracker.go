package processing

import "sync"

// Observation is the result of feeding a packet id to the Tracker.
type Observation struct {
	Lost      int64 // packets missing between the previous id and this one
	TotalLost int64
	LastID    int64
	First     bool // no previous id for the device
	Anomaly   bool // id did not advance (repeat or restart)
}

// LossStats are cumulative counters of one device sequence.
type LossStats struct {
	Received int64 `json:"received"`
	Lost     int64 `json:"lost"`
}

// Rate is the lost share of all expected packets in percent.
func (s LossStats) Rate() float64 {
	total := s.Received + s.Lost
	if total == 0 {
		return 0
	}
	return float64(s.Lost) / float64(total) * 100
}

type sequence struct {
	lastID int64
	stats  LossStats
}

// Tracker detects gaps in per-device packet id sequences. Ids are expected
// to increase by one. An id that does not advance is accepted as a restart
// of the sequence and counts no loss.
type Tracker struct {
	mu      sync.Mutex
	devices map[string]*sequence
}

func NewTracker() *Tracker {
	return &Tracker{devices: make(map[string]*sequence)}
}

// Observe records packetID for deviceID.
func (t *Tracker) Observe(deviceID string, packetID int64) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.devices[deviceID]
	if !ok {
		seq = &sequence{}
		t.devices[deviceID] = seq
	}

	obs := Observation{LastID: seq.lastID, First: !ok}
	if ok {
		switch gap := packetID - seq.lastID; {
		case gap > 1:
			obs.Lost = gap - 1
		case gap <= 0:
			obs.Anomaly = true
		}
	}

	seq.lastID = packetID
	seq.stats.Received++
	seq.stats.Lost += obs.Lost
	obs.TotalLost = seq.stats.Lost

	return obs
}

// Stats returns the counters for deviceID.
func (t *Tracker) Stats(deviceID string) LossStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq, ok := t.devices[deviceID]; ok {
		return seq.stats
	}
	return LossStats{}
}

// Reset forgets the sequence of deviceID.
func (t *Tracker) Reset(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.devices, deviceID)
}
