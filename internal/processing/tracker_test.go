package processing

import "testing"

func TestTracker_Observe(t *testing.T) {
	tr := NewTracker()

	ids := []int64{1, 2, 3, 6, 7, 10}
	wantLost := []int64{0, 0, 0, 2, 0, 2}

	for i, id := range ids {
		obs := tr.Observe("rocket", id)
		if obs.Lost != wantLost[i] {
			t.Errorf("Observe(%d) lost = %d, want %d", id, obs.Lost, wantLost[i])
		}
		if obs.First != (i == 0) {
			t.Errorf("Observe(%d) first = %v", id, obs.First)
		}
	}

	stats := tr.Stats("rocket")
	if stats.Received != 6 || stats.Lost != 4 {
		t.Errorf("Stats() = %+v, want 6 received, 4 lost", stats)
	}
	if rate := stats.Rate(); rate != 40 {
		t.Errorf("Rate() = %v, want 40", rate)
	}
}

func TestTracker_LostEqualsSumOfGaps(t *testing.T) {
	tr := NewTracker()

	ids := []int64{5, 9, 10, 10, 4, 8, 20}
	var reported, expected int64
	for i, id := range ids {
		obs := tr.Observe("cansat", id)
		reported += obs.Lost
		if i > 0 {
			if gap := id - ids[i-1]; gap > 0 {
				expected += gap - 1
			}
		}
	}

	if reported != expected {
		t.Errorf("reported lost = %d, want %d", reported, expected)
	}
	if got := tr.Stats("cansat").Lost; got != expected {
		t.Errorf("Stats().Lost = %d, want %d", got, expected)
	}
}

func TestTracker_NonAdvancingID(t *testing.T) {
	tr := NewTracker()
	tr.Observe("rocket", 10)

	obs := tr.Observe("rocket", 3)
	if !obs.Anomaly || obs.Lost != 0 {
		t.Errorf("Observe() = %+v, want anomaly without loss", obs)
	}

	// the sequence continues from the restarted id
	if obs = tr.Observe("rocket", 5); obs.Lost != 1 {
		t.Errorf("Observe(5) lost = %d, want 1", obs.Lost)
	}
}

func TestTracker_DevicesAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Observe("rocket", 1)
	tr.Observe("cansat", 100)

	if obs := tr.Observe("rocket", 2); obs.Lost != 0 {
		t.Errorf("rocket lost = %d", obs.Lost)
	}

	tr.Reset("rocket")
	if obs := tr.Observe("rocket", 50); !obs.First || obs.Lost != 0 {
		t.Errorf("after Reset() = %+v", obs)
	}
	if s := tr.Stats("cansat"); s.Received != 1 {
		t.Errorf("cansat stats = %+v", s)
	}
}

func TestLossStats_Rate(t *testing.T) {
	if r := (LossStats{}).Rate(); r != 0 {
		t.Errorf("Rate() = %v, want 0", r)
	}
	if r := (LossStats{Received: 3, Lost: 1}).Rate(); r != 25 {
		t.Errorf("Rate() = %v, want 25", r)
	}
}
