package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	store, err := NewSQLStore(DriverSQLite, filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLStore(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		wantErr bool
	}{
		{"sqlite", DriverSQLite, "test.db", false},
		{"mysql", DriverMySQL, "user:pass@tcp(localhost:3306)/telemetry", false},
		{"unknown driver", "postgres", "test", true},
		{"empty dsn", DriverSQLite, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSQLStore(tt.driver, tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSQLStore() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterDevice(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sensors := []Sensor{
		{Name: "MPU6050", Kind: "imu", Reference: "MPU_R"},
		{Name: "BMP280", Kind: "barometer", Reference: "BMP_R"},
	}

	id, err := store.RegisterDevice(ctx, Device{Name: "rocket", Kind: "rocket"}, sensors)
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	// registering again adds only the new sensor
	sensors = append(sensors, Sensor{Name: "NEO-6M", Kind: "gps", Reference: "GPS_NEO_R"})
	again, err := store.RegisterDevice(ctx, Device{Name: "rocket", Kind: "rocket"}, sensors)
	if err != nil {
		t.Fatalf("RegisterDevice() second call error = %v", err)
	}
	if again != id {
		t.Errorf("RegisterDevice() id = %d, want %d", again, id)
	}

	got, err := store.Sensors(ctx, "rocket")
	if err != nil {
		t.Fatalf("Sensors() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Sensors() returned %d sensors, want 3", len(got))
	}
	for i, s := range got {
		if s.Reference != sensors[i].Reference {
			t.Errorf("sensor %d reference = %s, want %s", i, s.Reference, sensors[i].Reference)
		}
		if s.DeviceID != id {
			t.Errorf("sensor %d device_id = %d, want %d", i, s.DeviceID, id)
		}
		if s.Status != StatusActive {
			t.Errorf("sensor %d status = %s, want %s", i, s.Status, StatusActive)
		}
	}

	if _, err = store.FindSensorIDByReference(ctx, "BMP_R"); err != nil {
		t.Errorf("FindSensorIDByReference(BMP_R) error = %v", err)
	}
	if _, err = store.FindSensorIDByReference(ctx, "SCD_40_C"); !errors.Is(err, ErrSensorNotFound) {
		t.Errorf("FindSensorIDByReference(SCD_40_C) error = %v, want ErrSensorNotFound", err)
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.ActiveEventID(ctx); !errors.Is(err, ErrNoActiveEvent) {
		t.Fatalf("ActiveEventID() error = %v, want ErrNoActiveEvent", err)
	}

	if _, err := store.CreateEvent(ctx, "flight", "x", "", time.Now()); err == nil {
		t.Error("CreateEvent() with invalid kind succeeded")
	}

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id, err := store.CreateEvent(ctx, EventLaunch, "Launch 1", "first flight", start)
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}

	active, err := store.ActiveEventID(ctx)
	if err != nil {
		t.Fatalf("ActiveEventID() error = %v", err)
	}
	if active != id {
		t.Errorf("ActiveEventID() = %d, want %d", active, id)
	}

	end := start.Add(15 * time.Minute)
	if err = store.EndEvent(ctx, id, end); err != nil {
		t.Fatalf("EndEvent() error = %v", err)
	}

	event, err := store.Event(ctx, id)
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	if event.Kind != EventLaunch || event.Name != "Launch 1" || event.Status != StatusFinished {
		t.Errorf("Event() = %+v", event)
	}
	if !event.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", event.StartedAt, start)
	}
	if event.EndedAt == nil || !event.EndedAt.Equal(end) {
		t.Errorf("EndedAt = %v, want %v", event.EndedAt, end)
	}

	if _, err = store.ActiveEventID(ctx); !errors.Is(err, ErrNoActiveEvent) {
		t.Errorf("ActiveEventID() after end error = %v, want ErrNoActiveEvent", err)
	}
	if _, err = store.Event(ctx, id+100); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("Event(missing) error = %v, want ErrEventNotFound", err)
	}
	if err = store.EndEvent(ctx, id+100, end); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("EndEvent(missing) error = %v, want ErrEventNotFound", err)
	}
}

func TestReadReadings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.RegisterDevice(ctx, Device{Name: "cansat", Kind: "cansat"}, []Sensor{
		{Name: "SCD40", Kind: "atmosphere", Reference: "SCD_40_C"},
		{Name: "GY-91", Kind: "imu", Reference: "GY_91_C"},
	}); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	eventID, err := store.CreateEvent(ctx, EventTest, "bench", "", time.Now())
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}

	scd, err := store.FindSensorIDByReference(ctx, "SCD_40_C")
	if err != nil {
		t.Fatalf("FindSensorIDByReference() error = %v", err)
	}
	gy, err := store.FindSensorIDByReference(ctx, "GY_91_C")
	if err != nil {
		t.Fatalf("FindSensorIDByReference() error = %v", err)
	}

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		// two readings share each timestamp to exercise the keyset cursor
		ts := base.Add(time.Duration(i/2) * time.Second)
		payload := map[string]any{"co2": map[string]any{"value": 400 + i, "unit": "ppm"}}
		if _, err = store.InsertReading(ctx, scd, eventID, payload, ts); err != nil {
			t.Fatalf("InsertReading() error = %v", err)
		}
	}
	if _, err = store.InsertReading(ctx, gy, eventID, []byte(`{"temperature":{"value":22.5,"unit":"C"}}`), base); err != nil {
		t.Fatalf("InsertReading() raw error = %v", err)
	}

	tests := []struct {
		name    string
		opts    []ReaderOption
		wantCO2 []int
	}{
		{
			name:    "all in small batches",
			opts:    []ReaderOption{WithBatchSize(2)},
			wantCO2: []int{400, 401, 402, 403, 404, 405, 406},
		},
		{
			name:    "time range",
			opts:    []ReaderOption{WithTimeRange(base.Add(time.Second), base.Add(2*time.Second)), WithBatchSize(3)},
			wantCO2: []int{402, 403, 404, 405},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := store.ReadReadings(ctx, eventID, "SCD_40_C", tt.opts...)
			if err != nil {
				t.Fatalf("ReadReadings() error = %v", err)
			}
			defer reader.Close()

			var got []int
			for reader.Next(ctx) {
				r := reader.Current()
				if r.SensorID != scd {
					t.Errorf("reading sensor = %d, want %d", r.SensorID, scd)
				}
				var payload struct {
					CO2 struct {
						Value int `json:"value"`
					} `json:"co2"`
				}
				if err := json.Unmarshal(r.Payload, &payload); err != nil {
					t.Fatalf("unmarshal payload: %v", err)
				}
				got = append(got, payload.CO2.Value)
			}
			if err := reader.Error(); err != nil {
				t.Fatalf("reader error = %v", err)
			}

			if len(got) != len(tt.wantCO2) {
				t.Fatalf("read %v, want %v", got, tt.wantCO2)
			}
			for i := range got {
				if got[i] != tt.wantCO2[i] {
					t.Errorf("reading %d co2 = %d, want %d", i, got[i], tt.wantCO2[i])
				}
			}
		})
	}

	if _, err = store.ReadReadings(ctx, eventID, "SCD_40_C", WithBatchSize(0)); err == nil {
		t.Error("ReadReadings() with zero batch size succeeded")
	}
	if _, err = store.ReadReadings(ctx, eventID, "SCD_40_C", WithTimeRange(base.Add(time.Hour), base)); err == nil {
		t.Error("ReadReadings() with inverted range succeeded")
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n CREATE INDEX i ON a (x);\n")
	want := []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}
	if len(got) != len(want) {
		t.Fatalf("splitStatements() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.ActiveEventID(context.Background()); !errors.Is(err, ErrNoActiveEvent) {
		t.Fatalf("ActiveEventID() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
