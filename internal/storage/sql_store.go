package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"

	sqliteWriteOptions = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	sqliteReadOptions  = "mode=ro&_busy_timeout=5000"
)

// SQLStore implements Store on SQLite or MySQL. Connections are opened
// lazily; the schema is created on first write access.
type SQLStore struct {
	driver string
	dsn    string

	writeDB     *sqlx.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sqlx.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store for the given driver. For SQLite dsn is the
// database file path; for MySQL it is a go-sql-driver DSN.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("storage DSN is required")
	}
	return &SQLStore{driver: driver, dsn: dsn}, nil
}

func initSchema(ctx context.Context, db *sqlx.DB, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) getWriteDB(ctx context.Context) (*sqlx.DB, error) {
	s.writeDBOnce.Do(func() {
		dsn, schema := s.dsn, mysqlSchemaSQL
		if s.driver == DriverSQLite {
			dsn, schema = fmt.Sprintf("file:%s?%s", s.dsn, sqliteWriteOptions), sqliteSchemaSQL
		}

		db, err := sqlx.Open(s.driver, dsn)
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		if s.driver == DriverSQLite {
			db.SetMaxOpenConns(1)
		}

		if err = initSchema(ctx, db, schema); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SQLStore) getReadDB(ctx context.Context) (*sqlx.DB, error) {
	// the schema must exist before a read-only handle can use it
	writeDB, err := s.getWriteDB(ctx)
	if err != nil {
		return nil, err
	}
	if s.driver != DriverSQLite {
		return writeDB, nil
	}

	s.readDBOnce.Do(func() {
		db, err := sqlx.Open(s.driver, fmt.Sprintf("file:%s?%s", s.dsn, sqliteReadOptions))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SQLStore) RegisterDevice(ctx context.Context, device Device, sensors []Sensor) (deviceID int64, err error) {
	db, err := s.getWriteDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if deviceID, err = getOrInsert(ctx, tx, selectDeviceIDSQL, []any{device.Name}, insertDeviceSQL, []any{device.Name, device.Kind}); err != nil {
		return 0, fmt.Errorf("registering device %s: %w", device.Name, err)
	}

	for _, sensor := range sensors {
		status := sensor.Status
		if status == "" {
			status = StatusActive
		}
		insertArgs := []any{deviceID, sensor.Name, sensor.Kind, sensor.Reference, status}
		if _, err = getOrInsert(ctx, tx, selectSensorIDSQL, []any{sensor.Reference}, insertSensorSQL, insertArgs); err != nil {
			return 0, fmt.Errorf("registering sensor %s: %w", sensor.Reference, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	return deviceID, nil
}

func getOrInsert(ctx context.Context, tx *sqlx.Tx, selectSQL string, selectArgs []any, insertSQL string, insertArgs []any) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, tx.Rebind(selectSQL), selectArgs...)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(insertSQL), insertArgs...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLStore) Sensors(ctx context.Context, deviceName string) ([]Sensor, error) {
	db, err := s.getReadDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	var sensors []Sensor
	if err = db.SelectContext(ctx, &sensors, db.Rebind(selectSensorsSQL), deviceName); err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	return sensors, nil
}

func (s *SQLStore) CreateEvent(ctx context.Context, kind EventKind, name, description string, startedAt time.Time) (int64, error) {
	if kind != EventLaunch && kind != EventTest {
		return 0, fmt.Errorf("invalid event kind %q", kind)
	}

	db, err := s.getWriteDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, db.Rebind(insertEventSQL), string(kind), name, description, toMillis(startedAt), StatusActive)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting event ID: %w", err)
	}
	return id, nil
}

func (s *SQLStore) EndEvent(ctx context.Context, eventID int64, endedAt time.Time) error {
	db, err := s.getWriteDB(ctx)
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, db.Rebind(endEventSQL), toMillis(endedAt), StatusFinished, eventID)
	if err != nil {
		return fmt.Errorf("ending event: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *SQLStore) Event(ctx context.Context, eventID int64) (*Event, error) {
	db, err := s.getReadDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	var data eventData
	if err = db.GetContext(ctx, &data, db.Rebind(selectEventSQL), eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return toEvent(&data), nil
}

func (s *SQLStore) ActiveEventID(ctx context.Context) (int64, error) {
	db, err := s.getReadDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting read connection: %w", err)
	}

	var id int64
	if err = db.GetContext(ctx, &id, selectActiveEventIDSQL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoActiveEvent
		}
		return 0, fmt.Errorf("querying active event: %w", err)
	}
	return id, nil
}

func (s *SQLStore) FindSensorIDByReference(ctx context.Context, reference string) (int64, error) {
	db, err := s.getReadDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting read connection: %w", err)
	}

	var id int64
	if err = db.GetContext(ctx, &id, db.Rebind(selectSensorIDSQL), reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrSensorNotFound, reference)
		}
		return 0, fmt.Errorf("querying sensor: %w", err)
	}
	return id, nil
}

func (s *SQLStore) InsertReading(ctx context.Context, sensorID, eventID int64, payload any, timestamp time.Time) (int64, error) {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	case string:
		data = []byte(p)
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return 0, fmt.Errorf("marshaling payload: %w", err)
		}
	}

	db, err := s.getWriteDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, db.Rebind(insertReadingSQL), sensorID, eventID, string(data), toMillis(timestamp))
	if err != nil {
		return 0, fmt.Errorf("inserting reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting reading ID: %w", err)
	}
	return id, nil
}

// ReadReadings creates a ReadingReader over the readings of the sensor with
// the given reference recorded during an event. The reader pages through the
// data in batches and supports WithTimeRange and WithBatchSize.
//
// The returned reader must be closed after use. Each reader instance should
// only be used from a single goroutine.
func (s *SQLStore) ReadReadings(ctx context.Context, eventID int64, reference string, opts ...ReaderOption) (*ReadingReader, error) {
	db, err := s.getReadDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newReadingReader(db, eventID, reference, opts...)
}

func (s *SQLStore) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.readDB != nil {
			errs = append(errs, s.readDB.Close())
			s.readDB = nil
		}

		if s.writeDB != nil {
			errs = append(errs, s.writeDB.Close())
			s.writeDB = nil
		}

		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}
