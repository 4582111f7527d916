package storage

import (
	_ "embed"
)

const (
	selectDeviceIDSQL = `
SELECT id
FROM devices
WHERE name = ?`

	insertDeviceSQL = `
INSERT INTO devices (name, kind)
VALUES (?, ?)`

	selectSensorIDSQL = `
SELECT id
FROM sensors
WHERE reference = ?`

	insertSensorSQL = `
INSERT INTO sensors (device_id,
                     name,
                     kind,
                     reference,
                     status)
VALUES (?, ?, ?, ?, ?)`

	selectSensorsSQL = `
SELECT s.id,
       s.device_id,
       s.name,
       s.kind,
       s.reference,
       s.status
FROM sensors s
         JOIN devices d ON d.id = s.device_id
WHERE d.name = ?
ORDER BY s.id`

	insertEventSQL = `
INSERT INTO events (kind,
                    name,
                    description,
                    started_at,
                    status)
VALUES (?, ?, ?, ?, ?)`

	endEventSQL = `
UPDATE events
SET ended_at = ?,
    status   = ?
WHERE id = ?`

	selectEventSQL = `
SELECT id,
       kind,
       name,
       description,
       started_at,
       ended_at,
       status
FROM events
WHERE id = ?`

	selectActiveEventIDSQL = `
SELECT id
FROM events
WHERE ended_at IS NULL
  AND status = 'active'
ORDER BY started_at DESC, id DESC
LIMIT 1`

	insertReadingSQL = `
INSERT INTO readings (sensor_id,
                      event_id,
                      payload,
                      read_at)
VALUES (?, ?, ?, ?)`

	selectReadingsSQL = `
SELECT r.id,
       r.sensor_id,
       r.event_id,
       r.payload,
       r.read_at
FROM readings r
         JOIN sensors s ON s.id = r.sensor_id
WHERE r.event_id = ?
  AND s.reference = ?
  AND r.read_at <= ?
  AND (r.read_at > ? OR (r.read_at = ? AND r.id > ?))
ORDER BY r.read_at, r.id
LIMIT ?`
)

var (
	//go:embed schema_sqlite.sql
	sqliteSchemaSQL string

	//go:embed schema_mysql.sql
	mysqlSchemaSQL string
)
