package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && *err == nil && !errors.Is(rErr, sql.ErrTxDone) {
		*err = rErr
	}
}

func toEvent(d *eventData) *Event {
	e := Event{
		ID:          d.ID,
		Kind:        EventKind(d.Kind),
		Name:        d.Name,
		Description: d.Description,
		StartedAt:   fromMillis(d.StartedAt),
		Status:      d.Status,
	}
	if d.EndedAt.Valid {
		t := fromMillis(d.EndedAt.Int64)
		e.EndedAt = &t
	}
	return &e
}

func toReading(d *readingData) Reading {
	return Reading{
		ID:        d.ID,
		SensorID:  d.SensorID,
		EventID:   d.EventID,
		Payload:   append([]byte(nil), d.Payload...),
		Timestamp: fromMillis(d.ReadAt),
	}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// splitStatements splits a schema script into single statements, since not
// every driver executes multi-statement scripts.
func splitStatements(script string) []string {
	var statements []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			statements = append(statements, s)
		}
	}
	return statements
}
