package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
)

const defaultBatchSize = 500

// ReaderOption configures a ReadingReader.
type ReaderOption func(*ReadingReader)

// WithTimeRange limits the reader to readings taken within [start, end].
func WithTimeRange(start, end time.Time) ReaderOption {
	return func(r *ReadingReader) {
		r.start = toMillis(start)
		r.end = toMillis(end)
	}
}

// WithBatchSize sets how many readings are fetched per query.
func WithBatchSize(n int) ReaderOption {
	return func(r *ReadingReader) {
		r.batchSize = n
	}
}

// ReadingReader iterates over stored readings in time order, fetching them in
// batches with keyset pagination.
type ReadingReader struct {
	db        *sqlx.DB
	eventID   int64
	reference string
	start     int64
	end       int64
	batchSize int

	cursorTime int64
	cursorID   int64

	batch   []readingData
	pos     int
	current Reading
	done    bool
	err     error
}

func newReadingReader(db *sqlx.DB, eventID int64, reference string, opts ...ReaderOption) (*ReadingReader, error) {
	r := ReadingReader{
		db:        db,
		eventID:   eventID,
		reference: reference,
		start:     0,
		end:       math.MaxInt64,
		batchSize: defaultBatchSize,
	}

	for _, opt := range opts {
		opt(&r)
	}

	if r.db == nil {
		return nil, errors.New("database connection required")
	}
	if r.eventID <= 0 {
		return nil, errors.New("event ID required")
	}
	if r.batchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size: %d", r.batchSize)
	}
	if r.start > r.end {
		return nil, fmt.Errorf("start time %s is after end time %s", fromMillis(r.start), fromMillis(r.end))
	}

	r.cursorTime = r.start
	return &r, nil
}

// Next advances to the next reading. It returns false when all readings have
// been read or an error occurred; check Error to tell them apart.
func (r *ReadingReader) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}

	if r.pos >= len(r.batch) {
		if r.done {
			return false
		}
		if r.err = r.fetch(ctx); r.err != nil || len(r.batch) == 0 {
			return false
		}
	}

	r.current = toReading(&r.batch[r.pos])
	r.pos++
	return true
}

func (r *ReadingReader) fetch(ctx context.Context) error {
	r.batch = r.batch[:0]
	r.pos = 0

	err := r.db.SelectContext(ctx, &r.batch, r.db.Rebind(selectReadingsSQL),
		r.eventID, r.reference, r.end, r.cursorTime, r.cursorTime, r.cursorID, r.batchSize)
	if err != nil {
		return fmt.Errorf("querying readings: %w", err)
	}

	if len(r.batch) < r.batchSize {
		r.done = true
	}
	if n := len(r.batch); n > 0 {
		r.cursorTime = r.batch[n-1].ReadAt
		r.cursorID = r.batch[n-1].ID
	}
	return nil
}

// Current returns the reading Next advanced to.
func (r *ReadingReader) Current() Reading {
	return r.current
}

// Error returns the error that stopped the iteration, if any.
func (r *ReadingReader) Error() error {
	return r.err
}

// Close releases the buffered readings. The reader cannot be used after.
func (r *ReadingReader) Close() error {
	r.batch = nil
	r.done = true
	return nil
}
