// Package store persists sensor measurements and hands every committed
// measurement, in commit order, to a Publisher.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/joulia/joulia-live/internal/telemetry"
)

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

// Default batching values for the SQL stores.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 50 * time.Millisecond
)

// Store is an append-only measurement store.
type Store interface {
	// Append persists m, assigning its ID, and returns the stored value once
	// it is committed and published.
	Append(ctx context.Context, m telemetry.Measurement) (telemetry.Measurement, error)
	QueryMeasurements(ctx context.Context, key telemetry.StreamKey, after time.Time) ([]telemetry.Measurement, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Publisher receives committed measurements.
type Publisher interface {
	Publish(m telemetry.Measurement) int
}

// Stats summarises store contents.
type Stats struct {
	Driver       string `json:"driver"`
	Measurements int64  `json:"measurements"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
}

// Options configures Open.
type Options struct {
	Driver        string
	Path          string
	BatchSize     int
	FlushInterval time.Duration
}

// Open creates the store selected by opts.Driver. Committed measurements
// are passed to pub, which may be nil.
func Open(opts Options, pub Publisher) (Store, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemory(pub), nil
	case DriverDuckDB:
		return NewDuckDB(opts.Path, opts.BatchSize, opts.FlushInterval, pub)
	case DriverSQLite:
		return NewSQLite(opts.Path, opts.BatchSize, opts.FlushInterval, pub)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(telemetry.Measurement) int { return 0 }

func orNop(pub Publisher) Publisher {
	if pub == nil {
		return nopPublisher{}
	}
	return pub
}
