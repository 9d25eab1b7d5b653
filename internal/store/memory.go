package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/joulia/joulia-live/internal/telemetry"
)

// Memory keeps measurements in process memory.
type Memory struct {
	pub Publisher

	// commitMu orders appends so publication follows commit order.
	commitMu sync.Mutex

	mu     sync.RWMutex
	lastID int64
	rows   map[telemetry.StreamKey][]telemetry.Measurement
	count  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory(pub Publisher) *Memory {
	return &Memory{
		pub:  orNop(pub),
		rows: make(map[telemetry.StreamKey][]telemetry.Measurement),
	}
}

func (s *Memory) Append(ctx context.Context, m telemetry.Measurement) (telemetry.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Measurement{}, err
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	s.lastID++
	m.ID = s.lastID
	m.Time = m.Time.UTC()
	key := m.Key()
	s.rows[key] = append(s.rows[key], m)
	s.count++
	s.mu.Unlock()

	s.pub.Publish(m)
	return m, nil
}

func (s *Memory) QueryMeasurements(ctx context.Context, key telemetry.StreamKey, after time.Time) ([]telemetry.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []telemetry.Measurement
	for _, m := range s.rows[key] {
		if after.IsZero() || m.Time.After(after) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b telemetry.Measurement) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Memory) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Driver: DriverMemory, Measurements: s.count}, nil
}

func (s *Memory) Close() error { return nil }
