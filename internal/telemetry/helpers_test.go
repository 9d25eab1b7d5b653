package telemetry

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/joulia/joulia-live/internal/auth"
)

type memReader struct {
	mu      sync.Mutex
	rows    []Measurement
	err     error
	onQuery func()
}

func (r *memReader) QueryMeasurements(_ context.Context, key StreamKey, after time.Time) ([]Measurement, error) {
	if r.onQuery != nil {
		r.onQuery()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []Measurement
	for _, m := range r.rows {
		if m.Key() != key {
			continue
		}
		if !after.IsZero() && !m.Time.After(after) {
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Measurement) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *memReader) add(m Measurement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, m)
}

func newTestConn(t *testing.T, queue int) *Connection {
	t.Helper()
	c := NewConnection(auth.Principal{UserID: 1, Username: "brewer"}, queue)
	t.Cleanup(c.Close)
	return c
}

func ptr[T any](v T) *T { return &v }

func measurement(id int64, key StreamKey, at time.Time, value float64) Measurement {
	return Measurement{
		ID:             id,
		RecipeInstance: key.RecipeInstance,
		Sensor:         key.Sensor,
		Time:           at,
		Value:          ptr(value),
	}
}

// drain decodes every frame currently queued on c.
func drain(t *testing.T, c *Connection) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case data := <-c.Outbound():
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

// rowIDs returns the id column of every row in frames, in order.
func rowIDs(frames []Frame) []int64 {
	var ids []int64
	for _, f := range frames {
		for _, row := range f.Data {
			ids = append(ids, int64(row[0].(float64)))
		}
	}
	return ids
}
