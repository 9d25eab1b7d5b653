// Package telemetry routes sensor measurements between streaming
// connections: it tracks open connections, the streams each connection is
// subscribed to, replays stored history to new subscribers and fans newly
// persisted measurements out to everyone else.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultChunkSize is the maximum number of rows in one data frame.
const DefaultChunkSize = 1000

// StreamKey identifies one sensor's stream within one recipe instance.
type StreamKey struct {
	RecipeInstance int64
	Sensor         int64
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%d/%d", k.RecipeInstance, k.Sensor)
}

// Measurement is one persisted sensor reading. Source is the origin token of
// the connection that produced it, if any.
type Measurement struct {
	ID             int64     `json:"id"`
	RecipeInstance int64     `json:"recipe_instance"`
	Sensor         int64     `json:"sensor"`
	Time           time.Time `json:"time"`
	Value          *float64  `json:"value"`
	Source         string    `json:"source,omitempty"`
}

// Key returns the stream the measurement belongs to.
func (m Measurement) Key() StreamKey {
	return StreamKey{RecipeInstance: m.RecipeInstance, Sensor: m.Sensor}
}

// FrameHeaders names the columns of every data frame row.
var FrameHeaders = []string{"id", "time", "value", "source", "sensor", "recipe_instance"}

// Frame is the server-to-client data message.
type Frame struct {
	Headers []string `json:"headers"`
	Data    [][]any  `json:"data"`
}

// NewFrame builds a frame holding ms in order.
func NewFrame(ms []Measurement) Frame {
	f := Frame{Headers: FrameHeaders, Data: make([][]any, 0, len(ms))}
	for _, m := range ms {
		var source any
		if m.Source != "" {
			source = m.Source
		}
		var value any
		if m.Value != nil {
			value = *m.Value
		}
		f.Data = append(f.Data, []any{
			m.ID,
			m.Time.UTC().Format(time.RFC3339Nano),
			value,
			source,
			m.Sensor,
			m.RecipeInstance,
		})
	}
	return f
}

// Chunk splits ms into consecutive batches of at most size measurements.
// A non-positive size means DefaultChunkSize.
func Chunk(ms []Measurement, size int) [][]Measurement {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]Measurement, 0, (len(ms)+size-1)/size)
	for lo := 0; lo < len(ms); lo += size {
		hi := min(lo+size, len(ms))
		chunks = append(chunks, ms[lo:hi])
	}
	return chunks
}

// EncodeFrames chunks ms and marshals each chunk as an independent frame.
func EncodeFrames(ms []Measurement, size int) ([][]byte, error) {
	chunks := Chunk(ms, size)
	out := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		data, err := json.Marshal(NewFrame(c))
		if err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}
