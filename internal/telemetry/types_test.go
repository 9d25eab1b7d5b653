package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestChunk(t *testing.T) {
	key := StreamKey{RecipeInstance: 1, Sensor: 2}
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 1000, []int{}},
		{1, 1000, []int{1}},
		{1000, 1000, []int{1000}},
		{1001, 1000, []int{1000, 1}},
		{2500, 0, []int{1000, 1000, 500}},
		{5, 2, []int{2, 2, 1}},
	}
	for _, tt := range tests {
		ms := make([]Measurement, tt.n)
		for i := range ms {
			ms[i] = measurement(int64(i+1), key, time.Unix(int64(i), 0), 1)
		}
		chunks := Chunk(ms, tt.size)
		got := make([]int, len(chunks))
		for i, c := range chunks {
			got[i] = len(c)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Chunk(%d, %d) sizes mismatch (-want +got):\n%s", tt.n, tt.size, diff)
		}
	}
}

func TestNewFrame(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	ms := []Measurement{
		{ID: 3, RecipeInstance: 41, Sensor: 5, Time: at, Value: ptr(65.5), Source: "ab12"},
		{ID: 4, RecipeInstance: 41, Sensor: 5, Time: at},
	}
	data, err := json.Marshal(NewFrame(ms))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{
		"headers": []any{"id", "time", "value", "source", "sensor", "recipe_instance"},
		"data": []any{
			[]any{3.0, "2026-03-01T12:00:00.0000005Z", 65.5, "ab12", 5.0, 41.0},
			[]any{4.0, "2026-03-01T12:00:00.0000005Z", nil, nil, 5.0, 41.0},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeFramesEmpty(t *testing.T) {
	frames, err := EncodeFrames(nil, 1000)
	if err != nil {
		t.Fatalf("EncodeFrames: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("got %d frames for no measurements, want 0", len(frames))
	}
}
