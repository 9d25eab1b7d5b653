package live

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/joulia/joulia-live/internal/apierr"
)

func TestHistoryWindow(t *testing.T) {
	tests := []struct {
		name    string
		seconds *float64
		want    *time.Duration
	}{
		{"omitted", nil, nil},
		{"zero", ptr(0.0), nil},
		{"not a number", ptr(math.NaN()), nil},
		{"look back", ptr(-900.0), ptr(-15 * time.Minute)},
		{"fractional", ptr(-1.5), ptr(-1500 * time.Millisecond)},
		{"future", ptr(900.0), ptr(15 * time.Minute)},
		{"look back beyond range", ptr(-1e12), nil},
		{"negative infinity", ptr(math.Inf(-1)), nil},
		{"future beyond range", ptr(1e12), ptr(time.Duration(math.MaxInt64))},
		{"positive infinity", ptr(math.Inf(1)), ptr(time.Duration(math.MaxInt64))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := historyWindow(tt.seconds)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("historyWindow = %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("historyWindow = nil, want %v", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("historyWindow = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name string
		raw  *string
		want time.Time
	}{
		{"omitted", nil, time.Time{}},
		{"utc", ptr("2017-05-01T12:00:00Z"), time.Date(2017, 5, 1, 12, 0, 0, 0, time.UTC)},
		{"offset", ptr("2017-05-01T14:00:00.5+02:00"), time.Date(2017, 5, 1, 12, 0, 0, 5e8, time.UTC)},
		{"no offset", ptr("2017-05-01T12:00:00.123456"), time.Date(2017, 5, 1, 12, 0, 0, 123456000, time.UTC)},
		{"space separated", ptr("2017-05-01 12:00:00"), time.Date(2017, 5, 1, 12, 0, 0, 0, time.UTC)},
		{"space with offset", ptr("2017-05-01 13:00:00+01:00"), time.Date(2017, 5, 1, 12, 0, 0, 0, time.UTC)},
		{"padded", ptr(" 2017-05-01T12:00:00Z "), time.Date(2017, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.raw)
			if err != nil {
				t.Fatalf("parseTime: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTime = %v, want %v", got, tt.want)
			}
		})
	}

	for _, raw := range []string{"", "yesterday", "2017-05-01", "12:00:00"} {
		if _, err := parseTime(&raw); !errors.Is(err, apierr.ErrMalformedMessage) {
			t.Errorf("parseTime(%q) error = %v, want ErrMalformedMessage", raw, err)
		}
	}
}
