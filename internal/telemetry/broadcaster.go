package telemetry

import (
	"encoding/json"

	"github.com/joulia/joulia-live/internal/livelog"
)

// Broadcaster fans newly persisted measurements out to the connections
// subscribed to their stream.
type Broadcaster struct {
	index *SubscriptionIndex
}

// NewBroadcaster creates a broadcaster over index.
func NewBroadcaster(index *SubscriptionIndex) *Broadcaster {
	return &Broadcaster{index: index}
}

// Publish delivers m to every subscriber of its stream except the
// connection whose origin token matches m.Source. A failed delivery to one
// subscriber is logged and does not affect the others. It returns the
// number of subscribers the measurement was delivered to.
func (b *Broadcaster) Publish(m Measurement) int {
	recipients := b.index.Fanout(m.Key())
	if len(recipients) == 0 {
		return 0
	}

	frame, err := json.Marshal(NewFrame([]Measurement{m}))
	if err != nil {
		livelog.Log.Error("Encode live frame", "error", err, "stream", m.Key().String())
		return 0
	}

	delivered := 0
	for _, c := range recipients {
		if m.Source != "" && c.OriginToken == m.Source {
			fanoutTotal.WithLabelValues("suppressed").Inc()
			continue
		}
		if err := c.deliverLive(m, frame); err != nil {
			fanoutTotal.WithLabelValues("failed").Inc()
			livelog.Log.Warn("Dropping live measurement for subscriber",
				"connection", c.ID, "stream", m.Key().String(), "measurement", m.ID, "error", err.Error())
			continue
		}
		fanoutTotal.WithLabelValues("delivered").Inc()
		delivered++
	}
	return delivered
}
