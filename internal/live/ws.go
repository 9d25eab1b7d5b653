package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/joulia/joulia-live/internal/apierr"
	"github.com/joulia/joulia-live/internal/livelog"
	"github.com/joulia/joulia-live/internal/telemetry"
)

const wsWriteTimeout = 10 * time.Second

var errConnectionClosed = errors.New("connection closed by server")

// clientMessage is any frame a client sends. A frame carrying "subscribe"
// is a subscription request; any other frame publishes a measurement.
type clientMessage struct {
	RecipeInstance *int64          `json:"recipe_instance"`
	Sensor         *int64          `json:"sensor"`
	Subscribe      *bool           `json:"subscribe"`
	HistoryTime    *float64        `json:"history_time"`
	Value          json.RawMessage `json:"value"`
	Time           *string         `json:"time"`
}

// ErrorFrame reports a rejected client frame. The connection stays open.
type ErrorFrame struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	RecipeInstance *int64 `json:"recipe_instance,omitempty"`
	Sensor         *int64 `json:"sensor,omitempty"`
}

// handleTimeseriesSocket upgrades to a WebSocket and serves one streaming
// connection. Anonymous clients may connect, but every subscribe or publish
// they send is rejected.
func (s *Server) handleTimeseriesSocket(w http.ResponseWriter, r *http.Request) {
	p := s.svc.Bridge().ResolveRequest(r)

	// Browsers attach session cookies to cross-site upgrades, so only the
	// server's own host and the configured origins may open a socket.
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.config.OriginPatterns,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		livelog.Log.Warn("WebSocket accept failed", "origin", r.Header.Get("Origin"), "error", err.Error())
		return
	}
	defer ws.CloseNow()

	c := s.svc.Connect(p)
	defer s.svc.Disconnect(c)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.readLoop(ctx, ws, c) })
	g.Go(func() error { return s.writeLoop(ctx, ws, c) })
	err = g.Wait()

	switch {
	case errors.Is(err, errConnectionClosed):
		ws.Close(websocket.StatusGoingAway, "server shutting down")
	case err == nil, websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
	default:
		livelog.Log.Debug("WebSocket connection ended", "connection", c.ID, "error", err.Error())
	}
}

// readLoop handles inbound frames in order until the socket fails.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, c *telemetry.Connection) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			s.reject(c, nil, fmt.Errorf("binary frames are not supported: %w", apierr.ErrMalformedMessage))
			continue
		}
		s.handleMessage(ctx, c, data)
	}
}

// writeLoop drains the connection's outbound queue onto the socket and
// keeps the connection alive with pings.
func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, c *telemetry.Connection) error {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return errConnectionClosed
		case frame := <-c.Outbound():
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, c *telemetry.Connection, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		wsFramesReceivedTotal.WithLabelValues("invalid").Inc()
		s.reject(c, nil, fmt.Errorf("decode frame: %v: %w", err, apierr.ErrMalformedMessage))
		return
	}
	if msg.RecipeInstance == nil || msg.Sensor == nil {
		wsFramesReceivedTotal.WithLabelValues("invalid").Inc()
		s.reject(c, &msg, fmt.Errorf("recipe_instance and sensor are required: %w", apierr.ErrMalformedMessage))
		return
	}
	key := telemetry.StreamKey{RecipeInstance: *msg.RecipeInstance, Sensor: *msg.Sensor}

	switch {
	case msg.Subscribe != nil && *msg.Subscribe:
		wsFramesReceivedTotal.WithLabelValues("subscribe").Inc()
		if err := s.svc.Subscribe(ctx, c, key, historyWindow(msg.HistoryTime)); err != nil {
			s.reject(c, &msg, err)
		}

	case msg.Subscribe != nil:
		wsFramesReceivedTotal.WithLabelValues("unsubscribe").Inc()
		s.svc.Unsubscribe(c, key)

	default:
		wsFramesReceivedTotal.WithLabelValues("publish").Inc()
		m, err := msg.measurement(key)
		if err != nil {
			s.reject(c, &msg, err)
			return
		}
		if _, err := s.svc.Record(ctx, c.Principal(), c.OriginToken, m); err != nil {
			measurementsRecordedTotal.WithLabelValues("ws", apierr.Code(err)).Inc()
			s.reject(c, &msg, err)
			return
		}
		measurementsRecordedTotal.WithLabelValues("ws", "ok").Inc()
	}
}

// maxHistorySeconds is the largest |history_time| a time.Duration can hold.
const maxHistorySeconds = float64(math.MaxInt64 / int64(time.Second))

// historyWindow converts a history_time value in seconds. Omitted and zero
// both mean the full history, as does a look-back beyond maxHistorySeconds.
func historyWindow(seconds *float64) *time.Duration {
	if seconds == nil || *seconds == 0 || math.IsNaN(*seconds) || *seconds <= -maxHistorySeconds {
		return nil
	}
	d := time.Duration(math.MaxInt64)
	if *seconds < maxHistorySeconds {
		d = time.Duration(*seconds * float64(time.Second))
	}
	return &d
}

func (m clientMessage) measurement(key telemetry.StreamKey) (telemetry.Measurement, error) {
	value, err := parseValue(m.Value)
	if err != nil {
		return telemetry.Measurement{}, err
	}
	at, err := parseTime(m.Time)
	if err != nil {
		return telemetry.Measurement{}, err
	}
	return telemetry.Measurement{
		RecipeInstance: key.RecipeInstance,
		Sensor:         key.Sensor,
		Time:           at,
		Value:          value,
	}, nil
}

// timeLayouts are the accepted ISO-8601 forms of a measurement time.
// Layouts without an offset are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTime parses an optional measurement time. A missing time yields the
// zero value, which the service replaces with the current time.
func parseTime(raw *string) (time.Time, error) {
	if raw == nil {
		return time.Time{}, nil
	}
	s := strings.TrimSpace(*raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: %w", s, apierr.ErrMalformedMessage)
}

// parseValue requires a value field, which may be a number or null.
func parseValue(raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("value is required: %w", apierr.ErrMalformedMessage)
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("value must be a number: %w", apierr.ErrMalformedMessage)
	}
	return v, nil
}

// reject queues an error frame for a failed client operation.
func (s *Server) reject(c *telemetry.Connection, msg *clientMessage, err error) {
	frame := ErrorFrame{Error: apierr.Code(err), Message: err.Error()}
	if msg != nil {
		frame.RecipeInstance = msg.RecipeInstance
		frame.Sensor = msg.Sensor
	}
	if frame.Error == "internal_error" {
		livelog.Log.Error("Streaming operation failed", "connection", c.ID, "error", err)
		frame.Message = "internal error"
	} else {
		livelog.Log.Warn("Rejected streaming operation", "connection", c.ID,
			"principal", c.Principal().String(), "error", err.Error())
	}

	data, mErr := json.Marshal(frame)
	if mErr != nil {
		return
	}
	if qErr := c.Enqueue(data); qErr != nil {
		livelog.Log.Debug("Dropping error frame", "connection", c.ID, "error", qErr.Error())
	}
}
