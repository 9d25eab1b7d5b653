// Package live serves the real-time side of the brewing system: the
// timeseries WebSocket stream and the recipe instance long-poll endpoints.
package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joulia/joulia-live/internal/auth"
	"github.com/joulia/joulia-live/internal/brewery"
	"github.com/joulia/joulia-live/internal/livelog"
	"github.com/joulia/joulia-live/internal/store"
	"github.com/joulia/joulia-live/internal/telemetry"
	"github.com/joulia/joulia-live/internal/waiter"
)

// DefaultLongPollTimeout caps how long a long-poll request is held open.
const DefaultLongPollTimeout = 10 * time.Minute

// ErrLongPollTimeout is returned when a long-poll request reaches the
// server-imposed timeout without a state change.
var ErrLongPollTimeout = errors.New("long-poll timed out")

// RecipeInstanceState is the long-poll response body.
type RecipeInstanceState struct {
	RecipeInstance *int64 `json:"recipe_instance"`
}

func stateOf(id int64) RecipeInstanceState {
	return RecipeInstanceState{RecipeInstance: &id}
}

// Options tunes a Service. Zero values use defaults.
type Options struct {
	ChunkSize       int
	SendQueue       int
	BacklogWorkers  int
	LongPollTimeout time.Duration
}

// Service owns every routing table of the live layer: open connections,
// stream subscriptions and the two recipe instance wait registries. It is
// created once per process and shared by all handlers.
type Service struct {
	catalog *brewery.Catalog
	bridge  *auth.Bridge
	store   store.Store

	connections   *telemetry.ConnectionRegistry
	subscriptions *telemetry.SubscriptionIndex
	broadcaster   *telemetry.Broadcaster
	backlog       *telemetry.BacklogService

	becameActive   *waiter.Registry[int64, RecipeInstanceState]
	becameInactive *waiter.Registry[int64, RecipeInstanceState]

	opts      Options
	startedAt time.Time
}

// NewService creates the service and opens its measurement store. The
// store publishes every committed measurement to the service's broadcaster.
func NewService(catalog *brewery.Catalog, bridge *auth.Bridge, storeOpts store.Options, opts Options) (*Service, error) {
	if opts.SendQueue <= 0 {
		opts.SendQueue = telemetry.DefaultSendQueue
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = telemetry.DefaultChunkSize
	}
	if opts.LongPollTimeout <= 0 {
		opts.LongPollTimeout = DefaultLongPollTimeout
	}

	subs := telemetry.NewSubscriptionIndex()
	s := &Service{
		catalog:        catalog,
		bridge:         bridge,
		connections:    telemetry.NewConnectionRegistry(),
		subscriptions:  subs,
		broadcaster:    telemetry.NewBroadcaster(subs),
		becameActive:   waiter.New[int64, RecipeInstanceState]("became_active"),
		becameInactive: waiter.New[int64, RecipeInstanceState]("became_inactive"),
		opts:           opts,
		startedAt:      time.Now(),
	}

	st, err := store.Open(storeOpts, s.broadcaster)
	if err != nil {
		return nil, fmt.Errorf("open measurement store: %w", err)
	}
	s.store = st
	s.backlog = telemetry.NewBacklogService(st, opts.BacklogWorkers, opts.ChunkSize)
	return s, nil
}

// Close closes every open connection and the measurement store.
func (s *Service) Close() error {
	for _, c := range s.connections.Connections() {
		c.Close()
	}
	return s.store.Close()
}

// Bridge returns the credential bridge used by the service.
func (s *Service) Bridge() *auth.Bridge {
	return s.bridge
}

// Connect registers a new streaming connection for p. Controller
// principals are bound to their brewhouse.
func (s *Service) Connect(p auth.Principal) *telemetry.Connection {
	c := telemetry.NewConnection(p, s.opts.SendQueue)
	s.connections.Register(c)
	if p.IsController() {
		if old := s.connections.BindController(p.Brewhouse, c); old != nil {
			livelog.Log.Warn("Brewhouse controller reconnected, replacing binding",
				"brewhouse", p.Brewhouse, "old", old.ID, "new", c.ID)
		}
	}
	livelog.Log.Info("Streaming connection opened", "connection", c.ID, "principal", p.String())
	return c
}

// Disconnect drops every subscription of c, unregisters it and closes it.
func (s *Service) Disconnect(c *telemetry.Connection) {
	n := s.subscriptions.UnsubscribeAll(c)
	s.connections.Unregister(c)
	c.Close()
	livelog.Log.Info("Streaming connection closed", "connection", c.ID, "subscriptions", n)
}

// Subscribe authorizes c for the stream, replays its history and keeps c
// subscribed to live measurements.
func (s *Service) Subscribe(ctx context.Context, c *telemetry.Connection, key telemetry.StreamKey, since *time.Duration) error {
	if _, err := s.catalog.AuthorizeStream(c.Principal(), key.RecipeInstance, key.Sensor); err != nil {
		return err
	}
	frames, err := s.backlog.Subscribe(ctx, s.subscriptions, c, key, since)
	if err != nil {
		return err
	}
	livelog.Log.Debug("Subscribed", "connection", c.ID, "stream", key.String(), "backlog_frames", frames)
	return nil
}

// Unsubscribe removes c from one stream.
func (s *Service) Unsubscribe(c *telemetry.Connection, key telemetry.StreamKey) bool {
	return s.subscriptions.Unsubscribe(key, c)
}

// Record authorizes and persists a measurement. origin is the origin token
// of the producing connection, or empty for HTTP ingest. The stored
// measurement is fanned out by the store once committed.
func (s *Service) Record(ctx context.Context, p auth.Principal, origin string, m telemetry.Measurement) (telemetry.Measurement, error) {
	if _, err := s.catalog.AuthorizeStream(p, m.RecipeInstance, m.Sensor); err != nil {
		return telemetry.Measurement{}, err
	}
	m.ID = 0
	m.Source = origin
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	stored, err := s.store.Append(ctx, m)
	if err != nil {
		return telemetry.Measurement{}, fmt.Errorf("store measurement: %w", err)
	}
	return stored, nil
}

// AwaitActive blocks until the brewhouse has an active recipe instance and
// returns it. It returns at once if one is already active.
func (s *Service) AwaitActive(ctx context.Context, p auth.Principal, brewhouse int64) (RecipeInstanceState, error) {
	if err := s.catalog.AuthorizeBrewhouse(p, brewhouse); err != nil {
		return RecipeInstanceState{}, err
	}
	return s.await(ctx, s.becameActive, brewhouse, func() (RecipeInstanceState, bool) {
		ri, ok := s.catalog.ActiveRecipeInstance(brewhouse)
		if !ok {
			return RecipeInstanceState{}, false
		}
		return stateOf(ri.ID), true
	})
}

// AwaitInactive blocks until the brewhouse's recipe instance ends and
// returns the ended instance. It returns a null instance at once if the
// brewhouse is not active.
func (s *Service) AwaitInactive(ctx context.Context, p auth.Principal, brewhouse int64) (RecipeInstanceState, error) {
	if err := s.catalog.AuthorizeBrewhouse(p, brewhouse); err != nil {
		return RecipeInstanceState{}, err
	}
	return s.await(ctx, s.becameInactive, brewhouse, func() (RecipeInstanceState, bool) {
		if _, ok := s.catalog.ActiveRecipeInstance(brewhouse); ok {
			return RecipeInstanceState{}, false
		}
		return RecipeInstanceState{}, true
	})
}

func (s *Service) await(ctx context.Context, reg *waiter.Registry[int64, RecipeInstanceState], brewhouse int64, check func() (RecipeInstanceState, bool)) (RecipeInstanceState, error) {
	p := reg.Query(brewhouse, check)

	longpollWaiters.WithLabelValues(reg.Name()).Inc()
	defer longpollWaiters.WithLabelValues(reg.Name()).Dec()

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.LongPollTimeout)
	defer cancel()

	v, err := reg.Wait(waitCtx, p)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return RecipeInstanceState{}, ErrLongPollTimeout
		}
		livelog.Log.Debug("Long-poll abandoned", "registry", reg.Name(), "brewhouse", brewhouse)
		return RecipeInstanceState{}, err
	}
	return v, nil
}

// LaunchRecipeInstance starts a recipe instance on the brewhouse and wakes
// every request waiting for it to become active.
func (s *Service) LaunchRecipeInstance(p auth.Principal, brewhouse int64) (brewery.RecipeInstance, error) {
	if err := s.catalog.AuthorizeBrewhouse(p, brewhouse); err != nil {
		return brewery.RecipeInstance{}, err
	}
	ri, err := s.catalog.Launch(brewhouse)
	if err != nil {
		return brewery.RecipeInstance{}, err
	}
	n := s.becameActive.Notify(brewhouse, stateOf(ri.ID))
	recipeInstanceEventsTotal.WithLabelValues("launched").Inc()
	livelog.Log.Info("Recipe instance launched", "brewhouse", brewhouse, "recipe_instance", ri.ID, "woken", n)
	return ri, nil
}

// EndRecipeInstance ends a recipe instance and wakes every request waiting
// for its brewhouse to become inactive.
func (s *Service) EndRecipeInstance(p auth.Principal, id int64) (brewery.RecipeInstance, error) {
	ri, err := s.catalog.RecipeInstance(id)
	if err != nil {
		return brewery.RecipeInstance{}, err
	}
	if err := s.catalog.AuthorizeBrewhouse(p, ri.Brewhouse); err != nil {
		return brewery.RecipeInstance{}, err
	}
	ri, changed, err := s.catalog.End(id)
	if err != nil {
		return brewery.RecipeInstance{}, err
	}
	if !changed {
		return ri, nil
	}
	n := s.becameInactive.Notify(ri.Brewhouse, stateOf(ri.ID))
	recipeInstanceEventsTotal.WithLabelValues("ended").Inc()
	livelog.Log.Info("Recipe instance ended", "brewhouse", ri.Brewhouse, "recipe_instance", ri.ID, "woken", n)
	return ri, nil
}

// ControllerStatus reports whether the brewhouse's controller is connected.
type ControllerStatus struct {
	Brewhouse  int64     `json:"brewhouse"`
	Connected  bool      `json:"connected"`
	Connection string    `json:"connection,omitempty"`
	Since      time.Time `json:"since,omitzero"`
}

// Controller looks up the connection bound to the brewhouse controller.
func (s *Service) Controller(p auth.Principal, brewhouse int64) (ControllerStatus, error) {
	if err := s.catalog.AuthorizeBrewhouse(p, brewhouse); err != nil {
		return ControllerStatus{}, err
	}
	st := ControllerStatus{Brewhouse: brewhouse}
	if c, ok := s.connections.LookupByController(brewhouse); ok {
		st.Connected = true
		st.Connection = c.ID
		st.Since = c.OpenedAt
	}
	return st, nil
}

// Stats is a point-in-time summary of the live layer.
type Stats struct {
	StartedAt      time.Time                  `json:"started_at"`
	UptimeSeconds  float64                    `json:"uptime_seconds"`
	Connections    int                        `json:"connections"`
	Controllers    int                        `json:"controllers"`
	Streams        int                        `json:"streams"`
	Subscriptions  int                        `json:"subscriptions"`
	WaitingStart   int                        `json:"waiting_start"`
	WaitingEnd     int                        `json:"waiting_end"`
	Store          store.Stats                `json:"store"`
	ConnectionList []telemetry.ConnectionInfo `json:"connection_list"`
}

// Stats collects counts from every routing table and the store.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		StartedAt:      s.startedAt,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		WaitingStart:   s.becameActive.Len(),
		WaitingEnd:     s.becameInactive.Len(),
		ConnectionList: s.connections.List(),
	}
	st.Connections, st.Controllers = s.connections.Count()
	st.Streams, st.Subscriptions = s.subscriptions.Count()

	ss, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Store = ss
	return st, nil
}
