package telemetry

import (
	"cmp"
	"slices"
	"sync"
)

// SubscriptionIndex maps each stream to the connections subscribed to it,
// with a reverse index so a closing connection can be dropped from every
// stream at once.
type SubscriptionIndex struct {
	mu     sync.RWMutex
	subs   map[StreamKey]map[*Connection]struct{}
	byConn map[*Connection]map[StreamKey]struct{}
}

// NewSubscriptionIndex creates an empty index.
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		subs:   make(map[StreamKey]map[*Connection]struct{}),
		byConn: make(map[*Connection]map[StreamKey]struct{}),
	}
}

// Subscribe adds c to the stream's subscriber set. It returns false if c
// was already subscribed.
func (s *SubscriptionIndex) Subscribe(key StreamKey, c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[key]
	if !ok {
		set = make(map[*Connection]struct{})
		s.subs[key] = set
	}
	if _, dup := set[c]; dup {
		return false
	}
	set[c] = struct{}{}

	keys, ok := s.byConn[c]
	if !ok {
		keys = make(map[StreamKey]struct{})
		s.byConn[c] = keys
	}
	keys[key] = struct{}{}
	subscriptionsActive.Inc()
	return true
}

// Unsubscribe removes c from one stream. It returns false if c was not
// subscribed to it.
func (s *SubscriptionIndex) Unsubscribe(key StreamKey, c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key, c)
}

// UnsubscribeAll removes c from every stream and returns how many
// subscriptions were dropped.
func (s *SubscriptionIndex) UnsubscribeAll(c *Connection) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.byConn[c] {
		if s.removeLocked(key, c) {
			n++
		}
	}
	delete(s.byConn, c)
	return n
}

func (s *SubscriptionIndex) removeLocked(key StreamKey, c *Connection) bool {
	set, ok := s.subs[key]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.subs, key)
	}
	if keys, ok := s.byConn[c]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.byConn, c)
		}
	}
	subscriptionsActive.Dec()
	return true
}

// Fanout returns a snapshot of the connections subscribed to the stream.
// The caller may deliver to them without holding any index lock.
func (s *SubscriptionIndex) Fanout(key StreamKey) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.subs[key]
	out := make([]*Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Subscribed reports whether c is subscribed to the stream.
func (s *SubscriptionIndex) Subscribed(key StreamKey, c *Connection) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subs[key][c]
	return ok
}

// Keys returns the streams c is subscribed to, sorted.
func (s *SubscriptionIndex) Keys(c *Connection) []StreamKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StreamKey, 0, len(s.byConn[c]))
	for k := range s.byConn[c] {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b StreamKey) int {
		if c := cmp.Compare(a.RecipeInstance, b.RecipeInstance); c != 0 {
			return c
		}
		return cmp.Compare(a.Sensor, b.Sensor)
	})
	return out
}

// Count returns the number of streams with at least one subscriber and
// the total number of subscriptions.
func (s *SubscriptionIndex) Count() (streams, subscriptions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, set := range s.subs {
		subscriptions += len(set)
	}
	return len(s.subs), subscriptions
}
