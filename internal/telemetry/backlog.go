package telemetry

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joulia/joulia-live/internal/livelog"
)

// DefaultBacklogWorkers bounds the number of concurrent backlog queries.
const DefaultBacklogWorkers = 8

// Reader reads persisted measurements. Implementations return the
// measurements of key with Time after the given instant, ordered by Time
// and then ID.
// A zero after means no lower bound.
type Reader interface {
	QueryMeasurements(ctx context.Context, key StreamKey, after time.Time) ([]Measurement, error)
}

// BacklogService replays stored history to new subscribers.
type BacklogService struct {
	reader    Reader
	sem       *semaphore.Weighted
	chunkSize int
	now       func() time.Time
}

// NewBacklogService creates a backlog service reading from reader with at
// most workers queries in flight. Non-positive arguments use defaults.
func NewBacklogService(reader Reader, workers, chunkSize int) *BacklogService {
	if workers <= 0 {
		workers = DefaultBacklogWorkers
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BacklogService{
		reader:    reader,
		sem:       semaphore.NewWeighted(int64(workers)),
		chunkSize: chunkSize,
		now:       time.Now,
	}
}

// Window converts a history_time value to the earliest instant of the
// history to replay. Nil or zero means the whole history (zero time).
// Otherwise the window starts at now + since: a negative since looks back,
// a positive one starts in the future and replays nothing.
func (b *BacklogService) Window(since *time.Duration) time.Time {
	if since == nil || *since == 0 {
		return time.Time{}
	}
	return b.now().Add(*since)
}

// Replay returns the stored measurements of key inside the history window.
func (b *BacklogService) Replay(ctx context.Context, key StreamKey, since *time.Duration) ([]Measurement, error) {
	start := time.Now()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)

	ms, err := b.reader.QueryMeasurements(ctx, key, b.Window(since))
	backlogDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("query backlog for %s: %w", key, err)
	}
	return ms, nil
}

// Subscribe replays the history of key to c and registers c for live
// delivery on index, without gaps or duplicates between the two: live
// measurements arriving during the replay are held on c and released
// after the backlog, skipping any already contained in it.
func (b *BacklogService) Subscribe(ctx context.Context, index *SubscriptionIndex, c *Connection, key StreamKey, since *time.Duration) (int, error) {
	if index.Subscribed(key, c) {
		return 0, nil
	}
	c.beginReplay(key)
	index.Subscribe(key, c)

	ms, err := b.Replay(ctx, key, since)
	if err != nil {
		// Live delivery continues even if history could not be read.
		_ = c.endReplay(key, 0, b.chunkSize)
		return 0, err
	}

	var lastID int64
	for _, m := range ms {
		lastID = max(lastID, m.ID)
	}

	frames, err := EncodeFrames(ms, b.chunkSize)
	if err != nil {
		_ = c.endReplay(key, lastID, b.chunkSize)
		return 0, err
	}
	for i, f := range frames {
		if err := c.EnqueueWait(ctx, f); err != nil {
			_ = c.endReplay(key, lastID, b.chunkSize)
			return i, err
		}
		backlogFramesTotal.Inc()
	}

	if err := c.endReplay(key, lastID, b.chunkSize); err != nil {
		livelog.Log.Warn("Releasing held live measurements", "connection", c.ID, "stream", key.String(), "error", err.Error())
	}
	livelog.Log.Debug("Backlog replayed", "connection", c.ID, "stream", key.String(),
		"measurements", len(ms), "frames", len(frames))
	return len(frames), nil
}
