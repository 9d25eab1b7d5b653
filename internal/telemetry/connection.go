package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joulia/joulia-live/internal/apierr"
	"github.com/joulia/joulia-live/internal/auth"
)

// DefaultSendQueue is the number of frames a connection buffers before live
// deliveries to it start failing.
const DefaultSendQueue = 256

// Connection is one open streaming session. Frames queued on it are written
// to the socket by a single writer goroutine that drains Outbound.
type Connection struct {
	ID          string
	OriginToken string
	OpenedAt    time.Time

	principal auth.Principal

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// mu guards replays and serializes live enqueues against replay
	// bookkeeping so a stream's live frames cannot overtake its backlog.
	mu      sync.Mutex
	replays map[StreamKey][]Measurement
}

// NewConnection creates a connection for principal with an outbound queue
// of queueSize frames. The principal may be the zero (anonymous) value.
func NewConnection(principal auth.Principal, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	return &Connection{
		ID:          uuid.NewString(),
		OriginToken: newOriginToken(),
		OpenedAt:    time.Now().UTC(),
		principal:   principal,
		out:         make(chan []byte, queueSize),
		done:        make(chan struct{}),
		replays:     make(map[StreamKey][]Measurement),
	}
}

// newOriginToken returns a short random token. It only needs to be unlikely
// to collide among connections subscribed to the same stream.
func newOriginToken() string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Principal returns the identity the connection authenticated as.
func (c *Connection) Principal() auth.Principal {
	return c.principal
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s(%s)", c.ID[:8], c.principal)
}

// Outbound returns the queue drained by the connection's writer.
func (c *Connection) Outbound() <-chan []byte {
	return c.out
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection closed. Further enqueues fail. It is safe to
// call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Enqueue queues a frame without blocking. It fails with ErrDeliveryFailure
// when the connection is closed or its queue is full.
func (c *Connection) Enqueue(frame []byte) error {
	if c.Closed() {
		return fmt.Errorf("connection %s closed: %w", c.ID, apierr.ErrDeliveryFailure)
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return fmt.Errorf("connection %s send queue full: %w", c.ID, apierr.ErrDeliveryFailure)
	}
}

// EnqueueWait queues a frame, blocking while the queue is full.
func (c *Connection) EnqueueWait(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection %s closed: %w", c.ID, apierr.ErrDeliveryFailure)
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("connection %s closed: %w", c.ID, apierr.ErrDeliveryFailure)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliverLive queues a single live measurement, or holds it if the
// measurement's stream is currently replaying its backlog to c.
func (c *Connection) deliverLive(m Measurement, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := m.Key()
	if held, ok := c.replays[key]; ok {
		c.replays[key] = append(held, m)
		return nil
	}
	return c.Enqueue(frame)
}

// beginReplay starts holding live measurements for key. It must be called
// before the connection is added to the subscription index for key.
func (c *Connection) beginReplay(key StreamKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.replays[key]; !ok {
		c.replays[key] = nil
	}
}

// endReplay stops holding live measurements for key and queues those held
// that were not part of the backlog, i.e. whose id is above lastID.
func (c *Connection) endReplay(key StreamKey, lastID int64, chunkSize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	held := c.replays[key]
	delete(c.replays, key)

	held = slices.DeleteFunc(held, func(m Measurement) bool { return m.ID <= lastID })
	if len(held) == 0 {
		return nil
	}
	frames, err := EncodeFrames(held, chunkSize)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := c.Enqueue(f); err != nil {
			return err
		}
	}
	return nil
}
