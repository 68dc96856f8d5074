// Package notify pushes report notifications to live admin viewers and sends
// out-of-band email alerts for urgent reports.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/whistle/whistle-server/internal/auth"
	"github.com/whistle/whistle-server/internal/events"
	"go.uber.org/zap"
)

// ConnectedMessage is carried by the first event of every stream.
const ConnectedMessage = "Notifications active"

// Sink is the output side of one viewer connection.
type Sink interface {
	// Write delivers one event. It must not block for long: a viewer that
	// cannot keep up should fail the write.
	Write(ev events.Event) error
	// Close releases the sink. It may be called more than once.
	Close()
}

// TokenVerifier checks an admin session token.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Connection is one registered viewer.
type Connection struct {
	ID      string
	Subject string

	sink     Sink
	cancel   context.CancelFunc
	once     sync.Once
	lastPing atomic.Int64
}

// LastPing is the time of the last successful heartbeat, or of the
// connection itself if no heartbeat has been sent yet.
func (c *Connection) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

func (c *Connection) close() {
	c.once.Do(func() {
		c.cancel()
		c.sink.Close()
	})
}

// Hub is the process-wide registry of viewer connections.
type Hub struct {
	verifier  TokenVerifier
	heartbeat time.Duration
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a hub that sends a heartbeat to every viewer each interval.
func NewHub(verifier TokenVerifier, heartbeat time.Duration, logger *zap.SugaredLogger) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		verifier:  verifier,
		heartbeat: heartbeat,
		logger:    logger,
		now:       time.Now,
		conns:     make(map[string]*Connection),
	}
}

// Subscribe verifies token and registers sink as a new viewer. The viewer
// receives a Connected event before anything else. On error nothing is
// registered. After Close it fails with ErrHubClosed.
func (h *Hub) Subscribe(ctx context.Context, token string, sink Sink) (*Connection, error) {
	claims, err := h.verifier.Verify(token)
	if err != nil {
		return nil, auth.ErrUnauthorized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:      uuid.NewString(),
		Subject: claims.Subject,
		sink:    sink,
		cancel:  cancel,
	}
	c.lastPing.Store(h.now().UnixNano())

	// Written before registration so no report event can overtake it.
	if err := sink.Write(events.Connected{Message: ConnectedMessage}); err != nil {
		c.close()
		return nil, fmt.Errorf("write connected event: %w", err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return nil, ErrHubClosed
	}
	h.conns[c.ID] = c
	h.wg.Add(1)
	h.mu.Unlock()

	go h.runHeartbeat(hbCtx, c)

	h.logger.Infow("Viewer connected", "connection", c.ID, "viewers", h.Count())
	return c, nil
}

func (h *Hub) runHeartbeat(ctx context.Context, c *Connection) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := h.now()
			if err := c.sink.Write(events.Heartbeat{Timestamp: now}); err != nil {
				h.logger.Debugw("Heartbeat failed, dropping viewer", "connection", c.ID, "error", err)
				h.Disconnect(c.ID)
				return
			}
			c.lastPing.Store(now.UnixNano())
		}
	}
}

// Publish writes ev to every registered viewer. Viewers whose write fails are
// removed afterwards. Delivery failures are never reported to the caller.
func (h *Hub) Publish(ev events.Event) {
	h.mu.Lock()
	snapshot := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	var failed []string
	for _, c := range snapshot {
		if err := c.sink.Write(ev); err != nil {
			h.logger.Warnw("Failed to deliver notification", "connection", c.ID, "type", ev.Type(), "error", err)
			failed = append(failed, c.ID)
		}
	}
	for _, id := range failed {
		h.Disconnect(id)
	}

	h.logger.Infow("Broadcast notification",
		"type", ev.Type(),
		"delivered", len(snapshot)-len(failed),
		"dropped", len(failed),
	)
}

// Disconnect removes a viewer and stops its heartbeat. It reports whether the
// connection was still registered.
func (h *Hub) Disconnect(id string) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()

	if !ok {
		return false
	}
	c.close()
	h.logger.Infow("Viewer disconnected", "connection", id)
	return true
}

// Count returns the number of registered viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every viewer, refuses new ones and waits for the
// heartbeats to stop.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
	h.wg.Wait()
}

// ErrHubClosed is returned by Subscribe once the hub is shutting down.
var ErrHubClosed = errors.New("notify: hub closed")

// Sink errors.
var (
	ErrSlowConsumer = errors.New("notify: viewer queue is full")
	ErrSinkClosed   = errors.New("notify: sink closed")
)

// QueueSink is a bounded, non-blocking Sink. The HTTP stream handler drains
// Events and writes them to the response.
type QueueSink struct {
	events chan events.Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewQueueSink creates a sink that buffers up to size events.
func NewQueueSink(size int) *QueueSink {
	if size <= 0 {
		size = 1
	}
	return &QueueSink{
		events: make(chan events.Event, size),
		done:   make(chan struct{}),
	}
}

// Write enqueues ev or fails with ErrSlowConsumer when the buffer is full.
func (q *QueueSink) Write(ev events.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrSinkClosed
	}
	select {
	case q.events <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close marks the sink closed. Buffered events are discarded.
func (q *QueueSink) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Events yields queued events in write order.
func (q *QueueSink) Events() <-chan events.Event { return q.events }

// Done is closed once the sink is closed.
func (q *QueueSink) Done() <-chan struct{} { return q.done }
