package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whistle/whistle-server/internal/auth"
	"github.com/whistle/whistle-server/internal/events"
	"github.com/whistle/whistle-server/internal/models"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errViewerGone = errors.New("viewer gone")

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
	fail   bool
	closed bool
}

func (s *recordingSink) Write(ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errViewerGone
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) setFail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = true
}

func (s *recordingSink) snapshot() ([]events.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...), s.closed
}

func newTestHub(t *testing.T, heartbeat time.Duration) (*Hub, string) {
	t.Helper()
	issuer, err := auth.NewIssuer("hub-test-secret-0123456789abcdef", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Issue("admin")
	require.NoError(t, err)

	hub := NewHub(issuer, heartbeat, zap.NewNop().Sugar())
	t.Cleanup(hub.Close)
	return hub, token
}

func newReportEvent() events.Event {
	return events.NewReport{ReportInfo: events.ReportInfo{
		ReportID:  "r-1",
		Category:  models.CategorySafety,
		Severity:  models.SeverityMedium,
		Timestamp: time.Now(),
	}}
}

func TestSubscribeSendsConnectedFirst(t *testing.T) {
	hub, token := newTestHub(t, time.Hour)
	sink := &recordingSink{}

	conn, err := hub.Subscribe(context.Background(), token, sink)
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, "admin", conn.Subject)
	assert.Equal(t, 1, hub.Count())

	got, _ := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, events.Connected{Message: ConnectedMessage}, got[0])
}

func TestSubscribeRejectsBadToken(t *testing.T) {
	hub, _ := newTestHub(t, time.Hour)

	for _, token := range []string{"", "not-a-jwt"} {
		sink := &recordingSink{}
		conn, err := hub.Subscribe(context.Background(), token, sink)
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
		assert.Nil(t, conn)

		got, _ := sink.snapshot()
		assert.Empty(t, got)
	}
	assert.Equal(t, 0, hub.Count())
}

func TestPublishFanOut(t *testing.T) {
	hub, token := newTestHub(t, time.Hour)

	sinks := []*recordingSink{{}, {}, {}}
	for _, s := range sinks {
		_, err := hub.Subscribe(context.Background(), token, s)
		require.NoError(t, err)
	}

	ev := newReportEvent()
	hub.Publish(ev)

	for _, s := range sinks {
		got, closed := s.snapshot()
		require.Len(t, got, 2)
		assert.Equal(t, ev, got[1])
		assert.False(t, closed)
	}
	assert.Equal(t, 3, hub.Count())
}

func TestPublishEvictsFailedViewer(t *testing.T) {
	hub, token := newTestHub(t, time.Hour)

	healthy1, broken, healthy2 := &recordingSink{}, &recordingSink{}, &recordingSink{}
	for _, s := range []*recordingSink{healthy1, broken, healthy2} {
		_, err := hub.Subscribe(context.Background(), token, s)
		require.NoError(t, err)
	}
	broken.setFail()

	ev := newReportEvent()
	hub.Publish(ev)

	for _, s := range []*recordingSink{healthy1, healthy2} {
		got, _ := s.snapshot()
		require.Len(t, got, 2)
		assert.Equal(t, ev, got[1])
	}
	_, closed := broken.snapshot()
	assert.True(t, closed)
	assert.Equal(t, 2, hub.Count())

	// The evicted viewer is not written to again.
	hub.Publish(ev)
	got, _ := healthy1.snapshot()
	assert.Len(t, got, 3)
}

func TestHeartbeat(t *testing.T) {
	hub, token := newTestHub(t, 10*time.Millisecond)
	sink := NewQueueSink(8)

	conn, err := hub.Subscribe(context.Background(), token, sink)
	require.NoError(t, err)
	before := conn.LastPing()

	first := <-sink.Events()
	assert.IsType(t, events.Connected{}, first)

	select {
	case ev := <-sink.Events():
		hb, ok := ev.(events.Heartbeat)
		require.True(t, ok, "expected heartbeat, got %T", ev)
		assert.False(t, hb.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}

	assert.Eventually(t, func() bool {
		return conn.LastPing().After(before)
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectStopsHeartbeat(t *testing.T) {
	hub, token := newTestHub(t, 5*time.Millisecond)
	sink := NewQueueSink(1024)

	conn, err := hub.Subscribe(context.Background(), token, sink)
	require.NoError(t, err)

	assert.True(t, hub.Disconnect(conn.ID))
	assert.False(t, hub.Disconnect(conn.ID))
	assert.Equal(t, 0, hub.Count())

	select {
	case <-sink.Done():
	default:
		t.Fatal("sink not closed on disconnect")
	}
	assert.ErrorIs(t, sink.Write(newReportEvent()), ErrSinkClosed)
}

func TestSubscribeAfterCloseIsRefused(t *testing.T) {
	hub, token := newTestHub(t, 5*time.Millisecond)
	hub.Close()

	sink := &recordingSink{}
	conn, err := hub.Subscribe(context.Background(), token, sink)
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.Nil(t, conn)
	assert.Equal(t, 0, hub.Count())

	_, closed := sink.snapshot()
	assert.True(t, closed)
}

func TestSlowViewerIsDropped(t *testing.T) {
	hub, token := newTestHub(t, time.Hour)
	slow := NewQueueSink(1) // filled by the connected event
	fast := NewQueueSink(8)

	_, err := hub.Subscribe(context.Background(), token, slow)
	require.NoError(t, err)
	_, err = hub.Subscribe(context.Background(), token, fast)
	require.NoError(t, err)

	hub.Publish(newReportEvent())

	assert.Equal(t, 1, hub.Count())
	<-fast.Events()
	assert.IsType(t, events.NewReport{}, <-fast.Events())
}

func TestHubConcurrentUse(t *testing.T) {
	hub, token := newTestHub(t, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sink := NewQueueSink(4)
			conn, err := hub.Subscribe(context.Background(), token, sink)
			if err != nil {
				return
			}
			time.Sleep(2 * time.Millisecond)
			hub.Disconnect(conn.ID)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(newReportEvent())
		}()
	}
	wg.Wait()

	hub.Close()
	assert.Equal(t, 0, hub.Count())
}

func TestQueueSink(t *testing.T) {
	q := NewQueueSink(2)
	require.NoError(t, q.Write(events.Connected{}))
	require.NoError(t, q.Write(events.Heartbeat{}))
	assert.ErrorIs(t, q.Write(events.Heartbeat{}), ErrSlowConsumer)

	assert.IsType(t, events.Connected{}, <-q.Events())

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Write(events.Heartbeat{}), ErrSinkClosed)
}
