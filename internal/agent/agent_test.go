package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whistle/whistle-server/internal/events"
	"github.com/whistle/whistle-server/internal/models"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errRefused = errors.New("connection refused")

// scriptedStream replays events then fails with err.
type scriptedStream struct {
	events []events.Event
	err    error
	// block makes Next wait for ctx once the script is exhausted.
	block bool

	mu     sync.Mutex
	closed bool
}

func (s *scriptedStream) Next(ctx context.Context) (events.Event, error) {
	s.mu.Lock()
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()
		return ev, nil
	}
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, s.err
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// scriptedSubscriber hands out streams in order, then fails forever.
type scriptedSubscriber struct {
	mu      sync.Mutex
	streams []*scriptedStream
	calls   int
}

func (s *scriptedSubscriber) Subscribe(ctx context.Context, token string) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.streams) == 0 {
		return nil, errRefused
	}
	next := s.streams[0]
	s.streams = s.streams[1:]
	if next == nil {
		return nil, errRefused
	}
	return next, nil
}

func (s *scriptedSubscriber) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingAlerter struct {
	mu     sync.Mutex
	toasts []Toast
	pushes []string
	sounds []int
	titles []string

	pushErr    error
	soundPanic any
	soundWait  bool
}

func (r *recordingAlerter) Toast(t Toast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
	return nil
}

func (r *recordingAlerter) Push(ctx context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pushErr != nil {
		return r.pushErr
	}
	r.pushes = append(r.pushes, title)
	return nil
}

func (r *recordingAlerter) PlaySound(ctx context.Context, beeps int) error {
	if r.soundWait {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.soundPanic != nil {
		panic(r.soundPanic)
	}
	r.sounds = append(r.sounds, beeps)
	return nil
}

func (r *recordingAlerter) FlashTitle(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, text)
	return nil
}

func (r *recordingAlerter) toastTitles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.toasts {
		out = append(out, t.Title)
	}
	return out
}

// instantTimer records requested delays and fires immediately.
type instantTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (t *instantTimer) After(d time.Duration) <-chan time.Time {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func seconds(ns ...int) []time.Duration {
	out := make([]time.Duration, len(ns))
	for i, n := range ns {
		out[i] = time.Duration(n) * time.Second
	}
	return out
}

func urgentEvent() events.Event {
	return events.UrgentReport{ReportInfo: events.ReportInfo{
		ReportID: "r-9", Category: models.CategoryEmergency, Severity: models.SeverityUrgent,
	}}
}

func TestBackoff(t *testing.T) {
	var got []time.Duration
	for n := 1; n <= 5; n++ {
		got = append(got, Backoff(n, time.Second))
	}
	assert.Equal(t, seconds(2, 4, 8, 16, 32), got)
}

func TestGivesUpAfterFiveAttempts(t *testing.T) {
	sub := &scriptedSubscriber{}
	timer := &instantTimer{}
	alerter := &recordingAlerter{}

	var states []State
	var mu sync.Mutex
	a := New(sub, "tok", alerter, zap.NewNop().Sugar(),
		WithTimer(timer.After),
		WithStateHook(func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	)

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, ErrPermanentlyDisconnected)
	assert.Equal(t, PermanentlyDisconnected, a.State())
	assert.Equal(t, seconds(2, 4, 8, 16, 32), timer.delays)
	assert.Equal(t, 6, sub.Calls())

	assert.Equal(t, []State{Connecting, Reconnecting, PermanentlyDisconnected}, states)
	require.Len(t, alerter.toasts, 1)
	assert.True(t, alerter.toasts[0].Persistent)
	assert.Equal(t, LevelError, alerter.toasts[0].Level)
}

func TestConnectedEventResetsAttempts(t *testing.T) {
	sub := &scriptedSubscriber{streams: []*scriptedStream{
		nil,
		nil,
		{events: []events.Event{events.Connected{Message: "Notifications active"}}, err: io.ErrUnexpectedEOF},
	}}
	timer := &instantTimer{}
	alerter := &recordingAlerter{}

	a := New(sub, "tok", alerter, zap.NewNop().Sugar(), WithTimer(timer.After))
	err := a.Run(context.Background())

	assert.ErrorIs(t, err, ErrPermanentlyDisconnected)
	assert.Equal(t, seconds(2, 4, 2, 4, 8, 16, 32), timer.delays)
	assert.ElementsMatch(t, []string{"Notifications Active", "Notifications Disconnected"}, alerter.toastTitles())
}

func TestReportEventsRaiseAlerts(t *testing.T) {
	stream := &scriptedStream{
		events: []events.Event{
			events.Connected{},
			events.Heartbeat{Timestamp: time.Now()},
			events.NewReport{ReportInfo: events.ReportInfo{ReportID: "r-1", Category: models.CategorySafety, Severity: models.SeverityLow}},
			urgentEvent(),
		},
		block: true,
	}
	sub := &scriptedSubscriber{streams: []*scriptedStream{stream}}
	alerter := &recordingAlerter{}

	a := New(sub, "tok", alerter, zap.NewNop().Sugar())

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		alerter.mu.Lock()
		defer alerter.mu.Unlock()
		return len(alerter.toasts) == 3 && len(alerter.sounds) == 2 && len(alerter.titles) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Connected, a.State())

	a.Disconnect()
	require.NoError(t, <-done)
	assert.Equal(t, Disconnected, a.State())
	assert.True(t, stream.closed)

	assert.ElementsMatch(t, []string{"Notifications Active", "New Report Received", "URGENT REPORT"}, alerter.toastTitles())
	assert.ElementsMatch(t, []int{1, 3}, alerter.sounds)
	assert.ElementsMatch(t, []string{"New Report", "URGENT REPORT"}, alerter.titles)
	assert.Len(t, alerter.pushes, 2)
}

func TestFailingSoundDoesNotBlockToast(t *testing.T) {
	for name, alerter := range map[string]*recordingAlerter{
		"panicking sound": {soundPanic: "no audio device"},
		"stuck sound":     {soundWait: true},
	} {
		t.Run(name, func(t *testing.T) {
			alerter.pushErr = ErrPermissionDenied
			core, logs := observer.New(zap.DebugLevel)
			sub := &scriptedSubscriber{streams: []*scriptedStream{{events: []events.Event{urgentEvent()}, block: true}}}
			a := New(sub, "tok", alerter, zap.New(core).Sugar())

			done := make(chan error, 1)
			go func() { done <- a.Run(context.Background()) }()

			require.Eventually(t, func() bool {
				alerter.mu.Lock()
				defer alerter.mu.Unlock()
				return len(alerter.toasts) == 1 && len(alerter.titles) == 1
			}, 2*time.Second, 5*time.Millisecond)

			if alerter.soundPanic != nil {
				require.Eventually(t, func() bool {
					return logs.FilterMessage("Alert panicked").Len() == 1
				}, 2*time.Second, 5*time.Millisecond)
			}

			a.Disconnect()
			require.NoError(t, <-done)
			assert.Equal(t, []string{"URGENT REPORT"}, alerter.toastTitles())
			assert.Empty(t, alerter.pushes)
			assert.Equal(t, 1, logs.FilterMessage("Alert skipped").Len())
		})
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	sub := &scriptedSubscriber{}
	requested := make(chan time.Duration, 1)
	never := func(d time.Duration) <-chan time.Time {
		requested <- d
		return make(chan time.Time)
	}

	a := New(sub, "tok", &recordingAlerter{}, zap.NewNop().Sugar(), WithTimer(never))
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	assert.Equal(t, 2*time.Second, <-requested)
	assert.Equal(t, Reconnecting, a.State())

	a.Disconnect()
	a.Disconnect()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Disconnect")
	}
	assert.Equal(t, Disconnected, a.State())
	assert.Equal(t, 1, sub.Calls())
}

func TestRunAfterDisconnectDoesNothing(t *testing.T) {
	sub := &scriptedSubscriber{}
	a := New(sub, "tok", &recordingAlerter{}, zap.NewNop().Sugar())
	a.Disconnect()

	assert.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 0, sub.Calls())
}

func TestTerminalAlerter(t *testing.T) {
	var buf bytes.Buffer
	ta := NewTerminalAlerter(&buf)
	ta.beepGap = time.Millisecond
	ta.flashEvery = time.Millisecond
	ta.flashes = 2

	require.NoError(t, ta.Toast(Toast{Title: "New Report Received", Description: "safety report"}))
	assert.Contains(t, buf.String(), "New Report Received")
	assert.Contains(t, buf.String(), "safety report")

	assert.ErrorIs(t, ta.Push(context.Background(), "t", "b"), ErrUnsupported)

	buf.Reset()
	require.NoError(t, ta.PlaySound(context.Background(), 3))
	assert.Equal(t, 3, strings.Count(buf.String(), "\a"))

	buf.Reset()
	require.NoError(t, ta.FlashTitle(context.Background(), "URGENT\nREPORT"))
	out := buf.String()
	assert.Contains(t, out, "\x1b]0;URGENTREPORT\a")
	assert.True(t, strings.HasSuffix(out, "\x1b]0;whistle watch\a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ta.PlaySound(ctx, 2), context.Canceled)
}
