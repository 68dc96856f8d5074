// Package agent keeps one live notification subscription per admin session
// and turns events into alerts. A failed subscription is retried with
// exponential backoff until the attempt budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/whistle/whistle-server/internal/events"
	"go.uber.org/zap"
)

// State of the subscription.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	PermanentlyDisconnected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case PermanentlyDisconnected:
		return "permanently_disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Defaults for the reconnect schedule: 2s, 4s, 8s, 16s, 32s.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

var (
	// ErrPermanentlyDisconnected is returned by Run once every reconnect
	// attempt has failed.
	ErrPermanentlyDisconnected = errors.New("agent: notifications permanently disconnected")
	ErrAlreadyRunning          = errors.New("agent: already running")
)

// Stream is one open subscription. Events arrive in publish order.
type Stream interface {
	// Next blocks until the next event, a stream failure, or ctx ending.
	Next(ctx context.Context) (events.Event, error)
	Close() error
}

// Subscriber opens subscriptions to the notification hub.
type Subscriber interface {
	Subscribe(ctx context.Context, token string) (Stream, error)
}

// Backoff is the delay before reconnect attempt n (1-based): base * 2^n.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base * time.Duration(1<<attempt)
}

// Option configures an Agent.
type Option func(*Agent)

// WithMaxAttempts sets how many reconnects are tried before giving up.
func WithMaxAttempts(n int) Option {
	return func(a *Agent) { a.maxAttempts = n }
}

// WithBaseDelay sets the backoff unit.
func WithBaseDelay(d time.Duration) Option {
	return func(a *Agent) { a.baseDelay = d }
}

// WithTimer replaces time.After, mainly for tests.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(a *Agent) { a.after = after }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(a *Agent) { a.onState = fn }
}

// Agent is the client side of one admin's notification session.
type Agent struct {
	sub     Subscriber
	token   string
	alerter Alerter
	logger  *zap.SugaredLogger

	maxAttempts int
	baseDelay   time.Duration
	after       func(time.Duration) <-chan time.Time
	onState     func(State)

	mu       sync.Mutex
	state    State
	attempts int
	running  bool
	stopped  bool
	cancel   context.CancelFunc

	effects sync.WaitGroup
}

// New creates an agent for the admin holding token.
func New(sub Subscriber, token string, alerter Alerter, logger *zap.SugaredLogger, opts ...Option) *Agent {
	a := &Agent{
		sub:         sub,
		token:       token,
		alerter:     alerter,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		after:       time.After,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run subscribes and processes events until Disconnect is called, ctx ends,
// or reconnecting fails for good. It returns nil on a requested stop.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.running = true
	a.cancel = cancel
	a.mu.Unlock()

	defer func() {
		cancel()
		a.effects.Wait()
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.setState(Connecting)
	for {
		err := a.connectOnce(ctx)
		if ctx.Err() != nil {
			a.setState(Disconnected)
			return nil
		}

		a.mu.Lock()
		if a.attempts >= a.maxAttempts {
			a.mu.Unlock()
			a.logger.Errorw("Giving up on notifications", "attempts", a.maxAttempts, "error", err)
			a.setState(PermanentlyDisconnected)
			a.alert(ctx, "toast", func(context.Context) error {
				return a.alerter.Toast(Toast{
					Title:       "Notifications Disconnected",
					Description: "Unable to connect to real-time notifications. Restart the watcher to try again.",
					Level:       LevelError,
					Persistent:  true,
				})
			})
			return ErrPermanentlyDisconnected
		}
		a.attempts++
		attempt := a.attempts
		a.mu.Unlock()

		delay := Backoff(attempt, a.baseDelay)
		a.setState(Reconnecting)
		a.logger.Warnw("Notification stream lost, reconnecting",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			a.setState(Disconnected)
			return nil
		case <-a.after(delay):
		}
	}
}

// Disconnect stops the agent. Pending reconnect timers and the live
// subscription are cancelled. Calling it more than once is harmless.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Agent) connectOnce(ctx context.Context) error {
	stream, err := a.sub.Subscribe(ctx, a.token)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		a.handle(ctx, ev)
	}
}

func (a *Agent) handle(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.Connected:
		a.mu.Lock()
		a.attempts = 0
		a.mu.Unlock()
		a.setState(Connected)
		a.logger.Infow("Real-time notifications connected")
		a.alert(ctx, "toast", func(context.Context) error {
			return a.alerter.Toast(Toast{
				Title:       "Notifications Active",
				Description: "Real-time alerts enabled for new reports",
				Level:       LevelSuccess,
			})
		})

	case events.Heartbeat:
		a.logger.Debugw("Heartbeat", "timestamp", e.Timestamp)

	case events.NewReport:
		a.alert(ctx, "toast", func(context.Context) error {
			return a.alerter.Toast(Toast{
				Title:       "New Report Received",
				Description: fmt.Sprintf("%s report (%s priority) - ID: %s", e.Category, e.Severity, e.ReportID),
				Level:       LevelInfo,
				Duration:    8 * time.Second,
			})
		})
		a.alert(ctx, "push", func(ctx context.Context) error {
			return a.alerter.Push(ctx, "New Report",
				fmt.Sprintf("A new %s report has been submitted with %s priority.", e.Category, e.Severity))
		})
		a.alert(ctx, "sound", func(ctx context.Context) error {
			return a.alerter.PlaySound(ctx, 1)
		})
		a.alert(ctx, "title", func(ctx context.Context) error {
			return a.alerter.FlashTitle(ctx, "New Report")
		})

	case events.UrgentReport:
		a.alert(ctx, "toast", func(context.Context) error {
			return a.alerter.Toast(Toast{
				Title:       "URGENT REPORT",
				Description: fmt.Sprintf("Emergency %s report requires immediate attention - ID: %s", e.Category, e.ReportID),
				Level:       LevelError,
				Duration:    15 * time.Second,
			})
		})
		a.alert(ctx, "push", func(ctx context.Context) error {
			return a.alerter.Push(ctx, "URGENT Report",
				fmt.Sprintf("An emergency %s report requires immediate attention.", e.Category))
		})
		a.alert(ctx, "sound", func(ctx context.Context) error {
			return a.alerter.PlaySound(ctx, 3)
		})
		a.alert(ctx, "title", func(ctx context.Context) error {
			return a.alerter.FlashTitle(ctx, "URGENT REPORT")
		})
	}
}

// alert runs one side effect on its own goroutine so a slow or failing
// effect never holds up another or the event loop.
func (a *Agent) alert(ctx context.Context, name string, fn func(context.Context) error) {
	a.effects.Add(1)
	go func() {
		defer a.effects.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Errorw("Alert panicked", "alert", name, "panic", r)
			}
		}()

		err := fn(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnsupported), errors.Is(err, ErrPermissionDenied):
			a.logger.Debugw("Alert skipped", "alert", name, "reason", err)
		case ctx.Err() != nil:
		default:
			a.logger.Warnw("Alert failed", "alert", name, "error", err)
		}
	}()
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	hook := a.onState
	a.mu.Unlock()

	if changed && hook != nil {
		hook(s)
	}
}
