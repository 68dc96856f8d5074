package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Alert failures that are skipped silently.
var (
	ErrUnsupported      = errors.New("agent: alert not supported")
	ErrPermissionDenied = errors.New("agent: alert permission denied")
)

// Level is the tone of a toast.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// Toast is an in-app notice.
type Toast struct {
	Title       string
	Description string
	Level       Level
	Duration    time.Duration
	// Persistent toasts stay until the user acts.
	Persistent bool
}

// Alerter renders alerts to the admin. Implementations must be safe for
// concurrent use; each method may run on its own goroutine.
type Alerter interface {
	Toast(t Toast) error
	// Push sends a native notification. It returns ErrUnsupported or
	// ErrPermissionDenied when that is not possible.
	Push(ctx context.Context, title, body string) error
	PlaySound(ctx context.Context, beeps int) error
	FlashTitle(ctx context.Context, text string) error
}

// TerminalAlerter renders alerts on a terminal: styled toasts, the bell for
// sound and the window title for flashing.
type TerminalAlerter struct {
	out        io.Writer
	baseTitle  string
	beepGap    time.Duration
	flashEvery time.Duration
	flashes    int
	now        func() time.Time

	mu sync.Mutex
}

// NewTerminalAlerter writes alerts to out.
func NewTerminalAlerter(out io.Writer) *TerminalAlerter {
	return &TerminalAlerter{
		out:        out,
		baseTitle:  "whistle watch",
		beepGap:    400 * time.Millisecond,
		flashEvery: time.Second,
		flashes:    10,
		now:        time.Now,
	}
}

var (
	toastBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	toastTitle = lipgloss.NewStyle().Bold(true)
	toastTime  = lipgloss.NewStyle().Faint(true)
)

func levelColor(l Level) lipgloss.Color {
	switch l {
	case LevelSuccess:
		return lipgloss.Color("10")
	case LevelWarning:
		return lipgloss.Color("11")
	case LevelError:
		return lipgloss.Color("9")
	}
	return lipgloss.Color("12")
}

func (t *TerminalAlerter) Toast(toast Toast) error {
	color := levelColor(toast.Level)
	body := toastTitle.Foreground(color).Render(toast.Title) + "  " +
		toastTime.Render(t.now().Format("15:04:05"))
	if toast.Description != "" {
		body += "\n" + toast.Description
	}
	if toast.Persistent {
		body += "\n" + toastTime.Render("(this message stays until you restart)")
	}
	return t.write(toastBox.BorderForeground(color).Render(body) + "\n")
}

// Push is not available on a plain terminal.
func (t *TerminalAlerter) Push(ctx context.Context, title, body string) error {
	return ErrUnsupported
}

// PlaySound rings the terminal bell beeps times.
func (t *TerminalAlerter) PlaySound(ctx context.Context, beeps int) error {
	for i := 0; i < beeps; i++ {
		if i > 0 {
			if err := sleep(ctx, t.beepGap); err != nil {
				return err
			}
		}
		if err := t.write("\a"); err != nil {
			return err
		}
	}
	return nil
}

// FlashTitle alternates the window title between text and the normal title.
func (t *TerminalAlerter) FlashTitle(ctx context.Context, text string) error {
	defer t.write(osc(t.baseTitle))

	for i := 0; i < t.flashes; i++ {
		title := t.baseTitle
		if i%2 == 0 {
			title = text
		}
		if err := t.write(osc(title)); err != nil {
			return err
		}
		if err := sleep(ctx, t.flashEvery); err != nil {
			return err
		}
	}
	return nil
}

func (t *TerminalAlerter) write(s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.out, s); err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}

// osc sets the terminal window title.
func osc(title string) string {
	title = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, title)
	return "\x1b]0;" + title + "\a"
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
