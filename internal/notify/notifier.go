package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whistle/whistle-server/internal/events"
	"github.com/whistle/whistle-server/internal/models"
	"go.uber.org/zap"
)

// Publisher is the fan-out side of the hub.
type Publisher interface {
	Publish(ev events.Event)
}

// Notifier turns stored reports into viewer events and urgent email alerts.
type Notifier struct {
	pub     Publisher
	mailer  Mailer
	logger  *zap.SugaredLogger
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

// NewNotifier wires a publisher and a mailer.
func NewNotifier(pub Publisher, mailer Mailer, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{
		pub:     pub,
		mailer:  mailer,
		logger:  logger,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
}

// NotifyNewReport publishes the event for r and, for urgent reports, sends
// an email alert in the background. It never fails.
func (n *Notifier) NotifyNewReport(r *models.Report) {
	ev := events.ForReport(r, n.now())
	n.pub.Publish(ev)

	if urgent, ok := ev.(events.UrgentReport); ok {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := n.SendAlert(ctx, urgent.ReportInfo); err != nil {
				n.logger.Errorw("Failed to send email alert", "report_id", r.ID, "error", err)
			}
		}()
	}
}

// SendAlert emails the urgent alert for one report.
func (n *Notifier) SendAlert(ctx context.Context, info events.ReportInfo) error {
	if err := n.mailer.Send(ctx, urgentAlert(info)); err != nil {
		return fmt.Errorf("send urgent alert: %w", err)
	}
	if n.mailer.Enabled() {
		n.logger.Infow("Email alert sent", "report_id", info.ReportID)
	}
	return nil
}

// SendTest sends a test message so an admin can check the mail setup.
func (n *Notifier) SendTest(ctx context.Context) error {
	msg := Message{
		Subject: "Whistle test email",
		Body: "This is a test message from the Whistle server.\n\n" +
			"If you received it, urgent report alerts are configured correctly.\n",
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send test email: %w", err)
	}
	return nil
}

// EmailEnabled reports whether alerts leave the process.
func (n *Notifier) EmailEnabled() bool { return n.mailer.Enabled() }

// Wait blocks until in-flight alerts finish.
func (n *Notifier) Wait() { n.wg.Wait() }

func urgentAlert(info events.ReportInfo) Message {
	submitted := info.Timestamp
	if submitted.IsZero() {
		submitted = time.Now()
	}
	return Message{
		Subject: fmt.Sprintf("URGENT: New %s report - %s", info.Category, info.ReportID),
		Body: fmt.Sprintf("A new urgent report has been submitted.\n\n"+
			"Report ID: %s\n"+
			"Category: %s\n"+
			"Severity: %s\n"+
			"Submitted: %s\n\n"+
			"Please log into the admin dashboard to review and respond.\n\n"+
			"- Whistle\n",
			info.ReportID, info.Category, info.Severity, submitted.UTC().Format(time.RFC3339)),
	}
}
