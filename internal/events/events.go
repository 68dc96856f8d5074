// Package events defines the notification events pushed from the server to
// live admin viewers, and their JSON wire form.
//
// Event is a closed sum type: the only implementations are Connected,
// Heartbeat, NewReport and UrgentReport. Consumers dispatch with a type
// switch rather than by comparing type strings.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/whistle/whistle-server/internal/models"
)

// Wire type tags.
const (
	TypeConnected    = "connected"
	TypeHeartbeat    = "heartbeat"
	TypeNewReport    = "new_report"
	TypeUrgentReport = "urgent_report"
)

// ErrUnknownType is returned by Decode for an unrecognised type tag.
var ErrUnknownType = errors.New("events: unknown event type")

// Event is one notification on the stream.
type Event interface {
	// Type returns the wire tag.
	Type() string
	sealed()
}

// Connected is the first event on every new stream.
type Connected struct {
	Message string
}

// Heartbeat keeps intermediaries from closing an idle stream.
type Heartbeat struct {
	Timestamp time.Time
}

// ReportInfo is the report summary carried by report events. It never
// contains report content.
type ReportInfo struct {
	ReportID  string
	Category  models.ReportCategory
	Severity  models.ReportSeverity
	Timestamp time.Time
}

// NewReport announces a routine submission.
type NewReport struct{ ReportInfo }

// UrgentReport announces a submission that needs immediate attention.
type UrgentReport struct{ ReportInfo }

func (Connected) Type() string    { return TypeConnected }
func (Heartbeat) Type() string    { return TypeHeartbeat }
func (NewReport) Type() string    { return TypeNewReport }
func (UrgentReport) Type() string { return TypeUrgentReport }

func (Connected) sealed()    {}
func (Heartbeat) sealed()    {}
func (NewReport) sealed()    {}
func (UrgentReport) sealed() {}

// IsUrgent reports whether a report warrants an urgent notification.
func IsUrgent(r *models.Report) bool {
	return r.Severity == models.SeverityUrgent || r.Category == models.CategoryEmergency
}

// ForReport builds the notification for a freshly stored report.
func ForReport(r *models.Report, now time.Time) Event {
	info := ReportInfo{
		ReportID:  r.ID,
		Category:  r.Category,
		Severity:  r.Severity,
		Timestamp: now,
	}
	if IsUrgent(r) {
		return UrgentReport{info}
	}
	return NewReport{info}
}

// wire is the JSON shape shared by every event type.
type wire struct {
	Type      string                `json:"type"`
	Message   string                `json:"message,omitempty"`
	ReportID  string                `json:"reportId,omitempty"`
	Category  models.ReportCategory `json:"category,omitempty"`
	Severity  models.ReportSeverity `json:"severity,omitempty"`
	Timestamp string                `json:"timestamp,omitempty"`
}

// Encode renders an event as JSON.
func Encode(ev Event) ([]byte, error) {
	var w wire
	switch e := ev.(type) {
	case Connected:
		w = wire{Type: TypeConnected, Message: e.Message}
	case Heartbeat:
		w = wire{Type: TypeHeartbeat, Timestamp: formatTime(e.Timestamp)}
	case NewReport:
		w = reportWire(TypeNewReport, e.ReportInfo)
	case UrgentReport:
		w = reportWire(TypeUrgentReport, e.ReportInfo)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, ev)
	}
	return json.Marshal(w)
}

// Decode parses one event from its JSON form.
func Decode(data []byte) (Event, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch w.Type {
	case TypeConnected:
		return Connected{Message: w.Message}, nil
	case TypeHeartbeat:
		ts, err := parseTime(w.Timestamp)
		if err != nil {
			return nil, err
		}
		return Heartbeat{Timestamp: ts}, nil
	case TypeNewReport, TypeUrgentReport:
		ts, err := parseTime(w.Timestamp)
		if err != nil {
			return nil, err
		}
		info := ReportInfo{
			ReportID:  w.ReportID,
			Category:  w.Category,
			Severity:  w.Severity,
			Timestamp: ts,
		}
		if w.Type == TypeUrgentReport {
			return UrgentReport{info}, nil
		}
		return NewReport{info}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
}

func reportWire(typ string, info ReportInfo) wire {
	return wire{
		Type:      typ,
		ReportID:  info.ReportID,
		Category:  info.Category,
		Severity:  info.Severity,
		Timestamp: formatTime(info.Timestamp),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode event timestamp: %w", err)
	}
	return t, nil
}
