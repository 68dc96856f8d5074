package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whistle/whistle-server/internal/models"
)

func TestForReportClassification(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		category models.ReportCategory
		severity models.ReportSeverity
		urgent   bool
	}{
		{"routine", models.CategoryHarassment, models.SeverityMedium, false},
		{"urgent severity", models.CategoryFeedback, models.SeverityUrgent, true},
		{"emergency category", models.CategoryEmergency, models.SeverityLow, true},
		{"encrypted placeholder", models.CategoryEncrypted, models.SeverityHigh, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &models.Report{ID: "r1", Category: tt.category, Severity: tt.severity}
			ev := ForReport(r, now)

			switch e := ev.(type) {
			case UrgentReport:
				assert.True(t, tt.urgent, "unexpected urgent event")
				assert.Equal(t, "r1", e.ReportID)
			case NewReport:
				assert.False(t, tt.urgent, "expected urgent event")
				assert.Equal(t, now, e.Timestamp)
			default:
				t.Fatalf("unexpected event %T", ev)
			}
		})
	}
}

func TestEncodeWireShape(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := Encode(UrgentReport{ReportInfo{
		ReportID:  "abc",
		Category:  models.CategoryEmergency,
		Severity:  models.SeverityUrgent,
		Timestamp: ts,
	}})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "urgent_report", m["type"])
	assert.Equal(t, "abc", m["reportId"])
	assert.Equal(t, "emergency", m["category"])
	assert.Equal(t, "urgent", m["severity"])
	assert.Equal(t, "2026-03-01T12:00:00Z", m["timestamp"])

	data, err = Encode(Connected{Message: "Notifications active"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","message":"Notifications active"}`, string(data))
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"heartbeat","timestamp":"2026-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	hb, ok := ev.(Heartbeat)
	require.True(t, ok)
	assert.Equal(t, 2026, hb.Timestamp.Year())

	ev, err = Decode([]byte(`{"type":"new_report","reportId":"x","category":"medical","severity":"low","timestamp":"2026-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	nr, ok := ev.(NewReport)
	require.True(t, ok)
	assert.Equal(t, "x", nr.ReportID)
	assert.Equal(t, models.CategoryMedical, nr.Category)

	_, err = Decode([]byte(`{"type":"telemetry"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"heartbeat","timestamp":"yesterday"}`))
	assert.Error(t, err)
}
