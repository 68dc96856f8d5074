package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/whistle/whistle-server/internal/models"
)

// Memory is an in-process Store. Contents are lost on restart.
type Memory struct {
	mu       sync.RWMutex
	reports  map[string]*models.Report
	activity []models.ActivityLog
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{reports: make(map[string]*models.Report)}
}

func (m *Memory) Create(ctx context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = cloneReport(r)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReport(r), nil
}

func (m *Memory) List(ctx context.Context, status models.ReportStatus) ([]models.Report, error) {
	m.mu.RLock()
	out := make([]models.Report, 0, len(m.reports))
	for _, r := range m.reports {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *cloneReport(r))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Update(ctx context.Context, id string, req models.UpdateReportRequest, now time.Time) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	applyUpdate(r, req, now)
	return cloneReport(r), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) LogActivity(ctx context.Context, entry *models.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, *entry)
	return nil
}

func (m *Memory) RecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	return m.filterActivity("", limit), nil
}

func (m *Memory) ActivityForReport(ctx context.Context, reportID string, limit int) ([]models.ActivityLog, error) {
	return m.filterActivity(reportID, limit), nil
}

// filterActivity walks the log newest first.
func (m *Memory) filterActivity(reportID string, limit int) []models.ActivityLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var logs []models.ActivityLog
	for i := len(m.activity) - 1; i >= 0; i-- {
		if limit > 0 && len(logs) >= limit {
			break
		}
		if reportID != "" && m.activity[i].ReportID != reportID {
			continue
		}
		logs = append(logs, m.activity[i])
	}
	return logs
}

func (m *Memory) Close() {}

// cloneReport copies the pointer fields so callers never alias stored state.
func cloneReport(r *models.Report) *models.Report {
	c := *r
	if r.VideoMetadata != nil {
		meta := *r.VideoMetadata
		c.VideoMetadata = &meta
	}
	if r.EncryptedData != nil {
		env := *r.EncryptedData
		c.EncryptedData = &env
	}
	if r.AdminResponse != nil {
		resp := *r.AdminResponse
		c.AdminResponse = &resp
	}
	if r.AdminResponseAt != nil {
		at := *r.AdminResponseAt
		c.AdminResponseAt = &at
	}
	return &c
}

var _ Store = (*Memory)(nil)
