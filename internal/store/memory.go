package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"moto-alarm/ingestion/internal/domain"
)

// MemoryStore keeps samples, notification records and access logs in
// process. It stands in for TimescaleStore when STORAGE_BACKEND=memory and
// in tests; everything is lost on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	samples    map[string][]*domain.Sample
	records    map[string]domain.NotificationRecord
	accessLogs []domain.AccessLogEntry
	maxLogs    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		samples: make(map[string][]*domain.Sample),
		records: make(map[string]domain.NotificationRecord),
		maxLogs: 10000,
	}
}

func (m *MemoryStore) AppendSample(_ context.Context, entityID string, sample *domain.Sample) (*domain.Sample, error) {
	stored := *sample
	stored.EntityID = entityID

	m.mu.Lock()
	m.samples[entityID] = append(m.samples[entityID], &stored)
	m.mu.Unlock()

	out := stored
	return &out, nil
}

// GetLatestSample returns the sample with the newest Timestamp, or nil.
func (m *MemoryStore) GetLatestSample(_ context.Context, entityID string) (*domain.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *domain.Sample
	for _, s := range m.samples[entityID] {
		if latest == nil || !s.Timestamp.Before(latest.Timestamp) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// ListSamples returns up to limit of the newest samples taken at or after
// since, oldest first.
func (m *MemoryStore) ListSamples(_ context.Context, entityID string, since time.Time, limit int) ([]domain.Sample, error) {
	m.mu.RLock()
	out := make([]domain.Sample, 0)
	for _, s := range m.samples[entityID] {
		if !s.Timestamp.Before(since) {
			out = append(out, *s)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) SampleCount(entityID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples[entityID])
}

func (m *MemoryStore) GetNotificationRecord(_ context.Context, key string) (*domain.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) UpsertNotificationRecord(_ context.Context, key, category string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[key]
	rec.Key = key
	rec.Category = category
	rec.LastNotification = at
	rec.Count++
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) DeleteNotificationRecord(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) BatchInsertAccessLogs(_ context.Context, entries []*domain.AccessLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.accessLogs = append(m.accessLogs, *e)
	}
	if over := len(m.accessLogs) - m.maxLogs; over > 0 {
		m.accessLogs = append([]domain.AccessLogEntry(nil), m.accessLogs[over:]...)
	}
	return nil
}

func (m *MemoryStore) ListAccessLogs(_ context.Context, f domain.AccessLogFilter) ([]domain.AccessLogEntry, error) {
	m.mu.RLock()
	matched := make([]domain.AccessLogEntry, 0)
	for _, e := range m.accessLogs {
		if f.IP != "" && e.IPAddress != f.IP {
			continue
		}
		if f.Path != "" && !strings.Contains(e.Path, f.Path) {
			continue
		}
		if f.Method != "" && !strings.EqualFold(e.Method, f.Method) {
			continue
		}
		matched = append(matched, e)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	if f.Offset >= len(matched) {
		return []domain.AccessLogEntry{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) AccessLogStats(_ context.Context, since time.Time) ([]domain.AccessLogStats, error) {
	m.mu.RLock()
	byIP := make(map[string]*domain.AccessLogStats)
	totals := make(map[string]int64)
	for _, e := range m.accessLogs {
		if e.Timestamp.Before(since) {
			continue
		}
		st, ok := byIP[e.IPAddress]
		if !ok {
			st = &domain.AccessLogStats{IPAddress: e.IPAddress, FirstSeen: e.Timestamp, LastSeen: e.Timestamp}
			byIP[e.IPAddress] = st
		}
		st.RequestCount++
		totals[e.IPAddress] += e.ProcessingTimeMS
		if e.Timestamp.Before(st.FirstSeen) {
			st.FirstSeen = e.Timestamp
		}
		if e.Timestamp.After(st.LastSeen) {
			st.LastSeen = e.Timestamp
		}
	}
	m.mu.RUnlock()

	out := make([]domain.AccessLogStats, 0, len(byIP))
	for ip, st := range byIP {
		st.AvgProcessingTimeMS = float64(totals[ip]) / float64(st.RequestCount)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestCount != out[j].RequestCount {
			return out[i].RequestCount > out[j].RequestCount
		}
		return out[i].IPAddress < out[j].IPAddress
	})
	return out, nil
}
