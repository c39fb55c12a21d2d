package session

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and as the DB-less fallback in cmd/api.
type InMemory struct {
	mu   sync.RWMutex
	rows map[string]*Session
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[string]*Session)}
}

func (m *InMemory) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.rows[s.ID] = &cp
	return nil
}

func (m *InMemory) Find(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *InMemory) ActiveByUser(ctx context.Context, userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, row := range m.rows {
		if row.UserID == userID && row.Status == StatusActive {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Revoke transitions the row only while it is still active, so exactly one
// of two concurrent callers observes true.
func (m *InMemory) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	if row.Status != StatusActive {
		return false, nil
	}
	row.Status = StatusRevoked
	row.RevokedAt = at
	row.RevokeReason = reason
	return true, nil
}

func (m *InMemory) RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, row := range m.rows {
		if row.UserID != userID || row.Status != StatusActive {
			continue
		}
		row.Status = StatusRevoked
		row.RevokedAt = at
		row.RevokeReason = reason
		count++
	}
	return count, nil
}

func (m *InMemory) Touch(ctx context.Context, id string, at time.Time, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.LastActivityAt = at
	if meta.IPAddress != "" {
		row.Metadata.IPAddress = meta.IPAddress
	}
	if meta.UserAgent != "" {
		row.Metadata.UserAgent = meta.UserAgent
	}
	if meta.DeviceInfo != "" {
		row.Metadata.DeviceInfo = meta.DeviceInfo
	}
	if meta.LocationInfo != "" {
		row.Metadata.LocationInfo = meta.LocationInfo
	}
	return nil
}

func (m *InMemory) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, row := range m.rows {
		if row.Status != StatusActive || now.Before(row.ExpiresAt) {
			continue
		}
		row.Status = StatusExpired
		row.RevokeReason = ReasonExpired
		count++
	}
	return count, nil
}
