package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// MemoryStore is an in-process SessionStore for tests and single-node setups.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*uploadtypes.Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*uploadtypes.Session)}
}

// Create implements SessionStore.
func (m *MemoryStore) Create(_ context.Context, s *uploadtypes.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return errors.NewError("create", errors.ErrAlreadyExists).WithSession(s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Get implements SessionStore.
func (m *MemoryStore) Get(_ context.Context, id string) (*uploadtypes.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound("get", id)
	}
	return s.Clone(), nil
}

// GetByUploadID implements SessionStore.
func (m *MemoryStore) GetByUploadID(_ context.Context, uploadID string) (*uploadtypes.Session, error) {
	return m.find("getByUploadID", func(s *uploadtypes.Session) bool { return s.UploadID == uploadID })
}

// GetByKey implements SessionStore.
func (m *MemoryStore) GetByKey(_ context.Context, key string) (*uploadtypes.Session, error) {
	return m.find("getByKey", func(s *uploadtypes.Session) bool { return s.Key == key })
}

func (m *MemoryStore) find(op string, match func(*uploadtypes.Session) bool) (*uploadtypes.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if match(s) {
			return s.Clone(), nil
		}
	}
	return nil, errors.NewError(op, errors.ErrSessionNotFound)
}

// RecordPartCount implements SessionStore.
func (m *MemoryStore) RecordPartCount(_ context.Context, id string, partCount int, at time.Time) (*uploadtypes.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound("recordPartCount", id)
	}
	if s.Status != uploadtypes.StatusUploading {
		return nil, notActive("recordPartCount", s)
	}
	if partCount > s.PartCount {
		s.PartCount = partCount
		s.UpdatedAt = at
	}
	return s.Clone(), nil
}

// Transition implements SessionStore.
func (m *MemoryStore) Transition(_ context.Context, id string, t Transition) (*uploadtypes.Session, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound("transition", id)
	}
	if !t.allows(s.Status) {
		return nil, notActive("transition", s)
	}

	s.Status = t.To
	if t.PublicURL != "" {
		s.PublicURL = t.PublicURL
	}
	s.UpdatedAt = t.At
	return s.Clone(), nil
}

// List implements SessionStore.
func (m *MemoryStore) List(_ context.Context, f Filter) ([]*uploadtypes.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*uploadtypes.Session
	for _, s := range m.sessions {
		if f.matches(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete implements SessionStore.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

var _ SessionStore = (*MemoryStore)(nil)
