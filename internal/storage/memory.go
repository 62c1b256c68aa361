package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"Fabelwerk/server/internal/continuity"
	"Fabelwerk/server/internal/interfaces"
)

// MemoryStore is an in-process ContinuityStore for local runs and tests.
// Nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[string]*continuity.State
	sheets  map[string]*continuity.StyleSheet
	locks   map[string]heldLock
	lockTTL time.Duration
	now     func() time.Time
}

type heldLock struct {
	token   string
	expires time.Time
}

func NewMemoryStore(lockTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]*continuity.State),
		sheets:  make(map[string]*continuity.StyleSheet),
		locks:   make(map[string]heldLock),
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

var _ interfaces.ContinuityStore = (*MemoryStore)(nil)

func (s *MemoryStore) LoadState(_ context.Context, seriesID string) (*continuity.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[seriesID]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (s *MemoryStore) SaveState(_ context.Context, seriesID string, state *continuity.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[seriesID] = state.Clone()
	return nil
}

func (s *MemoryStore) LoadStyleSheet(_ context.Context, seriesID string) (*continuity.StyleSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheets[seriesID].Clone(), nil
}

func (s *MemoryStore) SaveStyleSheet(_ context.Context, seriesID string, sheet *continuity.StyleSheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[seriesID] = sheet.Clone()
	return nil
}

func (s *MemoryStore) AcquireSeriesLock(_ context.Context, seriesID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if held, ok := s.locks[seriesID]; ok && now.Before(held.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.locks[seriesID] = heldLock{token: token, expires: now.Add(s.lockTTL)}
	return token, true, nil
}

func (s *MemoryStore) ReleaseSeriesLock(_ context.Context, seriesID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[seriesID]; ok && held.token == token {
		delete(s.locks, seriesID)
	}
	return nil
}
