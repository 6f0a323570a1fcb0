package store

import (
	"context"
	"sort"
	"sync"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

// MemoryStore is an in-process CallStore used by tests and single-node
// development runs without external storage.
type MemoryStore struct {
	mu     sync.RWMutex
	calls  map[string]models.CallSession
	byUser map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:  make(map[string]models.CallSession),
		byUser: make(map[string][]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, call *models.CallSession, participants []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.ID] = *call
	for _, userID := range participants {
		s.byUser[userID] = append(s.byUser[userID], call.ID)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := call
	return &out, nil
}

func (s *MemoryStore) Update(ctx context.Context, call *models.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[call.ID]; !ok {
		return ErrNotFound
	}
	s.calls[call.ID] = *call
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var calls []models.CallSession
	for _, id := range s.byUser[userID] {
		if call, ok := s.calls[id]; ok {
			calls = append(calls, call)
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})
	return calls, nil
}
