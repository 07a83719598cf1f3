package lockout

import (
	"context"
	"hash/maphash"
	"sync"
)

const stripes = 64

// MemoryStore keeps state in process memory. Updates for one account are
// serialised by a lock stripe chosen by hashing the account, so unrelated
// accounts rarely contend.
type MemoryStore struct {
	seed    maphash.Seed
	stripes [stripes]sync.Mutex

	mu   sync.RWMutex
	data map[string]State
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seed: maphash.MakeSeed(), data: make(map[string]State)}
}

func (s *MemoryStore) stripe(accountID string) *sync.Mutex {
	return &s.stripes[maphash.String(s.seed, accountID)%stripes]
}

func (s *MemoryStore) Load(_ context.Context, accountID string) (State, bool, error) {
	s.mu.RLock()
	st, ok := s.data[accountID]
	s.mu.RUnlock()
	return st, ok, nil
}

func (s *MemoryStore) Update(_ context.Context, accountID string, fn func(*State) bool) (State, error) {
	l := s.stripe(accountID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	st := s.data[accountID]
	s.mu.RUnlock()

	keep := fn(&st)

	s.mu.Lock()
	if keep {
		s.data[accountID] = st
	} else {
		delete(s.data, accountID)
		st = State{}
	}
	s.mu.Unlock()
	return st, nil
}

func (s *MemoryStore) Delete(_ context.Context, accountID string) error {
	l := s.stripe(accountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	delete(s.data, accountID)
	s.mu.Unlock()
	return nil
}

// Len reports how many accounts carry state.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
