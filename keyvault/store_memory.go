package keyvault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/emfabro/steelgate/internal/util"
)

type memoryEntry struct {
	publicKey []byte
	private   *memguard.Enclave
	issuedAt  time.Time
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-process Store. Private keys are held in
// memguard enclaves and only decrypted on Get.
// Keypairs are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(_ context.Context, accountID string) (*Entry, error) {
	s.mu.RLock()
	me, ok := s.data[accountID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}

	buf, err := me.private.Open()
	if err != nil {
		return nil, fmt.Errorf("opening keypair enclave: %w", err)
	}
	defer buf.Destroy()

	return &Entry{
		PublicKey:  util.CopyBytes(me.publicKey),
		PrivateKey: util.CopyBytes(buf.Bytes()),
		IssuedAt:   me.issuedAt,
		ExpiresAt:  me.expiresAt,
	}, nil
}

// PutIfAbsent moves e.PrivateKey into an enclave; the slice is wiped.
func (s *MemoryStore) PutIfAbsent(_ context.Context, accountID string, e *Entry) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[accountID]; ok {
		util.WipeBytes(e.PrivateKey)
		return &Entry{
			PublicKey: util.CopyBytes(existing.publicKey),
			IssuedAt:  existing.issuedAt,
			ExpiresAt: existing.expiresAt,
		}, nil
	}

	s.data[accountID] = memoryEntry{
		publicKey: util.CopyBytes(e.PublicKey),
		private:   memguard.NewEnclave(e.PrivateKey),
		issuedAt:  e.IssuedAt,
		expiresAt: e.ExpiresAt,
	}
	return &Entry{
		PublicKey: util.CopyBytes(e.PublicKey),
		IssuedAt:  e.IssuedAt,
		ExpiresAt: e.ExpiresAt,
	}, nil
}

func (s *MemoryStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	delete(s.data, accountID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteIfExpired(_ context.Context, accountID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.data[accountID]
	if !ok || now.Before(me.expiresAt) {
		return false, nil
	}
	delete(s.data, accountID)
	return true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, me := range s.data {
		if !now.Before(me.expiresAt) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored keypairs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
