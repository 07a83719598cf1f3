// Package storagetest holds the behavioural suite every storage.Repository
// backend must pass.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/emfabro/steelgate/storage"
)

func envelope(payload string) *storage.Envelope {
	return &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      make([]byte, 12),
		Ciphertext: []byte(payload),
	}
}

// Run exercises repo. The repository must start empty.
func Run(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	const ns = "members"

	t.Run("PutGet", func(t *testing.T) {
		if err := repo.Put(ctx, ns, "MEMBER", "alice", envelope("v1")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, ns, "MEMBER", "alice")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Ciphertext) != "v1" || got.Scheme != "aes256gcm" || got.Ver != 1 {
			t.Errorf("unexpected envelope %+v", got)
		}

		if err := repo.Put(ctx, ns, "MEMBER", "alice", envelope("v2")); err != nil {
			t.Fatalf("overwrite failed: %v", err)
		}
		got, _ = repo.Get(ctx, ns, "MEMBER", "alice")
		if string(got.Ciphertext) != "v2" {
			t.Errorf("expected overwritten value v2, got %q", got.Ciphertext)
		}
	})

	t.Run("ReturnedEnvelopeIsCopy", func(t *testing.T) {
		got, err := repo.Get(ctx, ns, "MEMBER", "alice")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		got.Ciphertext[0] = 'X'
		again, _ := repo.Get(ctx, ns, "MEMBER", "alice")
		if bytes.Equal(again.Ciphertext, got.Ciphertext) {
			t.Error("mutating a returned envelope changed the stored record")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := repo.Get(ctx, ns, "MEMBER", "nobody"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.Get(ctx, "other", "MEMBER", "alice"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound in other namespace, got %v", err)
		}
	})

	t.Run("Create", func(t *testing.T) {
		if err := repo.Create(ctx, ns, "MEMBER", "bob", envelope("bob")); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := repo.Create(ctx, ns, "MEMBER", "bob", envelope("again")); !errors.Is(err, storage.ErrExists) {
			t.Errorf("expected ErrExists, got %v", err)
		}
		got, _ := repo.Get(ctx, ns, "MEMBER", "bob")
		if string(got.Ciphertext) != "bob" {
			t.Errorf("Create overwrote existing record: %q", got.Ciphertext)
		}
	})

	t.Run("List", func(t *testing.T) {
		if err := repo.Put(ctx, ns, "PERMISSION", "alice", envelope("p")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ids, err := repo.List(ctx, ns, "MEMBER")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
			t.Errorf("expected [alice bob], got %v", ids)
		}
		ids, _ = repo.List(ctx, "empty", "MEMBER")
		if len(ids) != 0 {
			t.Errorf("expected no ids in empty namespace, got %v", ids)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, ns, "PERMISSION", "alice"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, ns, "PERMISSION", "alice"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, ns, "PERMISSION", "alice"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		var seq int64
		err := repo.Batch(ctx, ns, func(tx storage.BatchTx) error {
			var err error
			if seq, err = tx.NextSequence("MEMBER"); err != nil {
				return err
			}
			if err := tx.Create("MEMBER", "carol", envelope("carol")); err != nil {
				return err
			}
			return tx.Put("PERMISSION", "carol", envelope("perm"))
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
		if seq != 1 {
			t.Errorf("expected first sequence 1, got %d", seq)
		}
		if _, err := repo.Get(ctx, ns, "PERMISSION", "carol"); err != nil {
			t.Errorf("batch write missing: %v", err)
		}
	})

	t.Run("BatchRollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.Batch(ctx, ns, func(tx storage.BatchTx) error {
			if err := tx.Put("MEMBER", "dave", envelope("dave")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, err := repo.Get(ctx, ns, "MEMBER", "dave"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected rolled back write, got %v", err)
		}
	})

	t.Run("BatchCreateConflict", func(t *testing.T) {
		err := repo.Batch(ctx, ns, func(tx storage.BatchTx) error {
			return tx.Create("MEMBER", "alice", envelope("dup"))
		})
		if !errors.Is(err, storage.ErrExists) {
			t.Errorf("expected ErrExists, got %v", err)
		}
	})

	t.Run("SequenceIsMonotonic", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := make(map[int64]bool)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = repo.Batch(ctx, ns, func(tx storage.BatchTx) error {
					n, err := tx.NextSequence("MEMBER")
					if err != nil {
						return err
					}
					mu.Lock()
					defer mu.Unlock()
					if seen[n] {
						return fmt.Errorf("duplicate sequence %d", n)
					}
					seen[n] = true
					return nil
				})
			}()
		}
		wg.Wait()
		if len(seen) != 8 {
			t.Errorf("expected 8 distinct sequence values, got %d", len(seen))
		}
		for n := range seen {
			if n < 2 {
				t.Errorf("sequence went backwards: %d", n)
			}
		}
	})
}
