package memory

import (
	"context"
	"testing"

	"github.com/emfabro/steelgate/storage"
	"github.com/emfabro/steelgate/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, NewRepository())
}

func TestMemoryBatchRollbackRestoresSequence(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	_ = repo.Batch(ctx, "ns", func(tx storage.BatchTx) error {
		_, _ = tx.NextSequence("MEMBER")
		return context.Canceled
	})

	var n int64
	err := repo.Batch(ctx, "ns", func(tx storage.BatchTx) error {
		var err error
		n, err = tx.NextSequence("MEMBER")
		return err
	})
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected sequence 1 after rollback, got %d", n)
	}
}
