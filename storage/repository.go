// Package storage provides the storage abstraction layer for sealed records.
//
// Records are addressed by (namespace, recordType, recordID) and hold an
// Envelope produced by SealRecord. Backends never see plaintext.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned by Create when the record is already present.
	ErrExists = errors.New("record already exists")
)

// BatchTx provides writes within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType, recordID string, envelope *Envelope) error
	Create(recordType, recordID string, envelope *Envelope) error
	// NextSequence returns the next value of a monotonically increasing
	// per-namespace counter named by recordType, starting at 1.
	NextSequence(recordType string) (int64, error)
}

// Repository defines the interface for sealed record storage.
type Repository interface {
	Put(ctx context.Context, namespace, recordType, recordID string, envelope *Envelope) error
	Create(ctx context.Context, namespace, recordType, recordID string, envelope *Envelope) error
	Get(ctx context.Context, namespace, recordType, recordID string) (*Envelope, error)
	List(ctx context.Context, namespace, recordType string) ([]string, error)
	Delete(ctx context.Context, namespace, recordType, recordID string) error
	Batch(ctx context.Context, namespace string, fn func(tx BatchTx) error) error
}
