// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/emfabro/steelgate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, development and single-process use.
type Repository struct {
	mu        sync.RWMutex
	data      map[string]map[string]*storage.Envelope
	sequences map[string]int64
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		data:      make(map[string]map[string]*storage.Envelope),
		sequences: make(map[string]int64),
	}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func (r *Repository) Put(_ context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(namespace, recordType, recordID, envelope)
	return nil
}

func (r *Repository) putLocked(namespace, recordType, recordID string, envelope *storage.Envelope) {
	if _, ok := r.data[namespace]; !ok {
		r.data[namespace] = make(map[string]*storage.Envelope)
	}
	r.data[namespace][makeKey(recordType, recordID)] = envelope.Clone()
}

func (r *Repository) Create(_ context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(namespace, recordType, recordID, envelope)
}

func (r *Repository) createLocked(namespace, recordType, recordID string, envelope *storage.Envelope) error {
	if _, ok := r.data[namespace][makeKey(recordType, recordID)]; ok {
		return storage.ErrExists
	}
	r.putLocked(namespace, recordType, recordID, envelope)
	return nil
}

func (r *Repository) Get(_ context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.data[namespace][makeKey(recordType, recordID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return env.Clone(), nil
}

func (r *Repository) List(_ context.Context, namespace, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[namespace] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, namespace, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := makeKey(recordType, recordID)
	if _, ok := r.data[namespace][k]; !ok {
		return storage.ErrNotFound
	}
	delete(r.data[namespace], k)
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(_ context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, seqs := r.snapshot(namespace)
	if err := fn(&batchTx{repo: r, namespace: namespace}); err != nil {
		r.restore(namespace, snapshot, seqs)
		return err
	}
	return nil
}

func (r *Repository) snapshot(namespace string) (map[string]*storage.Envelope, map[string]int64) {
	seqs := make(map[string]int64, len(r.sequences))
	for k, v := range r.sequences {
		seqs[k] = v
	}
	original, ok := r.data[namespace]
	if !ok {
		return nil, seqs
	}
	cp := make(map[string]*storage.Envelope, len(original))
	for k, v := range original {
		cp[k] = v.Clone()
	}
	return cp, seqs
}

func (r *Repository) restore(namespace string, snapshot map[string]*storage.Envelope, seqs map[string]int64) {
	if snapshot == nil {
		delete(r.data, namespace)
	} else {
		r.data[namespace] = snapshot
	}
	r.sequences = seqs
}

type batchTx struct {
	repo      *Repository
	namespace string
}

func (tx *batchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	tx.repo.putLocked(tx.namespace, recordType, recordID, envelope)
	return nil
}

func (tx *batchTx) Create(recordType, recordID string, envelope *storage.Envelope) error {
	return tx.repo.createLocked(tx.namespace, recordType, recordID, envelope)
}

func (tx *batchTx) NextSequence(recordType string) (int64, error) {
	k := makeKey(tx.namespace, recordType)
	tx.repo.sequences[k]++
	return tx.repo.sequences[k], nil
}
