package member

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/emfabro/steelgate/crypto"
	"github.com/emfabro/steelgate/internal/util"
	"github.com/emfabro/steelgate/storage"
)

const (
	namespace        = "members"
	recordMember     = "MEMBER"
	recordPermission = "PERMISSION"
)

// Store implements Directory and PermissionSource over a storage.Repository.
// Every record is sealed with the store key and bound to its account.
type Store struct {
	repo storage.Repository
	key  []byte
	now  func() time.Time
}

var (
	_ Directory        = (*Store)(nil)
	_ PermissionSource = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store sealing records with recordKey.
func NewStore(repo storage.Repository, recordKey []byte, opts ...Option) (*Store, error) {
	if len(recordKey) != util.AESKeySize {
		return nil, fmt.Errorf("record key must be %d bytes, got %d", util.AESKeySize, len(recordKey))
	}
	s := &Store{repo: repo, key: util.CopyBytes(recordKey), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func aad(recordType, account string) []byte {
	return []byte("member:" + recordType + ":" + account)
}

func (s *Store) seal(recordType, account string, v any) (*storage.Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return storage.SealRecord(s.key, data, aad(recordType, account))
}

func (s *Store) open(ctx context.Context, recordType, account string, v any) error {
	env, err := s.repo.Get(ctx, namespace, recordType, account)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", account, ErrNotFound)
	}
	if err != nil {
		return err
	}
	data, err := storage.OpenRecord(s.key, env, aad(recordType, account))
	if err != nil {
		return fmt.Errorf("opening %s record for %s: %w", recordType, account, err)
	}
	return json.Unmarshal(data, v)
}

func (s *Store) Get(ctx context.Context, account string) (*Account, error) {
	key, err := NormalizeAccount(account)
	if err != nil {
		return nil, err
	}
	var a Account
	if err := s.open(ctx, recordMember, key, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) FindByCredential(ctx context.Context, account, whisper string) (*Account, error) {
	a, err := s.Get(ctx, account)
	if err != nil {
		if errors.Is(err, ErrInvalidAccount) {
			return nil, fmt.Errorf("%s: %w", account, ErrNotFound)
		}
		return nil, err
	}
	if whisper == "" || !crypto.WhisperEqual(a.Whisper, whisper) {
		return nil, fmt.Errorf("%s: %w", account, ErrNotFound)
	}
	return a, nil
}

func (s *Store) Exists(ctx context.Context, account string) (bool, error) {
	_, err := s.Get(ctx, account)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidAccount):
		return false, nil
	default:
		return false, err
	}
}

// Create registers a new member and its permission set in one batch. The ID
// is assigned from a monotonically increasing sequence.
func (s *Store) Create(ctx context.Context, a Account, perm Permission) (*Account, error) {
	key, err := NormalizeAccount(a.Account)
	if err != nil {
		return nil, err
	}
	a.Account = key
	now := s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	err = s.repo.Batch(ctx, namespace, func(tx storage.BatchTx) error {
		id, err := tx.NextSequence(recordMember)
		if err != nil {
			return err
		}
		a.ID = id
		env, err := s.seal(recordMember, key, a)
		if err != nil {
			return err
		}
		if err := tx.Create(recordMember, key, env); err != nil {
			return err
		}
		penv, err := s.seal(recordPermission, key, perm)
		if err != nil {
			return err
		}
		return tx.Put(recordPermission, key, penv)
	})
	if errors.Is(err, storage.ErrExists) {
		return nil, fmt.Errorf("%s: %w", key, ErrExists)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetStatus changes the activation state of an existing member.
func (s *Store) SetStatus(ctx context.Context, account string, status Status) (*Account, error) {
	a, err := s.Get(ctx, account)
	if err != nil {
		return nil, err
	}
	a.Status = status
	a.UpdatedAt = s.now().UTC()
	env, err := s.seal(recordMember, a.Account, a)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Put(ctx, namespace, recordMember, a.Account, env); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ids, err := s.repo.List(ctx, namespace, recordMember)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// List returns every member ordered by ID.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	ids, err := s.repo.List(ctx, namespace, recordMember)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		var a Account
		if err := s.open(ctx, recordMember, id, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PermissionsFor returns the member's grants. A member without a permission
// record gets an empty set.
func (s *Store) PermissionsFor(ctx context.Context, account string) (Permission, error) {
	key, err := NormalizeAccount(account)
	if err != nil {
		return Permission{}, err
	}
	var p Permission
	err = s.open(ctx, recordPermission, key, &p)
	if errors.Is(err, ErrNotFound) {
		return Permission{Page: []Item{}, Feature: []Item{}}, nil
	}
	if err != nil {
		return Permission{}, err
	}
	if p.Page == nil {
		p.Page = []Item{}
	}
	if p.Feature == nil {
		p.Feature = []Item{}
	}
	return p, nil
}

// SetPermissions replaces the member's grants.
func (s *Store) SetPermissions(ctx context.Context, account string, perm Permission) error {
	a, err := s.Get(ctx, account)
	if err != nil {
		return err
	}
	env, err := s.seal(recordPermission, a.Account, perm)
	if err != nil {
		return err
	}
	return s.repo.Put(ctx, namespace, recordPermission, a.Account, env)
}
