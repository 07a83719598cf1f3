package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/emfabro/steelgate/config"
	"github.com/emfabro/steelgate/crypto"
	"github.com/emfabro/steelgate/keyvault"
	"github.com/emfabro/steelgate/lockout"
	"github.com/emfabro/steelgate/login"
	"github.com/emfabro/steelgate/member"
	"github.com/emfabro/steelgate/storage"
	boltstorage "github.com/emfabro/steelgate/storage/bbolt"
	"github.com/emfabro/steelgate/storage/memory"
	pgstorage "github.com/emfabro/steelgate/storage/postgres"
)

// stack is everything a command needs, plus the cleanups to run on exit in
// reverse order.
type stack struct {
	keys    crypto.Keys
	members *member.Store
	vault   *keyvault.Vault
	locks   *lockout.Tracker
	service *login.Service
	closers []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.keys.Wipe()
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return memory.NewRepository(), func() {}, nil
	case config.StorageBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := boltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "steelgate.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open member storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case config.StoragePostgres:
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open member storage: %w", err)
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// openMembers opens only the member directory, for the offline commands.
func openMembers(ctx context.Context, cfg *config.Config) (*stack, error) {
	keys, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	s := &stack{keys: keys}
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, closeRepo)

	s.members, err = member.NewStore(repo, keys.StoreKey)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openStack wires the full login service. With a Redis address the keypair
// and lockout stores are shared between instances; otherwise they live in
// this process.
func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	s, err := openMembers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		keyStore  keyvault.Store
		lockStore lockout.Store
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s.closers = append(s.closers, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		keyStore, err = keyvault.NewRedisStore(client, s.keys.StoreKey, "")
		if err != nil {
			s.Close()
			return nil, err
		}
		lockStore = lockout.NewRedisStore(client, "", 0)
		logger.Info("using shared redis state", "addr", cfg.RedisAddr)
	} else {
		keyStore = keyvault.NewMemoryStore()
		lockStore = lockout.NewMemoryStore()
	}

	s.vault = keyvault.New(keyStore,
		keyvault.WithTTL(cfg.KeypairTTL.Duration),
		keyvault.WithKeyBits(cfg.KeypairBits),
		keyvault.WithLogger(logger),
	)
	s.locks = lockout.New(lockStore,
		lockout.WithThreshold(cfg.LockThreshold),
		lockout.WithLockDuration(cfg.LockDuration.Duration),
	)
	s.service, err = login.New(s.vault, s.locks, s.members, s.members, s.keys,
		login.WithSecureCookies(!cfg.IsDev()),
		login.WithRenewMaxAge(cfg.RenewMaxAge.Duration),
		login.WithLogger(logger),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
