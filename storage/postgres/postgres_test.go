package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emfabro/steelgate/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("STEELGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STEELGATE_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not migrate: %v", err)
	}

	clean := func() {
		pool.Exec(ctx, "DELETE FROM records")          //nolint:errcheck
		pool.Exec(ctx, "DELETE FROM record_sequences") //nolint:errcheck
	}
	clean()
	t.Cleanup(func() {
		clean()
		pool.Close()
	})
	return NewRepository(pool)
}

func TestPostgresRepository(t *testing.T) {
	storagetest.Run(t, newTestStore(t))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := Migrate(context.Background(), s.Pool()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}
