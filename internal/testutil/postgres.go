// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/postgres"
)

// TestDB provides isolated test database connections.
type TestDB struct {
	Pool *pgxpool.Pool
	URL  string
	t    *testing.T

	container *tcpostgres.PostgresContainer
}

// NewTestDB connects to DATABASE_URL, or starts a throwaway PostgreSQL
// container when it is unset, and applies the embedded migrations.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db := &TestDB{t: t, URL: os.Getenv("DATABASE_URL")}
	if db.URL == "" {
		db.startContainer(ctx)
	}

	if err := postgres.RunMigrations(db.URL, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, db.URL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping test database: %v", err)
	}

	db.Pool = pool
	t.Cleanup(db.Cleanup)

	db.TruncateAll(ctx)
	return db
}

func (db *TestDB) startContainer(ctx context.Context) {
	db.t.Helper()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("splitledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		db.t.Fatalf("failed to start postgres container: %v", err)
	}
	db.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		db.t.Fatalf("failed to get postgres connection string: %v", err)
	}
	db.URL = dsn
}

// Cleanup closes the pool and terminates the container if one was started.
func (db *TestDB) Cleanup() {
	if db.Pool != nil {
		db.Pool.Close()
	}

	if db.container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := db.container.Terminate(ctx); err != nil {
			db.t.Logf("warning: failed to terminate postgres container: %v", err)
		}
	}
}

// TruncateAll removes all data from tables.
func (db *TestDB) TruncateAll(ctx context.Context) {
	db.t.Helper()

	_, err := db.Pool.Exec(ctx, `
		TRUNCATE TABLE ledger_splits, ledger_entries, outbox_events,
			group_members, groups, users CASCADE;
	`)
	if err != nil {
		db.t.Fatalf("failed to truncate tables: %v", err)
	}
}

// CreateTestUsers inserts users whose id and name are the given ids.
func (db *TestDB) CreateTestUsers(ctx context.Context, ids ...string) {
	db.t.Helper()

	now := time.Now().UTC()
	for _, id := range ids {
		_, err := db.Pool.Exec(ctx,
			`INSERT INTO users (id, name, email, created_at) VALUES ($1, $2, '', $3)`,
			id, id, now)
		if err != nil {
			db.t.Fatalf("failed to create test user %s: %v", id, err)
		}
	}
}

// GenerateID generates a new ULID.
func GenerateID() string {
	return ulid.Make().String()
}

// EqualSplit builds an equal split over ids.
func EqualSplit(ids ...string) domain.SplitSpec {
	shares := make([]domain.SplitShare, len(ids))
	for i, id := range ids {
		shares[i] = domain.SplitShare{UserID: id}
	}
	return domain.SplitSpec{Mode: domain.SplitModeEqual, Shares: shares}
}
