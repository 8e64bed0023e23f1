package usecase

import (
	"context"
	"iter"
	"time"

	"github.com/iho/splitledger/internal/domain"
)

// LedgerStore is the append-only log of expenses and settlements.
type LedgerStore interface {
	// Append assigns the next sequence number and stores entry inside tx.
	// If the idempotency key was already used, the stored entry is returned
	// with duplicate set and nothing is written.
	Append(ctx context.Context, tx Transaction, entry *domain.LedgerEntry) (stored *domain.LedgerEntry, duplicate bool, err error)
	GetBySequence(ctx context.Context, seq int64) (*domain.LedgerEntry, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error)
	// EntriesSince yields entries with a sequence greater than afterSeq in
	// order. Each range over the result reads the store again in pages.
	EntriesSince(ctx context.Context, afterSeq int64) iter.Seq2[*domain.LedgerEntry, error]
	List(ctx context.Context, afterSeq int64, limit int) ([]*domain.LedgerEntry, error)
	// ExpensesPaidBy returns expense entries (including reversals) paid by
	// payerID that occurred in [from, to).
	ExpensesPaidBy(ctx context.Context, payerID string, from, to time.Time) ([]*domain.LedgerEntry, error)
	LastSequence(ctx context.Context) (int64, error)
}

// UserRepository defines data access for users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// Missing returns the ids that do not belong to a known user.
	Missing(ctx context.Context, ids []string) ([]string, error)
}

// GroupRepository defines data access for groups and their membership.
type GroupRepository interface {
	Create(ctx context.Context, tx Transaction, group *domain.Group) error
	GetByID(ctx context.Context, id string) (*domain.Group, error)
	AddMember(ctx context.Context, groupID, userID string, at time.Time) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	ListByMember(ctx context.Context, userID string) ([]*domain.Group, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// SnapshotStore persists the incremental balance snapshot between restarts.
type SnapshotStore interface {
	// Load returns nil without error when no snapshot was saved.
	Load(ctx context.Context) (*domain.BookSnapshot, error)
	Save(ctx context.Context, snapshot domain.BookSnapshot) error
}

// PositionReader reports a user's net position inside groups.
type PositionReader interface {
	GroupPositions(ctx context.Context, userID string, groupIDs []string) (map[string]int64, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Retrier re-runs an operation while it fails with a retryable error.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Delete releases a key whose request failed so it can be retried.
	Delete(ctx context.Context, key string) error
}
