package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iho/splitledger/internal/domain"
)

// SnapshotStore implements usecase.SnapshotStore by keeping the JSON encoded
// balance snapshot under a single key.
type SnapshotStore struct {
	client *redis.Client
	key    string
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(client *redis.Client) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		key:    "splitledger:balances:snapshot",
	}
}

// Load returns the saved snapshot, or nil when none was saved.
func (s *SnapshotStore) Load(ctx context.Context) (*domain.BookSnapshot, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap domain.BookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode balance snapshot: %w", err)
	}

	return &snap, nil
}

// Save overwrites the stored snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snapshot domain.BookSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode balance snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key, raw, 0).Err()
}
