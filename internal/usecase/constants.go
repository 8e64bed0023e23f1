package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking the ledger lock
	DefaultTransactionTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// IdempotencyInFlight is the value an IdempotencyStore holds for a key
	// whose first request has not finished yet
	IdempotencyInFlight = "processing"

	// DefaultReplayShards is the shard count used by parallel verification
	DefaultReplayShards = 4
)
