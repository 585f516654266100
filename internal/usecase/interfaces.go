package usecase

import (
	"context"
	"time"

	"github.com/iho/goledger-velocity/internal/domain"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// VelocityBalanceRepository defines data access for velocity balance snapshots.
type VelocityBalanceRepository interface {
	// FindForUpdate locks the current snapshot of every key inside tx.
	// The result holds an entry for every key; nil means the bucket was never seeded.
	FindForUpdate(ctx context.Context, tx Transaction, keys []domain.VelocityBalanceKey) (map[domain.VelocityBalanceKey]*domain.BalanceSnapshot, error)
	// InsertNewSnapshots appends every version, in order, as new rows.
	InsertNewSnapshots(ctx context.Context, tx Transaction, operationID string, at time.Time, snapshots map[domain.VelocityBalanceKey][]*domain.BalanceSnapshot) error
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

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Retrier re-runs a whole operation when it fails with a retryable error.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Delete releases a key so the request can be retried.
	Delete(ctx context.Context, key string) error
}
