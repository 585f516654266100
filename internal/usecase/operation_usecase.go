package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/goledger-velocity/internal/domain"
	"github.com/iho/goledger-velocity/internal/infrastructure/metrics"
)

// OperationUseCase runs velocity enforcement as one atomic ledger operation.
type OperationUseCase struct {
	txManager TransactionManager
	velocity  *VelocityBalances
	retrier   Retrier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	timeout   time.Duration
}

// NewOperationUseCase creates a new OperationUseCase.
func NewOperationUseCase(
	txManager TransactionManager,
	velocity *VelocityBalances,
	retrier Retrier,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
	timeout time.Duration,
) *OperationUseCase {
	if timeout <= 0 {
		timeout = DefaultTransactionTimeout
	}

	return &OperationUseCase{
		txManager: txManager,
		velocity:  velocity,
		retrier:   retrier,
		metrics:   metrics,
		logger:    logger,
		timeout:   timeout,
	}
}

// Execute runs the operation in its own transaction. Retryable persistence faults re-run the
// whole transaction through the retrier; rejections are returned as-is.
func (uc *OperationUseCase) Execute(ctx context.Context, input UpdateBalancesInput) error {
	if input.CreatedAt.IsZero() {
		input.CreatedAt = time.Now().UTC()
	}

	attempt := 0
	return uc.retrier.Retry(ctx, func() error {
		attempt++
		if attempt > 1 && uc.metrics != nil {
			uc.metrics.OperationRetries.Inc()
		}

		err := uc.executeOnce(ctx, input)
		if err != nil && domain.IsRetryable(err) {
			uc.logger.Warn().Err(err).Int("attempt", attempt).Msg("ledger operation failed with retryable error")
		}
		return err
	})
}

func (uc *OperationUseCase) executeOnce(ctx context.Context, input UpdateBalancesInput) error {
	txCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return &domain.PersistenceError{Op: "begin", Err: err, Retryable: true}
	}
	defer tx.Rollback(txCtx)

	if err := uc.velocity.UpdateBalancesInOp(txCtx, tx, input); err != nil {
		return err
	}

	if err := tx.Commit(txCtx); err != nil {
		return &domain.PersistenceError{Op: "commit", Err: err}
	}

	return nil
}
