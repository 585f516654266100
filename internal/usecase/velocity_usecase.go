package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/goledger-velocity/internal/domain"
	"github.com/iho/goledger-velocity/internal/infrastructure/metrics"
)

// VelocityBalances enforces velocity limits on the entries of a ledger operation.
type VelocityBalances struct {
	repo    VelocityBalanceRepository
	idGen   IDGenerator
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewVelocityBalances creates a new VelocityBalances. metrics may be nil.
func NewVelocityBalances(
	repo VelocityBalanceRepository,
	idGen IDGenerator,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *VelocityBalances {
	return &VelocityBalances{
		repo:    repo,
		idGen:   idGen,
		metrics: metrics,
		logger:  logger,
	}
}

// UpdateBalancesInput is the batch handed over by the posting pipeline.
type UpdateBalancesInput struct {
	CreatedAt   time.Time
	Transaction *domain.Transaction
	Entries     []*domain.Entry
	// Controls maps account id to the account and its ordered controls.
	Controls map[string]domain.AccountControls
}

// UpdateBalancesInOp recomputes the velocity buckets touched by the entries inside tx
// and fails if any limit is breached. It never retries; the caller owns tx and rolls it
// back on error.
func (uc *VelocityBalances) UpdateBalancesInOp(ctx context.Context, tx Transaction, input UpdateBalancesInput) error {
	start := time.Now()

	accounts := make([]domain.Account, 0, len(input.Controls))
	for _, ac := range input.Controls {
		accounts = append(accounts, ac.Account)
	}
	evalCtx := domain.NewEvalContext(input.Transaction, accounts)

	toCheck, err := balancesToCheck(evalCtx, input.Entries, input.Controls)
	if err != nil {
		uc.observe(start, 0, err)
		return err
	}

	if len(toCheck) == 0 {
		uc.observe(start, 0, nil)
		return nil
	}

	keys := sortedKeys(toCheck)

	current, err := uc.repo.FindForUpdate(ctx, tx, keys)
	if err != nil {
		uc.observe(start, len(keys), err)
		return err
	}

	newBalances, err := newSnapshots(evalCtx, input.CreatedAt, current, toCheck, keys)
	if err != nil {
		uc.observe(start, len(keys), err)
		return err
	}

	operationID := uc.idGen.Generate()
	if err := uc.repo.InsertNewSnapshots(ctx, tx, operationID, input.CreatedAt, newBalances); err != nil {
		uc.observe(start, len(keys), err)
		return err
	}

	written := 0
	for _, versions := range newBalances {
		written += len(versions)
	}
	if uc.metrics != nil {
		uc.metrics.SnapshotsWritten.Add(float64(written))
	}

	uc.logger.Debug().
		Str("operation_id", operationID).
		Int("buckets", len(keys)).
		Int("snapshots", written).
		Msg("velocity balances updated")

	uc.observe(start, len(keys), nil)
	return nil
}

func (uc *VelocityBalances) observe(start time.Time, buckets int, err error) {
	if uc.metrics == nil {
		return
	}

	uc.metrics.VelocityCheckLatency.Observe(time.Since(start).Seconds())
	if buckets > 0 {
		uc.metrics.VelocityBuckets.Observe(float64(buckets))
	}

	var exceeded *domain.LimitExceededError
	switch {
	case err == nil:
		uc.metrics.VelocityChecks.WithLabelValues("accepted").Inc()
	case errors.As(err, &exceeded):
		uc.metrics.VelocityChecks.WithLabelValues("rejected").Inc()
		uc.metrics.VelocityBreaches.WithLabelValues(exceeded.Key.LimitID).Inc()
	default:
		uc.metrics.VelocityChecks.WithLabelValues("failed").Inc()
		uc.metrics.VelocityErrors.WithLabelValues(errorKind(err)).Inc()
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrConditionEvaluation):
		return "condition_evaluation"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}
