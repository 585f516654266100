//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/iho/goledger-velocity/internal/adapter/repository/postgres"
	"github.com/iho/goledger-velocity/internal/domain"
	infrapg "github.com/iho/goledger-velocity/internal/infrastructure/postgres"
	"github.com/iho/goledger-velocity/internal/policy"
	"github.com/iho/goledger-velocity/internal/usecase"
)

const migrationsPath = "../../../../migrations"

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("velocity_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, infrapg.NewMigrator(dsn, migrationsPath, zerolog.Nop()).Up())

	pool, err := infrapg.NewPool(ctx, dsn, 20, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func newOperations(t *testing.T, pool *pgxpool.Pool, maxRetries int) (*usecase.OperationUseCase, *postgres.VelocityBalanceRepository) {
	t.Helper()
	repo := postgres.NewVelocityBalanceRepository(2 * time.Second)
	velocity := usecase.NewVelocityBalances(repo, postgres.NewULIDGenerator(), nil, zerolog.Nop())
	ops := usecase.NewOperationUseCase(
		postgres.NewTxManager(pool),
		velocity,
		postgres.NewRetrier(maxRetries, zerolog.Nop()),
		nil,
		zerolog.Nop(),
		10*time.Second,
	)
	return ops, repo
}

func dailyLimitInput(t *testing.T, effective time.Time, entries ...*domain.Entry) usecase.UpdateBalancesInput {
	t.Helper()
	control, err := policy.NewControl(policy.ControlSpec{
		ID: "ctrl-withdrawals",
		Limits: []policy.LimitSpec{{
			ID:       "lim-daily",
			Currency: "USD",
			Window:   []policy.PartitionKey{{Alias: "day", Value: "transaction.effective"}},
			Balance:  []policy.BalanceLimitSpec{{Amount: "1000"}},
		}},
	})
	require.NoError(t, err)

	return usecase.UpdateBalancesInput{
		Transaction: &domain.Transaction{ID: "tx", JournalID: "journal-1", EffectiveDate: effective},
		Entries:     entries,
		Controls: map[string]domain.AccountControls{
			"acc-1": {Account: domain.Account{ID: "acc-1"}, Controls: []domain.VelocityControl{control}},
		},
	}
}

func withdrawal(id string, units int64) *domain.Entry {
	return &domain.Entry{
		ID:        id,
		JournalID: "journal-1",
		AccountID: "acc-1",
		Currency:  "USD",
		Layer:     domain.LayerSettled,
		Direction: domain.DirectionDebit,
		Units:     decimal.NewFromInt(units),
	}
}

func currentBalance(t *testing.T, pool *pgxpool.Pool, repo *postgres.VelocityBalanceRepository, day time.Time) *domain.BalanceSnapshot {
	t.Helper()
	ctx := context.Background()

	window, err := domain.NewWindow(map[string]any{"day": day.Format("2006-01-02")})
	require.NoError(t, err)
	key := domain.VelocityBalanceKey{
		Window:    window,
		Currency:  "USD",
		JournalID: "journal-1",
		AccountID: "acc-1",
		ControlID: "ctrl-withdrawals",
		LimitID:   "lim-daily",
	}

	tx, err := postgres.NewTxManager(pool).Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := repo.FindForUpdate(ctx, tx, []domain.VelocityBalanceKey{key})
	require.NoError(t, err)
	return current[key]
}

func TestVelocityIntegration_RejectionLeavesBalanceUntouched(t *testing.T) {
	pool := newTestPool(t)
	ops, repo := newOperations(t, pool, 3)
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ops.Execute(ctx, dailyLimitInput(t, day, withdrawal("e1", 700))))

	err := ops.Execute(ctx, dailyLimitInput(t, day, withdrawal("e2", 200), withdrawal("e3", 200)))
	var exceeded *domain.LimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "e3", exceeded.EntryID)

	snapshot := currentBalance(t, pool, repo, day)
	require.NotNil(t, snapshot)
	assert.Equal(t, int32(1), snapshot.Version)
	assert.True(t, snapshot.Settled.DrBalance.Equal(decimal.NewFromInt(700)))

	var historyRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM velocity_balance_history`).Scan(&historyRows))
	assert.Equal(t, 1, historyRows)
}

func TestVelocityIntegration_PersistsIntermediateVersions(t *testing.T) {
	pool := newTestPool(t)
	ops, repo := newOperations(t, pool, 3)
	ctx := context.Background()
	day := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ops.Execute(ctx, dailyLimitInput(t, day, withdrawal("e1", 100), withdrawal("e2", 200), withdrawal("e3", 300))))

	snapshot := currentBalance(t, pool, repo, day)
	require.NotNil(t, snapshot)
	assert.Equal(t, int32(3), snapshot.Version)
	assert.Equal(t, "e3", snapshot.EntryID)
	assert.True(t, snapshot.Settled.DrBalance.Equal(decimal.NewFromInt(600)))

	rows, err := pool.Query(ctx, `SELECT version, latest_entry_id FROM velocity_balance_history ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var (
			version int32
			entryID string
		)
		require.NoError(t, rows.Scan(&version, &entryID))
		got = append(got, fmt.Sprintf("%d:%s", version, entryID))
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"1:e1", "2:e2", "3:e3"}, got)
}

func TestVelocityIntegration_ConcurrentOperationsDoNotLoseUpdates(t *testing.T) {
	pool := newTestPool(t)
	ops, repo := newOperations(t, pool, 10)
	ctx := context.Background()
	day := time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)

	const workers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)

	inputs := make([]usecase.UpdateBalancesInput, workers)
	for i := range inputs {
		inputs[i] = dailyLimitInput(t, day, withdrawal(fmt.Sprintf("e%d", i), 100))
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := ops.Execute(ctx, inputs[i])

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case domain.IsRetryable(err):
				t.Errorf("operation %d exhausted retries: %v", i, err)
			default:
				assert.ErrorIs(t, err, domain.ErrLimitExceeded)
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 2, rejected)

	snapshot := currentBalance(t, pool, repo, day)
	require.NotNil(t, snapshot)
	assert.Equal(t, int32(10), snapshot.Version)
	assert.True(t, snapshot.Settled.DrBalance.Equal(decimal.NewFromInt(1000)))
}
