package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/goledger-velocity/internal/domain"
	"github.com/iho/goledger-velocity/internal/usecase"
)

const setLockTimeoutSQL = `SELECT set_config('lock_timeout', $1, true)`

const findForUpdateSQL = `
WITH requested AS (
	SELECT *
	FROM UNNEST($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[])
		WITH ORDINALITY AS r(partition_window, currency, journal_id, account_id, velocity_control_id, velocity_limit_id, ordinality)
)
SELECT r.ordinality, h."values"
FROM requested r
JOIN velocity_current_balances c
	ON c.partition_window = r.partition_window::jsonb
	AND c.currency = r.currency
	AND c.journal_id = r.journal_id
	AND c.account_id = r.account_id
	AND c.velocity_control_id = r.velocity_control_id
	AND c.velocity_limit_id = r.velocity_limit_id
JOIN velocity_balance_history h
	ON h.partition_window = c.partition_window
	AND h.currency = c.currency
	AND h.journal_id = c.journal_id
	AND h.account_id = c.account_id
	AND h.velocity_control_id = c.velocity_control_id
	AND h.velocity_limit_id = c.velocity_limit_id
	AND h.version = c.latest_version
ORDER BY r.ordinality
FOR UPDATE OF c`

const insertCurrentSQL = `
INSERT INTO velocity_current_balances (
	partition_window, currency, journal_id, account_id, velocity_control_id, velocity_limit_id,
	latest_version, created_at, updated_at
) VALUES ($1::jsonb, $2, $3, $4, $5, $6, $7, $8, $8)`

const advanceCurrentSQL = `
UPDATE velocity_current_balances
SET latest_version = $7, updated_at = $8
WHERE partition_window = $1::jsonb
	AND currency = $2
	AND journal_id = $3
	AND account_id = $4
	AND velocity_control_id = $5
	AND velocity_limit_id = $6
	AND latest_version = $9`

const insertHistorySQL = `
INSERT INTO velocity_balance_history (
	partition_window, currency, journal_id, account_id, velocity_control_id, velocity_limit_id,
	version, latest_entry_id, "values", operation_id, recorded_at
)
SELECT $1::jsonb, $2, $3, $4, $5, $6, v.version, v.latest_entry_id, v.snapshot::jsonb, $7, $8
FROM UNNEST($9::int4[], $10::text[], $11::text[]) AS v(version, latest_entry_id, snapshot)`

// VelocityBalanceRepository implements usecase.VelocityBalanceRepository.
type VelocityBalanceRepository struct {
	lockTimeout time.Duration
}

// NewVelocityBalanceRepository creates a new VelocityBalanceRepository.
// A zero lockTimeout leaves the session lock_timeout untouched.
func NewVelocityBalanceRepository(lockTimeout time.Duration) *VelocityBalanceRepository {
	return &VelocityBalanceRepository{lockTimeout: lockTimeout}
}

// FindForUpdate locks the current row of every key, in the given order, in one statement.
func (r *VelocityBalanceRepository) FindForUpdate(
	ctx context.Context,
	tx usecase.Transaction,
	keys []domain.VelocityBalanceKey,
) (map[domain.VelocityBalanceKey]*domain.BalanceSnapshot, error) {
	res := make(map[domain.VelocityBalanceKey]*domain.BalanceSnapshot, len(keys))
	if len(keys) == 0 {
		return res, nil
	}

	pgxTx := tx.(*Tx).PgxTx()

	if r.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
		if _, err := pgxTx.Exec(ctx, setLockTimeoutSQL, timeout); err != nil {
			return nil, persistenceError("set lock timeout", err)
		}
	}

	var (
		windows    = make([]string, len(keys))
		currencies = make([]string, len(keys))
		journals   = make([]string, len(keys))
		accounts   = make([]string, len(keys))
		controls   = make([]string, len(keys))
		limits     = make([]string, len(keys))
	)
	for i, k := range keys {
		windows[i] = string(k.Window)
		currencies[i] = k.Currency
		journals[i] = k.JournalID
		accounts[i] = k.AccountID
		controls[i] = k.ControlID
		limits[i] = k.LimitID
		res[k] = nil
	}

	rows, err := pgxTx.Query(ctx, findForUpdateSQL, windows, currencies, journals, accounts, controls, limits)
	if err != nil {
		return nil, persistenceError("find for update", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ordinality int64
			values     []byte
		)
		if err := rows.Scan(&ordinality, &values); err != nil {
			return nil, persistenceError("find for update", err)
		}
		if ordinality < 1 || ordinality > int64(len(keys)) {
			return nil, &domain.PersistenceError{
				Op:  "find for update",
				Err: fmt.Errorf("%w: unexpected ordinality %d", domain.ErrInconsistentBalanceState, ordinality),
			}
		}

		var rec snapshotRecord
		if err := json.Unmarshal(values, &rec); err != nil {
			return nil, &domain.PersistenceError{Op: "decode snapshot", Err: err}
		}
		res[keys[ordinality-1]] = rec.toDomain()
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("find for update", err)
	}

	return res, nil
}

// InsertNewSnapshots appends every version as a history row and moves the current pointer
// of each bucket to its last version. Buckets are written in key order.
func (r *VelocityBalanceRepository) InsertNewSnapshots(
	ctx context.Context,
	tx usecase.Transaction,
	operationID string,
	at time.Time,
	snapshots map[domain.VelocityBalanceKey][]*domain.BalanceSnapshot,
) error {
	pgxTx := tx.(*Tx).PgxTx()

	keys := make([]domain.VelocityBalanceKey, 0, len(snapshots))
	for k, versions := range snapshots {
		if len(versions) > 0 {
			keys = append(keys, k)
		}
	}
	domain.SortKeys(keys)

	for _, key := range keys {
		if err := r.insertBucket(ctx, pgxTx, key, operationID, at, snapshots[key]); err != nil {
			return err
		}
	}

	return nil
}

func (r *VelocityBalanceRepository) insertBucket(
	ctx context.Context,
	pgxTx pgx.Tx,
	key domain.VelocityBalanceKey,
	operationID string,
	at time.Time,
	versions []*domain.BalanceSnapshot,
) error {
	first := versions[0].Version
	last := versions[len(versions)-1].Version
	keyArgs := []any{string(key.Window), key.Currency, key.JournalID, key.AccountID, key.ControlID, key.LimitID}

	if first == 1 {
		args := append(keyArgs, last, at)
		if _, err := pgxTx.Exec(ctx, insertCurrentSQL, args...); err != nil {
			return persistenceError("insert current balance", err)
		}
	} else {
		args := append(keyArgs, last, at, first-1)
		tag, err := pgxTx.Exec(ctx, advanceCurrentSQL, args...)
		if err != nil {
			return persistenceError("update current balance", err)
		}
		if tag.RowsAffected() != 1 {
			return &domain.PersistenceError{
				Op:  "update current balance",
				Err: fmt.Errorf("%w: bucket %s is not at version %d", domain.ErrInconsistentBalanceState, key, first-1),
			}
		}
	}

	var (
		numbers = make([]int32, len(versions))
		entries = make([]string, len(versions))
		values  = make([]string, len(versions))
	)
	for i, s := range versions {
		payload, err := json.Marshal(newSnapshotRecord(s))
		if err != nil {
			return &domain.PersistenceError{Op: "encode snapshot", Err: err}
		}
		numbers[i] = s.Version
		entries[i] = s.EntryID
		values[i] = string(payload)
	}

	args := append(keyArgs, operationID, at, numbers, entries, values)
	if _, err := pgxTx.Exec(ctx, insertHistorySQL, args...); err != nil {
		return persistenceError("insert balance history", err)
	}

	return nil
}

func persistenceError(op string, err error) error {
	return &domain.PersistenceError{Op: op, Err: err, Retryable: isRetryableError(err)}
}

type amountRecord struct {
	ModifiedAt time.Time       `json:"modified_at"`
	EntryID    string          `json:"entry_id"`
	DrBalance  decimal.Decimal `json:"dr_balance"`
	CrBalance  decimal.Decimal `json:"cr_balance"`
}

// snapshotRecord is the jsonb layout of velocity_balance_history.values.
type snapshotRecord struct {
	CreatedAt   time.Time    `json:"created_at"`
	ModifiedAt  time.Time    `json:"modified_at"`
	JournalID   string       `json:"journal_id"`
	AccountID   string       `json:"account_id"`
	Currency    string       `json:"currency"`
	EntryID     string       `json:"entry_id"`
	Settled     amountRecord `json:"settled"`
	Pending     amountRecord `json:"pending"`
	Encumbrance amountRecord `json:"encumbrance"`
	Version     int32        `json:"version"`
}

func newSnapshotRecord(s *domain.BalanceSnapshot) snapshotRecord {
	return snapshotRecord{
		CreatedAt:   s.CreatedAt,
		ModifiedAt:  s.ModifiedAt,
		JournalID:   s.JournalID,
		AccountID:   s.AccountID,
		Currency:    s.Currency,
		EntryID:     s.EntryID,
		Settled:     amountRecord(s.Settled),
		Pending:     amountRecord(s.Pending),
		Encumbrance: amountRecord(s.Encumbrance),
		Version:     s.Version,
	}
}

func (r snapshotRecord) toDomain() *domain.BalanceSnapshot {
	return &domain.BalanceSnapshot{
		CreatedAt:   r.CreatedAt,
		ModifiedAt:  r.ModifiedAt,
		JournalID:   r.JournalID,
		AccountID:   r.AccountID,
		Currency:    r.Currency,
		EntryID:     r.EntryID,
		Settled:     domain.BalanceAmount(r.Settled),
		Pending:     domain.BalanceAmount(r.Pending),
		Encumbrance: domain.BalanceAmount(r.Encumbrance),
		Version:     r.Version,
	}
}
