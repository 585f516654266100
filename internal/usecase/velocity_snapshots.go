package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/iho/goledger-velocity/internal/domain"
)

// newSnapshots folds the entries of every bucket into successive snapshots, enforcing
// the limit after each step. The result holds every version produced per bucket, in order.
func newSnapshots(
	evalCtx *domain.EvalContext,
	at time.Time,
	current map[domain.VelocityBalanceKey]*domain.BalanceSnapshot,
	toAdd map[domain.VelocityBalanceKey][]limitEntry,
	keys []domain.VelocityBalanceKey,
) (map[domain.VelocityBalanceKey][]*domain.BalanceSnapshot, error) {
	res := make(map[domain.VelocityBalanceKey][]*domain.BalanceSnapshot, len(keys))

	for _, key := range keys {
		locked, err := lockedSnapshot(current, key)
		if err != nil {
			return nil, err
		}

		var (
			latest   *domain.BalanceSnapshot
			versions []*domain.BalanceSnapshot
		)

		for _, le := range toAdd[key] {
			ctx := evalCtx.ContextForEntry(le.entry)

			var next *domain.BalanceSnapshot
			switch {
			case latest != nil:
				versions = append(versions, latest)
				next = domain.UpdateSnapshot(at, latest, le.entry)
			case locked != nil:
				next = domain.UpdateSnapshot(at, locked, le.entry)
			default:
				next = domain.NewSnapshot(at, key.AccountID, le.entry)
			}

			if err := le.limit.Enforce(ctx, at, next); err != nil {
				return nil, attributeBreach(err, key, le.entry)
			}
			latest = next
		}

		if latest != nil {
			versions = append(versions, latest)
		}
		res[key] = versions
	}

	return res, nil
}

// lockedSnapshot returns the snapshot locked for key, checking that it belongs to the bucket.
func lockedSnapshot(
	current map[domain.VelocityBalanceKey]*domain.BalanceSnapshot,
	key domain.VelocityBalanceKey,
) (*domain.BalanceSnapshot, error) {
	snapshot, ok := current[key]
	if !ok {
		return nil, &domain.PersistenceError{
			Op:  "find for update",
			Err: fmt.Errorf("%w: bucket %s was not locked", domain.ErrInconsistentBalanceState, key),
		}
	}
	if snapshot == nil {
		return nil, nil
	}

	if snapshot.AccountID != key.AccountID || snapshot.Currency != key.Currency || snapshot.JournalID != key.JournalID {
		return nil, &domain.PersistenceError{
			Op: "find for update",
			Err: fmt.Errorf("%w: snapshot of account %s (%s, journal %s) locked for bucket %s",
				domain.ErrInconsistentBalanceState, snapshot.AccountID, snapshot.Currency, snapshot.JournalID, key),
		}
	}

	return snapshot, nil
}

func attributeBreach(err error, key domain.VelocityBalanceKey, entry *domain.Entry) error {
	var exceeded *domain.LimitExceededError
	if errors.As(err, &exceeded) {
		exceeded.Key = key
		exceeded.EntryID = entry.ID
	}
	return err
}
