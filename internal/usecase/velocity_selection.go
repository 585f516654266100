package usecase

import (
	"github.com/iho/goledger-velocity/internal/domain"
)

// limitEntry is one entry to fold into a bucket, with the limit that enforces it.
type limitEntry struct {
	limit domain.VelocityLimit
	entry *domain.Entry
}

// balancesToCheck groups the entries of velocity-controlled accounts by bucket,
// keeping the original entry order inside every bucket.
func balancesToCheck(
	evalCtx *domain.EvalContext,
	entries []*domain.Entry,
	controls map[string]domain.AccountControls,
) (map[domain.VelocityBalanceKey][]limitEntry, error) {
	toCheck := make(map[domain.VelocityBalanceKey][]limitEntry)

	for _, entry := range entries {
		accountControls, ok := controls[entry.AccountID]
		if !ok || len(accountControls.Controls) == 0 {
			continue
		}

		ctx := evalCtx.ContextForEntry(entry)

		for _, control := range accountControls.Controls {
			needed, err := control.NeedsEnforcement(ctx)
			if err != nil {
				return nil, err
			}
			if !needed {
				continue
			}

			for _, limit := range control.Limits() {
				window, ok, err := limit.WindowForEnforcement(ctx, entry)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}

				key := domain.VelocityBalanceKey{
					Window:    window,
					Currency:  entry.Currency,
					JournalID: entry.JournalID,
					AccountID: entry.AccountID,
					ControlID: control.ID(),
					LimitID:   limit.ID(),
				}
				toCheck[key] = append(toCheck[key], limitEntry{limit: limit, entry: entry})
			}
		}
	}

	return toCheck, nil
}

func sortedKeys(toCheck map[domain.VelocityBalanceKey][]limitEntry) []domain.VelocityBalanceKey {
	keys := make([]domain.VelocityBalanceKey, 0, len(toCheck))
	for key := range toCheck {
		keys = append(keys, key)
	}
	domain.SortKeys(keys)
	return keys
}
