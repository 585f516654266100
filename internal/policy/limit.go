package policy

import (
	"fmt"
	"time"

	"github.com/iho/goledger-velocity/internal/domain"
)

// PartitionKey names one component of a limit window.
type PartitionKey struct {
	Alias string
	// Value is a CEL expression, e.g. "transaction.effective" for a daily window.
	Value string
}

// BalanceLimitSpec is one threshold checked against a snapshot.
type BalanceLimitSpec struct {
	Layer     domain.Layer
	Direction domain.Direction
	Amount    string
	// Start and End bound when the threshold is active; empty means unbounded.
	Start string
	End   string
}

// LimitSpec describes a velocity limit as resolved from configuration.
type LimitSpec struct {
	ID              string
	Name            string
	Currency        string
	Condition       string
	TimestampSource string
	Window          []PartitionKey
	Balance         []BalanceLimitSpec
}

type partition struct {
	value *Expression
	alias string
}

type balanceLimit struct {
	amount    *Expression
	start     *Expression
	end       *Expression
	layer     domain.Layer
	direction domain.Direction
}

// Limit implements domain.VelocityLimit.
type Limit struct {
	condition       *Expression
	timestampSource *Expression
	id              string
	name            string
	currency        string
	window          []partition
	balance         []balanceLimit
}

// NewLimit compiles a limit.
func NewLimit(spec LimitSpec) (*Limit, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: limit id is required", ErrInvalidSpec)
	}
	if len(spec.Balance) == 0 {
		return nil, fmt.Errorf("%w: limit %s has no balance limits", ErrInvalidSpec, spec.ID)
	}

	condition, err := compileOptional(spec.Condition)
	if err != nil {
		return nil, fmt.Errorf("limit %s condition: %w", spec.ID, err)
	}

	timestampSource, err := compileOptional(spec.TimestampSource)
	if err != nil {
		return nil, fmt.Errorf("limit %s timestamp source: %w", spec.ID, err)
	}

	l := &Limit{
		condition:       condition,
		timestampSource: timestampSource,
		id:              spec.ID,
		name:            spec.Name,
		currency:        spec.Currency,
	}

	for _, pk := range spec.Window {
		if pk.Alias == "" {
			return nil, fmt.Errorf("%w: limit %s has a window partition without alias", ErrInvalidSpec, spec.ID)
		}
		value, err := Compile(pk.Value)
		if err != nil {
			return nil, fmt.Errorf("limit %s window %s: %w", spec.ID, pk.Alias, err)
		}
		l.window = append(l.window, partition{value: value, alias: pk.Alias})
	}

	for _, bs := range spec.Balance {
		bl, err := newBalanceLimit(bs)
		if err != nil {
			return nil, fmt.Errorf("limit %s: %w", spec.ID, err)
		}
		l.balance = append(l.balance, bl)
	}

	return l, nil
}

func newBalanceLimit(spec BalanceLimitSpec) (balanceLimit, error) {
	amount, err := Compile(spec.Amount)
	if err != nil {
		return balanceLimit{}, fmt.Errorf("amount: %w", err)
	}
	start, err := compileOptional(spec.Start)
	if err != nil {
		return balanceLimit{}, fmt.Errorf("start: %w", err)
	}
	end, err := compileOptional(spec.End)
	if err != nil {
		return balanceLimit{}, fmt.Errorf("end: %w", err)
	}

	layer := spec.Layer
	if layer == "" {
		layer = domain.LayerSettled
	}
	direction := spec.Direction
	if direction == "" {
		direction = domain.DirectionDebit
	}

	return balanceLimit{
		amount:    amount,
		start:     start,
		end:       end,
		layer:     layer,
		direction: direction,
	}, nil
}

func (l *Limit) ID() string { return l.id }

func (l *Limit) Name() string { return l.name }

// WindowForEnforcement resolves the window the entry accumulates into.
func (l *Limit) WindowForEnforcement(ctx domain.EntryContext, entry *domain.Entry) (domain.Window, bool, error) {
	if l.currency != "" && l.currency != entry.Currency {
		return "", false, nil
	}

	if l.condition != nil {
		applies, err := l.condition.EvalBool(ctx)
		if err != nil {
			return "", false, err
		}
		if !applies {
			return "", false, nil
		}
	}

	partitions := make(map[string]any, len(l.window))
	for _, p := range l.window {
		v, err := p.value.EvalScalar(ctx)
		if err != nil {
			return "", false, err
		}
		partitions[p.alias] = v
	}

	window, err := domain.NewWindow(partitions)
	if err != nil {
		return "", false, &domain.ConditionEvaluationError{Expression: "window of limit " + l.id, Err: err}
	}
	return window, true, nil
}

// Enforce checks every balance limit active at the effective time against the snapshot.
func (l *Limit) Enforce(ctx domain.EntryContext, at time.Time, snapshot *domain.BalanceSnapshot) error {
	if l.timestampSource != nil {
		t, err := l.timestampSource.EvalTime(ctx)
		if err != nil {
			return err
		}
		at = t
	}

	for _, bl := range l.balance {
		active, err := bl.activeAt(ctx, at)
		if err != nil {
			return err
		}
		if !active {
			continue
		}

		threshold, err := bl.amount.EvalDecimal(ctx)
		if err != nil {
			return err
		}

		available := snapshot.Available(bl.layer)
		requested := available.Net(bl.direction)
		if requested.GreaterThan(threshold) {
			return &domain.LimitExceededError{
				Key: domain.VelocityBalanceKey{
					Currency:  snapshot.Currency,
					JournalID: snapshot.JournalID,
					AccountID: snapshot.AccountID,
					LimitID:   l.id,
				},
				EntryID:   snapshot.EntryID,
				Layer:     bl.layer,
				Direction: bl.direction,
				Limit:     threshold,
				Requested: requested,
				DrBalance: available.DrBalance,
				CrBalance: available.CrBalance,
			}
		}
	}

	return nil
}

func (bl balanceLimit) activeAt(ctx domain.EntryContext, at time.Time) (bool, error) {
	if bl.start != nil {
		start, err := bl.start.EvalTime(ctx)
		if err != nil {
			return false, err
		}
		if start.After(at) {
			return false, nil
		}
	}
	if bl.end != nil {
		end, err := bl.end.EvalTime(ctx)
		if err != nil {
			return false, err
		}
		if !end.After(at) {
			return false, nil
		}
	}
	return true, nil
}
