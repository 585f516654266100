package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// Velocity errors
	ErrConditionEvaluation = errors.New("velocity condition could not be evaluated")
	ErrLimitExceeded       = errors.New("velocity limit exceeded")
	ErrPersistence         = errors.New("velocity balance persistence failed")

	// ErrInconsistentBalanceState means the locked bucket state contradicts the bucket key.
	ErrInconsistentBalanceState = errors.New("inconsistent velocity balance state")
)

// ConditionEvaluationError reports a control or limit expression that could not be evaluated.
type ConditionEvaluationError struct {
	Expression string
	Err        error
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q: %v", e.Expression, e.Err)
}

func (e *ConditionEvaluationError) Unwrap() []error {
	return []error{ErrConditionEvaluation, e.Err}
}

// LimitExceededError is the business rejection raised when a snapshot breaches a limit.
type LimitExceededError struct {
	Key       VelocityBalanceKey
	EntryID   string
	Layer     Layer
	Direction Direction
	Limit     decimal.Decimal
	Requested decimal.Decimal
	DrBalance decimal.Decimal
	CrBalance decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf(
		"velocity limit %s exceeded for account %s (%s): requested %s %s, limit %s",
		e.Key.LimitID, e.Key.AccountID, e.Key.Currency, e.Requested, e.Direction, e.Limit,
	)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// PersistenceError wraps a lock acquisition or write failure.
type PersistenceError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("velocity balances %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// IsRetryable reports whether err is a persistence fault worth retrying as a whole transaction.
func IsRetryable(err error) bool {
	var perr *PersistenceError
	return errors.As(err, &perr) && perr.Retryable
}
