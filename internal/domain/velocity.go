package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Window identifies the discrete accumulation period of a limit, e.g. one calendar day.
// It is the canonical JSON encoding of the partition values, so equal partitions are equal windows.
type Window string

// NewWindow builds a window from partition alias/value pairs.
func NewWindow(partitions map[string]any) (Window, error) {
	if partitions == nil {
		partitions = map[string]any{}
	}

	// encoding/json sorts map keys, which makes the encoding canonical.
	raw, err := json.Marshal(partitions)
	if err != nil {
		return "", fmt.Errorf("encode window: %w", err)
	}

	return Window(raw), nil
}

// VelocityBalanceKey is the unique accumulation unit of velocity balances.
type VelocityBalanceKey struct {
	Window    Window
	Currency  string
	JournalID string
	AccountID string
	ControlID string
	LimitID   string
}

// Compare orders keys field by field. It defines the order in which bucket rows are locked.
func (k VelocityBalanceKey) Compare(other VelocityBalanceKey) int {
	pairs := [...][2]string{
		{string(k.Window), string(other.Window)},
		{k.Currency, other.Currency},
		{k.JournalID, other.JournalID},
		{k.AccountID, other.AccountID},
		{k.ControlID, other.ControlID},
		{k.LimitID, other.LimitID},
	}
	for _, p := range pairs {
		if c := strings.Compare(p[0], p[1]); c != 0 {
			return c
		}
	}
	return 0
}

func (k VelocityBalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s", k.JournalID, k.AccountID, k.Currency, k.ControlID, k.LimitID, k.Window)
}

// SortKeys sorts keys in lock order.
func SortKeys(keys []VelocityBalanceKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Compare(keys[j]) < 0
	})
}

// VelocityControl is a rule attached to an account that decides whether its limits apply to an entry.
type VelocityControl interface {
	ID() string
	// NeedsEnforcement fails with ErrConditionEvaluation when the condition cannot be evaluated.
	NeedsEnforcement(ctx EntryContext) (bool, error)
	Limits() []VelocityLimit
}

// VelocityLimit is one threshold-plus-window definition under a control.
type VelocityLimit interface {
	ID() string
	// WindowForEnforcement returns ok=false when the entry falls outside every enforceable window.
	WindowForEnforcement(ctx EntryContext, entry *Entry) (window Window, ok bool, err error)
	// Enforce returns a *LimitExceededError when the snapshot breaches the limit.
	Enforce(ctx EntryContext, at time.Time, snapshot *BalanceSnapshot) error
}
