package policy

import (
	"errors"
	"fmt"

	"github.com/iho/goledger-velocity/internal/domain"
)

// ErrInvalidSpec is returned when a control or limit spec is structurally incomplete.
var ErrInvalidSpec = errors.New("invalid velocity policy spec")

// ControlSpec describes a velocity control as resolved from configuration.
type ControlSpec struct {
	ID   string
	Name string
	// Condition is an optional CEL predicate; empty means the control always applies.
	Condition string
	Limits    []LimitSpec
}

// Control implements domain.VelocityControl.
type Control struct {
	condition *Expression
	id        string
	name      string
	limits    []domain.VelocityLimit
}

// NewControl compiles a control and its limits.
func NewControl(spec ControlSpec) (*Control, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: control id is required", ErrInvalidSpec)
	}

	condition, err := compileOptional(spec.Condition)
	if err != nil {
		return nil, fmt.Errorf("control %s condition: %w", spec.ID, err)
	}

	limits := make([]domain.VelocityLimit, 0, len(spec.Limits))
	for _, ls := range spec.Limits {
		limit, err := NewLimit(ls)
		if err != nil {
			return nil, fmt.Errorf("control %s: %w", spec.ID, err)
		}
		limits = append(limits, limit)
	}

	return &Control{
		condition: condition,
		id:        spec.ID,
		name:      spec.Name,
		limits:    limits,
	}, nil
}

func (c *Control) ID() string { return c.id }

func (c *Control) Name() string { return c.name }

func (c *Control) Limits() []domain.VelocityLimit { return c.limits }

// NeedsEnforcement evaluates the control condition for an entry.
func (c *Control) NeedsEnforcement(ctx domain.EntryContext) (bool, error) {
	if c.condition == nil {
		return true, nil
	}
	return c.condition.EvalBool(ctx)
}
