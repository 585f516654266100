package policy

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/shopspring/decimal"

	"github.com/iho/goledger-velocity/internal/domain"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func environment() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("transaction", cel.DynType),
			cel.Variable("account", cel.DynType),
			cel.Variable("entry", cel.DynType),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return env, envErr
}

// Expression is a compiled CEL expression evaluated against an entry context.
type Expression struct {
	program cel.Program
	source  string
}

// Compile parses and checks source. Malformed expressions fail with domain.ErrConditionEvaluation.
func Compile(source string) (*Expression, error) {
	e, err := environment()
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}

	ast, iss := e.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, &domain.ConditionEvaluationError{Expression: source, Err: iss.Err()}
	}

	program, err := e.Program(ast)
	if err != nil {
		return nil, &domain.ConditionEvaluationError{Expression: source, Err: err}
	}

	return &Expression{program: program, source: source}, nil
}

func compileOptional(source string) (*Expression, error) {
	if source == "" {
		return nil, nil
	}
	return Compile(source)
}

// String returns the expression source.
func (x *Expression) String() string {
	return x.source
}

func (x *Expression) evaluate(ctx domain.EntryContext) (ref.Val, error) {
	out, _, err := x.program.Eval(ctx.Vars())
	if err != nil {
		return nil, x.fail(err)
	}
	return out, nil
}

func (x *Expression) fail(err error) error {
	return &domain.ConditionEvaluationError{Expression: x.source, Err: err}
}

// EvalBool evaluates a predicate.
func (x *Expression) EvalBool(ctx domain.EntryContext) (bool, error) {
	out, err := x.evaluate(ctx)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, x.fail(fmt.Errorf("expected bool, got %s", out.Type().TypeName()))
	}
	return b, nil
}

// EvalDecimal evaluates an amount. Strings are parsed so that amounts keep full precision.
func (x *Expression) EvalDecimal(ctx domain.EntryContext) (decimal.Decimal, error) {
	out, err := x.evaluate(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	switch v := out.Value().(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, x.fail(err)
		}
		return d, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		d, err := decimal.NewFromString(strconv.FormatUint(v, 10))
		if err != nil {
			return decimal.Zero, x.fail(err)
		}
		return d, nil
	case float64:
		if err := finite(v); err != nil {
			return decimal.Zero, x.fail(err)
		}
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, x.fail(fmt.Errorf("expected number, got %s", out.Type().TypeName()))
	}
}

// EvalTime evaluates a timestamp. RFC 3339 strings and plain dates are accepted.
func (x *Expression) EvalTime(ctx domain.EntryContext) (time.Time, error) {
	out, err := x.evaluate(ctx)
	if err != nil {
		return time.Time{}, err
	}

	switch v := out.Value().(type) {
	case time.Time:
		return v, nil
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, x.fail(err)
		}
		return t, nil
	default:
		return time.Time{}, x.fail(fmt.Errorf("expected timestamp, got %s", out.Type().TypeName()))
	}
}

// EvalScalar evaluates a window partition value.
func (x *Expression) EvalScalar(ctx domain.EntryContext) (any, error) {
	out, err := x.evaluate(ctx)
	if err != nil {
		return nil, err
	}

	switch v := out.Value().(type) {
	case float64:
		if err := finite(v); err != nil {
			return nil, x.fail(err)
		}
		return v, nil
	case string, bool, int64, uint64:
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	default:
		return nil, x.fail(fmt.Errorf("unsupported partition value of type %s", out.Type().TypeName()))
	}
}

// finite rejects NaN and infinities, which have neither a decimal nor a JSON form.
func finite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("non-finite number %v", v)
	}
	return nil
}
