package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ConditionField selects which tick attribute a condition reads.
type ConditionField string

const (
	FieldPrice  ConditionField = "price"
	FieldVolume ConditionField = "volume"
)

// ConditionOperator compares the tick attribute against the threshold.
type ConditionOperator string

const (
	OpGTE ConditionOperator = "gte"
	OpLTE ConditionOperator = "lte"
	// OpEQ matches on exact decimal equality. A tick must print the exact
	// threshold value to match, which is rare for free-floating prices;
	// there is deliberately no epsilon tolerance because that would change
	// trigger semantics.
	OpEQ ConditionOperator = "eq"
)

// Condition is the {field, operator, value} predicate evaluated against
// every tick for the order's symbol. A nil *Condition means "trigger on
// the next tick".
type Condition struct {
	Field    ConditionField
	Operator ConditionOperator
	Value    decimal.Decimal
}

// Validate rejects unknown fields and operators at creation time.
func (c *Condition) Validate() error {
	switch c.Field {
	case FieldPrice, FieldVolume:
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidCondition, c.Field)
	}
	switch c.Operator {
	case OpGTE, OpLTE, OpEQ:
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Operator)
	}
	return nil
}

// Matches evaluates the condition against a tick. Volume conditions only
// match ticks that carry volume (trade ticks); quote ticks have none.
func (c *Condition) Matches(tick Tick) bool {
	var observed decimal.Decimal
	switch c.Field {
	case FieldPrice:
		observed = tick.Price
	case FieldVolume:
		if tick.Volume == nil {
			return false
		}
		observed = *tick.Volume
	default:
		return false
	}

	switch c.Operator {
	case OpGTE:
		return observed.GreaterThanOrEqual(c.Value)
	case OpLTE:
		return observed.LessThanOrEqual(c.Value)
	case OpEQ:
		return observed.Equal(c.Value)
	}
	return false
}

func (c *Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Operator, c.Value)
}
