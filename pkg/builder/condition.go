package builder

import (
	"github.com/kode4food/stagehand/pkg/api"
)

// Condition assembles a declarative predicate over global state
type Condition struct {
	id       api.ConditionID
	condType api.ConditionType
	target   string
	operator api.ConditionOperator
	value    any
	required bool
}

// NewCondition creates a condition builder. Conditions default to required;
// use Optional for advisory checks that only warn when unmet
func NewCondition(
	id api.ConditionID, condType api.ConditionType,
) *Condition {
	return &Condition{
		id:       id,
		condType: condType,
		required: true,
	}
}

// StateCheck is shorthand for the common case: a required predicate on one
// key of the global state
func StateCheck(
	id api.ConditionID, target string, op api.ConditionOperator, value any,
) *Condition {
	return &Condition{
		id:       id,
		condType: api.ConditionStateCheck,
		target:   target,
		operator: op,
		value:    value,
		required: true,
	}
}

// Custom creates a condition whose predicate is a Lua script. The script
// receives the state snapshot as its sole argument and returns a boolean
func Custom(id api.ConditionID, script string) *Condition {
	return &Condition{
		id:       id,
		condType: api.ConditionCustom,
		value:    script,
		required: true,
	}
}

// WithTarget sets the dotted path into the state the condition inspects
func (c *Condition) WithTarget(target string) *Condition {
	res := *c
	res.target = target
	return &res
}

// WithOperator sets the comparison operator
func (c *Condition) WithOperator(op api.ConditionOperator) *Condition {
	res := *c
	res.operator = op
	return &res
}

// WithValue sets the operand the state value is compared against
func (c *Condition) WithValue(value any) *Condition {
	res := *c
	res.value = value
	return &res
}

// Optional downgrades the condition to advisory: failure warns, never blocks
func (c *Condition) Optional() *Condition {
	res := *c
	res.required = false
	return &res
}

func (c *Condition) build() *api.Condition {
	return &api.Condition{
		ID:       c.id,
		Type:     c.condType,
		Target:   c.target,
		Operator: c.operator,
		Value:    c.value,
		Required: c.required,
	}
}
