package api

import (
	"errors"
	"fmt"
)

type (
	// ConditionType classifies what a condition inspects
	ConditionType string

	// ConditionOperator is the comparison applied by a condition
	ConditionOperator string

	// Condition is a declarative predicate over the global state snapshot.
	// Target is a dotted path into the snapshot; for custom conditions the
	// Value holds a Lua expression evaluated against the snapshot instead
	Condition struct {
		ID       ConditionID       `json:"id"`
		Type     ConditionType     `json:"type"`
		Target   string            `json:"target,omitempty"`
		Operator ConditionOperator `json:"operator,omitempty"`
		Value    any               `json:"value,omitempty"`
		Required bool              `json:"required"`
	}
)

const (
	ConditionStateCheck  ConditionType = "state_check"
	ConditionSceneCheck  ConditionType = "scene_check"
	ConditionEventCheck  ConditionType = "event_check"
	ConditionTimeCheck   ConditionType = "time_check"
	ConditionSystemCheck ConditionType = "system_check"
	ConditionCustom      ConditionType = "custom"
)

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorContains    ConditionOperator = "contains"
	OperatorExists      ConditionOperator = "exists"
	OperatorNotExists   ConditionOperator = "not_exists"
)

var (
	ErrConditionIDEmpty    = errors.New("condition ID empty")
	ErrInvalidCondType     = errors.New("invalid condition type")
	ErrInvalidCondOperator = errors.New("invalid condition operator")
	ErrCondTargetEmpty     = errors.New("condition target empty")
	ErrCustomScriptEmpty   = errors.New("custom condition script empty")
)

var validConditionTypes = map[ConditionType]struct{}{
	ConditionStateCheck:  {},
	ConditionSceneCheck:  {},
	ConditionEventCheck:  {},
	ConditionTimeCheck:   {},
	ConditionSystemCheck: {},
	ConditionCustom:      {},
}

var validConditionOperators = map[ConditionOperator]struct{}{
	OperatorEquals:      {},
	OperatorNotEquals:   {},
	OperatorGreaterThan: {},
	OperatorLessThan:    {},
	OperatorContains:    {},
	OperatorExists:      {},
	OperatorNotExists:   {},
}

// Validate checks the condition's own fields
func (c *Condition) Validate() error {
	if c.ID == "" {
		return ErrConditionIDEmpty
	}
	if _, ok := validConditionTypes[c.Type]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidCondType, c.Type)
	}

	if c.Type == ConditionCustom {
		script, _ := c.Value.(string)
		if script == "" {
			return fmt.Errorf("%w: %s", ErrCustomScriptEmpty, c.ID)
		}
		return nil
	}

	if _, ok := validConditionOperators[c.Operator]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidCondOperator, c.Operator)
	}
	if c.Target == "" {
		return fmt.Errorf("%w: %s", ErrCondTargetEmpty, c.ID)
	}
	return nil
}
