package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// FlowDefinition is an immutable, declarative graph of steps plus the
	// flow-level guard conditions and descriptive metadata. Definitions are
	// identified by ID and are interchangeable as JSON documents
	FlowDefinition struct {
		ID          FlowID      `json:"id"`
		Name        string      `json:"name"`
		Description string      `json:"description,omitempty"`
		Steps       []Step      `json:"steps"`
		Conditions  []Condition `json:"conditions,omitempty"`
		Metadata    Metadata    `json:"metadata,omitempty"`
	}

	// Metadata carries descriptive information about a flow definition
	Metadata struct {
		Author      string   `json:"author,omitempty"`
		Version     string   `json:"version,omitempty"`
		Tags        []string `json:"tags,omitempty"`
		EstimatedMs int64    `json:"estimated_ms,omitempty"`
		Complexity  string   `json:"complexity,omitempty"`
	}

	// Step is a single named unit of work. DependsOn entries must reach a
	// terminal success state before the step becomes ready. The edge lists
	// name additional steps to unblock (or terminal markers) once the step
	// settles with the corresponding outcome
	Step struct {
		ID             StepID        `json:"id"`
		Name           string        `json:"name"`
		Kind           StepKind      `json:"kind"`
		Target         string        `json:"target,omitempty"`
		Parameters     Params        `json:"parameters,omitempty"`
		DependsOn      []StepID      `json:"depends_on,omitempty"`
		TimeoutMs      int64         `json:"timeout_ms,omitempty"`
		RetryCount     int           `json:"retry_count,omitempty"`
		OnSuccess      []StepID      `json:"on_success,omitempty"`
		OnFailure      []StepID      `json:"on_failure,omitempty"`
		OnTimeout      []StepID      `json:"on_timeout,omitempty"`
		Rollback       bool          `json:"rollback,omitempty"`
		PreConditions  []ConditionID `json:"pre_conditions,omitempty"`
		PostConditions []ConditionID `json:"post_conditions,omitempty"`
	}

	// Params is the free-form key/value map passed opaquely to a handler
	Params map[string]any
)

var (
	ErrFlowIDEmpty     = errors.New("flow ID empty")
	ErrFlowNoSteps     = errors.New("flow has no steps")
	ErrStepIDEmpty     = errors.New("step ID empty")
	ErrStepIDReserved  = errors.New("step ID is a reserved marker")
	ErrStepKindEmpty   = errors.New("step kind empty")
	ErrNegativeTimeout = errors.New("timeout_ms cannot be negative")
	ErrNegativeRetries = errors.New("retry_count cannot be negative")
)

// ParseDefinition decodes a flow definition from its JSON form
func ParseDefinition(data []byte) (*FlowDefinition, error) {
	var def FlowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Encode returns the canonical JSON form of the definition
func (d *FlowDefinition) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// Identity returns the cache identity of a definition: its ID plus version.
// Validation results are cached against this value
func (d *FlowDefinition) Identity() string {
	return fmt.Sprintf("%s@%s", d.ID, d.Metadata.Version)
}

// GetStep returns the step with the given ID, or nil
func (d *FlowDefinition) GetStep(id StepID) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// GetCondition returns the condition with the given ID, or nil
func (d *FlowDefinition) GetCondition(id ConditionID) *Condition {
	for i := range d.Conditions {
		if d.Conditions[i].ID == id {
			return &d.Conditions[i]
		}
	}
	return nil
}

// Validate checks the structural fields of the definition. Graph-level
// checks (dependency references, acyclicity, edge targets) are performed by
// the engine's validator
func (d *FlowDefinition) Validate() error {
	if d.ID == "" {
		return ErrFlowIDEmpty
	}
	if len(d.Steps) == 0 {
		return ErrFlowNoSteps
	}
	for i := range d.Steps {
		if err := d.Steps[i].Validate(); err != nil {
			return err
		}
	}
	for i := range d.Conditions {
		if err := d.Conditions[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the step's own fields. A zero TimeoutMs or RetryCount
// defers to the engine defaults; negative values are rejected
func (s *Step) Validate() error {
	if s.ID == "" {
		return ErrStepIDEmpty
	}
	if IsTerminalMarker(s.ID) {
		return fmt.Errorf("%w: %s", ErrStepIDReserved, s.ID)
	}
	if s.Kind == "" {
		return fmt.Errorf("%w: %s", ErrStepKindEmpty, s.ID)
	}
	if s.TimeoutMs < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeTimeout, s.ID)
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeRetries, s.ID)
	}
	return nil
}

// Equal reports whether two definitions are structurally identical
func (d *FlowDefinition) Equal(other *FlowDefinition) bool {
	a, err := d.Encode()
	if err != nil {
		return false
	}
	b, err := other.Encode()
	if err != nil {
		return false
	}
	return string(a) == string(b)
}
