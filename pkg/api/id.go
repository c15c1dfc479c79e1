package api

import (
	"regexp"
	"strings"
)

type (
	// FlowID is a unique identifier for a flow definition
	FlowID string

	// StepID is a unique identifier for a step within a flow
	StepID string

	// RunID is a unique identifier for one execution of a flow
	RunID string

	// ConditionID is a unique identifier for a condition within a flow
	ConditionID string

	// StepKind is the opaque tag that selects the registered handler for a
	// step. The engine never interprets it beyond registry lookup
	StepKind string
)

// Reserved pseudo-step IDs. Edge lists may route to these instead of a step;
// reaching one immediately terminates the run
const (
	MarkerFlowComplete StepID = "flow_complete"
	MarkerFlowError    StepID = "flow_error"
)

// InvalidIDChars matches characters not permitted in flow and step IDs. Valid
// characters are: letters, digits, underscore, dot, hyphen, plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// IsTerminalMarker returns true if the step ID is one of the reserved
// run-terminal markers
func IsTerminalMarker(id StepID) bool {
	return id == MarkerFlowComplete || id == MarkerFlowError
}

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}
