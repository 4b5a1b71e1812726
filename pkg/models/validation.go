package models

// ValidationCode identifies a structural rule violated by a workflow graph.
// Dashboard clients branch on the code, so a new rule needs a new code.
type ValidationCode string

const (
	CodeMissingTrigger    ValidationCode = "MISSING_TRIGGER"
	CodeMultipleTriggers  ValidationCode = "MULTIPLE_TRIGGERS"
	CodeInvalidOutputPort ValidationCode = "INVALID_OUTPUT_PORT"
	CodeInvalidTargetNode ValidationCode = "INVALID_TARGET_NODE"
	CodeInvalidTargetPort ValidationCode = "INVALID_TARGET_PORT"
	CodeCycleDetected     ValidationCode = "CYCLE_DETECTED"
	CodeDisconnectedNode  ValidationCode = "DISCONNECTED_NODE"
	CodeNoResponse        ValidationCode = "NO_RESPONSE"
)

// ValidationError is one violation found in a workflow graph.
type ValidationError struct {
	Code    ValidationCode `json:"code"`
	Message string         `json:"message"`
	NodeID  string         `json:"nodeId,omitempty"`
	Field   string         `json:"field,omitempty"`
}

// ValidationResult is the outcome of validating a workflow graph.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}

// HasCode reports whether the result contains at least one error with code.
func (r ValidationResult) HasCode(code ValidationCode) bool {
	return r.Count(code) > 0
}

// Count returns how many errors carry code.
func (r ValidationResult) Count(code ValidationCode) int {
	n := 0

	for _, e := range r.Errors {
		if e.Code == code {
			n++
		}
	}

	return n
}
