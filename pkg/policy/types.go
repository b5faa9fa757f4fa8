package policy

import "time"

// Severity is the severity of a policy violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects the input.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Phase is the moment of a reconfiguration a policy input describes.
type Phase string

const (
	// PhaseStart describes the source model.
	PhaseStart Phase = "start"

	// PhaseAction describes an action about to be committed, with the model
	// it applies to.
	PhaseAction Phase = "action"

	// PhaseEnd describes the resulting model.
	PhaseEnd Phase = "end"
)

// Policy is a Rego module whose deny set lists violations.
type Policy struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Rego        string                 `json:"rego"`
	Severity    Severity               `json:"severity"`
	Enabled     bool                   `json:"enabled"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is one element of a deny set.
type Violation struct {
	Policy   string                 `json:"policy"`
	Message  string                 `json:"message"`
	Severity Severity               `json:"severity"`
	Phase    Phase                  `json:"phase"`
	Element  string                 `json:"element,omitempty"`
	Action   string                 `json:"action,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Result is the outcome of evaluating every enabled policy on one input.
type Result struct {
	// Allowed is false when a violation is blocking.
	Allowed bool `json:"allowed"`

	Violations        []Violation   `json:"violations,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the blocking violations.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document handed to the policies as input.
type Input struct {
	Phase    Phase                  `json:"phase"`
	Position int                    `json:"position"`
	Model    map[string]interface{} `json:"model"`
	Action   map[string]interface{} `json:"action,omitempty"`
}
