package config

import (
	"fmt"
	"strings"
	"time"
)

// InstanceConfig is the document describing a reconfiguration problem: the
// source cluster, the constraints to satisfy and the plan to apply. The plan
// is either listed in Actions or produced by the Starlark Script.
type InstanceConfig struct {
	// Name identifies the instance.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is free text.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Nodes       []NodeConfig       `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
	VMs         []VMConfig         `json:"vms,omitempty" yaml:"vms,omitempty" validate:"dive"`
	Resources   []ResourceConfig   `json:"resources,omitempty" yaml:"resources,omitempty" validate:"dive"`
	Constraints []ConstraintConfig `json:"constraints,omitempty" yaml:"constraints,omitempty" validate:"dive"`
	Actions     []ActionConfig     `json:"actions,omitempty" yaml:"actions,omitempty" validate:"excluded_with=Script,dive"`

	// Requires lists the explicit dependencies between actions, by index.
	Requires []RequireConfig `json:"requires,omitempty" yaml:"requires,omitempty" validate:"dive"`

	// Script is the path of a Starlark plan script, relative to the
	// instance file.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// Policies lists .rego files and directories checked along the plan.
	Policies []string `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// NodeConfig declares a node. The state defaults to online.
type NodeConfig struct {
	Name       string                 `json:"name" yaml:"name" validate:"required"`
	State      string                 `json:"state,omitempty" yaml:"state,omitempty" validate:"omitempty,oneof=online offline"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// VMConfig declares a VM. The state defaults to running when a node is
// given, ready otherwise.
type VMConfig struct {
	Name       string                 `json:"name" yaml:"name" validate:"required"`
	State      string                 `json:"state,omitempty" yaml:"state,omitempty" validate:"omitempty,oneof=running sleeping ready"`
	Node       string                 `json:"node,omitempty" yaml:"node,omitempty" validate:"required_if=State running,required_if=State sleeping,excluded_if=State ready"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ResourceConfig declares a shareable resource. Consumption is keyed by VM
// name, capacity by node name.
type ResourceConfig struct {
	Name               string         `json:"name" yaml:"name" validate:"required"`
	DefaultConsumption int            `json:"default_consumption,omitempty" yaml:"default_consumption,omitempty" validate:"min=0"`
	DefaultCapacity    int            `json:"default_capacity,omitempty" yaml:"default_capacity,omitempty" validate:"min=0"`
	Consumption        map[string]int `json:"consumption,omitempty" yaml:"consumption,omitempty" validate:"dive,keys,required,endkeys,min=0"`
	Capacity           map[string]int `json:"capacity,omitempty" yaml:"capacity,omitempty" validate:"dive,keys,required,endkeys,min=0"`
}

// ConstraintConfig declares a constraint of the catalogue. The fields a type
// reads are listed in constraintTypes.
type ConstraintConfig struct {
	Type       string     `json:"type" yaml:"type" validate:"required,constraint_type"`
	VMs        []string   `json:"vms,omitempty" yaml:"vms,omitempty"`
	Nodes      []string   `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	VMGroups   [][]string `json:"vm_groups,omitempty" yaml:"vm_groups,omitempty"`
	NodeGroups [][]string `json:"node_groups,omitempty" yaml:"node_groups,omitempty"`
	Resource   string     `json:"resource,omitempty" yaml:"resource,omitempty"`
	Amount     int        `json:"amount,omitempty" yaml:"amount,omitempty" validate:"min=0"`

	// Continuous overrides the default restriction mode.
	Continuous *bool `json:"continuous,omitempty" yaml:"continuous,omitempty"`
}

// ActionConfig declares an action. The element fields an action kind reads
// are listed in actionKinds.
type ActionConfig struct {
	Kind     string        `json:"kind" yaml:"kind" validate:"required,action_kind"`
	VM       string        `json:"vm,omitempty" yaml:"vm,omitempty"`
	Node     string        `json:"node,omitempty" yaml:"node,omitempty"`
	Src      string        `json:"src,omitempty" yaml:"src,omitempty"`
	Dst      string        `json:"dst,omitempty" yaml:"dst,omitempty"`
	Resource string        `json:"resource,omitempty" yaml:"resource,omitempty"`
	Amount   int           `json:"amount,omitempty" yaml:"amount,omitempty" validate:"min=0"`
	Start    int           `json:"start" yaml:"start" validate:"min=0"`
	End      int           `json:"end" yaml:"end" validate:"gtefield=Start"`
	Events   []EventConfig `json:"events,omitempty" yaml:"events,omitempty" validate:"dive"`
}

// EventConfig attaches an allocation event to an action.
type EventConfig struct {
	Hook     string `json:"hook" yaml:"hook" validate:"required,oneof=pre post"`
	VM       string `json:"vm" yaml:"vm" validate:"required"`
	Resource string `json:"resource" yaml:"resource" validate:"required"`
	Amount   int    `json:"amount" yaml:"amount" validate:"min=0"`
}

// RequireConfig forces the action at index After to wait for the action at
// index Before.
type RequireConfig struct {
	Before int `json:"before" yaml:"before" validate:"min=0"`
	After  int `json:"after" yaml:"after" validate:"min=0,nefield=Before"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path locates the faulty value, e.g. "actions[2].vm".
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is the error returned when an instance is invalid.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return "invalid instance: " + errs[0].String()
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return fmt.Sprintf("invalid instance: %d errors: %s", len(errs), strings.Join(parts, "; "))
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the exported globals of the script.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
