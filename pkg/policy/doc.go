// Package policy evaluates Open Policy Agent (Rego) policies on cluster
// models and reconfiguration actions.
//
// Every policy is a Rego module exposing a deny set. The input document has
// a phase ("start", "action" or "end"), the model rendered by ModelDocument
// and, in the action phase, the action rendered by ActionDocument with its
// 1-based commit position:
//
//	package reconf.policies.keep_first
//
//	import rego.v1
//
//	deny contains "node#0 must stay up" if {
//		input.phase == "action"
//		input.action.kind == "shutdownNode"
//		input.action.node == "node#0"
//	}
//
// A deny element is either a message or an object with message, severity
// and element keys. Violations of severity error or critical block.
//
// The engine starts with built-in policies driven by element attributes:
// "protected" on nodes and VMs, "maxVMs" on nodes, and the capacity of
// shareable resources. More policies are loaded from .rego and .json files
// by a Loader, which can watch them for changes.
//
// Constraint plugs the engine into a constraint.PlanChecker:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	cstr := policy.NewConstraint(eng)
//	cstr.SetContinuous(true)
//	err = constraint.NewPlanChecker(cstr).Check(ctx, p)
package policy
