// Package config loads reconfiguration instances.
//
// An instance file describes the source cluster (nodes, VMs, shareable
// resources and element attributes), the constraints the reconfiguration
// must satisfy and the plan to apply. It is written in YAML, JSON or CUE:
//
//	name: evacuate
//	nodes:
//	  - name: n1
//	  - name: n2
//	vms:
//	  - name: vm1
//	    node: n1
//	constraints:
//	  - type: ban
//	    vms: [vm1]
//	    nodes: [n1]
//	actions:
//	  - kind: migrateVM
//	    vm: vm1
//	    src: n1
//	    dst: n2
//	    start: 0
//	    end: 1
//
// Every document is unified with the #Instance CUE schema of the
// SchemaRegistry, then checked with the validate struct tags. Build resolves
// the element names and produces an Instance holding the model, the
// constraints and the plan.
//
// Instead of listing actions, an instance may name a Starlark script. The
// ScriptedPlanner runs it on the source model and builds the plan from the
// actions it defines:
//
//	def evacuate(src, dst):
//	    return [action("migrateVM", 0, 1, vm=vm, src=src, dst=dst)
//	            for vm in model["nodes"][src]["running"]]
//
//	actions = evacuate("n1", "n2")
//
// Usage:
//
//	loader := config.NewLoader(logger, 30*time.Second)
//	inst, err := loader.LoadInstance(ctx, "evacuate.yaml")
//	if err != nil {
//		return err
//	}
//	err = constraint.NewPlanChecker(inst.Constraints...).Check(ctx, inst.Plan)
package config
