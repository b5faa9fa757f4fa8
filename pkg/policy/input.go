package policy

import (
	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// ModelDocument renders a model as the policy input document:
//
//	nodes:     {"node#0": {id, state, running, sleeping, attributes}}
//	vms:       {"vm#0": {id, state, node, attributes}}
//	resources: {"cpu": {vms: {"vm#0": 2}, nodes: {"node#0": {capacity, bounded, used}}}}
//
// The used amount of a node sums the consumption of its running VMs. A node
// is bounded when its capacity is explicit or the default one is positive.
func ModelDocument(m *model.Model) map[string]interface{} {
	mp := m.Mapping()
	attrs := m.Attributes()

	nodes := make(map[string]interface{})
	for _, n := range mp.AllNodes() {
		nodes[n.String()] = map[string]interface{}{
			"id":         int(n),
			"state":      string(mp.NodeState(n)),
			"running":    vmNames(mp.RunningVMsOn(n)),
			"sleeping":   vmNames(mp.SleepingVMsOn(n)),
			"attributes": attributesOf(attrs, n),
		}
	}

	vms := make(map[string]interface{})
	for _, v := range mp.AllVMs() {
		doc := map[string]interface{}{
			"id":         int(v),
			"state":      string(mp.VMState(v)),
			"attributes": attributesOf(attrs, v),
		}
		if n, ok := mp.VMLocation(v); ok {
			doc["node"] = n.String()
		}
		vms[v.String()] = doc
	}

	resources := make(map[string]interface{})
	for _, view := range m.Views() {
		rc, ok := view.(*model.ShareableResource)
		if !ok {
			continue
		}
		cons := make(map[string]interface{})
		for _, v := range mp.AllVMs() {
			cons[v.String()] = rc.Consumption(v)
		}
		caps := make(map[string]interface{})
		for _, n := range mp.AllNodes() {
			caps[n.String()] = map[string]interface{}{
				"capacity": rc.Capacity(n),
				"bounded":  rc.CapacityDefined(n) || rc.DefaultCapacity > 0,
				"used":     rc.SumConsumption(mp.RunningVMsOn(n)),
			}
		}
		resources[rc.Name()] = map[string]interface{}{
			"vms":   cons,
			"nodes": caps,
		}
	}

	return map[string]interface{}{
		"nodes":     nodes,
		"vms":       vms,
		"resources": resources,
	}
}

// ActionDocument renders an action as the policy input document.
func ActionDocument(a plan.Action) map[string]interface{} {
	doc := map[string]interface{}{
		"kind":  string(a.Kind()),
		"start": a.Start(),
		"end":   a.End(),
		"text":  a.String(),
	}
	switch act := a.(type) {
	case *plan.BootNode:
		doc["node"] = act.Node.String()
	case *plan.ShutdownNode:
		doc["node"] = act.Node.String()
	case *plan.BootVM:
		doc["vm"], doc["node"] = act.VM.String(), act.Node.String()
	case *plan.ShutdownVM:
		doc["vm"], doc["node"] = act.VM.String(), act.Node.String()
	case *plan.KillVM:
		doc["vm"], doc["node"] = act.VM.String(), act.Node.String()
	case *plan.ForgeVM:
		doc["vm"] = act.VM.String()
	case *plan.SuspendVM:
		doc["vm"], doc["src"], doc["dst"] = act.VM.String(), act.Src.String(), act.Dst.String()
	case *plan.ResumeVM:
		doc["vm"], doc["src"], doc["dst"] = act.VM.String(), act.Src.String(), act.Dst.String()
	case *plan.MigrateVM:
		doc["vm"], doc["src"], doc["dst"] = act.VM.String(), act.Src.String(), act.Dst.String()
	case *plan.Allocate:
		doc["vm"], doc["node"] = act.VM.String(), act.Node.String()
		doc["resource"], doc["amount"] = act.Resource, act.Amount
	}
	return doc
}

func vmNames(vms []model.VM) []string {
	out := make([]string, len(vms))
	for i, v := range vms {
		out[i] = v.String()
	}
	return out
}

func attributesOf(attrs *model.Attributes, e model.Element) map[string]interface{} {
	out := make(map[string]interface{})
	for _, k := range attrs.Keys(e) {
		if v, ok := attrs.Get(e, k); ok {
			out[k] = v
		}
	}
	return out
}
