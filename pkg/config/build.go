package config

import (
	"fmt"
	"sort"

	"github.com/openfroyo/reconf/pkg/constraint"
	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// NameAttribute is the attribute holding the configured name of an element.
const NameAttribute = "name"

// Instance is a built reconfiguration problem.
type Instance struct {
	Name        string
	Model       *model.Model
	Constraints []constraint.SatConstraint

	// Plan is nil when the instance has a script that was not run yet.
	Plan *plan.ReconfigurationPlan

	Names  *Names
	Config *InstanceConfig
}

// Names maps configured names to model elements and back.
type Names struct {
	nodes     map[string]model.Node
	vms       map[string]model.VM
	nodeNames map[model.Node]string
	vmNames   map[model.VM]string
}

func newNames() *Names {
	return &Names{
		nodes:     make(map[string]model.Node),
		vms:       make(map[string]model.VM),
		nodeNames: make(map[model.Node]string),
		vmNames:   make(map[model.VM]string),
	}
}

// Node returns the node with the given name.
func (n *Names) Node(name string) (model.Node, bool) {
	node, ok := n.nodes[name]
	return node, ok
}

// VM returns the VM with the given name.
func (n *Names) VM(name string) (model.VM, bool) {
	vm, ok := n.vms[name]
	return vm, ok
}

// Of returns the configured name of an element, or its default string.
func (n *Names) Of(e model.Element) string {
	switch el := e.(type) {
	case model.Node:
		if name, ok := n.nodeNames[el]; ok {
			return name
		}
	case model.VM:
		if name, ok := n.vmNames[el]; ok {
			return name
		}
	}
	return e.String()
}

// NodeNames returns the node names sorted by node.
func (n *Names) NodeNames() []string {
	nodes := make([]model.Node, 0, len(n.nodeNames))
	for node := range n.nodeNames {
		nodes = append(nodes, node)
	}
	model.SortNodes(nodes)
	out := make([]string, len(nodes))
	for i, node := range nodes {
		out[i] = n.nodeNames[node]
	}
	return out
}

// VMNames returns the VM names sorted by VM.
func (n *Names) VMNames() []string {
	vms := make([]model.VM, 0, len(n.vmNames))
	for vm := range n.vmNames {
		vms = append(vms, vm)
	}
	model.SortVMs(vms)
	out := make([]string, len(vms))
	for i, vm := range vms {
		out[i] = n.vmNames[vm]
	}
	return out
}

// builder accumulates the errors met while building an instance.
type builder struct {
	names *Names
	errs  ValidationErrors
}

func (b *builder) fail(path, format string, args ...interface{}) {
	b.errs = append(b.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (b *builder) node(path, name string) (model.Node, bool) {
	n, ok := b.names.Node(name)
	if !ok {
		b.fail(path, "unknown node %q", name)
	}
	return n, ok
}

func (b *builder) vm(path, name string) (model.VM, bool) {
	v, ok := b.names.VM(name)
	if !ok {
		b.fail(path, "unknown vm %q", name)
	}
	return v, ok
}

func (b *builder) nodeList(path string, names []string) []model.Node {
	out := make([]model.Node, 0, len(names))
	for i, name := range names {
		if n, ok := b.node(fmt.Sprintf("%s[%d]", path, i), name); ok {
			out = append(out, n)
		}
	}
	return out
}

func (b *builder) vmList(path string, names []string) []model.VM {
	out := make([]model.VM, 0, len(names))
	for i, name := range names {
		if v, ok := b.vm(fmt.Sprintf("%s[%d]", path, i), name); ok {
			out = append(out, v)
		}
	}
	return out
}

// Build builds the model, the constraints and, unless the instance has a
// script, the plan of a validated configuration.
func Build(cfg *InstanceConfig) (*Instance, error) {
	b := &builder{names: newNames()}

	mo := b.buildModel(cfg)
	if len(b.errs) > 0 {
		return nil, b.errs
	}
	cstrs := b.buildConstraints(cfg.Constraints)

	inst := &Instance{
		Name:        cfg.Name,
		Model:       mo,
		Constraints: cstrs,
		Names:       b.names,
		Config:      cfg,
	}
	if cfg.Script == "" {
		inst.Plan = b.buildPlan(mo, cfg.Actions, cfg.Requires, "actions")
	}
	if len(b.errs) > 0 {
		return nil, b.errs
	}
	return inst, nil
}

func (b *builder) buildModel(cfg *InstanceConfig) *model.Model {
	mo := model.New()
	mp := mo.Mapping()
	attrs := mo.Attributes()

	for i, nc := range cfg.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if _, dup := b.names.nodes[nc.Name]; dup {
			b.fail(path, "duplicate node %q", nc.Name)
			continue
		}
		n, err := mo.NewNode()
		if err != nil {
			b.fail(path, "%v", err)
			continue
		}
		b.names.nodes[nc.Name] = n
		b.names.nodeNames[n] = nc.Name

		if nc.State == string(model.NodeStateOffline) {
			mp.AddOfflineNode(n)
		} else {
			mp.AddOnlineNode(n)
		}
		b.putAttributes(path, attrs, n, nc.Name, nc.Attributes)
	}

	for i, vc := range cfg.VMs {
		path := fmt.Sprintf("vms[%d]", i)
		if _, dup := b.names.vms[vc.Name]; dup {
			b.fail(path, "duplicate vm %q", vc.Name)
			continue
		}
		v, err := mo.NewVM()
		if err != nil {
			b.fail(path, "%v", err)
			continue
		}
		b.names.vms[vc.Name] = v
		b.names.vmNames[v] = vc.Name
		b.putAttributes(path, attrs, v, vc.Name, vc.Attributes)

		state := vc.State
		if state == "" {
			state = string(model.VMStateReady)
			if vc.Node != "" {
				state = string(model.VMStateRunning)
			}
		}
		if state == string(model.VMStateReady) {
			mp.AddReadyVM(v)
			continue
		}
		n, ok := b.node(path+".node", vc.Node)
		if !ok {
			continue
		}
		placed := false
		if state == string(model.VMStateSleeping) {
			placed = mp.AddSleepingVM(v, n)
		} else {
			placed = mp.AddRunningVM(v, n)
		}
		if !placed {
			b.fail(path+".node", "node %q is offline", vc.Node)
		}
	}

	for i, rc := range cfg.Resources {
		path := fmt.Sprintf("resources[%d]", i)
		res := model.NewShareableResourceWithDefaults(rc.Name, rc.DefaultConsumption, rc.DefaultCapacity)
		for _, name := range sortedKeys(rc.Consumption) {
			if v, ok := b.vm(path+".consumption", name); ok {
				res.SetConsumption(rc.Consumption[name], v)
			}
		}
		for _, name := range sortedKeys(rc.Capacity) {
			if n, ok := b.node(path+".capacity", name); ok {
				res.SetCapacity(rc.Capacity[name], n)
			}
		}
		if !mo.Attach(res) {
			b.fail(path, "duplicate resource %q", rc.Name)
		}
	}
	return mo
}

func (b *builder) putAttributes(path string, attrs *model.Attributes, e model.Element, name string, values map[string]interface{}) {
	attrs.Put(e, NameAttribute, name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !attrs.Put(e, k, values[k]) {
			b.fail(path+".attributes."+k, "unsupported value %v (%T)", values[k], values[k])
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// constraintTypes lists the buildable constraint types.
var constraintTypes = map[string]func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint{
	"ban": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewBan(b.vmList(path+".vms", cc.VMs), b.nodeList(path+".nodes", cc.Nodes))
	},
	"fence": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewFence(b.vmList(path+".vms", cc.VMs), b.nodeList(path+".nodes", cc.Nodes))
	},
	"spread": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewSpread(b.vmList(path+".vms", cc.VMs))
	},
	"gather": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewGather(b.vmList(path+".vms", cc.VMs))
	},
	"lonely": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewLonely(b.vmList(path+".vms", cc.VMs))
	},
	"root": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewRoot(b.vmList(path+".vms", cc.VMs))
	},
	"split": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewSplit(b.vmGroups(path+".vm_groups", cc.VMGroups))
	},
	"among": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewAmong(b.vmList(path+".vms", cc.VMs), b.nodeGroups(path+".node_groups", cc.NodeGroups))
	},
	"splitAmong": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewSplitAmong(b.vmGroups(path+".vm_groups", cc.VMGroups), b.nodeGroups(path+".node_groups", cc.NodeGroups))
	},
	"preserve": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		if cc.Resource == "" {
			b.fail(path+".resource", "preserve needs a resource")
		}
		return constraint.NewPreserve(b.vmList(path+".vms", cc.VMs), cc.Resource, cc.Amount)
	},
	"running": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewRunning(b.vmList(path+".vms", cc.VMs))
	},
	"ready": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewReady(b.vmList(path+".vms", cc.VMs))
	},
	"sleeping": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewSleeping(b.vmList(path+".vms", cc.VMs))
	},
	"killed": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewKilled(b.vmList(path+".vms", cc.VMs))
	},
	"online": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewOnline(b.nodeList(path+".nodes", cc.Nodes))
	},
	"offline": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewOffline(b.nodeList(path+".nodes", cc.Nodes))
	},
	"singleRunningCapacity": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewSingleRunningCapacity(b.nodeList(path+".nodes", cc.Nodes), cc.Amount)
	},
	"cumulatedRunningCapacity": func(b *builder, path string, cc ConstraintConfig) constraint.SatConstraint {
		return constraint.NewCumulatedRunningCapacity(b.nodeList(path+".nodes", cc.Nodes), cc.Amount)
	},
}

func (b *builder) vmGroups(path string, groups [][]string) [][]model.VM {
	out := make([][]model.VM, len(groups))
	for i, g := range groups {
		out[i] = b.vmList(fmt.Sprintf("%s[%d]", path, i), g)
	}
	return out
}

func (b *builder) nodeGroups(path string, groups [][]string) [][]model.Node {
	out := make([][]model.Node, len(groups))
	for i, g := range groups {
		out[i] = b.nodeList(fmt.Sprintf("%s[%d]", path, i), g)
	}
	return out
}

func (b *builder) buildConstraints(configs []ConstraintConfig) []constraint.SatConstraint {
	out := make([]constraint.SatConstraint, 0, len(configs))
	for i, cc := range configs {
		path := fmt.Sprintf("constraints[%d]", i)
		newConstraint, ok := constraintTypes[cc.Type]
		if !ok {
			b.fail(path+".type", "unknown constraint type %q", cc.Type)
			continue
		}
		c := newConstraint(b, path, cc)
		if cc.Continuous != nil && !c.SetContinuous(*cc.Continuous) {
			b.fail(path+".continuous", "%s does not support continuous=%v", cc.Type, *cc.Continuous)
		}
		out = append(out, c)
	}
	return out
}

// actionKinds lists the buildable action kinds.
var actionKinds = map[string]func(b *builder, path string, ac ActionConfig) (plan.Action, error){
	string(plan.KindBootNode): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		n, _ := b.node(path+".node", ac.Node)
		return asAction(plan.NewBootNode(n, ac.Start, ac.End))
	},
	string(plan.KindShutdownNode): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		n, _ := b.node(path+".node", ac.Node)
		return asAction(plan.NewShutdownNode(n, ac.Start, ac.End))
	},
	string(plan.KindBootVM): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		v, _ := b.vm(path+".vm", ac.VM)
		n, _ := b.node(path+".node", ac.Node)
		return asAction(plan.NewBootVM(v, n, ac.Start, ac.End))
	},
	string(plan.KindShutdownVM): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		v, _ := b.vm(path+".vm", ac.VM)
		n, _ := b.node(path+".node", ac.Node)
		return asAction(plan.NewShutdownVM(v, n, ac.Start, ac.End))
	},
	string(plan.KindSuspendVM): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		v, _ := b.vm(path+".vm", ac.VM)
		src, _ := b.node(path+".src", ac.Src)
		dst, _ := b.node(path+".dst", ac.Dst)
		return asAction(plan.NewSuspendVM(v, src, dst, ac.Start, ac.End))
	},
	string(plan.KindResumeVM): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		v, _ := b.vm(path+".vm", ac.VM)
		src, _ := b.node(path+".src", ac.Src)
		dst, _ := b.node(path+".dst", ac.Dst)
		return asAction(plan.NewResumeVM(v, src, dst, ac.Start, ac.End))
	},
	string(plan.KindMigrateVM): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		v, _ := b.vm(path+".vm", ac.VM)
		src, _ := b.node(path+".src", ac.Src)
		dst, _ := b.node(path+".dst", ac.Dst)
		return asAction(plan.NewMigrateVM(v, src, dst, ac.Start, ac.End))
	},
	string(plan.KindKillVM): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		v, _ := b.vm(path+".vm", ac.VM)
		n, _ := b.node(path+".node", ac.Node)
		return asAction(plan.NewKillVM(v, n, ac.Start, ac.End))
	},
	string(plan.KindForgeVM): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		v, _ := b.vm(path+".vm", ac.VM)
		return asAction(plan.NewForgeVM(v, ac.Start, ac.End))
	},
	string(plan.KindAllocate): func(b *builder, path string, ac ActionConfig) (plan.Action, error) {
		v, _ := b.vm(path+".vm", ac.VM)
		n, _ := b.node(path+".node", ac.Node)
		return asAction(plan.NewAllocate(v, n, ac.Resource, ac.Amount, ac.Start, ac.End))
	},
}

func asAction[T plan.Action](a T, err error) (plan.Action, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildPlan builds a plan over mo. The errors are recorded under prefix.
func (b *builder) buildPlan(mo *model.Model, actions []ActionConfig, requires []RequireConfig, prefix string) *plan.ReconfigurationPlan {
	before := len(b.errs)
	pb := plan.NewBuilder(mo)

	for i, ac := range actions {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		newAction, ok := actionKinds[ac.Kind]
		if !ok {
			b.fail(path+".kind", "unknown action kind %q", ac.Kind)
			continue
		}
		failed := len(b.errs)
		a, err := newAction(b, path, ac)
		if err != nil {
			b.fail(path, "%v", err)
			continue
		}
		if len(b.errs) > failed {
			continue
		}
		for j, ec := range ac.Events {
			epath := fmt.Sprintf("%s.events[%d]", path, j)
			v, ok := b.vm(epath+".vm", ec.VM)
			if !ok {
				continue
			}
			if !a.AddEvent(plan.Hook(ec.Hook), plan.NewAllocateEvent(v, ec.Resource, ec.Amount)) {
				b.fail(epath+".hook", "unknown hook %q", ec.Hook)
			}
		}
		if err := pb.Add(a); err != nil {
			b.fail(path, "%v", err)
		}
	}
	if len(b.errs) > before {
		return nil
	}

	for i, rc := range requires {
		if err := pb.Require(rc.Before, rc.After); err != nil {
			b.fail(fmt.Sprintf("requires[%d]", i), "%v", err)
		}
	}
	if len(b.errs) > before {
		return nil
	}
	return pb.Build()
}

// BuildPlan builds a plan over the instance model from action
// configurations, as produced by a plan script.
func (inst *Instance) BuildPlan(actions []ActionConfig, requires []RequireConfig) (*plan.ReconfigurationPlan, error) {
	b := &builder{names: inst.Names}
	p := b.buildPlan(inst.Model, actions, requires, "actions")
	if len(b.errs) > 0 {
		return nil, b.errs
	}
	return p, nil
}
