package plan

import (
	"fmt"
	"strings"

	"github.com/openfroyo/reconf/pkg/model"
)

// ActionKind is the stable name of an action variant.
type ActionKind string

const (
	KindBootNode     ActionKind = "bootNode"
	KindShutdownNode ActionKind = "shutdownNode"
	KindBootVM       ActionKind = "bootVM"
	KindShutdownVM   ActionKind = "shutdownVM"
	KindSuspendVM    ActionKind = "suspendVM"
	KindResumeVM     ActionKind = "resumeVM"
	KindMigrateVM    ActionKind = "migrateVM"
	KindKillVM       ActionKind = "killVM"
	KindForgeVM      ActionKind = "forgeVM"
	KindAllocate     ActionKind = "allocate"
)

// ActionKinds lists every action variant.
var ActionKinds = []ActionKind{
	KindBootNode, KindShutdownNode, KindBootVM, KindShutdownVM, KindSuspendVM,
	KindResumeVM, KindMigrateVM, KindKillVM, KindForgeVM, KindAllocate,
}

// Action is a time-bounded model change. The set of implementations is
// closed: consumers switch on the concrete type.
type Action interface {
	Start() int
	End() int
	Duration() int
	Kind() ActionKind

	// Elements returns the VMs and nodes the action touches.
	Elements() []model.Element

	// Events returns the events attached to a hook.
	Events(h Hook) []Event

	// AddEvent attaches an event. It returns false for an unknown hook or a
	// nil event.
	AddEvent(h Hook, e Event) bool

	// Equal compares the variant, its fields and its interval.
	Equal(Action) bool
	String() string

	canApply(m *model.Model) bool
	mutate(m *model.Model)

	// frees and demands drive the dependency computation of a plan.
	frees() []model.Node
	demands() []model.Node

	interval() *timeline
}

// RunningVMPlacement is implemented by the actions that leave a VM running on
// a destination node: BootVM, ResumeVM and MigrateVM.
type RunningVMPlacement interface {
	Action
	PlacedVM() model.VM
	Destination() model.Node
}

// Apply applies an action and its events to a model. Every precondition is
// checked first: on false the model is left untouched.
func Apply(a Action, m *model.Model) bool {
	if a == nil || m == nil {
		return false
	}
	t := a.interval()
	if !t.eventsApplicable(m, HookPre) || !a.canApply(m) || !t.eventsApplicable(m, HookPost) {
		return false
	}
	t.mutateEvents(m, HookPre)
	a.mutate(m)
	t.mutateEvents(m, HookPost)
	return true
}

// timeline carries the interval and the hooked events shared by every action.
type timeline struct {
	start int
	end   int
	hooks map[Hook][]Event
}

func newTimeline(start, end int) (timeline, error) {
	if start < 0 || end < start {
		return timeline{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidInterval, start, end)
	}
	return timeline{start: start, end: end}, nil
}

// Start returns the moment the action starts.
func (t *timeline) Start() int { return t.start }

// End returns the moment the action ends.
func (t *timeline) End() int { return t.end }

// Duration returns End - Start.
func (t *timeline) Duration() int { return t.end - t.start }

// Events returns a copy of the events attached to a hook.
func (t *timeline) Events(h Hook) []Event {
	evs := t.hooks[h]
	out := make([]Event, len(evs))
	copy(out, evs)
	return out
}

// AddEvent attaches an event to a hook.
func (t *timeline) AddEvent(h Hook, e Event) bool {
	if e == nil || (h != HookPre && h != HookPost) {
		return false
	}
	if t.hooks == nil {
		t.hooks = make(map[Hook][]Event)
	}
	t.hooks[h] = append(t.hooks[h], e)
	return true
}

func (t *timeline) interval() *timeline { return t }

func (t *timeline) eventsApplicable(m *model.Model, h Hook) bool {
	for _, e := range t.hooks[h] {
		if !e.canApply(m) {
			return false
		}
	}
	return true
}

func (t *timeline) mutateEvents(m *model.Model, h Hook) {
	for _, e := range t.hooks[h] {
		e.mutate(m)
	}
}

func (t *timeline) sameInterval(o Action) bool {
	return t.start == o.Start() && t.end == o.End()
}

func (t *timeline) format(body string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d:%d %s", t.start, t.end, body))
	for _, h := range []Hook{HookPre, HookPost} {
		evs := t.hooks[h]
		if len(evs) == 0 {
			continue
		}
		parts := make([]string, len(evs))
		for i, e := range evs {
			parts[i] = e.String()
		}
		sb.WriteString(fmt.Sprintf(" @%s={%s}", h, strings.Join(parts, ", ")))
	}
	return sb.String()
}

// BootNode switches an offline node online.
type BootNode struct {
	timeline
	Node model.Node
}

// NewBootNode creates a BootNode action.
func NewBootNode(n model.Node, start, end int) (*BootNode, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &BootNode{timeline: t, Node: n}, nil
}

func (a *BootNode) Kind() ActionKind { return KindBootNode }

func (a *BootNode) Elements() []model.Element { return []model.Element{a.Node} }

func (a *BootNode) canApply(m *model.Model) bool { return m.Mapping().IsOffline(a.Node) }

func (a *BootNode) mutate(m *model.Model) { m.Mapping().AddOnlineNode(a.Node) }

func (a *BootNode) frees() []model.Node { return []model.Node{a.Node} }

func (a *BootNode) demands() []model.Node { return nil }

func (a *BootNode) Equal(o Action) bool {
	b, ok := o.(*BootNode)
	return ok && b != nil && a.sameInterval(b) && a.Node == b.Node
}

func (a *BootNode) String() string {
	return a.format(fmt.Sprintf("bootNode(node=%s)", a.Node))
}

// ShutdownNode switches an online node that hosts nothing offline.
type ShutdownNode struct {
	timeline
	Node model.Node
}

// NewShutdownNode creates a ShutdownNode action.
func NewShutdownNode(n model.Node, start, end int) (*ShutdownNode, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &ShutdownNode{timeline: t, Node: n}, nil
}

func (a *ShutdownNode) Kind() ActionKind { return KindShutdownNode }

func (a *ShutdownNode) Elements() []model.Element { return []model.Element{a.Node} }

func (a *ShutdownNode) canApply(m *model.Model) bool {
	mp := m.Mapping()
	return mp.IsOnline(a.Node) && len(mp.RunningVMsOn(a.Node)) == 0 && len(mp.SleepingVMsOn(a.Node)) == 0
}

func (a *ShutdownNode) mutate(m *model.Model) { m.Mapping().AddOfflineNode(a.Node) }

func (a *ShutdownNode) frees() []model.Node { return nil }

func (a *ShutdownNode) demands() []model.Node { return []model.Node{a.Node} }

func (a *ShutdownNode) Equal(o Action) bool {
	b, ok := o.(*ShutdownNode)
	return ok && b != nil && a.sameInterval(b) && a.Node == b.Node
}

func (a *ShutdownNode) String() string {
	return a.format(fmt.Sprintf("shutdownNode(node=%s)", a.Node))
}

// BootVM starts a ready VM on an online node.
type BootVM struct {
	timeline
	VM   model.VM
	Node model.Node
}

// NewBootVM creates a BootVM action.
func NewBootVM(vm model.VM, n model.Node, start, end int) (*BootVM, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &BootVM{timeline: t, VM: vm, Node: n}, nil
}

func (a *BootVM) Kind() ActionKind { return KindBootVM }

func (a *BootVM) Elements() []model.Element { return []model.Element{a.VM, a.Node} }

// PlacedVM implements RunningVMPlacement.
func (a *BootVM) PlacedVM() model.VM { return a.VM }

// Destination implements RunningVMPlacement.
func (a *BootVM) Destination() model.Node { return a.Node }

func (a *BootVM) canApply(m *model.Model) bool {
	mp := m.Mapping()
	return mp.IsReady(a.VM) && mp.IsOnline(a.Node)
}

func (a *BootVM) mutate(m *model.Model) { m.Mapping().AddRunningVM(a.VM, a.Node) }

func (a *BootVM) frees() []model.Node { return nil }

func (a *BootVM) demands() []model.Node { return []model.Node{a.Node} }

func (a *BootVM) Equal(o Action) bool {
	b, ok := o.(*BootVM)
	return ok && b != nil && a.sameInterval(b) && a.VM == b.VM && a.Node == b.Node
}

func (a *BootVM) String() string {
	return a.format(fmt.Sprintf("bootVM(vm=%s, on=%s)", a.VM, a.Node))
}

// ShutdownVM stops a running VM, making it ready.
type ShutdownVM struct {
	timeline
	VM   model.VM
	Node model.Node
}

// NewShutdownVM creates a ShutdownVM action.
func NewShutdownVM(vm model.VM, n model.Node, start, end int) (*ShutdownVM, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &ShutdownVM{timeline: t, VM: vm, Node: n}, nil
}

func (a *ShutdownVM) Kind() ActionKind { return KindShutdownVM }

func (a *ShutdownVM) Elements() []model.Element { return []model.Element{a.VM, a.Node} }

func (a *ShutdownVM) canApply(m *model.Model) bool {
	return runningOn(m, a.VM, a.Node)
}

func (a *ShutdownVM) mutate(m *model.Model) { m.Mapping().AddReadyVM(a.VM) }

func (a *ShutdownVM) frees() []model.Node { return []model.Node{a.Node} }

func (a *ShutdownVM) demands() []model.Node { return nil }

func (a *ShutdownVM) Equal(o Action) bool {
	b, ok := o.(*ShutdownVM)
	return ok && b != nil && a.sameInterval(b) && a.VM == b.VM && a.Node == b.Node
}

func (a *ShutdownVM) String() string {
	return a.format(fmt.Sprintf("shutdownVM(vm=%s, on=%s)", a.VM, a.Node))
}

// SuspendVM suspends a running VM, possibly on another node.
type SuspendVM struct {
	timeline
	VM  model.VM
	Src model.Node
	Dst model.Node
}

// NewSuspendVM creates a SuspendVM action.
func NewSuspendVM(vm model.VM, src, dst model.Node, start, end int) (*SuspendVM, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &SuspendVM{timeline: t, VM: vm, Src: src, Dst: dst}, nil
}

func (a *SuspendVM) Kind() ActionKind { return KindSuspendVM }

func (a *SuspendVM) Elements() []model.Element {
	return []model.Element{a.VM, a.Src, a.Dst}
}

func (a *SuspendVM) canApply(m *model.Model) bool {
	return runningOn(m, a.VM, a.Src) && m.Mapping().IsOnline(a.Dst)
}

func (a *SuspendVM) mutate(m *model.Model) { m.Mapping().AddSleepingVM(a.VM, a.Dst) }

func (a *SuspendVM) frees() []model.Node { return []model.Node{a.Src} }

func (a *SuspendVM) demands() []model.Node {
	if a.Dst == a.Src {
		return nil
	}
	return []model.Node{a.Dst}
}

func (a *SuspendVM) Equal(o Action) bool {
	b, ok := o.(*SuspendVM)
	return ok && b != nil && a.sameInterval(b) && a.VM == b.VM && a.Src == b.Src && a.Dst == b.Dst
}

func (a *SuspendVM) String() string {
	return a.format(fmt.Sprintf("suspendVM(vm=%s, from=%s, to=%s)", a.VM, a.Src, a.Dst))
}

// ResumeVM resumes a sleeping VM, possibly on another node.
type ResumeVM struct {
	timeline
	VM  model.VM
	Src model.Node
	Dst model.Node
}

// NewResumeVM creates a ResumeVM action.
func NewResumeVM(vm model.VM, src, dst model.Node, start, end int) (*ResumeVM, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &ResumeVM{timeline: t, VM: vm, Src: src, Dst: dst}, nil
}

func (a *ResumeVM) Kind() ActionKind { return KindResumeVM }

func (a *ResumeVM) Elements() []model.Element {
	return []model.Element{a.VM, a.Src, a.Dst}
}

// PlacedVM implements RunningVMPlacement.
func (a *ResumeVM) PlacedVM() model.VM { return a.VM }

// Destination implements RunningVMPlacement.
func (a *ResumeVM) Destination() model.Node { return a.Dst }

func (a *ResumeVM) canApply(m *model.Model) bool {
	mp := m.Mapping()
	if !mp.IsSleeping(a.VM) || !mp.IsOnline(a.Dst) {
		return false
	}
	loc, _ := mp.VMLocation(a.VM)
	return loc == a.Src
}

func (a *ResumeVM) mutate(m *model.Model) { m.Mapping().AddRunningVM(a.VM, a.Dst) }

func (a *ResumeVM) frees() []model.Node {
	if a.Src == a.Dst {
		return nil
	}
	return []model.Node{a.Src}
}

func (a *ResumeVM) demands() []model.Node { return []model.Node{a.Dst} }

func (a *ResumeVM) Equal(o Action) bool {
	b, ok := o.(*ResumeVM)
	return ok && b != nil && a.sameInterval(b) && a.VM == b.VM && a.Src == b.Src && a.Dst == b.Dst
}

func (a *ResumeVM) String() string {
	return a.format(fmt.Sprintf("resumeVM(vm=%s, from=%s, to=%s)", a.VM, a.Src, a.Dst))
}

// MigrateVM moves a running VM to another online node.
type MigrateVM struct {
	timeline
	VM  model.VM
	Src model.Node
	Dst model.Node
}

// NewMigrateVM creates a MigrateVM action.
func NewMigrateVM(vm model.VM, src, dst model.Node, start, end int) (*MigrateVM, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &MigrateVM{timeline: t, VM: vm, Src: src, Dst: dst}, nil
}

func (a *MigrateVM) Kind() ActionKind { return KindMigrateVM }

func (a *MigrateVM) Elements() []model.Element {
	return []model.Element{a.VM, a.Src, a.Dst}
}

// PlacedVM implements RunningVMPlacement.
func (a *MigrateVM) PlacedVM() model.VM { return a.VM }

// Destination implements RunningVMPlacement.
func (a *MigrateVM) Destination() model.Node { return a.Dst }

func (a *MigrateVM) canApply(m *model.Model) bool {
	return runningOn(m, a.VM, a.Src) && m.Mapping().IsOnline(a.Dst)
}

func (a *MigrateVM) mutate(m *model.Model) { m.Mapping().AddRunningVM(a.VM, a.Dst) }

func (a *MigrateVM) frees() []model.Node { return []model.Node{a.Src} }

func (a *MigrateVM) demands() []model.Node { return []model.Node{a.Dst} }

func (a *MigrateVM) Equal(o Action) bool {
	b, ok := o.(*MigrateVM)
	return ok && b != nil && a.sameInterval(b) && a.VM == b.VM && a.Src == b.Src && a.Dst == b.Dst
}

func (a *MigrateVM) String() string {
	return a.format(fmt.Sprintf("migrateVM(vm=%s, from=%s, to=%s)", a.VM, a.Src, a.Dst))
}

// KillVM removes a VM from the mapping, whatever its state.
// Node is the host of a running or sleeping VM; it is ignored for a ready VM.
type KillVM struct {
	timeline
	VM   model.VM
	Node model.Node
}

// NewKillVM creates a KillVM action.
func NewKillVM(vm model.VM, n model.Node, start, end int) (*KillVM, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &KillVM{timeline: t, VM: vm, Node: n}, nil
}

func (a *KillVM) Kind() ActionKind { return KindKillVM }

func (a *KillVM) Elements() []model.Element { return []model.Element{a.VM, a.Node} }

func (a *KillVM) canApply(m *model.Model) bool {
	mp := m.Mapping()
	switch mp.VMState(a.VM) {
	case model.VMStateReady:
		return true
	case model.VMStateRunning, model.VMStateSleeping:
		loc, _ := mp.VMLocation(a.VM)
		return loc == a.Node
	}
	return false
}

func (a *KillVM) mutate(m *model.Model) { m.Mapping().RemoveVM(a.VM) }

func (a *KillVM) frees() []model.Node { return []model.Node{a.Node} }

func (a *KillVM) demands() []model.Node { return nil }

func (a *KillVM) Equal(o Action) bool {
	b, ok := o.(*KillVM)
	return ok && b != nil && a.sameInterval(b) && a.VM == b.VM && a.Node == b.Node
}

func (a *KillVM) String() string {
	return a.format(fmt.Sprintf("killVM(vm=%s, on=%s)", a.VM, a.Node))
}

// ForgeVM declares a new VM in the ready state.
type ForgeVM struct {
	timeline
	VM model.VM
}

// NewForgeVM creates a ForgeVM action.
func NewForgeVM(vm model.VM, start, end int) (*ForgeVM, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &ForgeVM{timeline: t, VM: vm}, nil
}

func (a *ForgeVM) Kind() ActionKind { return KindForgeVM }

func (a *ForgeVM) Elements() []model.Element { return []model.Element{a.VM} }

func (a *ForgeVM) canApply(m *model.Model) bool { return !m.Mapping().Contains(a.VM) }

func (a *ForgeVM) mutate(m *model.Model) { m.Mapping().AddReadyVM(a.VM) }

func (a *ForgeVM) frees() []model.Node { return nil }

func (a *ForgeVM) demands() []model.Node { return nil }

func (a *ForgeVM) Equal(o Action) bool {
	b, ok := o.(*ForgeVM)
	return ok && b != nil && a.sameInterval(b) && a.VM == b.VM
}

func (a *ForgeVM) String() string {
	return a.format(fmt.Sprintf("forgeVM(vm=%s)", a.VM))
}

// Allocate changes the amount of a resource a running VM consumes on its host.
type Allocate struct {
	timeline
	VM       model.VM
	Node     model.Node
	Resource string
	Amount   int
}

// NewAllocate creates an Allocate action.
func NewAllocate(vm model.VM, n model.Node, resource string, amount, start, end int) (*Allocate, error) {
	t, err := newTimeline(start, end)
	if err != nil {
		return nil, err
	}
	return &Allocate{timeline: t, VM: vm, Node: n, Resource: resource, Amount: amount}, nil
}

func (a *Allocate) Kind() ActionKind { return KindAllocate }

func (a *Allocate) Elements() []model.Element { return []model.Element{a.VM, a.Node} }

func (a *Allocate) canApply(m *model.Model) bool {
	if _, ok := m.ShareableResource(a.Resource); !ok {
		return false
	}
	return runningOn(m, a.VM, a.Node)
}

func (a *Allocate) mutate(m *model.Model) {
	rc, _ := m.ShareableResource(a.Resource)
	rc.SetConsumption(a.Amount, a.VM)
}

func (a *Allocate) frees() []model.Node { return nil }

func (a *Allocate) demands() []model.Node { return []model.Node{a.Node} }

func (a *Allocate) Equal(o Action) bool {
	b, ok := o.(*Allocate)
	return ok && b != nil && a.sameInterval(b) && a.VM == b.VM && a.Node == b.Node &&
		a.Resource == b.Resource && a.Amount == b.Amount
}

func (a *Allocate) String() string {
	return a.format(fmt.Sprintf("allocate(vm=%s, on=%s, rc=%s, amount=%d)", a.VM, a.Node, a.Resource, a.Amount))
}

func runningOn(m *model.Model, vm model.VM, n model.Node) bool {
	mp := m.Mapping()
	if !mp.IsRunning(vm) {
		return false
	}
	loc, _ := mp.VMLocation(vm)
	return loc == n
}

// actionVMs returns the VMs an action touches.
func actionVMs(a Action) []model.VM {
	var out []model.VM
	for _, e := range a.Elements() {
		if vm, ok := e.(model.VM); ok {
			out = append(out, vm)
		}
	}
	return out
}
