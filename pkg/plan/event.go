package plan

import (
	"fmt"

	"github.com/openfroyo/reconf/pkg/model"
)

// Hook says when an event attached to an action is applied.
type Hook string

const (
	// HookPre events are applied right before the action.
	HookPre Hook = "pre"

	// HookPost events are applied right after the action.
	HookPost Hook = "post"
)

// Event is an instantaneous model change attached to an action.
// AllocateEvent is the only implementation.
type Event interface {
	// canApply reports whether the event preconditions hold on m.
	canApply(m *model.Model) bool

	// mutate applies the event, assuming canApply returned true.
	mutate(m *model.Model)

	Equal(Event) bool
	String() string
}

// AllocateEvent changes the amount of a resource a VM consumes.
type AllocateEvent struct {
	VM       model.VM
	Resource string
	Amount   int
}

// NewAllocateEvent creates an allocation event.
func NewAllocateEvent(vm model.VM, resource string, amount int) *AllocateEvent {
	return &AllocateEvent{VM: vm, Resource: resource, Amount: amount}
}

func (e *AllocateEvent) canApply(m *model.Model) bool {
	_, ok := m.ShareableResource(e.Resource)
	return ok
}

func (e *AllocateEvent) mutate(m *model.Model) {
	rc, _ := m.ShareableResource(e.Resource)
	rc.SetConsumption(e.Amount, e.VM)
}

// Equal implements Event.
func (e *AllocateEvent) Equal(o Event) bool {
	other, ok := o.(*AllocateEvent)
	return ok && other != nil && *e == *other
}

func (e *AllocateEvent) String() string {
	return fmt.Sprintf("allocate(vm=%s, rc=%s, amount=%d)", e.VM, e.Resource, e.Amount)
}
