package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// MaxElementID is the largest identifier an element can receive.
const MaxElementID = math.MaxInt32

var (
	// ErrIDInUse is returned when a requested identifier is already booked.
	ErrIDInUse = errors.New("element identifier already in use")

	// ErrIDSpaceExhausted is returned when every identifier of a kind is booked.
	ErrIDSpaceExhausted = errors.New("no element identifier left")

	// ErrInvalidID is returned for identifiers outside [0, MaxElementID].
	ErrInvalidID = errors.New("invalid element identifier")
)

// ElementKind distinguishes virtual machines from nodes.
type ElementKind string

const (
	// KindVM identifies a virtual machine.
	KindVM ElementKind = "vm"

	// KindNode identifies a physical node.
	KindNode ElementKind = "node"
)

// Element is either a VM or a Node.
type Element interface {
	ID() int
	Kind() ElementKind
	String() string
}

// VM is a virtual machine identifier.
type VM int

// ID returns the numeric identifier.
func (v VM) ID() int { return int(v) }

// Kind returns KindVM.
func (v VM) Kind() ElementKind { return KindVM }

func (v VM) String() string { return fmt.Sprintf("vm#%d", int(v)) }

// Node is a physical node identifier.
type Node int

// ID returns the numeric identifier.
func (n Node) ID() int { return int(n) }

// Kind returns KindNode.
func (n Node) Kind() ElementKind { return KindNode }

func (n Node) String() string { return fmt.Sprintf("node#%d", int(n)) }

// SortVMs sorts VMs by identifier in place and returns the slice.
func SortVMs(vms []VM) []VM {
	sort.Slice(vms, func(i, j int) bool { return vms[i] < vms[j] })
	return vms
}

// SortNodes sorts nodes by identifier in place and returns the slice.
func SortNodes(nodes []Node) []Node {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// idPool books identifiers of a single element kind.
type idPool struct {
	used map[int]struct{}
	next int
}

func newIDPool() *idPool {
	return &idPool{used: make(map[int]struct{})}
}

func (p *idPool) request() (int, error) {
	if len(p.used) > MaxElementID {
		return 0, ErrIDSpaceExhausted
	}
	for {
		if p.next > MaxElementID {
			p.next = 0
		}
		id := p.next
		p.next++
		if _, taken := p.used[id]; !taken {
			p.used[id] = struct{}{}
			return id, nil
		}
	}
}

func (p *idPool) book(id int) error {
	if id < 0 || id > MaxElementID {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if _, taken := p.used[id]; taken {
		return fmt.Errorf("%w: %d", ErrIDInUse, id)
	}
	p.used[id] = struct{}{}
	return nil
}

func (p *idPool) release(id int) bool {
	if _, taken := p.used[id]; !taken {
		return false
	}
	delete(p.used, id)
	return true
}

func (p *idPool) inUse(id int) bool {
	_, taken := p.used[id]
	return taken
}

func (p *idPool) clone() *idPool {
	c := &idPool{used: make(map[int]struct{}, len(p.used)), next: p.next}
	for id := range p.used {
		c.used[id] = struct{}{}
	}
	return c
}

// ElementPool creates VMs and nodes with identifiers unique within their kind.
type ElementPool struct {
	vms   *idPool
	nodes *idPool
}

// NewElementPool creates an empty pool.
func NewElementPool() *ElementPool {
	return &ElementPool{vms: newIDPool(), nodes: newIDPool()}
}

// NewVM books the first free VM identifier.
func (p *ElementPool) NewVM() (VM, error) {
	id, err := p.vms.request()
	return VM(id), err
}

// NewVMWithID books a specific VM identifier.
func (p *ElementPool) NewVMWithID(id int) (VM, error) {
	if err := p.vms.book(id); err != nil {
		return 0, fmt.Errorf("vm: %w", err)
	}
	return VM(id), nil
}

// NewNode books the first free node identifier.
func (p *ElementPool) NewNode() (Node, error) {
	id, err := p.nodes.request()
	return Node(id), err
}

// NewNodeWithID books a specific node identifier.
func (p *ElementPool) NewNodeWithID(id int) (Node, error) {
	if err := p.nodes.book(id); err != nil {
		return 0, fmt.Errorf("node: %w", err)
	}
	return Node(id), nil
}

// ReleaseVM frees a VM identifier. It returns false if it was not booked.
func (p *ElementPool) ReleaseVM(v VM) bool { return p.vms.release(int(v)) }

// ReleaseNode frees a node identifier. It returns false if it was not booked.
func (p *ElementPool) ReleaseNode(n Node) bool { return p.nodes.release(int(n)) }

// VMInUse reports whether the VM identifier is booked.
func (p *ElementPool) VMInUse(v VM) bool { return p.vms.inUse(int(v)) }

// NodeInUse reports whether the node identifier is booked.
func (p *ElementPool) NodeInUse(n Node) bool { return p.nodes.inUse(int(n)) }

// VMs returns the booked VM identifiers, sorted.
func (p *ElementPool) VMs() []VM {
	out := make([]VM, 0, len(p.vms.used))
	for id := range p.vms.used {
		out = append(out, VM(id))
	}
	return SortVMs(out)
}

// Nodes returns the booked node identifiers, sorted.
func (p *ElementPool) Nodes() []Node {
	out := make([]Node, 0, len(p.nodes.used))
	for id := range p.nodes.used {
		out = append(out, Node(id))
	}
	return SortNodes(out)
}

// Clone returns an independent copy of the pool.
func (p *ElementPool) Clone() *ElementPool {
	return &ElementPool{vms: p.vms.clone(), nodes: p.nodes.clone()}
}
