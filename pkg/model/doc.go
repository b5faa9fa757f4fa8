// Package model holds the cluster state that reconfiguration plans operate on.
//
// # Elements
//
// A cluster is made of VMs and Nodes, both plain integer identifiers unique
// within their kind. The ElementPool hands them out and remembers which ones
// are booked.
//
// # Mapping
//
// The Mapping partitions nodes into online and offline, and VMs into ready,
// running and sleeping. Running and sleeping VMs always sit on an online
// node. A killed VM is simply absent from the mapping. Every mutator returns
// false instead of breaking these rules.
//
// # Views and attributes
//
// Optional data lives in named Views attached to the Model. The only built-in
// view is ShareableResource, identified by "ShareableResource.<name>", which
// records per-VM consumption and per-node capacity of a resource. Attributes
// store typed key/value pairs per element.
//
// # Usage
//
//	mo := model.New()
//	n1, _ := mo.NewNode()
//	v1, _ := mo.NewVM()
//	mo.Mapping().AddOnlineNode(n1)
//	mo.Mapping().AddRunningVM(v1, n1)
//	mo.Attach(model.NewShareableResource("cpu").SetCapacity(8, n1).SetConsumption(2, v1))
package model
