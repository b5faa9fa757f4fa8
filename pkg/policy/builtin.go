package policy

// BuiltinPolicies returns the policies every engine starts with. They read
// element attributes, so clusters without the attributes are unaffected.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedNodesPolicy(),
		protectedVMsPolicy(),
		nodeVMLimitPolicy(),
		resourceOvercommitPolicy(),
	}
}

// protectedNodesPolicy keeps nodes tagged protected online.
func protectedNodesPolicy() Policy {
	return Policy{
		Name:        "protected-nodes",
		Description: "Nodes with the protected attribute must end online",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"nodes", "availability"},
		Rego: `package reconf.policies.protected_nodes

import rego.v1

deny contains violation if {
	input.phase == "end"
	some name, node in input.model.nodes
	node.attributes.protected == true
	node.state == "offline"
	violation := {
		"message": sprintf("protected node %s must stay online", [name]),
		"element": name,
	}
}

deny contains violation if {
	input.phase == "action"
	input.action.kind == "shutdownNode"
	node := input.model.nodes[input.action.node]
	node.attributes.protected == true
	violation := {
		"message": sprintf("protected node %s cannot be shut down", [input.action.node]),
		"element": input.action.node,
	}
}
`,
	}
}

// protectedVMsPolicy forbids destroying or stopping VMs tagged protected.
func protectedVMsPolicy() Policy {
	return Policy{
		Name:        "protected-vms",
		Description: "VMs with the protected attribute cannot be killed or shut down",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"vms", "availability"},
		Rego: `package reconf.policies.protected_vms

import rego.v1

destructive := {"killVM", "shutdownVM"}

deny contains violation if {
	input.phase == "action"
	destructive[input.action.kind]
	vm := input.model.vms[input.action.vm]
	vm.attributes.protected == true
	violation := {
		"message": sprintf("protected %s cannot be stopped by %s", [input.action.vm, input.action.kind]),
		"element": input.action.vm,
	}
}

deny contains violation if {
	input.phase == "end"
	some name, vm in input.model.vms
	vm.attributes.protected == true
	vm.state != "running"
	violation := {
		"message": sprintf("protected %s must end running, got %s", [name, vm.state]),
		"element": name,
	}
}
`,
	}
}

// nodeVMLimitPolicy caps the running VMs of nodes with a maxVMs attribute.
func nodeVMLimitPolicy() Policy {
	return Policy{
		Name:        "node-vm-limit",
		Description: "Nodes with a maxVMs attribute run at most that many VMs",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"nodes", "capacity"},
		Rego: `package reconf.policies.node_vm_limit

import rego.v1

deny contains violation if {
	input.phase != "action"
	some name, node in input.model.nodes
	limit := node.attributes.maxVMs
	count(node.running) > limit
	violation := {
		"message": sprintf("%s runs %d VMs, limit is %d", [name, count(node.running), limit]),
		"element": name,
	}
}
`,
	}
}

// resourceOvercommitPolicy warns about bounded nodes whose running VMs
// consume more than the capacity.
func resourceOvercommitPolicy() Policy {
	return Policy{
		Name:        "resource-overcommit",
		Description: "Running VMs should fit the resource capacity of their node",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"resources", "capacity"},
		Rego: `package reconf.policies.resource_overcommit

import rego.v1

deny contains violation if {
	input.phase == "end"
	some rc, resource in input.model.resources
	some name, node in resource.nodes
	node.bounded
	node.used > node.capacity
	violation := {
		"message": sprintf("%s overcommits %s: %d used, %d available", [name, rc, node.used, node.capacity]),
		"element": name,
	}
}
`,
	}
}
