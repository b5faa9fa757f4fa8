// Package plan models reconfiguration plans and applies them to a cluster model.
//
// # Actions
//
// An Action is a time-bounded change of the model: BootNode, ShutdownNode,
// BootVM, ShutdownVM, SuspendVM, ResumeVM, MigrateVM, KillVM, ForgeVM and
// Allocate. Actions may carry events (AllocateEvent) hooked right before or
// right after them. Apply checks every precondition of an action and its
// events before touching the model.
//
// # Dependencies
//
// A ReconfigurationPlan is built from a source model and a bag of actions.
// Every action frees and demands nodes; action i precedes action j when i
// ends no later than j starts and either i frees a node j demands or both
// touch the same VM. Explicit requirements can be added with Builder.Require.
//
//	b := plan.NewBuilder(src)
//	mig, _ := plan.NewMigrateVM(v1, n1, n2, 0, 3)
//	off, _ := plan.NewShutdownNode(n1, 3, 5)
//	_ = b.Add(mig, off)
//	p := b.Build()
//	p.DirectDependencies(1) // [0]
//
// # Application
//
// The Monitor tracks which actions are committed and which are blocked.
// DependencyApplier commits the plan frontier by frontier, while
// TimeBasedApplier follows the start moments only. Both notify registered
// CommitListeners in commit order. Failures are classified *Error values:
// malformed when an action cannot be applied, deadlock when a dependency
// cycle keeps actions blocked forever.
package plan
