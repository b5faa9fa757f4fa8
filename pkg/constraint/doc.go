// Package constraint verifies placement constraints along reconfiguration
// plans.
//
// A SatConstraint restricts the placement or the state of VMs and nodes. A
// discrete constraint only restricts the model obtained once the plan is
// applied. A continuous one must also hold from the source model and all
// along the application.
//
// Each constraint creates a Checker that follows a single application through
// hooks, called in this order for every committed action: Start,
// StartRunningVMPlacement, Consume for the pre events, End,
// EndRunningVMPlacement, Consume for the post events. StartsWith and EndsWith
// frame the whole application.
//
//	spread := constraint.NewSpread([]model.VM{v1, v2})
//	if err := constraint.NewPlanChecker(spread).Check(ctx, p); err != nil {
//		// err is a *plan.Error of class violation
//	}
//
// The catalogue covers Among, Ban, Fence, Gather, Lonely, Preserve, Root,
// Spread, Split, SplitAmong, the VM and node state constraints, and the
// running capacity constraints.
package constraint
