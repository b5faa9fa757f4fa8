package constraint

import "github.com/openfroyo/reconf/pkg/model"

// IsSatisfied reports whether the constraint holds on a model taken as a
// final state.
func IsSatisfied(c SatConstraint, m *model.Model) bool {
	return c.NewChecker().EndsWith(m)
}

// MisplacedVMs returns the VMs that must move for the constraints to hold on
// m, sorted. Constraints that cannot name them are skipped.
func MisplacedVMs(m *model.Model, cstrs ...SatConstraint) []model.VM {
	bad := make(map[model.VM]struct{})
	for _, c := range cstrs {
		mp, ok := c.(Misplacer)
		if !ok {
			continue
		}
		for _, v := range mp.Misplaced(m) {
			bad[v] = struct{}{}
		}
	}
	return sortedVMs(bad)
}
