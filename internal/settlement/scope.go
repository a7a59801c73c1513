package settlement

// Relevant reports whether an order touches the scope at all: every order is
// relevant to the whole system, and a branch sees orders it received plus
// orders actively transferred to it.
func Relevant(o Order, scope Scope) bool {
	if scope.IsAll() {
		return true
	}
	if o.Branch.ID == scope.BranchID {
		return true
	}
	return o.ActiveTransfer() && o.Transfer.ProcessBranch.ID == scope.BranchID
}

// WeightFor returns how much of the order's value counts toward the scope.
// A branch that is both order and process branch earns both shares.
func WeightFor(o Order, scope Scope) float64 {
	if scope.IsAll() {
		return o.Total()
	}
	return weightOf(Allocate(o), scope)
}

func weightOf(alloc Allocation, scope Scope) float64 {
	var weight float64
	if alloc.OrderBranchID == scope.BranchID {
		weight += alloc.OrderBranchShare
	}
	if alloc.Transferred() && alloc.ProcessBranchID == scope.BranchID {
		weight += alloc.ProcessBranchShare
	}
	return weight
}

// Factor is the proportion of the order total counted toward the scope. It is
// used to slice item and payment-method amounts so they stay consistent with
// the branch revenue figure.
func Factor(o Order, scope Scope) float64 {
	return factorOf(o.Total(), WeightFor(o, scope))
}

func factorOf(total, weight float64) float64 {
	if total == 0 {
		return 0
	}
	return weight / total
}
