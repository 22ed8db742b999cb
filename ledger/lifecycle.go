package ledger

// =============================================================================
// MOVEMENT LIFECYCLE - Two-phase vs immediate completion
// =============================================================================

// MovementLifecycle decides whether a batch needs a receipt confirmation.
type MovementLifecycle int

const (
	// LifecycleImmediate batches are COMPLETED at creation.
	LifecycleImmediate MovementLifecycle = iota
	// LifecycleTwoPhase batches start PENDING and wait for the receiving location.
	LifecycleTwoPhase
)

func (l MovementLifecycle) String() string {
	if l == LifecycleTwoPhase {
		return "two_phase"
	}
	return "immediate"
}

// InitialStatus maps the lifecycle to the status a new transaction starts in.
func (l MovementLifecycle) InitialStatus() Status {
	if l == LifecycleTwoPhase {
		return StatusPending
	}
	return StatusCompleted
}

// AutoFlowRule whitelists a (branch, partner) pair for immediate completion.
type AutoFlowRule struct {
	Branch  LocationID `json:"branch"`
	Partner LocationID `json:"partner"`
}

// AutoFlowRules is the configured allow-list.
type AutoFlowRules []AutoFlowRule

// Allows matches the pair in either direction.
func (r AutoFlowRules) Allows(a, b LocationID) bool {
	for _, rule := range r {
		if (rule.Branch == a && rule.Partner == b) || (rule.Branch == b && rule.Partner == a) {
			return true
		}
	}
	return false
}

// DetermineLifecycle is two-phase only when both endpoints are catalog-internal
// and no auto-flow rule covers the pair.
func DetermineLifecycle(source, dest LocationID, isInternal func(LocationID) bool, rules AutoFlowRules) MovementLifecycle {
	if !isInternal(source) || !isInternal(dest) {
		return LifecycleImmediate
	}
	if rules.Allows(source, dest) {
		return LifecycleImmediate
	}
	return LifecycleTwoPhase
}

// DetermineInitialStatus is DetermineLifecycle resolved against a catalog.
func DetermineInitialStatus(source, dest LocationID, catalog Catalog, rules AutoFlowRules) Status {
	isInternal := func(id LocationID) bool {
		_, ok := catalog.Location(id)
		return ok
	}
	return DetermineLifecycle(source, dest, isInternal, rules).InitialStatus()
}
