package verify

// ShouldRetry decides whether another repair attempt is permitted. A task
// that has used up its budget is never retried. Security-classed repairs
// get a tighter sub-budget — half the total, rounded down — bounding the
// number of automated attempts at a potentially deep vulnerability before
// forcing escalation. Pure function of its three inputs.
func ShouldRetry(iteration, maxBudget int, category FailureCategory) bool {
	if iteration >= maxBudget {
		return false
	}
	if category == CategorySecurity {
		return iteration < maxBudget/2
	}
	return true
}
