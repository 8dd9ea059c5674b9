// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: the mapping from pricing tier to
// monthly conversation limit.
package domain

// planLimits maps each plan to its monthly conversation limit.
// Free and basic share a limit; basic differs only in that it is never
// blocked (soft-limit billing).
var planLimits = map[Plan]int{
	PlanFree:   100,
	PlanBasic:  100,
	PlanGrowth: 300,
	PlanPro:    750,
}

// DefaultPlanLimit is applied to unrecognized plans. Unknown input is
// defined behavior, not a failure.
const DefaultPlanLimit = 100

// PlanLimit returns the monthly conversation limit for a plan, defaulting
// to DefaultPlanLimit for unknown plans.
func PlanLimit(plan Plan) int {
	if limit, ok := planLimits[plan]; ok {
		return limit
	}
	return DefaultPlanLimit
}
