// internal/rules/cost.go
package rules

import (
	"strings"

	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Cost model for rule compilation.
 *
 * Every leaf gets a cost from its path shape and operator family; combinator
 * costs are the sum of their children. Compile rejects rules whose total
 * cost exceeds MaxRuleCost, so a pathological tree (wide combinators over
 * deep wildcard paths and scripts) is refused at load time instead of
 * stalling an evaluation pass.
 *
 * Children evaluate in declared order for deterministic diagnostics, so
 * unlike a DNF engine the cost model does not reorder conditions; it is a
 * budget only.
 *
 * Wildcard execution multiplier: 8^n reflects worst-case fanout per
 * wildcard. With MaxNestedWildcards=2, the ceiling is 64x leaf cost.
 */

const (
	// Operator family base costs
	CostPresence   = 1
	CostEquality   = 5
	CostOrdering   = 7
	CostMembership = 8
	CostStringScan = 10
	CostScript     = 500

	// Field lookup cost per path segment
	CostLookupPerSegment = 128

	// Wildcard worst-case fanout per wildcard segment
	WildcardFanout = 8

	// MaxRuleCost is the per-rule evaluation budget.
	MaxRuleCost = 1_000_000
)

// LeafCost computes cost for a field leaf.
// cost = lookup_cost + operator_cost * fanout^wildcards
func LeafCost(path []types.PathSegment, operator string) int {
	lookupCost := 0
	execMult := 1
	for _, seg := range path {
		lookupCost += CostLookupPerSegment
		if seg.Wildcard {
			execMult *= WildcardFanout
		}
	}
	return lookupCost + operatorCost(operator)*execMult
}

// operatorCost maps an operator name to its family base cost.
// Host-registered operators without a known family get the membership cost
// as a conservative middle ground.
func operatorCost(operator string) int {
	switch operator {
	case "exists", "is_null":
		return CostPresence
	case "numeric_equals", "numeric_not_equals", "boolean_equals",
		"string_equals", "string_not_equals":
		return CostEquality
	case "numeric_greater_than", "numeric_greater_than_inclusive",
		"numeric_less_than", "numeric_less_than_inclusive",
		"numeric_in_range", "numeric_not_in_range":
		return CostOrdering
	case "numeric_in", "numeric_not_in", "string_in", "string_not_in",
		"array_contains", "array_not_contains":
		return CostMembership
	default:
		if strings.HasPrefix(operator, "string_") {
			return CostStringScan
		}
		return CostMembership
	}
}
