// internal/rules/operators.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Operator registry and built-in comparison functions.
 *
 * Operators are independent pure functions keyed by name in a map: a
 * capability table, not an interface hierarchy. Each function receives the
 * fact-derived value on the left and the rule-supplied value on the right
 * and returns (bool, error).
 *
 * Type discipline: operators declare the kinds they accept through the
 * accessor helpers below; a kind mismatch is types.ErrTypeMismatch, never a
 * coercion. The single sanctioned widening is int -> float64 inside
 * Value.AsFloat, so numeric operators accept both numeric kinds.
 *
 * Registration: Register before the first Run; re-registering a name
 * overwrites the previous function (last registration wins). Lookups during
 * evaluation are read-only and need no synchronization.
 */

// OperatorFunc compares a fact value against a rule value.
type OperatorFunc func(fact, rule types.Value) (bool, error)

// Registry maps operator names to comparison functions.
type Registry struct {
	ops map[string]OperatorFunc
}

// NewRegistry returns a registry pre-populated with the built-in operators.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[string]OperatorFunc, len(builtins))}
	for name, fn := range builtins {
		r.ops[name] = fn
	}
	return r
}

// Register installs fn under name, overwriting any prior registration.
// Must not be called concurrently with Evaluate; register before the first
// run or hold exclusive access while mutating.
func (r *Registry) Register(name string, fn OperatorFunc) {
	r.ops[name] = fn
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.ops[name]
	return ok
}

// Names returns the registered operator names, unordered.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	return names
}

// Evaluate applies the named operator.
// Returns ErrUnknownOperator for unregistered names; surfaced by the tree
// evaluator as a leaf-level failure, never a run abort.
func (r *Registry) Evaluate(name string, fact, rule types.Value) (bool, error) {
	fn, ok := r.ops[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", types.ErrUnknownOperator, name)
	}
	return fn(fact, rule)
}

var builtins = map[string]OperatorFunc{
	"string_equals":                  stringCmp(func(a, b string) bool { return a == b }),
	"string_not_equals":              stringCmp(func(a, b string) bool { return a != b }),
	"string_contains":                stringCmp(strings.Contains),
	"string_not_contains":            stringCmp(func(a, b string) bool { return !strings.Contains(a, b) }),
	"string_starts_with":             stringCmp(strings.HasPrefix),
	"string_ends_with":               stringCmp(strings.HasSuffix),
	"string_in":                      stringIn(false),
	"string_not_in":                  stringIn(true),
	"numeric_equals":                 numericCmp(func(a, b float64) bool { return a == b }),
	"numeric_not_equals":             numericCmp(func(a, b float64) bool { return a != b }),
	"numeric_greater_than":           numericCmp(func(a, b float64) bool { return a > b }),
	"numeric_greater_than_inclusive": numericCmp(func(a, b float64) bool { return a >= b }),
	"numeric_less_than":              numericCmp(func(a, b float64) bool { return a < b }),
	"numeric_less_than_inclusive":    numericCmp(func(a, b float64) bool { return a <= b }),
	"numeric_in_range":               numericRange(false),
	"numeric_not_in_range":           numericRange(true),
	"numeric_in":                     numericIn(false),
	"numeric_not_in":                 numericIn(true),
	"boolean_equals":                 booleanEquals,
	"exists":                         exists,
	"is_null":                        isNull,
	"array_contains":                 arrayContains(false),
	"array_not_contains":             arrayContains(true),
}

// stringCmp lifts a string predicate into an operator that requires both
// operands to be strings.
func stringCmp(pred func(fact, rule string) bool) OperatorFunc {
	return func(fact, rule types.Value) (bool, error) {
		fs, ok := fact.AsString()
		if !ok {
			return false, mismatch("string", fact)
		}
		rs, ok := rule.AsString()
		if !ok {
			return false, mismatch("string", rule)
		}
		return pred(fs, rs), nil
	}
}

// stringIn tests membership of the fact string in the rule-supplied array.
func stringIn(negate bool) OperatorFunc {
	return func(fact, rule types.Value) (bool, error) {
		fs, ok := fact.AsString()
		if !ok {
			return false, mismatch("string", fact)
		}
		set, ok := rule.AsArray()
		if !ok {
			return false, mismatch("array", rule)
		}
		found := false
		for _, elem := range set {
			es, ok := elem.AsString()
			if !ok {
				return false, mismatch("string element", elem)
			}
			if es == fs {
				found = true
				break
			}
		}
		return found != negate, nil
	}
}

// numericCmp lifts a float64 predicate into an operator accepting either
// numeric kind on both sides.
func numericCmp(pred func(fact, rule float64) bool) OperatorFunc {
	return func(fact, rule types.Value) (bool, error) {
		ff, ok := fact.AsFloat()
		if !ok {
			return false, mismatch("number", fact)
		}
		rf, ok := rule.AsFloat()
		if !ok {
			return false, mismatch("number", rule)
		}
		return pred(ff, rf), nil
	}
}

// numericRange tests start <= fact <= end against a two-element rule array.
// Both bounds are inclusive.
func numericRange(negate bool) OperatorFunc {
	return func(fact, rule types.Value) (bool, error) {
		ff, ok := fact.AsFloat()
		if !ok {
			return false, mismatch("number", fact)
		}
		bounds, ok := rule.AsArray()
		if !ok || len(bounds) != 2 {
			return false, fmt.Errorf("%w: range bounds must be a [start, end] array", types.ErrTypeMismatch)
		}
		start, ok := bounds[0].AsFloat()
		if !ok {
			return false, mismatch("number", bounds[0])
		}
		end, ok := bounds[1].AsFloat()
		if !ok {
			return false, mismatch("number", bounds[1])
		}
		in := start <= ff && ff <= end
		return in != negate, nil
	}
}

// numericIn tests membership of the fact number in the rule-supplied array.
func numericIn(negate bool) OperatorFunc {
	return func(fact, rule types.Value) (bool, error) {
		ff, ok := fact.AsFloat()
		if !ok {
			return false, mismatch("number", fact)
		}
		set, ok := rule.AsArray()
		if !ok {
			return false, mismatch("array", rule)
		}
		found := false
		for _, elem := range set {
			ef, ok := elem.AsFloat()
			if !ok {
				return false, mismatch("number element", elem)
			}
			if ef == ff {
				found = true
				break
			}
		}
		return found != negate, nil
	}
}

func booleanEquals(fact, rule types.Value) (bool, error) {
	fb, ok := fact.AsBool()
	if !ok {
		return false, mismatch("bool", fact)
	}
	rb, ok := rule.AsBool()
	if !ok {
		return false, mismatch("bool", rule)
	}
	return fb == rb, nil
}

// exists is true for any resolved value, including null. Missing fields are
// handled upstream by the tree evaluator before the operator runs.
func exists(fact, rule types.Value) (bool, error) {
	return true, nil
}

func isNull(fact, rule types.Value) (bool, error) {
	return fact.IsNull(), nil
}

// arrayContains tests whether the fact array contains the rule value using
// Value equality (numeric widening applies per element).
func arrayContains(negate bool) OperatorFunc {
	return func(fact, rule types.Value) (bool, error) {
		arr, ok := fact.AsArray()
		if !ok {
			return false, mismatch("array", fact)
		}
		found := false
		for _, elem := range arr {
			if elem.Equal(rule) {
				found = true
				break
			}
		}
		return found != negate, nil
	}
}

func mismatch(want string, got types.Value) error {
	return fmt.Errorf("%w: want %s, got %s", types.ErrTypeMismatch, want, got.Kind())
}
