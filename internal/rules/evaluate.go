// internal/rules/evaluate.go
package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Condition tree evaluation.
 *
 * Evaluation is a pure function of (tree, facts): no node carries mutable
 * state, so one CompiledRule may be evaluated concurrently against many
 * fact documents and many rules concurrently against one document.
 *
 * Fail-closed policy: any resolution, operator or script error makes the
 * affected leaf false and records a structured diagnostic in the detail
 * tree. A broken leaf can never cause a rule to match, and no leaf error
 * ever aborts the run.
 *
 * Children evaluate in declared order and every child outcome appears in
 * the detail tree; combinators record how many children passed. Passes()
 * offers a short-circuit fast path when only the boolean is needed.
 */

// Diagnostic kinds recorded in ConditionResult.Error.
const (
	ErrorKindFieldNotFound    = "field_not_found"
	ErrorKindUnsupportedPath  = "unsupported_path"
	ErrorKindUnknownOperator  = "unknown_operator"
	ErrorKindTypeMismatch     = "type_mismatch"
	ErrorKindScriptFailed     = "script_failed"
	ErrorKindScriptExhausted  = "script_exhausted"
	ErrorKindInternal         = "internal"
)

// ConditionResult mirrors the condition tree shape with per-node outcomes.
type ConditionResult struct {
	// Name is the field path, "script", or the combinator description.
	Name string `json:"name"`

	// Passed is the node verdict under the fail-closed policy.
	Passed bool `json:"passed"`

	// Error is the machine-readable diagnostic kind for failed leaves.
	Error string `json:"error,omitempty"`

	// Detail is the human-readable diagnostic message.
	Detail string `json:"detail,omitempty"`

	// Met counts passing children on combinator nodes.
	Met int `json:"met,omitempty"`

	// Children holds per-child results in declared order.
	Children []ConditionResult `json:"children,omitempty"`
}

// RuleResult is the per-rule outcome of an engine run.
type RuleResult struct {
	RuleID types.RuleID    `json:"rule_id"`
	Name   string          `json:"name,omitempty"`
	Passed bool            `json:"passed"`
	Event  *types.Event    `json:"event"`
	Detail ConditionResult `json:"detail"`
}

// FactSet wraps a validated fact document for one evaluation pass.
// The plain-map projection for scripts is built lazily, at most once, and
// shared read-only across all rules in the pass.
type FactSet struct {
	value   types.Value
	mapOnce sync.Once
	asMap   map[string]any
}

// NewFactSet validates that facts is an object and wraps it for
// evaluation. This is the only structural check a run performs.
func NewFactSet(facts types.Value) (*FactSet, error) {
	if facts.Kind() != types.KindObject {
		return nil, fmt.Errorf("%w: got %s", types.ErrFactsNotObject, facts.Kind())
	}
	return &FactSet{value: facts}, nil
}

// Value returns the underlying fact document.
func (f *FactSet) Value() types.Value { return f.value }

func (f *FactSet) scriptFacts() map[string]any {
	f.mapOnce.Do(func() {
		m, _ := f.value.Interface().(map[string]any)
		f.asMap = m
	})
	return f.asMap
}

// Evaluate runs the rule's condition tree against facts and returns the
// verdict plus the full detail tree. The rule's event descriptor is
// attached, unchanged, only when the tree passes.
func (r *CompiledRule) Evaluate(ctx context.Context, facts *FactSet) RuleResult {
	detail := evalNode(ctx, r.Root, r.registry, facts)
	result := RuleResult{
		RuleID: r.ID,
		Name:   r.Name,
		Passed: detail.Passed,
		Detail: detail,
	}
	if detail.Passed {
		event := r.Event.Clone()
		result.Event = &event
	}
	return result
}

// Passes is the short-circuit fast path: same verdict as Evaluate but no
// detail tree, stopping as soon as the outcome is decided.
func (r *CompiledRule) Passes(ctx context.Context, facts *FactSet) bool {
	return passesNode(ctx, r.Root, r.registry, facts)
}

func evalNode(ctx context.Context, node compiledNode, reg *Registry, facts *FactSet) ConditionResult {
	switch n := node.(type) {
	case *compiledAll:
		result := ConditionResult{Name: "and", Passed: true}
		for _, child := range n.children {
			cr := evalNode(ctx, child, reg, facts)
			if cr.Passed {
				result.Met++
			} else {
				result.Passed = false
			}
			result.Children = append(result.Children, cr)
		}
		return result

	case *compiledAny:
		result := ConditionResult{Name: "or"}
		for _, child := range n.children {
			cr := evalNode(ctx, child, reg, facts)
			if cr.Passed {
				result.Met++
				result.Passed = true
			}
			result.Children = append(result.Children, cr)
		}
		return result

	case *compiledAtLeast:
		result := ConditionResult{Name: fmt.Sprintf("atLeast %d of %d", n.min, len(n.children))}
		for _, child := range n.children {
			cr := evalNode(ctx, child, reg, facts)
			if cr.Passed {
				result.Met++
			}
			result.Children = append(result.Children, cr)
		}
		result.Passed = result.Met >= n.min
		return result

	case *compiledLeaf:
		return evalLeaf(ctx, n, reg, facts)

	default:
		return ConditionResult{Name: "unknown", Error: ErrorKindInternal, Detail: fmt.Sprintf("unknown node %T", node)}
	}
}

// evalLeaf resolves the field (or runs the script) and applies the
// operator, converting every error into a false verdict with a diagnostic.
func evalLeaf(ctx context.Context, leaf *compiledLeaf, reg *Registry, facts *FactSet) ConditionResult {
	result := ConditionResult{Name: leaf.name}

	if leaf.script != nil {
		passed, err := leaf.script.Eval(ctx, facts.scriptFacts())
		if err != nil {
			result.Error, result.Detail = classify(err)
			return result
		}
		result.Passed = passed
		return result
	}

	resolved, err := Resolve(leaf.path, facts.Value())
	if err != nil || !resolved.Found {
		// Presence operators treat a missing field as a plain false; for
		// everything else the miss is a recorded resolution failure.
		if !isPresenceOperator(leaf.operator) {
			result.Error, result.Detail = classify(types.ErrFieldNotFound)
		}
		return result
	}

	passed, err := reg.Evaluate(leaf.operator, resolved.Value, leaf.value)
	if err != nil {
		result.Error, result.Detail = classify(err)
		return result
	}
	result.Passed = passed
	return result
}

func passesNode(ctx context.Context, node compiledNode, reg *Registry, facts *FactSet) bool {
	switch n := node.(type) {
	case *compiledAll:
		for _, child := range n.children {
			if !passesNode(ctx, child, reg, facts) {
				return false
			}
		}
		return true

	case *compiledAny:
		for _, child := range n.children {
			if passesNode(ctx, child, reg, facts) {
				return true
			}
		}
		return false

	case *compiledAtLeast:
		met := 0
		remaining := len(n.children)
		for _, child := range n.children {
			if passesNode(ctx, child, reg, facts) {
				met++
				if met >= n.min {
					return true
				}
			}
			remaining--
			if met+remaining < n.min {
				return false
			}
		}
		return false

	case *compiledLeaf:
		return evalLeaf(ctx, n, reg, facts).Passed

	default:
		return false
	}
}

// isPresenceOperator reports operators whose whole purpose is probing the
// resolved field, where a missing field is a normal outcome.
func isPresenceOperator(name string) bool {
	return name == "exists" || name == "is_null"
}

// classify maps an evaluation error to its diagnostic kind and message.
func classify(err error) (kind, detail string) {
	switch {
	case errors.Is(err, types.ErrFieldNotFound):
		kind = ErrorKindFieldNotFound
	case errors.Is(err, types.ErrUnsupportedPathSyntax):
		kind = ErrorKindUnsupportedPath
	case errors.Is(err, types.ErrUnknownOperator):
		kind = ErrorKindUnknownOperator
	case errors.Is(err, types.ErrTypeMismatch):
		kind = ErrorKindTypeMismatch
	case errors.Is(err, types.ErrScriptExhausted):
		kind = ErrorKindScriptExhausted
	case errors.Is(err, types.ErrScriptFailed):
		kind = ErrorKindScriptFailed
	default:
		kind = ErrorKindInternal
	}
	return kind, err.Error()
}
