// internal/rules/engine.go
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Engine orchestration.
 *
 * The engine owns an ordered rule collection. Run evaluates every rule
 * against one fact document: rules share no state and observe nothing of
 * each other, so each evaluates on its own goroutine; results land in a
 * position-indexed slice so the output order is always registration order
 * regardless of scheduling.
 *
 * The collection is append-only between runs. Mutating it (or the operator
 * registry) concurrently with an in-flight run is the host's problem to
 * serialize; the service layer sidesteps it by building a replacement
 * engine and swapping atomically.
 */

// Engine holds an ordered collection of compiled rules.
type Engine struct {
	compiler *Compiler
	rules    []*CompiledRule
}

// NewEngine creates an engine that loads rules through the given compiler.
func NewEngine(compiler *Compiler) *Engine {
	return &Engine{compiler: compiler}
}

// AddRule compiles and appends a rule definition.
// A definition that fails validation is never partially registered.
func (e *Engine) AddRule(def RuleDefinition) (*CompiledRule, error) {
	rule, err := e.compiler.Compile(def)
	if err != nil {
		return nil, err
	}
	e.rules = append(e.rules, rule)
	return rule, nil
}

// AddRuleJSON parses and adds a rule from its wire-format document.
func (e *Engine) AddRuleJSON(data []byte) (*CompiledRule, error) {
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return e.AddRule(def)
}

// Rules returns the rule collection in registration order.
func (e *Engine) Rules() []*CompiledRule {
	out := make([]*CompiledRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Len returns the number of registered rules.
func (e *Engine) Len() int { return len(e.rules) }

// Run evaluates all rules against the fact document concurrently and
// returns one result per rule in registration order.
//
// The only run-level failure is a structurally invalid fact document (top
// level not an object); every per-rule and per-leaf error is folded into
// that rule's result under the fail-closed policy.
func (e *Engine) Run(ctx context.Context, facts types.Value) ([]RuleResult, error) {
	factSet, err := NewFactSet(facts)
	if err != nil {
		return nil, err
	}

	results := make([]RuleResult, len(e.rules))
	var wg sync.WaitGroup
	for i, rule := range e.rules {
		wg.Add(1)
		go func(i int, rule *CompiledRule) {
			defer wg.Done()
			results[i] = rule.Evaluate(ctx, factSet)
		}(i, rule)
	}
	wg.Wait()

	return results, nil
}

// RunJSON is Run for a raw JSON fact document.
func (e *Engine) RunJSON(ctx context.Context, facts json.RawMessage) ([]RuleResult, error) {
	if len(facts) > types.MaxFactsSize {
		return nil, fmt.Errorf("fact document exceeds %d bytes", types.MaxFactsSize)
	}
	value, err := types.FromJSON(facts)
	if err != nil {
		return nil, fmt.Errorf("parse fact document: %w", err)
	}
	return e.Run(ctx, value)
}
