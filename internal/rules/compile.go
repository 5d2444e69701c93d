// internal/rules/compile.go
package rules

import (
	"fmt"

	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compile turns a RuleDefinition into an immutable CompiledRule: field
 * paths parsed to segment chains, scripts compiled to CEL programs, the
 * tree structurally validated, and the cost budget enforced. A rule either
 * compiles completely or not at all; a broken rule is never partially
 * registered.
 *
 * Validation errors carry the position inside the tree
 * ("conditions.and[1].atLeast" style) so authors can localize the problem
 * in large definitions.
 *
 * Operator names are NOT resolved here by default: hosts may register
 * operators after loading rules as long as registration precedes the first
 * run, and an unknown name at evaluation time is a leaf-level failure, not
 * a load error. StrictOperators opts into eager resolution.
 */

// CompileOptions controls optional validation capabilities.
type CompileOptions struct {
	// Paths configures field path syntax support.
	Paths PathOptions

	// StrictOperators rejects unknown operator names at compile time
	// instead of deferring to evaluation.
	StrictOperators bool
}

// Compiler validates rule definitions against a registry and script
// environment.
type Compiler struct {
	registry *Registry
	scripts  *ScriptEnv // nil = script capability disabled
	opts     CompileOptions
}

// NewCompiler creates a compiler. scripts may be nil to disable script
// leaves; such rules then fail to load with ErrScriptDisabled.
func NewCompiler(registry *Registry, scripts *ScriptEnv, opts CompileOptions) *Compiler {
	return &Compiler{registry: registry, scripts: scripts, opts: opts}
}

// CompiledRule is fully pre-processed and ready for evaluation.
// Immutable after construction; safe for concurrent evaluation.
type CompiledRule struct {
	ID    types.RuleID
	Name  string
	Root  compiledNode
	Event types.Event
	Cost  int

	// registry the rule was compiled against; read-only during evaluation.
	registry *Registry
}

// compiledNode mirrors Condition with parse work done up front.
type compiledNode interface {
	compiledCondition()
}

type compiledAll struct {
	children []compiledNode
}

type compiledAny struct {
	children []compiledNode
}

type compiledAtLeast struct {
	min      int
	children []compiledNode
}

type compiledLeaf struct {
	name     string // display name for the detail tree
	path     []types.PathSegment
	operator string
	value    types.Value
	script   *Script
}

func (*compiledAll) compiledCondition()     {}
func (*compiledAny) compiledCondition()     {}
func (*compiledAtLeast) compiledCondition() {}
func (*compiledLeaf) compiledCondition()    {}

// Compile validates and pre-processes a rule for evaluation.
func (c *Compiler) Compile(def RuleDefinition) (*CompiledRule, error) {
	if err := def.Event.Validate(); err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}
	if def.Conditions == nil {
		return nil, fmt.Errorf("conditions: %w", types.ErrEmptyConditions)
	}

	root, cost, err := c.compileNode(def.Conditions, "conditions", 1)
	if err != nil {
		return nil, err
	}
	if cost > MaxRuleCost {
		return nil, fmt.Errorf("%w: cost %d > %d", types.ErrRuleTooCostly, cost, MaxRuleCost)
	}

	id := def.ID
	if id == "" {
		id = types.NewRuleID()
	}

	return &CompiledRule{
		ID:       id,
		Name:     def.Name,
		Root:     root,
		Event:    def.Event.Clone(),
		Cost:     cost,
		registry: c.registry,
	}, nil
}

// compileNode validates one node and its subtree. at is the tree path used
// to localize errors; depth counts combinator nesting against MaxTreeDepth.
func (c *Compiler) compileNode(node Condition, at string, depth int) (compiledNode, int, error) {
	if depth > types.MaxTreeDepth {
		return nil, 0, fmt.Errorf("%s: %w", at, types.ErrTreeTooDeep)
	}

	switch n := node.(type) {
	case All:
		children, cost, err := c.compileChildren(n.Children, at+".and", depth)
		if err != nil {
			return nil, 0, err
		}
		return &compiledAll{children: children}, cost, nil

	case Any:
		children, cost, err := c.compileChildren(n.Children, at+".or", depth)
		if err != nil {
			return nil, 0, err
		}
		return &compiledAny{children: children}, cost, nil

	case AtLeast:
		if n.Min <= 0 || n.Min > len(n.Children) {
			return nil, 0, fmt.Errorf("%s: %w: n=%d with %d children", at+".atLeast", types.ErrInvalidThreshold, n.Min, len(n.Children))
		}
		children, cost, err := c.compileChildren(n.Children, at+".atLeast", depth)
		if err != nil {
			return nil, 0, err
		}
		return &compiledAtLeast{min: n.Min, children: children}, cost, nil

	case Leaf:
		return c.compileLeaf(n, at)

	default:
		return nil, 0, fmt.Errorf("%s: unknown condition node %T", at, node)
	}
}

func (c *Compiler) compileChildren(children []Condition, at string, depth int) ([]compiledNode, int, error) {
	if len(children) == 0 {
		return nil, 0, fmt.Errorf("%s: %w", at, types.ErrEmptyConditions)
	}
	compiled := make([]compiledNode, 0, len(children))
	total := 0
	for i, child := range children {
		node, cost, err := c.compileNode(child, fmt.Sprintf("%s[%d]", at, i), depth+1)
		if err != nil {
			return nil, 0, err
		}
		compiled = append(compiled, node)
		total += cost
	}
	return compiled, total, nil
}

func (c *Compiler) compileLeaf(leaf Leaf, at string) (compiledNode, int, error) {
	hasField := leaf.Field != ""
	hasScript := leaf.Script != ""
	if hasField == hasScript {
		return nil, 0, fmt.Errorf("%s: %w", at, types.ErrAmbiguousLeaf)
	}

	if hasScript {
		script, err := c.scripts.Compile(leaf.Script)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", at, err)
		}
		return &compiledLeaf{name: "script", script: script}, CostScript, nil
	}

	path, err := ParsePath(leaf.Field, c.opts.Paths)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: field %q: %w", at, leaf.Field, err)
	}

	if leaf.Operator == "" {
		return nil, 0, fmt.Errorf("%s: %w: missing operator", at, types.ErrAmbiguousLeaf)
	}
	if c.opts.StrictOperators && !c.registry.Has(leaf.Operator) {
		return nil, 0, fmt.Errorf("%s: %w: %q", at, types.ErrUnknownOperator, leaf.Operator)
	}

	if n, ok := leaf.Value.ArrayLen(); ok && n > types.MaxInOperatorValues {
		return nil, 0, fmt.Errorf("%s: %w: %d values", at, types.ErrTooManyInValues, n)
	}

	return &compiledLeaf{
		name:     leaf.Field,
		path:     path,
		operator: leaf.Operator,
		value:    leaf.Value,
	}, LeafCost(path, leaf.Operator), nil
}
