// internal/rules/condition.go
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Condition tree data model and wire-format decoding.
 *
 * The tree is a closed sum: Leaf | All | Any | AtLeast. Combinators are a
 * fixed set, so the evaluator dispatches with an exhaustive type switch
 * rather than open-ended polymorphism.
 *
 * Wire shapes:
 *   { "and": [ <node>, ... ] }
 *   { "or": [ <node>, ... ] }
 *   { "atLeast": <n>, "conditions": [ <node>, ... ] }
 *   { "field": <string>, "operator": <string>, "value": <any> }
 *   { "script": <string> }         ("expr" accepted as a legacy alias)
 *
 * Decoding enforces the exactly-one-form invariant for leaves. Structural
 * validation (non-empty children, threshold bounds, depth) happens in
 * Compile where errors can carry tree paths.
 */

// Condition is one node of a rule's condition tree.
type Condition interface {
	condition()
}

// All passes iff every child passes.
type All struct {
	Children []Condition
}

// Any passes iff at least one child passes.
type Any struct {
	Children []Condition
}

// AtLeast passes iff at least Min children pass. 0 < Min <= len(Children)
// is enforced at load time, never clamped.
type AtLeast struct {
	Min      int
	Children []Condition
}

// Leaf is an atomic predicate: field+operator+value, or a script
// expression. Exactly one form is populated.
type Leaf struct {
	Field    string
	Operator string
	Value    types.Value
	Script   string
}

func (All) condition()     {}
func (Any) condition()     {}
func (AtLeast) condition() {}
func (Leaf) condition()    {}

// RuleDefinition is the parsed wire form of a rule before compilation.
type RuleDefinition struct {
	ID         types.RuleID
	Name       string
	Conditions Condition
	Event      types.Event
}

type ruleDefinitionJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"`
	Event      types.Event     `json:"event"`
}

// ParseDefinition decodes a rule definition document.
// An absent ID gets a fresh UUIDv7 so every loaded rule is addressable.
func ParseDefinition(data []byte) (RuleDefinition, error) {
	var raw ruleDefinitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return RuleDefinition{}, fmt.Errorf("invalid rule definition: %w", err)
	}
	if len(raw.Conditions) == 0 {
		return RuleDefinition{}, fmt.Errorf("rule definition: %w", types.ErrEmptyConditions)
	}

	cond, err := DecodeCondition(raw.Conditions)
	if err != nil {
		return RuleDefinition{}, err
	}

	def := RuleDefinition{
		Name:       raw.Name,
		Conditions: cond,
		Event:      raw.Event,
	}
	if raw.ID != "" {
		id, err := types.ParseRuleID(raw.ID)
		if err != nil {
			return RuleDefinition{}, fmt.Errorf("rule definition: invalid id %q: %w", raw.ID, err)
		}
		def.ID = id
	} else {
		def.ID = types.NewRuleID()
	}

	return def, nil
}

type conditionJSON struct {
	And        []json.RawMessage `json:"and"`
	Or         []json.RawMessage `json:"or"`
	AtLeast    *int              `json:"atLeast"`
	Conditions []json.RawMessage `json:"conditions"`
	Field      *string           `json:"field"`
	Operator   string            `json:"operator"`
	Value      json.RawMessage   `json:"value"`
	Script     *string           `json:"script"`
	Expr       *string           `json:"expr"`
}

// DecodeCondition parses one condition node, recursively.
func DecodeCondition(data json.RawMessage) (Condition, error) {
	var raw conditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid condition: %w", err)
	}

	// Legacy alias from the original wire format
	if raw.Script == nil && raw.Expr != nil {
		raw.Script = raw.Expr
	}

	forms := 0
	if raw.And != nil {
		forms++
	}
	if raw.Or != nil {
		forms++
	}
	if raw.AtLeast != nil {
		forms++
	}
	if raw.Field != nil {
		forms++
	}
	if raw.Script != nil {
		forms++
	}
	if forms != 1 {
		return nil, fmt.Errorf("%w: condition must be exactly one of and/or/atLeast/field/script", types.ErrAmbiguousLeaf)
	}

	switch {
	case raw.And != nil:
		children, err := decodeChildren(raw.And)
		if err != nil {
			return nil, err
		}
		return All{Children: children}, nil

	case raw.Or != nil:
		children, err := decodeChildren(raw.Or)
		if err != nil {
			return nil, err
		}
		return Any{Children: children}, nil

	case raw.AtLeast != nil:
		children, err := decodeChildren(raw.Conditions)
		if err != nil {
			return nil, err
		}
		return AtLeast{Min: *raw.AtLeast, Children: children}, nil

	case raw.Script != nil:
		return Leaf{Script: *raw.Script}, nil

	default:
		if raw.Operator == "" {
			return nil, fmt.Errorf("%w: field condition requires an operator", types.ErrAmbiguousLeaf)
		}
		var value types.Value
		if len(raw.Value) > 0 {
			parsed, err := types.FromJSON(raw.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid condition value: %w", err)
			}
			value = parsed
		}
		return Leaf{Field: *raw.Field, Operator: raw.Operator, Value: value}, nil
	}
}

func decodeChildren(raws []json.RawMessage) ([]Condition, error) {
	children := make([]Condition, 0, len(raws))
	for i, raw := range raws {
		child, err := DecodeCondition(raw)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		children = append(children, child)
	}
	return children, nil
}
