package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/factkeeper/internal/types"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(testCompiler(t, CompileOptions{Paths: PathOptions{ExtendedSyntax: true}}))
}

func TestEngine_RunOrdering(t *testing.T) {
	engine := testEngine(t)

	// Registration order must survive concurrent evaluation.
	const n = 20
	for i := 0; i < n; i++ {
		def := RuleDefinition{
			Name:       fmt.Sprintf("rule-%02d", i),
			Conditions: Leaf{Field: "value", Operator: "numeric_greater_than", Value: types.Int(int64(i))},
			Event:      testEvent(),
		}
		if _, err := engine.AddRule(def); err != nil {
			t.Fatalf("AddRule(%d) error = %v", i, err)
		}
	}

	results, err := engine.Run(context.Background(), mustValue(t, `{"value": 10}`))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != n {
		t.Fatalf("len(results) = %d, want %d", len(results), n)
	}
	for i, res := range results {
		wantName := fmt.Sprintf("rule-%02d", i)
		if res.Name != wantName {
			t.Errorf("results[%d].Name = %q, want %q", i, res.Name, wantName)
		}
		wantPassed := 10 > i
		if res.Passed != wantPassed {
			t.Errorf("results[%d].Passed = %v, want %v", i, res.Passed, wantPassed)
		}
	}
}

func TestEngine_RunEmpty(t *testing.T) {
	engine := testEngine(t)
	results, err := engine.Run(context.Background(), mustValue(t, `{}`))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestEngine_RunRejectsNonObjectFacts(t *testing.T) {
	engine := testEngine(t)
	if _, err := engine.AddRule(RuleDefinition{
		Conditions: Leaf{Field: "a", Operator: "exists"},
		Event:      testEvent(),
	}); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	for _, doc := range []string{`[1, 2]`, `42`, `"facts"`, `null`, `true`} {
		if _, err := engine.Run(context.Background(), mustValue(t, doc)); !errors.Is(err, types.ErrFactsNotObject) {
			t.Errorf("Run(%s) error = %v, want ErrFactsNotObject", doc, err)
		}
	}
}

func TestEngine_RunJSON(t *testing.T) {
	engine := testEngine(t)
	if _, err := engine.AddRuleJSON([]byte(`{
		"name": "vip order",
		"conditions": {"and": [
			{"field": "customer.vip", "operator": "boolean_equals", "value": true},
			{"field": "order.total", "operator": "numeric_greater_than", "value": 100}
		]},
		"event": {"type": "message", "params": {"text": "vip order received"}}
	}`)); err != nil {
		t.Fatalf("AddRuleJSON() error = %v", err)
	}

	results, err := engine.RunJSON(context.Background(), json.RawMessage(`{"customer": {"vip": true}, "order": {"total": 250}}`))
	if err != nil {
		t.Fatalf("RunJSON() error = %v", err)
	}
	if len(results) != 1 || !results[0].Passed {
		t.Fatalf("results = %+v, want one passing result", results)
	}
	if results[0].Event == nil || results[0].Event.Type != "message" {
		t.Errorf("Event = %+v, want message event", results[0].Event)
	}

	if _, err := engine.RunJSON(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Error("RunJSON(not json) error = nil, want error")
	}
}

func TestEngine_BrokenRuleIsolation(t *testing.T) {
	engine := testEngine(t)

	defs := []RuleDefinition{
		{
			Name:       "passes",
			Conditions: Leaf{Field: "age", Operator: "numeric_greater_than", Value: types.Int(18)},
			Event:      testEvent(),
		},
		{
			Name:       "broken operator",
			Conditions: Leaf{Field: "age", Operator: "no_such_operator"},
			Event:      testEvent(),
		},
		{
			Name:       "missing field",
			Conditions: Leaf{Field: "nope", Operator: "numeric_equals", Value: types.Int(1)},
			Event:      testEvent(),
		},
	}
	for _, def := range defs {
		if _, err := engine.AddRule(def); err != nil {
			t.Fatalf("AddRule(%s) error = %v", def.Name, err)
		}
	}

	results, err := engine.Run(context.Background(), mustValue(t, `{"age": 30}`))
	if err != nil {
		t.Fatalf("Run() error = %v, broken rules must not abort the run", err)
	}
	if !results[0].Passed {
		t.Error("healthy rule failed alongside broken ones")
	}
	if results[1].Passed || results[1].Detail.Error != ErrorKindUnknownOperator {
		t.Errorf("broken operator rule = %+v", results[1].Detail)
	}
	if results[2].Passed || results[2].Detail.Error != ErrorKindFieldNotFound {
		t.Errorf("missing field rule = %+v", results[2].Detail)
	}
}

func TestEngine_AddRuleRejectsInvalid(t *testing.T) {
	engine := testEngine(t)
	_, err := engine.AddRule(RuleDefinition{
		Conditions: AtLeast{Min: 5, Children: []Condition{Leaf{Field: "a", Operator: "exists"}}},
		Event:      testEvent(),
	})
	if !errors.Is(err, types.ErrInvalidThreshold) {
		t.Fatalf("AddRule() error = %v, want ErrInvalidThreshold", err)
	}
	if engine.Len() != 0 {
		t.Error("rejected rule was partially registered")
	}
}

// Combinator laws checked against plain boolean composition. Each child is a
// boolean_equals leaf on a shared true flag, so child i passes iff wants[i].
func TestEngine_CombinatorLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	compiler := testCompiler(t, CompileOptions{})
	facts := factSet(t, `{"flag": true}`)

	leaves := func(wants []bool) []Condition {
		children := make([]Condition, len(wants))
		for i, w := range wants {
			children[i] = Leaf{Field: "flag", Operator: "boolean_equals", Value: types.Bool(w)}
		}
		return children
	}
	evalTree := func(root Condition) bool {
		rule, err := compiler.Compile(RuleDefinition{Conditions: root, Event: testEvent()})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		return rule.Evaluate(context.Background(), facts).Passed
	}
	nonEmpty := gen.SliceOf(gen.Bool()).SuchThat(func(bs []bool) bool { return len(bs) > 0 })

	properties.Property("and is conjunction", prop.ForAll(
		func(wants []bool) bool {
			expected := true
			for _, w := range wants {
				expected = expected && w
			}
			return evalTree(All{Children: leaves(wants)}) == expected
		},
		nonEmpty,
	))

	properties.Property("or is disjunction", prop.ForAll(
		func(wants []bool) bool {
			expected := false
			for _, w := range wants {
				expected = expected || w
			}
			return evalTree(Any{Children: leaves(wants)}) == expected
		},
		nonEmpty,
	))

	properties.Property("atLeast counts passing children", prop.ForAll(
		func(wants []bool, minRaw int) bool {
			min := minRaw%len(wants) + 1
			met := 0
			for _, w := range wants {
				if w {
					met++
				}
			}
			return evalTree(AtLeast{Min: min, Children: leaves(wants)}) == (met >= min)
		},
		nonEmpty,
		gen.IntRange(0, 1<<20),
	))

	properties.Property("atLeast(1) behaves like or", prop.ForAll(
		func(wants []bool) bool {
			return evalTree(AtLeast{Min: 1, Children: leaves(wants)}) ==
				evalTree(Any{Children: leaves(wants)})
		},
		nonEmpty,
	))

	properties.Property("atLeast(len) behaves like and", prop.ForAll(
		func(wants []bool) bool {
			return evalTree(AtLeast{Min: len(wants), Children: leaves(wants)}) ==
				evalTree(All{Children: leaves(wants)})
		},
		nonEmpty,
	))

	properties.Property("evaluation is deterministic", prop.ForAll(
		func(wants []bool) bool {
			root := Any{Children: []Condition{
				All{Children: leaves(wants)},
				AtLeast{Min: 1, Children: leaves(wants)},
			}}
			first := evalTree(root)
			for i := 0; i < 5; i++ {
				if evalTree(root) != first {
					return false
				}
			}
			return true
		},
		nonEmpty,
	))

	properties.TestingRun(t)
}
