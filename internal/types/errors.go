package types

import "errors"

// Sentinel errors for FactKeeper operations.
//
// Load-time errors reject a rule before it joins an engine. Resolution,
// operator and script errors are recorded per leaf and collapse to false
// under the fail-closed policy; they never abort an evaluation run.
var (
	// ErrFieldNotFound indicates a field path could not be resolved.
	ErrFieldNotFound = errors.New("field not found")

	// ErrUnsupportedPathSyntax indicates path syntax requiring a capability
	// that is not enabled (wildcard segments without extended paths).
	ErrUnsupportedPathSyntax = errors.New("unsupported path syntax")

	// ErrInvalidPath indicates a field path that cannot be parsed at all.
	ErrInvalidPath = errors.New("invalid field path")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrTooManyWildcards indicates a field path exceeds MaxNestedWildcards.
	ErrTooManyWildcards = errors.New("field path has too many wildcards")

	// ErrUnknownOperator indicates an operator name absent from the registry.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrTypeMismatch indicates operand kinds an operator does not accept.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrScriptDisabled indicates a script leaf loaded into an engine
	// without script support enabled.
	ErrScriptDisabled = errors.New("script evaluation not enabled")

	// ErrScriptFailed indicates a script produced a non-boolean result or
	// faulted at runtime.
	ErrScriptFailed = errors.New("script evaluation failed")

	// ErrScriptExhausted indicates a script exceeded its cost limit or
	// deadline.
	ErrScriptExhausted = errors.New("script execution bound exceeded")

	// ErrEmptyConditions indicates a combinator with no children.
	ErrEmptyConditions = errors.New("combinator has no conditions")

	// ErrInvalidThreshold indicates an atLeast threshold outside
	// 0 < n <= len(children). Never clamped, always rejected.
	ErrInvalidThreshold = errors.New("invalid atLeast threshold")

	// ErrAmbiguousLeaf indicates a leaf populating both or neither of the
	// field and script forms.
	ErrAmbiguousLeaf = errors.New("leaf must have exactly one of field or script")

	// ErrTreeTooDeep indicates a condition tree exceeding MaxTreeDepth.
	ErrTreeTooDeep = errors.New("condition tree exceeds maximum depth")

	// ErrTooManyInValues indicates a membership operator value exceeding
	// MaxInOperatorValues.
	ErrTooManyInValues = errors.New("membership operator has too many values")

	// ErrRuleTooCostly indicates a rule exceeding the evaluation cost budget.
	ErrRuleTooCostly = errors.New("rule exceeds cost budget")

	// ErrFactsNotObject indicates a fact document whose top level is not a
	// JSON object. The only caller-visible failure from Engine.Run.
	ErrFactsNotObject = errors.New("fact document is not an object")

	// ErrEventTypeMissing indicates an event descriptor without a type.
	ErrEventTypeMissing = errors.New("event type is required")

	// ErrUnknownEventType indicates an event type with no registered
	// dispatcher.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrRuleNotFound indicates a rule ID absent from the store.
	ErrRuleNotFound = errors.New("rule not found")
)
