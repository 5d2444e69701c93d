// Package types provides domain models shared across FactKeeper components.
//
// Zero-dependency design: value.go, events.go and errors.go use only the
// standard library so the evaluation core can be embedded without pulling in
// service dependencies. ID utilities in ids.go import uuid but are isolated
// for selective inclusion.
package types

// Resource limits enforced by the rule engine to prevent DoS and maintain
// predictable evaluation cost.
const (
	// MaxPathDepth prevents stack overflow during recursive path resolution.
	// 16 levels handles deeply nested JSON without performance degradation.
	MaxPathDepth = 16

	// MaxNestedWildcards limits wildcard expansion to prevent combinatorial
	// explosion. 2 wildcards allow patterns like orders[*].items[*].price
	// without exponential fan-out.
	MaxNestedWildcards = 2

	// MaxTreeDepth bounds condition tree nesting. Rule definitions are
	// author-supplied JSON; combinator trees deeper than 32 levels are
	// rejected at load time.
	MaxTreeDepth = 32

	// MaxInOperatorValues limits membership operator list size to prevent
	// quadratic comparison cost. 64 values supports typical enum-style checks.
	MaxInOperatorValues = 64

	// MaxScriptLength caps script leaf source size. Scripts are single
	// boolean expressions; 4KB is generous.
	MaxScriptLength = 4096

	// MaxFactsSize limits the fact document to prevent OOM during batch
	// evaluation. Larger payloads should be trimmed upstream.
	MaxFactsSize = 1024 * 1024
)

// PathSegment represents one component of a field path.
// String for object keys, int for array indices, wildcard for array/object
// expansion with first-match semantics.
type PathSegment struct {
	Key      string // object key (mutually exclusive with Index/Wildcard)
	Index    int    // array index (mutually exclusive with Key/Wildcard)
	IsIndex  bool   // disambiguates Index=0 from unset
	Wildcard bool   // true = wildcard segment
}
