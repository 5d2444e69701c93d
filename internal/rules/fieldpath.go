// internal/rules/fieldpath.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Field path parsing and resolution for fact documents.
 *
 * Paths are parsed once at rule load time into a PathSegment chain, then
 * resolved against the typed fact Value per evaluation. Base syntax is
 * dotted keys with bracketed array indices ("person.name", "items[0].price").
 * Wildcard segments ("items[*].price") are an extended capability; without
 * it they parse to ErrUnsupportedPathSyntax so a rule author gets a clear
 * load-time rejection instead of a never-matching rule.
 *
 * Wildcard semantics: first matching element wins (ANY semantics), which
 * enables short-circuit resolution while staying deterministic. Wildcards
 * over objects iterate keys in sorted order for the same reason.
 *
 * MaxPathDepth and MaxNestedWildcards are enforced at parse time.
 */

// PathOptions controls optional path syntax capabilities.
type PathOptions struct {
	// ExtendedSyntax enables [*] wildcard segments.
	ExtendedSyntax bool
}

// ParsePath converts a path string into a segment chain.
// Returns ErrInvalidPath for malformed syntax, ErrUnsupportedPathSyntax for
// wildcards without ExtendedSyntax, and the depth/wildcard limit errors.
func ParsePath(path string, opts PathOptions) ([]types.PathSegment, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", types.ErrInvalidPath)
	}

	var segments []types.PathSegment
	wildcards := 0

	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", types.ErrInvalidPath, path)
		}

		key, brackets, err := splitBrackets(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %v in %q", types.ErrInvalidPath, err, path)
		}
		if key == "" && len(brackets) == 0 {
			return nil, fmt.Errorf("%w: empty segment in %q", types.ErrInvalidPath, path)
		}
		if key != "" {
			segments = append(segments, types.PathSegment{Key: key})
		}

		for _, b := range brackets {
			if b == "*" {
				if !opts.ExtendedSyntax {
					return nil, fmt.Errorf("%w: wildcard in %q", types.ErrUnsupportedPathSyntax, path)
				}
				wildcards++
				segments = append(segments, types.PathSegment{Wildcard: true})
				continue
			}
			idx, err := strconv.Atoi(b)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("%w: bad index %q in %q", types.ErrInvalidPath, b, path)
			}
			segments = append(segments, types.PathSegment{Index: idx, IsIndex: true})
		}
	}

	if len(segments) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	if wildcards > types.MaxNestedWildcards {
		return nil, types.ErrTooManyWildcards
	}

	return segments, nil
}

// splitBrackets separates a dotted part into its leading key and bracket
// contents: "items[0][*]" -> "items", ["0", "*"].
func splitBrackets(part string) (string, []string, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		if strings.IndexByte(part, ']') >= 0 {
			return "", nil, fmt.Errorf("unbalanced bracket")
		}
		return part, nil, nil
	}

	key := part[:open]
	rest := part[open:]
	var brackets []string

	for rest != "" {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("unexpected %q after bracket", string(rest[0]))
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, fmt.Errorf("unbalanced bracket")
		}
		inner := rest[1:end]
		if inner == "" {
			return "", nil, fmt.Errorf("empty bracket")
		}
		brackets = append(brackets, inner)
		rest = rest[end+1:]
	}

	return key, brackets, nil
}

// ResolveResult contains the resolved value and the actual path taken.
type ResolveResult struct {
	Value        types.Value         // resolved value (null if not found)
	ResolvedPath []types.PathSegment // path with wildcards replaced by actual keys/indices
	Found        bool                // true if path resolved to a value
}

// Resolve traverses facts following path segments.
// Returns ErrFieldNotFound if the path does not exist; never panics on
// shape mismatches (indexing into objects, keying into scalars).
func Resolve(path []types.PathSegment, facts types.Value) (ResolveResult, error) {
	return resolveRecursive(path, facts, nil)
}

// resolveRecursive traverses the fact value following path segments.
// Returns first match for wildcards (ANY semantics). Accumulates the
// resolved path with actual indices/keys replacing wildcards for
// diagnostics.
func resolveRecursive(path []types.PathSegment, current types.Value, resolvedSoFar []types.PathSegment) (ResolveResult, error) {
	if len(path) == 0 {
		return ResolveResult{
			Value:        current,
			ResolvedPath: resolvedSoFar,
			Found:        true,
		}, nil
	}

	seg := path[0]
	remaining := path[1:]

	switch current.Kind() {
	case types.KindObject:
		if seg.Wildcard {
			// Sorted keys keep wildcard resolution deterministic
			for _, key := range current.SortedKeys() {
				val, _ := current.Field(key)
				resolved := appendSegment(resolvedSoFar, types.PathSegment{Key: key})
				result, err := resolveRecursive(remaining, val, resolved)
				if err == nil && result.Found {
					return result, nil
				}
			}
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if seg.IsIndex {
			// Cannot index into object with integer
			return ResolveResult{}, types.ErrFieldNotFound
		}
		val, ok := current.Field(seg.Key)
		if !ok {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, val, appendSegment(resolvedSoFar, seg))

	case types.KindArray:
		n, _ := current.ArrayLen()
		if seg.Wildcard {
			// ANY semantics: return first match (short-circuit)
			for i := 0; i < n; i++ {
				elem, _ := current.Elem(i)
				resolved := appendSegment(resolvedSoFar, types.PathSegment{Index: i, IsIndex: true})
				result, err := resolveRecursive(remaining, elem, resolved)
				if err == nil && result.Found {
					return result, nil
				}
			}
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if !seg.IsIndex {
			// Cannot use string key on array
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if seg.Index < 0 || seg.Index >= n {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		elem, _ := current.Elem(seg.Index)
		return resolveRecursive(remaining, elem, appendSegment(resolvedSoFar, seg))

	default:
		// Null or scalar value but path continues
		return ResolveResult{}, types.ErrFieldNotFound
	}
}

// appendSegment copies on append so sibling wildcard branches never share
// backing arrays.
func appendSegment(base []types.PathSegment, seg types.PathSegment) []types.PathSegment {
	out := make([]types.PathSegment, len(base), len(base)+1)
	copy(out, base)
	return append(out, seg)
}

// FormatPath renders a segment chain back to path syntax for diagnostics.
func FormatPath(segments []types.PathSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		switch {
		case seg.Wildcard:
			b.WriteString("[*]")
		case seg.IsIndex:
			fmt.Fprintf(&b, "[%d]", seg.Index)
		default:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}
