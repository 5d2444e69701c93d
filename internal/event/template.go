package event

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/solatis/factkeeper/internal/rules"
	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Placeholder rendering for event parameters.
 *
 * Event params may contain "{{ path }}" placeholders that are substituted
 * with values from the fact document at dispatch time, using the same path
 * syntax and resolver as condition leaves. A placeholder that fails to
 * parse or resolve is left verbatim so a typo in a template surfaces in
 * the delivered payload instead of silently vanishing.
 */

// Render substitutes {{ path }} placeholders in s with values resolved
// from the fact document.
func Render(s string, facts types.Value, opts rules.PathOptions) string {
	var b strings.Builder
	for {
		open := strings.Index(s, "{{")
		if open < 0 {
			b.WriteString(s)
			return b.String()
		}
		rel := strings.Index(s[open:], "}}")
		if rel < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := open + rel

		b.WriteString(s[:open])
		placeholder := s[open : end+2]
		path := strings.TrimSpace(s[open+2 : end])

		if rendered, ok := renderPath(path, facts, opts); ok {
			b.WriteString(rendered)
		} else {
			b.WriteString(placeholder)
		}
		s = s[end+2:]
	}
}

// RenderParams renders every string-valued param against the facts.
// Non-string params pass through untouched.
func RenderParams(params map[string]types.Value, facts types.Value, opts rules.PathOptions) map[string]types.Value {
	out := make(map[string]types.Value, len(params))
	for k, v := range params {
		if s, ok := v.AsString(); ok {
			out[k] = types.String(Render(s, facts, opts))
		} else {
			out[k] = v
		}
	}
	return out
}

func renderPath(path string, facts types.Value, opts rules.PathOptions) (string, bool) {
	segments, err := rules.ParsePath(path, opts)
	if err != nil {
		return "", false
	}
	resolved, err := rules.Resolve(segments, facts)
	if err != nil || !resolved.Found {
		return "", false
	}
	return formatValue(resolved.Value), true
}

// formatValue renders a resolved value for interpolation into a string.
// Composites fall back to their JSON encoding.
func formatValue(v types.Value) string {
	switch v.Kind() {
	case types.KindNull:
		return "null"
	case types.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case types.KindInt:
		i, _ := v.AsInt()
		return strconv.FormatInt(i, 10)
	case types.KindFloat:
		f, _ := v.AsFloat()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case types.KindString:
		s, _ := v.AsString()
		return s
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
