package rules

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/solatis/factkeeper/internal/types"
)

func testScriptEnv(t *testing.T, opts ScriptOptions) *ScriptEnv {
	t.Helper()
	env, err := NewScriptEnv(opts)
	if err != nil {
		t.Fatalf("NewScriptEnv() error = %v", err)
	}
	return env
}

func TestScript_Eval(t *testing.T) {
	env := testScriptEnv(t, ScriptOptions{})

	tests := []struct {
		name  string
		src   string
		facts map[string]any
		want  bool
	}{
		{
			name:  "numeric comparison",
			src:   "facts.age > 18",
			facts: map[string]any{"age": int64(21)},
			want:  true,
		},
		{
			name:  "numeric comparison false",
			src:   "facts.age > 18",
			facts: map[string]any{"age": int64(15)},
			want:  false,
		},
		{
			name:  "string equality",
			src:   `facts.name == "Alice"`,
			facts: map[string]any{"name": "Alice"},
			want:  true,
		},
		{
			name:  "boolean logic over fields",
			src:   `facts.age >= 18 && facts.country == "NL"`,
			facts: map[string]any{"age": int64(30), "country": "NL"},
			want:  true,
		},
		{
			name:  "nested field access",
			src:   "facts.user.score > 4.0",
			facts: map[string]any{"user": map[string]any{"score": 4.5}},
			want:  true,
		},
		{
			name:  "membership",
			src:   `facts.role in ["admin", "ops"]`,
			facts: map[string]any{"role": "ops"},
			want:  true,
		},
		{
			name:  "constant expression",
			src:   "1 < 2",
			facts: map[string]any{},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := env.Compile(tt.src)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.src, err)
			}
			got, err := script.Eval(context.Background(), tt.facts)
			if err != nil {
				t.Fatalf("Eval(%q) error = %v", tt.src, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestScript_CompileErrors(t *testing.T) {
	env := testScriptEnv(t, ScriptOptions{})

	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", "facts.age >"},
		{"unknown variable", "users.age > 18"},
		{"statically non-boolean", `"just a string"`},
		{"statically numeric", "1 + 2"},
		{"oversized script", "facts.a == " + strings.Repeat("1", types.MaxScriptLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.Compile(tt.src); !errors.Is(err, types.ErrScriptFailed) {
				t.Errorf("Compile(%q) error = %v, want ErrScriptFailed", tt.src, err)
			}
		})
	}
}

func TestScript_RuntimeFailure(t *testing.T) {
	env := testScriptEnv(t, ScriptOptions{})

	// Type checks as dyn, fails only at runtime against these facts.
	script, err := env.Compile("facts.missing.deeper == 1")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, err := script.Eval(context.Background(), map[string]any{"age": int64(1)})
	if !errors.Is(err, types.ErrScriptFailed) {
		t.Fatalf("Eval() error = %v, want ErrScriptFailed", err)
	}
	if got {
		t.Error("failed script returned true")
	}
}

func TestScript_NonBooleanResult(t *testing.T) {
	env := testScriptEnv(t, ScriptOptions{})

	// facts.age is dyn, so this passes the static check but produces an int.
	script, err := env.Compile("facts.age")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := script.Eval(context.Background(), map[string]any{"age": int64(3)}); !errors.Is(err, types.ErrScriptFailed) {
		t.Errorf("Eval() error = %v, want ErrScriptFailed", err)
	}
}

func TestScript_CostExhaustion(t *testing.T) {
	env := testScriptEnv(t, ScriptOptions{CostLimit: 5})

	script, err := env.Compile("[1, 2, 3, 4, 5, 6, 7, 8, 9, 10].all(x, x >= 0)")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, err := script.Eval(context.Background(), map[string]any{})
	if !errors.Is(err, types.ErrScriptExhausted) {
		t.Fatalf("Eval() error = %v, want ErrScriptExhausted", err)
	}
	if got {
		t.Error("exhausted script returned true")
	}
}

func TestScript_DisabledEnv(t *testing.T) {
	var env *ScriptEnv
	if _, err := env.Compile("1 < 2"); !errors.Is(err, types.ErrScriptDisabled) {
		t.Errorf("Compile() on nil env error = %v, want ErrScriptDisabled", err)
	}
}

func TestScript_Source(t *testing.T) {
	env := testScriptEnv(t, ScriptOptions{})
	script, err := env.Compile("facts.age > 18")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if script.Source() != "facts.age > 18" {
		t.Errorf("Source() = %q", script.Source())
	}
}
