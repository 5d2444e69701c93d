// internal/rules/script.go
package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Sandboxed script evaluation for script leaves.
 *
 * Scripts are CEL expressions over a single read-only binding named "facts"
 * (the fact document as a map). CEL gives the sandbox properties required
 * here by construction: expressions cannot define functions, import
 * modules, create closures, or loop unboundedly, and have no filesystem,
 * network, process, or environment access.
 *
 * Execution is bounded twice: a CEL cost limit (operation-count ceiling)
 * and a wall-clock timeout enforced through context cancellation with
 * interrupt checks. Either bound maps to ErrScriptExhausted so operators
 * can spot pathological rules; every other fault is ErrScriptFailed.
 *
 * Scripts compile once at rule load time; Program values are safe for
 * concurrent evaluation.
 */

// Default script execution bounds.
const (
	DefaultScriptCostLimit = 1_000_000
	DefaultScriptTimeout   = 100 * time.Millisecond

	// interruptCheckFrequency is how many eval steps pass between context
	// cancellation checks.
	interruptCheckFrequency = 100
)

// ScriptOptions bounds script execution.
type ScriptOptions struct {
	CostLimit uint64        // operation-count ceiling; 0 = default
	Timeout   time.Duration // wall-clock ceiling per evaluation; 0 = default
}

// ScriptEnv compiles and evaluates script leaves. A nil *ScriptEnv means
// the capability is disabled: rules containing script leaves fail to load
// with ErrScriptDisabled.
type ScriptEnv struct {
	env       *cel.Env
	costLimit uint64
	timeout   time.Duration
}

// NewScriptEnv builds the CEL environment exposing the facts binding.
func NewScriptEnv(opts ScriptOptions) (*ScriptEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("facts", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("script environment: %w", err)
	}

	costLimit := opts.CostLimit
	if costLimit == 0 {
		costLimit = DefaultScriptCostLimit
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultScriptTimeout
	}

	return &ScriptEnv{env: env, costLimit: costLimit, timeout: timeout}, nil
}

// Script is a compiled script leaf, safe for concurrent evaluation.
type Script struct {
	src     string
	prog    cel.Program
	timeout time.Duration
}

// Compile parses and type-checks src.
// Rejects scripts that are statically known to produce a non-boolean.
func (s *ScriptEnv) Compile(src string) (*Script, error) {
	if s == nil {
		return nil, types.ErrScriptDisabled
	}
	if len(src) > types.MaxScriptLength {
		return nil, fmt.Errorf("%w: script exceeds %d bytes", types.ErrScriptFailed, types.MaxScriptLength)
	}

	ast, iss := s.env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrScriptFailed, iss.Err())
	}
	if t := ast.OutputType(); !cel.BoolType.IsAssignableType(t) {
		return nil, fmt.Errorf("%w: script must produce a boolean, got %s", types.ErrScriptFailed, t)
	}

	prog, err := s.env.Program(ast,
		cel.CostLimit(s.costLimit),
		cel.InterruptCheckFrequency(interruptCheckFrequency),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrScriptFailed, err)
	}

	return &Script{src: src, prog: prog, timeout: s.timeout}, nil
}

// Source returns the original script text for diagnostics.
func (sc *Script) Source() string { return sc.src }

// Eval runs the script against the fact map and returns its boolean result.
// A non-boolean result or runtime fault is ErrScriptFailed; exceeding the
// cost limit or deadline is ErrScriptExhausted.
func (sc *Script) Eval(ctx context.Context, facts map[string]any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	out, _, err := sc.prog.ContextEval(ctx, map[string]any{"facts": facts})
	if err != nil {
		if isExhaustion(ctx, err) {
			return false, fmt.Errorf("%w: %v", types.ErrScriptExhausted, err)
		}
		return false, fmt.Errorf("%w: %v", types.ErrScriptFailed, err)
	}

	return boolResult(out)
}

// isExhaustion classifies bound-exceeded failures: context deadline,
// CEL interrupt, or cost limit overrun.
func isExhaustion(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "cost limit") || strings.Contains(msg, "interrupted")
}

func boolResult(out ref.Val) (bool, error) {
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: script produced %T, want bool", types.ErrScriptFailed, out.Value())
	}
	return b, nil
}
