package appeal

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// deltaBoundProgram lazily compiles the CEL expression that enforces
// spec §4.5's |trust_delta| <= 0.2 resolution bound, mirroring the
// reference repo's governance/policy_evaluator_cel.go compile-and-cache
// pattern. Kept as a package-level singleton since the expression never
// varies by negotiation or appeal.
var (
	deltaBoundOnce sync.Once
	deltaBoundPrg  cel.Program
	deltaBoundErr  error
)

const deltaBoundExpr = "(delta < 0.0 ? -delta : delta) <= 0.2"

func compileDeltaBound() (cel.Program, error) {
	deltaBoundOnce.Do(func() {
		env, err := cel.NewEnv(cel.Variable("delta", cel.DoubleType))
		if err != nil {
			deltaBoundErr = fmt.Errorf("appeal: cel env: %w", err)
			return
		}
		ast, issues := env.Compile(deltaBoundExpr)
		if issues != nil && issues.Err() != nil {
			deltaBoundErr = fmt.Errorf("appeal: cel compile: %w", issues.Err())
			return
		}
		prg, err := env.Program(ast)
		if err != nil {
			deltaBoundErr = fmt.Errorf("appeal: cel program: %w", err)
			return
		}
		deltaBoundPrg = prg
	})
	return deltaBoundPrg, deltaBoundErr
}

// boundedDeltaCEL evaluates the compiled |delta| <= 0.2 policy via CEL.
// It falls back to the pure-Go boundedDelta check if the CEL program
// fails to compile, so a policy-engine outage never weakens the bound
// itself — only which code path enforces it.
func boundedDeltaCEL(delta float64) bool {
	prg, err := compileDeltaBound()
	if err != nil {
		return boundedDelta(delta)
	}
	out, _, err := prg.Eval(map[string]interface{}{"delta": delta})
	if err != nil {
		return boundedDelta(delta)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return boundedDelta(delta)
	}
	return allowed
}
