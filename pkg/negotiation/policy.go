package negotiation

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/trusterr"
)

// validateTerms enforces a negotiation's optional terms_schema and
// terms_policy against an offered terms object (supplemented feature,
// SPEC_FULL.md domain stack), grounded on the reference repo's
// firewall.PolicyFirewall allow/schema/evaluate shape generalized from
// tool-call parameters to negotiation terms.
func validateTerms(n contracts.Negotiation, terms interface{}) error {
	if n.TermsSchema != "" {
		if err := validateTermsSchema(n.NegotiationID.String(), n.TermsSchema, terms); err != nil {
			return err
		}
	}
	if n.TermsPolicy != "" {
		ok, err := evaluateTermsPolicy(n.TermsPolicy, terms)
		if err != nil {
			return trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("evaluate terms_policy: %v", err))
		}
		if !ok {
			return trusterr.Wrap(trusterr.ErrInvalidState, "offered terms rejected by terms_policy")
		}
	}
	return nil
}

func validateTermsSchema(negotiationID, schema string, terms interface{}) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://trustprimitive.local/negotiation/%s.schema.json", negotiationID)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("load terms_schema: %v", err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("compile terms_schema: %v", err))
	}

	asMap, ok := terms.(map[string]interface{})
	if !ok {
		return trusterr.Wrap(trusterr.ErrInvalidState, "offered terms must be a JSON object to validate against terms_schema")
	}
	if err := compiled.Validate(asMap); err != nil {
		return trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("terms failed schema validation: %v", err))
	}
	return nil
}

// evaluateTermsPolicy compiles and evaluates a per-negotiation CEL
// expression against the offered terms. Unlike the appeal package's
// fixed delta-bound expression, this one varies per negotiation, so it
// is compiled fresh on every offer rather than cached.
func evaluateTermsPolicy(expr string, terms interface{}) (bool, error) {
	asMap, ok := terms.(map[string]interface{})
	if !ok {
		asMap = map[string]interface{}{"value": terms}
	}
	env, err := cel.NewEnv(cel.Variable("terms", cel.DynType))
	if err != nil {
		return false, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("cel compile: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("cel program: %w", err)
	}
	out, _, err := prg.Eval(map[string]interface{}{"terms": asMap})
	if err != nil {
		return false, fmt.Errorf("cel eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel program did not return a bool")
	}
	return allowed, nil
}
