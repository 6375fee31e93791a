package canonicalize_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/canonicalize"
)

func TestBytes_KeyOrderingIsStable(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": 3}
	b := map[string]interface{}{"c": 3, "a": 2, "b": 1}

	bytesA, err := canonicalize.Bytes(a)
	require.NoError(t, err)
	bytesB, err := canonicalize.Bytes(b)
	require.NoError(t, err)

	assert.Equal(t, bytesA, bytesB)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(bytesA))
}

func TestBytes_RejectsFractionalFloats(t *testing.T) {
	_, err := canonicalize.Bytes(map[string]interface{}{"x": 1.5})
	require.Error(t, err)
	var cerr *canonicalize.Error
	assert.ErrorAs(t, err, &cerr)
}

func TestBytes_IntegerValuedFloatIsAllowed(t *testing.T) {
	b1, err := canonicalize.Bytes(map[string]interface{}{"x": 1.0})
	require.NoError(t, err)
	b2, err := canonicalize.Bytes(map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestBytes_UnicodeNormalization(t *testing.T) {
	// "e" + combining acute vs. precomposed "é" must canonicalize identically.
	decomposed := "café"
	precomposed := "café"

	b1, err := canonicalize.Bytes(decomposed)
	require.NoError(t, err)
	b2, err := canonicalize.Bytes(precomposed)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestBytes_NoHTMLEscaping(t *testing.T) {
	b, err := canonicalize.Bytes(map[string]interface{}{"x": "<a>&"})
	require.NoError(t, err)
	assert.Contains(t, string(b), "<a>&")
}

func TestHashHex_Deterministic(t *testing.T) {
	v := map[string]interface{}{"negotiation_id": "abc", "terms_version": 1}
	h1, err := canonicalize.HashHex(v)
	require.NoError(t, err)
	h2, err := canonicalize.HashHex(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

// TestCanonicalizeRoundTripIsIdentity proves the law from spec §8:
// "Canonicalize-then-parse-then-canonicalize is the identity."
func TestCanonicalizeRoundTripIsIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("re-canonicalizing canonical bytes is a fixed point", prop.ForAll(
		func(m map[string]string) bool {
			generic := make(map[string]interface{}, len(m))
			for k, v := range m {
				generic[k] = v
			}
			first, err := canonicalize.Bytes(generic)
			if err != nil {
				return false
			}
			var reparsed map[string]interface{}
			if err := jsonUnmarshal(first, &reparsed); err != nil {
				return false
			}
			second, err := canonicalize.Bytes(reparsed)
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestDecimal3_FixedPointEncoding(t *testing.T) {
	d := canonicalize.NewDecimal3(-0.1)
	b, err := canonicalize.Bytes(map[string]interface{}{"trust_delta": d})
	require.NoError(t, err)
	assert.Equal(t, `{"trust_delta":"-0.100"}`, string(b))
}

func TestTimestamp_CanonicalFormat(t *testing.T) {
	ts := canonicalize.NewTimestamp(mustParseRFC3339(t, "2026-07-31T12:00:00.123456789Z"))
	assert.Equal(t, "2026-07-31T12:00:00.123Z", ts.String())
}
