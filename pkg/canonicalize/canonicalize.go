// Package canonicalize produces the deterministic byte encoding used
// everywhere a Trust Primitive structure is hashed or signed (C1).
//
// The contract (spec §4.1): stable lexicographic key ordering, UTF-8
// strings with no whitespace padding, hex-lowercase identifiers,
// millisecond-precision UTC timestamps, no floats in hashed contexts,
// and no cycles. Two inputs must produce identical bytes iff they are
// semantically equal.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// maxDepth guards against degenerate input; legitimate Trust Primitive
// structures never approach it. json.Marshal cannot itself produce a
// true cycle (Go values are trees once serialized), so this is a
// circuit breaker rather than a cycle detector.
const maxDepth = 64

// Error is returned for any input that cannot be canonicalized: floats
// with a fractional component, non-finite numbers, non-string map
// keys, or input nested past maxDepth.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("canonicalize: %s", e.Reason)
}

func newError(format string, args ...interface{}) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Bytes returns the canonical byte encoding of v.
//
// v is first passed through encoding/json so struct tags are honored,
// then decoded generically (with json.Number preserved) and walked to
// enforce the canonical-form rules above, then handed to gowebpki/jcs
// for RFC 8785 (JSON Canonicalization Scheme) byte-level canonicalization
// — stable key ordering, no HTML escaping, canonical number formatting.
func Bytes(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	var generic interface{}
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	normalized, err := normalize(generic, 0)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: normalized-marshal: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return canonical, nil
}

// String returns the canonical form as a string.
func String(v interface{}) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 digest of the canonical byte encoding of v.
func Hash(v interface{}) ([32]byte, error) {
	b, err := Bytes(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// HashHex returns Hash as a lowercase hex string, the form every
// identifier and digest in this module is persisted and transmitted as.
func HashHex(v interface{}) (string, error) {
	h, err := Hash(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// HashBytes hashes raw bytes directly (used by the receipt chain, which
// hashes an already-canonicalized body).
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// normalize recursively enforces the canonical-form rules on a value
// produced by decoding JSON with UseNumber. Map keys are sorted by the
// downstream json.Marshal (Go sorts map[string]interface{} keys
// lexicographically by default); jcs.Transform re-confirms RFC 8785
// ordering at the byte level.
func normalize(v interface{}, depth int) (interface{}, error) {
	if depth > maxDepth {
		return nil, newError("nesting exceeds maximum depth %d", maxDepth)
	}

	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		// NFC-normalize so semantically equal Unicode strings (e.g.
		// combining vs. precomposed accents) always hash identically.
		return norm.NFC.String(t), nil
	case json.Number:
		return normalizeNumber(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			n, err := normalize(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			n, err := normalize(val, depth+1)
			if err != nil {
				return nil, err
			}
			out[norm.NFC.String(k)] = n
		}
		return out, nil
	default:
		return nil, newError("unsupported type %T in canonicalized context", v)
	}
}

// normalizeNumber rejects non-finite and fractional numbers: spec §4.1
// requires floats to be rejected in hashed contexts. Integer-valued
// numbers are normalized to int64 so "1", "1.0", and "1e0" all encode
// identically.
func normalizeNumber(n json.Number) (interface{}, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, newError("malformed number %q", n.String())
	}
	if f != float64(int64(f)) {
		return nil, newError("fractional number %q not allowed in canonical context", n.String())
	}
	return int64(f), nil
}
