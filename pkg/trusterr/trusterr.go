// Package trusterr defines the Trust Primitive error taxonomy (spec §7).
//
// Errors are grouped by kind, not by Go type: protocol, cryptographic,
// integrity, concurrency, and SLA. Every sentinel is errors.Is-comparable
// and carries a stable namespaced code and a retry classification, in
// the style of the reference repo's kernel/errorir package.
package trusterr

import (
	"errors"
	"fmt"
)

// Classification tells a caller (or the scheduler) whether retrying the
// same operation could ever succeed.
type Classification string

const (
	ClassNonRetryable Classification = "NON_RETRYABLE"
	ClassRetryable    Classification = "RETRYABLE"
	ClassFatal        Classification = "FATAL"
)

// Kind groups sentinels per spec §7's taxonomy.
type Kind string

const (
	KindProtocol      Kind = "PROTOCOL"
	KindCryptographic Kind = "CRYPTOGRAPHIC"
	KindIntegrity     Kind = "INTEGRITY"
	KindConcurrency   Kind = "CONCURRENCY"
	KindSLA           Kind = "SLA"
)

// Sentinel is a comparable, wrappable error carrying a stable code.
type Sentinel struct {
	Code           string
	Kind           Kind
	Classification Classification
	message        string
}

func (s *Sentinel) Error() string { return s.message }

func newSentinel(code string, kind Kind, class Classification, message string) *Sentinel {
	return &Sentinel{Code: code, Kind: kind, Classification: class, message: message}
}

// Protocol errors (spec §7): surfaced to the caller, transition rejected atomically.
var (
	ErrInvalidState        = newSentinel("TRUST/PROTOCOL/INVALID_STATE", KindProtocol, ClassNonRetryable, "transition not allowed from current state")
	ErrPermissionDenied    = newSentinel("TRUST/PROTOCOL/PERMISSION_DENIED", KindProtocol, ClassNonRetryable, "caller is not a participant or not permitted in this role")
	ErrBindingImmutable    = newSentinel("TRUST/PROTOCOL/BINDING_IMMUTABLE", KindProtocol, ClassNonRetryable, "negotiation is BINDING and immutable")
	ErrConsensusBounds     = newSentinel("TRUST/PROTOCOL/CONSENSUS_BOUNDS", KindProtocol, ClassNonRetryable, "required_consensus_count outside permitted range")
	ErrDeadlinePassed      = newSentinel("TRUST/PROTOCOL/DEADLINE_PASSED", KindProtocol, ClassNonRetryable, "negotiation deadline has passed")
	ErrAlreadyJoined       = newSentinel("TRUST/PROTOCOL/ALREADY_JOINED", KindProtocol, ClassNonRetryable, "principal has already joined this negotiation")
	ErrKeyFrozen           = newSentinel("TRUST/PROTOCOL/KEY_FROZEN", KindProtocol, ClassNonRetryable, "principal public key is frozen for this negotiation")
)

// Cryptographic errors: transition rejected; audit receipt may be written.
var (
	ErrInvalidSignature = newSentinel("TRUST/CRYPTO/INVALID_SIGNATURE", KindCryptographic, ClassNonRetryable, "signature failed verification against the canonical message form")
	ErrKeyNotRegistered = newSentinel("TRUST/CRYPTO/KEY_NOT_REGISTERED", KindCryptographic, ClassNonRetryable, "principal has no registered public key")
)

// Integrity errors: MUST propagate; process should fail closed.
var (
	ErrCanonicalization  = newSentinel("TRUST/INTEGRITY/CANONICALIZATION", KindIntegrity, ClassFatal, "input could not be canonicalized")
	ErrHashChainMismatch = newSentinel("TRUST/INTEGRITY/HASH_CHAIN_MISMATCH", KindIntegrity, ClassFatal, "receipt chain hash mismatch detected")
	ErrStorageIntegrity  = newSentinel("TRUST/INTEGRITY/STORAGE", KindIntegrity, ClassFatal, "storage integrity violation")
)

// Concurrency errors: retriable by the caller; no state change occurs.
var (
	ErrConcurrency = newSentinel("TRUST/CONCURRENCY/CONFLICT", KindConcurrency, ClassRetryable, "concurrent append raced; retry")
	ErrLeaseLost   = newSentinel("TRUST/CONCURRENCY/LEASE_LOST", KindConcurrency, ClassRetryable, "scheduler lease was lost or expired")
	ErrStorage     = newSentinel("TRUST/CONCURRENCY/STORAGE", KindConcurrency, ClassRetryable, "storage operation failed")
)

// SLA errors: internal; trigger escalation rather than surfacing to callers.
var (
	ErrAppealSLABreached = newSentinel("TRUST/SLA/APPEAL_BREACHED", KindSLA, ClassNonRetryable, "appeal exceeded its SLA deadline")
)

// RateLimited is surfaced verbatim from the external rate-limiting
// middleware per spec §5; the core never retries on the caller's behalf.
var ErrRateLimited = newSentinel("TRUST/PROTOCOL/RATE_LIMITED", KindProtocol, ClassRetryable, "rate limited by external middleware")

// Wrap attaches operation-identifying context to a sentinel without
// losing errors.Is comparability.
func Wrap(sentinel *Sentinel, context string) error {
	return fmt.Errorf("%s: %w", context, sentinel)
}

// Is reports whether err wraps the given sentinel.
func Is(err error, sentinel *Sentinel) bool {
	return errors.Is(err, sentinel)
}

// ClassificationOf extracts the Classification of err if it (transitively)
// wraps a *Sentinel, defaulting to ClassNonRetryable otherwise.
func ClassificationOf(err error) Classification {
	var s *Sentinel
	if errors.As(err, &s) {
		return s.Classification
	}
	return ClassNonRetryable
}

// CodeOf extracts the stable error code, or "" if err is not a Sentinel.
func CodeOf(err error) string {
	var s *Sentinel
	if errors.As(err, &s) {
		return s.Code
	}
	return ""
}
