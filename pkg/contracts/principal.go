// Package contracts defines the Trust Primitive data model (spec §3):
// Principal, Negotiation, NegotiationMessage, Receipt, TrustEvent, and
// Appeal, plus the wire envelope that carries signed messages. These are
// plain data types; behavior lives in pkg/negotiation, pkg/receipts,
// pkg/trustevents, and pkg/appeal. Grounded in shape on the reference
// repo's pkg/contracts (DecisionRecord/Receipt/AuthorizedExecutionIntent),
// generalized to this spec's entities.
package contracts

import (
	"crypto/ed25519"

	"github.com/google/uuid"
)

// Principal is a party capable of participating in negotiations.
type Principal struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	PublicKey   []byte    `json:"public_key"` // 32-byte Ed25519 public key
}

// PublicKeyTyped returns PublicKey as an ed25519.PublicKey for
// convenience at call sites that verify against it.
func (p Principal) PublicKeyTyped() ed25519.PublicKey {
	return ed25519.PublicKey(p.PublicKey)
}

// HasKey reports whether a public key is registered.
func (p Principal) HasKey() bool {
	return len(p.PublicKey) == ed25519.PublicKeySize
}
