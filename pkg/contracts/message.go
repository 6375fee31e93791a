package contracts

import (
	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
)

// MessageType is the tagged variant of a negotiation protocol message
// (spec §3 "Negotiation message"). A closed set — spec §9 "Dynamic
// dispatch": "message handling is expressed as a closed tagged variant
// over message kinds; no open polymorphism is required."
type MessageType string

const (
	MessageOffer    MessageType = "OFFER"
	MessageJoin     MessageType = "JOIN"
	MessageAccept   MessageType = "ACCEPT"
	MessageFinalize MessageType = "FINALIZE"
	MessageWithdraw MessageType = "WITHDRAW"
	MessageDispute  MessageType = "DISPUTE"
)

// NegotiationMessage is an append-only protocol message (spec §3).
type NegotiationMessage struct {
	MessageID     uuid.UUID   `json:"message_id"`
	NegotiationID uuid.UUID   `json:"negotiation_id"`
	PrincipalID   uuid.UUID   `json:"principal_id"`
	Type          MessageType `json:"type"`

	// Payload is the canonical payload this message carried (e.g. new
	// terms for OFFER, the disputed reason for DISPUTE). For ACCEPT and
	// FINALIZE the Payload is redundant with the derived signed form but
	// is kept for audit readability.
	Payload map[string]interface{} `json:"payload,omitempty"`

	Signature          string                 `json:"signature,omitempty"`
	SignatureVerified  bool                   `json:"signature_verified"`
	CreatedAt          canonicalize.Timestamp `json:"created_at"`
}

// MessageEnvelope is the transport wrapper around a NegotiationMessage.
// Per spec §6: "the transport envelope may add fields but they are NOT
// part of the signed bytes." TraceID and ReceivedAt exist purely for
// observability/debugging and must never influence signature
// verification — see contracts_test.go for the proof.
type MessageEnvelope struct {
	Message    NegotiationMessage     `json:"message"`
	TraceID    string                 `json:"trace_id,omitempty"`
	ReceivedAt canonicalize.Timestamp `json:"received_at,omitempty"`
}

// AcceptanceForm is the exact named form signed for an ACCEPT transition
// (spec §6): canonical encoding of {negotiation_id, terms_version, terms_hash}.
type AcceptanceForm struct {
	NegotiationID string `json:"negotiation_id"`
	TermsVersion  int    `json:"terms_version"`
	TermsHash     string `json:"terms_hash"`
}

// Bytes returns the canonical signed bytes for this form.
func (f AcceptanceForm) Bytes() ([]byte, error) {
	return canonicalize.Bytes(f)
}

// FinalizationForm is the exact named form signed for a FINALIZE
// transition (spec §6): canonical encoding of {negotiation_id, consensus_hash}.
type FinalizationForm struct {
	NegotiationID string `json:"negotiation_id"`
	ConsensusHash string `json:"consensus_hash"`
}

// Bytes returns the canonical signed bytes for this form.
func (f FinalizationForm) Bytes() ([]byte, error) {
	return canonicalize.Bytes(f)
}
