package contracts

import (
	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
)

// ReceiptAction tags what a receipt records. A closed set extended as
// new transitions are added; never interpreted dynamically.
type ReceiptAction string

const (
	ActionCreateNegotiation  ReceiptAction = "CREATE_NEGOTIATION"
	ActionJoinNegotiation    ReceiptAction = "JOIN_NEGOTIATION"
	ActionSendOffer          ReceiptAction = "SEND_OFFER"
	ActionAcceptTerms        ReceiptAction = "ACCEPT_TERMS"
	ActionFinalizeCommitment ReceiptAction = "FINALIZE_COMMITMENT"
	ActionBindingReached     ReceiptAction = "BINDING_REACHED"
	ActionWithdraw           ReceiptAction = "WITHDRAW"
	ActionDisputeBinding     ReceiptAction = "DISPUTE_BINDING"
	ActionNegotiationExpired ReceiptAction = "NEGOTIATION_EXPIRED"
	ActionSignatureRejected  ReceiptAction = "SIGNATURE_REJECTED"
	ActionConsensusInvalidated ReceiptAction = "CONSENSUS_INVALIDATED"
	ActionCheckpoint         ReceiptAction = "CHECKPOINT"

	ActionAppealAssigned  ReceiptAction = "APPEAL_ASSIGNED"
	ActionAppealBoardSet  ReceiptAction = "APPEAL_BOARD_SET"
	ActionAppealResolved  ReceiptAction = "APPEAL_RESOLVED"
	ActionAppealWithdrawn ReceiptAction = "APPEAL_WITHDRAWN"
	ActionAppealEscalated ReceiptAction = "APPEAL_ESCALATED"
)

// Receipt is one append-only, hash-chained record in a principal's
// receipt chain (spec §3/§4.3/§6 "Receipt format").
type Receipt struct {
	ReceiptID   uuid.UUID              `json:"receipt_id"`
	PrincipalID uuid.UUID              `json:"principal_id"`
	Action      ReceiptAction          `json:"action"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	ContentHash     string `json:"content_hash"`
	PreviousHash    string `json:"previous_hash"`
	SystemSignature string `json:"system_signature,omitempty"`

	CreatedAt canonicalize.Timestamp `json:"created_at"`
}

// hashableBody is the exact structure hashed to produce ContentHash,
// per spec §6: SHA-256(canon({principal_id, action, metadata,
// previous_hash, created_at})).
type hashableBody struct {
	PrincipalID  uuid.UUID              `json:"principal_id"`
	Action       ReceiptAction          `json:"action"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	PreviousHash string                 `json:"previous_hash"`
	CreatedAt    canonicalize.Timestamp `json:"created_at"`
}

// ContentHashBytes returns the canonical bytes hashed to produce this
// receipt's ContentHash, using its current fields (so the hash can be
// recomputed independently for verification).
func (r Receipt) ContentHashBytes() ([]byte, error) {
	body := hashableBody{
		PrincipalID:  r.PrincipalID,
		Action:       r.Action,
		Metadata:     r.Metadata,
		PreviousHash: r.PreviousHash,
		CreatedAt:    r.CreatedAt,
	}
	return canonicalize.Bytes(body)
}
