package contracts

import (
	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
)

// TrustEventType tags the kind of trust-affecting outcome (spec §3).
type TrustEventType string

const (
	EventInteraction TrustEventType = "INTERACTION"
	EventResonance   TrustEventType = "RESONANCE"
	EventAlignment   TrustEventType = "ALIGNMENT"
	EventDivergence  TrustEventType = "DIVERGENCE"
	EventConflict    TrustEventType = "CONFLICT"
	EventDisclosure  TrustEventType = "DISCLOSURE"
)

// MaxTrustDeltaMagnitude bounds any single trust event's delta (spec §3/§4.5: |Δ| ≤ 0.2).
const MaxTrustDeltaMagnitude = 0.2

// DefaultDisputeTrustDelta is applied when a dispute creates a CONFLICT event (spec §4.5).
const DefaultDisputeTrustDelta = -0.1

// TrustEvent is one entry in a per-actor, hash-chained, append-only
// ledger of trust-affecting outcomes (spec §3).
type TrustEvent struct {
	TrustEventID uuid.UUID      `json:"trust_event_id"`
	ActorID      uuid.UUID      `json:"actor_id"`
	SubjectID    uuid.UUID      `json:"subject_id"`
	EventType    TrustEventType `json:"event_type"`

	TrustDelta canonicalize.Decimal3  `json:"trust_delta"`
	Context    map[string]interface{} `json:"context,omitempty"`

	ContentHash  string `json:"content_hash"`
	PreviousHash string `json:"previous_hash"`

	CreatedAt  canonicalize.Timestamp  `json:"created_at"`
	ResolvedAt *canonicalize.Timestamp `json:"resolved_at,omitempty"`
}

type trustEventHashableBody struct {
	ActorID      uuid.UUID              `json:"actor_id"`
	SubjectID    uuid.UUID              `json:"subject_id"`
	EventType    TrustEventType         `json:"event_type"`
	TrustDelta   canonicalize.Decimal3  `json:"trust_delta"`
	Context      map[string]interface{} `json:"context,omitempty"`
	PreviousHash string                 `json:"previous_hash"`
	CreatedAt    canonicalize.Timestamp `json:"created_at"`
}

// ContentHashBytes returns the canonical bytes this event's ContentHash commits to.
func (e TrustEvent) ContentHashBytes() ([]byte, error) {
	body := trustEventHashableBody{
		ActorID:      e.ActorID,
		SubjectID:    e.SubjectID,
		EventType:    e.EventType,
		TrustDelta:   e.TrustDelta,
		Context:      e.Context,
		PreviousHash: e.PreviousHash,
		CreatedAt:    e.CreatedAt,
	}
	return canonicalize.Bytes(body)
}
