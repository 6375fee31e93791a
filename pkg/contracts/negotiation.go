package contracts

import (
	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
)

// Status is the negotiation state machine's current state (spec §3/§4.4).
type Status string

const (
	StatusInitiated        Status = "INITIATED"
	StatusNegotiating      Status = "NEGOTIATING"
	StatusConsensusReached Status = "CONSENSUS_REACHED"
	StatusBinding          Status = "BINDING"
	StatusDisputed         Status = "DISPUTED"
	StatusWithdrawn        Status = "WITHDRAWN"
	StatusExpired          Status = "EXPIRED"
)

// Acceptance records one principal's signed acceptance of a terms_version.
type Acceptance struct {
	PrincipalID  uuid.UUID            `json:"principal_id"`
	TermsVersion int                  `json:"terms_version"`
	TermsHash    string               `json:"terms_hash"`
	Signature    string               `json:"signature"`
	Timestamp    canonicalize.Timestamp `json:"timestamp"`
}

// Finalization records one principal's signed finalization of a consensus_hash.
type Finalization struct {
	PrincipalID uuid.UUID              `json:"principal_id"`
	Signature   string                 `json:"signature"`
	Timestamp   canonicalize.Timestamp `json:"timestamp"`
}

// Negotiation is the full state of a single negotiation (spec §3).
type Negotiation struct {
	NegotiationID uuid.UUID   `json:"negotiation_id"`
	CreatorID     uuid.UUID   `json:"creator_id"`
	Participants  []uuid.UUID `json:"participants"` // ordered, includes creator, size >= 2
	Joined        []uuid.UUID `json:"joined"`        // participants who have joined so far

	Status Status `json:"status"`

	CurrentTerms interface{} `json:"current_terms"`
	TermsVersion int         `json:"terms_version"`

	RequiredConsensusCount int `json:"required_consensus_count"`

	Acceptances   map[uuid.UUID]Acceptance   `json:"acceptances"`
	Finalizations map[uuid.UUID]Finalization `json:"finalizations"`

	// FrozenKeys snapshots each participant's hex-encoded public key the
	// first time it signs a transition in this negotiation; presenting a
	// different key for the same principal afterwards is rejected
	// (spec §3: the key is frozen for the negotiation's lifetime).
	FrozenKeys map[uuid.UUID]string `json:"frozen_keys,omitempty"`

	ConsensusHash string `json:"consensus_hash,omitempty"`
	BindingHash   string `json:"binding_hash,omitempty"`

	NegotiationDeadline canonicalize.Timestamp `json:"negotiation_deadline"`

	CreatedAt   canonicalize.Timestamp  `json:"created_at"`
	BoundAt     *canonicalize.Timestamp `json:"bound_at,omitempty"`
	DisputedAt  *canonicalize.Timestamp `json:"disputed_at,omitempty"`
	WithdrawnAt *canonicalize.Timestamp `json:"withdrawn_at,omitempty"`
	ExpiredAt   *canonicalize.Timestamp `json:"expired_at,omitempty"`

	// TermsSchema, when non-empty, is a JSON Schema the current_terms
	// object must validate against on every offer (supplemented feature,
	// SPEC_FULL.md "domain stack": santhosh-tekuri/jsonschema).
	TermsSchema string `json:"terms_schema,omitempty"`

	// TermsPolicy, when non-empty, is a CEL expression evaluated against
	// current_terms on every offer (supplemented feature, SPEC_FULL.md
	// "domain stack": google/cel-go).
	TermsPolicy string `json:"terms_policy,omitempty"`
}

// IsParticipant reports whether id is one of the negotiation's participants.
func (n *Negotiation) IsParticipant(id uuid.UUID) bool {
	for _, p := range n.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// HasJoined reports whether id has already joined.
func (n *Negotiation) HasJoined(id uuid.UUID) bool {
	for _, p := range n.Joined {
		if p == id {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the negotiation is in a terminal state for
// the engine's purposes (BINDING is terminal for offer/accept/withdraw
// but still permits dispute; DISPUTED/WITHDRAWN/EXPIRED permit nothing).
func (n *Negotiation) IsTerminal() bool {
	switch n.Status {
	case StatusDisputed, StatusWithdrawn, StatusExpired:
		return true
	default:
		return false
	}
}
