package negotiation

import (
	"sort"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
)

// consensusForm is the canonical input to consensus_hash (spec §4.4
// accept()): {negotiation_id, terms_version, terms_hash, sorted signatures}.
type consensusForm struct {
	NegotiationID string   `json:"negotiation_id"`
	TermsVersion  int      `json:"terms_version"`
	TermsHash     string   `json:"terms_hash"`
	Signatures    []string `json:"signatures"`
}

// bindingForm is the canonical input to binding_hash (spec §4.4
// finalize()): {consensus_hash, sorted finalization signatures}.
type bindingForm struct {
	ConsensusHash string   `json:"consensus_hash"`
	Signatures    []string `json:"signatures"`
}

func sortedStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func deriveConsensusHash(negotiationID uuid.UUID, termsVersion int, termsHash string, signatures []string) (string, error) {
	form := consensusForm{
		NegotiationID: negotiationID.String(),
		TermsVersion:  termsVersion,
		TermsHash:     termsHash,
		Signatures:    sortedStrings(signatures),
	}
	return canonicalize.HashHex(form)
}

func deriveBindingHash(consensusHash string, signatures []string) (string, error) {
	form := bindingForm{
		ConsensusHash: consensusHash,
		Signatures:    sortedStrings(signatures),
	}
	return canonicalize.HashHex(form)
}
