package negotiation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
)

func acceptanceAt(principal uuid.UUID, version int, hash string, at time.Time) contracts.Acceptance {
	return contracts.Acceptance{
		PrincipalID:  principal,
		TermsVersion: version,
		TermsHash:    hash,
		Signature:    "00",
		Timestamp:    canonicalize.NewTimestamp(at),
	}
}

func TestTryReachConsensus_SingleQualifyingHash(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := contracts.Negotiation{
		NegotiationID:          uuid.New(),
		TermsVersion:           2,
		RequiredConsensusCount: 2,
		Acceptances: map[uuid.UUID]contracts.Acceptance{
			a: acceptanceAt(a, 2, "aa", base),
			b: acceptanceAt(b, 2, "aa", base.Add(time.Second)),
		},
	}
	reached, hash, invalidated, err := tryReachConsensus(n)
	require.NoError(t, err)
	assert.True(t, reached)
	assert.NotEmpty(t, hash)
	assert.Empty(t, invalidated)
}

func TestTryReachConsensus_IgnoresStaleVersionAcceptances(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := contracts.Negotiation{
		NegotiationID:          uuid.New(),
		TermsVersion:           3,
		RequiredConsensusCount: 2,
		Acceptances: map[uuid.UUID]contracts.Acceptance{
			a: acceptanceAt(a, 2, "aa", base),
			b: acceptanceAt(b, 3, "aa", base),
		},
	}
	reached, _, _, err := tryReachConsensus(n)
	require.NoError(t, err)
	assert.False(t, reached)
}

// Two terms_hash values qualifying at once is only reachable through
// implementation bugs or clock skew, but resolution must still be
// deterministic: the candidate whose last contributing acceptance is
// earliest wins, and the losers come back for invalidation.
func TestTryReachConsensus_ConflictResolvedByEarliestLastAcceptance(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := contracts.Negotiation{
		NegotiationID:          uuid.New(),
		TermsVersion:           1,
		RequiredConsensusCount: 2,
		Acceptances: map[uuid.UUID]contracts.Acceptance{
			// Candidate "zz" completed first (last contribution at +1s).
			a: acceptanceAt(a, 1, "zz", base),
			b: acceptanceAt(b, 1, "zz", base.Add(time.Second)),
			// Candidate "aa" completed later (+5s) despite the smaller hash.
			c: acceptanceAt(c, 1, "aa", base.Add(2*time.Second)),
			d: acceptanceAt(d, 1, "aa", base.Add(5*time.Second)),
		},
	}
	reached, hash, invalidated, err := tryReachConsensus(n)
	require.NoError(t, err)
	require.True(t, reached)
	assert.NotEmpty(t, hash)

	require.Len(t, invalidated, 2)
	losers := map[uuid.UUID]bool{}
	for _, acc := range invalidated {
		assert.Equal(t, "aa", acc.TermsHash)
		losers[acc.PrincipalID] = true
	}
	assert.True(t, losers[c])
	assert.True(t, losers[d])
}

func TestTryReachConsensus_TimestampTieBreaksOnLexicographicHash(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := contracts.Negotiation{
		NegotiationID:          uuid.New(),
		TermsVersion:           1,
		RequiredConsensusCount: 2,
		Acceptances: map[uuid.UUID]contracts.Acceptance{
			a: acceptanceAt(a, 1, "bb", base),
			b: acceptanceAt(b, 1, "bb", base.Add(time.Second)),
			c: acceptanceAt(c, 1, "aa", base),
			d: acceptanceAt(d, 1, "aa", base.Add(time.Second)),
		},
	}
	reached, _, invalidated, err := tryReachConsensus(n)
	require.NoError(t, err)
	require.True(t, reached)
	require.Len(t, invalidated, 2)
	for _, acc := range invalidated {
		assert.Equal(t, "bb", acc.TermsHash)
	}
}

func TestFreezeKey_RejectsRotationKeepsOriginal(t *testing.T) {
	p := uuid.New()
	n := contracts.Negotiation{FrozenKeys: map[uuid.UUID]string{}}

	require.NoError(t, freezeKey(&n, p, []byte{0x01, 0x02}))
	require.NoError(t, freezeKey(&n, p, []byte{0x01, 0x02}))
	assert.Error(t, freezeKey(&n, p, []byte{0x03, 0x04}))

	// Negotiations persisted before FrozenKeys existed have a nil map.
	var legacy contracts.Negotiation
	require.NoError(t, freezeKey(&legacy, p, []byte{0x01}))
	assert.Error(t, freezeKey(&legacy, p, []byte{0x02}))
}
