package trustevents_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trustevents"
)

func TestAppend_RecordsDeltaAndBoundsMagnitude(t *testing.T) {
	s := store.NewMemoryStore()
	ledger := trustevents.New(s)
	ctx := context.Background()
	actor, subject := uuid.New(), uuid.New()

	e, err := ledger.Append(ctx, actor, subject, contracts.EventConflict, canonicalize.NewDecimal3(contracts.DefaultDisputeTrustDelta), nil)
	require.NoError(t, err)
	assert.Equal(t, "-0.100", e.TrustDelta.String())

	_, err = ledger.Append(ctx, actor, subject, contracts.EventConflict, canonicalize.NewDecimal3(0.3), nil)
	assert.Error(t, err)
}

func TestAppend_MonthlyCumulativeRateLimit(t *testing.T) {
	s := store.NewMemoryStore()
	ledger := trustevents.New(s)
	ctx := context.Background()
	actor, subject := uuid.New(), uuid.New()

	for i := 0; i < 2; i++ {
		_, err := ledger.Append(ctx, actor, subject, contracts.EventConflict, canonicalize.NewDecimal3(-0.2), nil)
		require.NoError(t, err)
	}

	_, err := ledger.Append(ctx, actor, subject, contracts.EventConflict, canonicalize.NewDecimal3(-0.2), nil)
	assert.ErrorIs(t, err, trustevents.ErrRateLimited)
}

func TestSubjectForDispute_PicksLexicographicallyFirstOther(t *testing.T) {
	disputer := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000003")

	subject, ok := trustevents.SubjectForDispute(disputer, []uuid.UUID{disputer, a, b})
	require.True(t, ok)
	assert.Equal(t, a, subject)
}

func TestSubjectForDispute_NoOthersReturnsFalse(t *testing.T) {
	disputer := uuid.New()
	_, ok := trustevents.SubjectForDispute(disputer, []uuid.UUID{disputer})
	assert.False(t, ok)
}
