package appeal_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/appeal"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/receipts"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trustcrypto"
	"github.com/trustprimitive/core/pkg/trustevents"
)

func newService() (*appeal.Service, store.Store) {
	s := store.NewMemoryStore()
	r := receipts.New(s, trustcrypto.NewSystemSigner(nil))
	t := trustevents.New(s)
	return appeal.New(s, r, t), s
}

func TestLifecycle_CreateAssignResolveHappyPath(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	appellant, subject, resolver := uuid.New(), uuid.New(), uuid.New()

	a, err := svc.Create(ctx, uuid.New(), appellant, "unmet terms", map[string]interface{}{"negotiation_id": uuid.New().String()})
	require.NoError(t, err)
	assert.Equal(t, contracts.AppealPending, a.Status)
	assert.Equal(t, a.SubmittedAt.Add(contracts.ReviewDeadlineWindow), a.ReviewDeadline.Time)

	a, err = svc.AssignResolver(ctx, a.AppealID, subject, resolver)
	require.NoError(t, err)
	assert.Equal(t, contracts.AppealReviewing, a.Status)
	require.NotNil(t, a.ResolverID)
	assert.Equal(t, resolver, *a.ResolverID)

	a, err = svc.Resolve(ctx, a.AppealID, appellant, subject, appeal.OutcomeAppellantFavor, "evidence supported dispute")
	require.NoError(t, err)
	assert.Equal(t, contracts.AppealResolved, a.Status)
	assert.NotNil(t, a.ResolvedAt)
}

func TestAssignResolver_RejectsAppellantOrSubjectAsResolver(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	appellant, subject := uuid.New(), uuid.New()

	a, err := svc.Create(ctx, uuid.New(), appellant, "reason", nil)
	require.NoError(t, err)

	_, err = svc.AssignResolver(ctx, a.AppealID, subject, appellant)
	assert.Error(t, err)
	_, err = svc.AssignResolver(ctx, a.AppealID, subject, subject)
	assert.Error(t, err)
}

func TestWithdraw_OnlyBeforeReviewing(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	appellant, subject, resolver := uuid.New(), uuid.New(), uuid.New()

	a, err := svc.Create(ctx, uuid.New(), appellant, "reason", nil)
	require.NoError(t, err)

	a, err = svc.AssignResolver(ctx, a.AppealID, subject, resolver)
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, a.AppealID, appellant)
	assert.Error(t, err)
}

func TestEscalate_IdempotentAndSLABounded(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	now := time.Now().UTC()
	svc = svc.WithClock(func() time.Time { return now.Add(-8 * 24 * time.Hour) })

	a, err := svc.Create(ctx, uuid.New(), uuid.New(), "reason", nil)
	require.NoError(t, err)

	svc = svc.WithClock(func() time.Time { return now })
	a, err = svc.Escalate(ctx, a.AppealID)
	require.NoError(t, err)
	assert.Equal(t, contracts.AppealEscalated, a.Status)

	// Idempotent: escalating again is a no-op, not an error.
	a2, err := svc.Escalate(ctx, a.AppealID)
	require.NoError(t, err)
	assert.Equal(t, contracts.AppealEscalated, a2.Status)
}
