package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/appeal"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/negotiation"
	"github.com/trustprimitive/core/pkg/receipts"
	"github.com/trustprimitive/core/pkg/scheduler"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trustcrypto"
	"github.com/trustprimitive/core/pkg/trustevents"
)

func TestRunTimeoutSweep_ExpiresPastDeadlineAndEscalatesAppeals(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now().UTC()
	clock := func() time.Time { return now }

	r := receipts.New(s, trustcrypto.NewSystemSigner(nil)).WithClock(clock)
	tr := trustevents.New(s).WithClock(clock)
	ap := appeal.New(s, r, tr).WithClock(clock)
	engine := negotiation.New(s, r, tr, ap).WithClock(clock)

	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()
	n, err := engine.Create(ctx, alice, []uuid.UUID{alice, bob}, map[string]interface{}{"x": "1"}, 2, now.Add(time.Minute))
	require.NoError(t, err)

	a, err := ap.Create(ctx, uuid.New(), alice, "reason", nil)
	require.NoError(t, err)

	later := now.Add(10 * 24 * time.Hour)
	laterClock := func() time.Time { return later }
	r.WithClock(laterClock)
	tr.WithClock(laterClock)
	ap.WithClock(laterClock)
	engine.WithClock(laterClock)

	lease := scheduler.NewInProcessLease()
	sched := scheduler.New(s, engine, ap, r, lease).WithClock(laterClock)

	err = sched.RunTimeoutSweep(ctx)
	require.NoError(t, err)

	got, err := s.GetNegotiation(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusExpired, got.Status)

	gotAppeal, err := s.GetAppeal(ctx, a.AppealID)
	require.NoError(t, err)
	assert.Equal(t, contracts.AppealEscalated, gotAppeal.Status)
}

func TestRunCheckpoint_ProducesIncreasingWindows(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now().UTC()
	clock := func() time.Time { return now }

	r := receipts.New(s, trustcrypto.NewSystemSigner(nil)).WithClock(clock)
	tr := trustevents.New(s)
	ap := appeal.New(s, r, tr)
	engine := negotiation.New(s, r, tr, ap)

	ctx := context.Background()
	_, err := r.Append(ctx, uuid.New(), contracts.ActionCreateNegotiation, map[string]interface{}{"x": "1"})
	require.NoError(t, err)

	lease := scheduler.NewInProcessLease()
	firstCheckpointAt := now.Add(time.Minute)
	sched := scheduler.New(s, engine, ap, r, lease).WithClock(func() time.Time { return firstCheckpointAt })

	cp1, err := sched.RunCheckpoint(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cp1.MerkleRoot)

	// New activity inside the second window, so that checkpoint is not a no-op.
	r.WithClock(func() time.Time { return firstCheckpointAt.Add(time.Minute) })
	_, err = r.Append(ctx, uuid.New(), contracts.ActionCreateNegotiation, map[string]interface{}{"x": "2"})
	require.NoError(t, err)

	later := firstCheckpointAt.Add(time.Hour)
	sched = sched.WithClock(func() time.Time { return later })
	cp2, err := sched.RunCheckpoint(ctx)
	require.NoError(t, err)
	assert.True(t, cp2.WindowFrom.Time.Equal(cp1.WindowTo.Time) || cp2.WindowFrom.Time.After(cp1.WindowTo.Time))
}

func TestInProcessLease_SecondAcquireFailsWhileHeld(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now().UTC()
	clock := func() time.Time { return now }
	r := receipts.New(s, trustcrypto.NewSystemSigner(nil)).WithClock(clock)
	tr := trustevents.New(s)
	ap := appeal.New(s, r, tr)
	engine := negotiation.New(s, r, tr, ap).WithClock(clock)
	lease := scheduler.NewInProcessLease()

	held, err := lease.TryAcquire(context.Background(), "timeout_sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	sched := scheduler.New(s, engine, ap, r, lease).WithClock(clock)

	acquiredAgain, err := lease.TryAcquire(context.Background(), "timeout_sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquiredAgain)
	_ = sched
}
