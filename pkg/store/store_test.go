package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/store"
)

func newTestNegotiation() contracts.Negotiation {
	a, b := uuid.New(), uuid.New()
	return contracts.Negotiation{
		NegotiationID:          uuid.New(),
		CreatorID:              a,
		Participants:           []uuid.UUID{a, b},
		Status:                 contracts.StatusInitiated,
		TermsVersion:           1,
		RequiredConsensusCount: 2,
		Acceptances:            map[uuid.UUID]contracts.Acceptance{},
		Finalizations:          map[uuid.UUID]contracts.Finalization{},
		NegotiationDeadline:    canonicalize.NewTimestamp(time.Now().Add(24 * time.Hour)),
		CreatedAt:              canonicalize.NewTimestamp(time.Now()),
	}
}

// runStoreConformance exercises the contract every Store implementation
// (MemoryStore, SQLStore) must satisfy.
func runStoreConformance(t *testing.T, s store.Store) {
	ctx := context.Background()

	t.Run("negotiation CAS", func(t *testing.T) {
		n := newTestNegotiation()
		require.NoError(t, s.CreateNegotiation(ctx, n))

		got, err := s.GetNegotiation(ctx, n.NegotiationID)
		require.NoError(t, err)
		assert.Equal(t, n.Status, got.Status)

		got.Status = contracts.StatusNegotiating
		got.TermsVersion = 2
		require.NoError(t, s.UpdateNegotiation(ctx, got, 1))

		// Stale version must be rejected.
		stale := got
		stale.TermsVersion = 3
		err = s.UpdateNegotiation(ctx, stale, 1)
		assert.ErrorIs(t, err, store.ErrConflict)

		_, err = s.GetNegotiation(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("receipt chain enforces previous hash", func(t *testing.T) {
		principal := uuid.New()
		tail, err := s.TailReceipt(ctx, principal)
		require.NoError(t, err)

		r1 := contracts.Receipt{
			ReceiptID:    uuid.New(),
			PrincipalID:  principal,
			Action:       contracts.ActionCreateNegotiation,
			ContentHash:  "hash-1",
			PreviousHash: tail.ContentHash,
			CreatedAt:    canonicalize.NewTimestamp(time.Now()),
		}
		require.NoError(t, s.AppendReceipt(ctx, r1))

		// Wrong previous hash must be rejected.
		bad := contracts.Receipt{
			ReceiptID:    uuid.New(),
			PrincipalID:  principal,
			Action:       contracts.ActionJoinNegotiation,
			ContentHash:  "hash-bad",
			PreviousHash: "not-the-tail",
			CreatedAt:    canonicalize.NewTimestamp(time.Now()),
		}
		err = s.AppendReceipt(ctx, bad)
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err := s.TailReceipt(ctx, principal)
		require.NoError(t, err)
		assert.Equal(t, "hash-1", got.ContentHash)
	})

	t.Run("message log append order", func(t *testing.T) {
		negotiationID := uuid.New()
		base := time.Now()
		for i, mt := range []contracts.MessageType{contracts.MessageOffer, contracts.MessageJoin, contracts.MessageAccept} {
			m := contracts.NegotiationMessage{
				MessageID:     uuid.New(),
				NegotiationID: negotiationID,
				PrincipalID:   uuid.New(),
				Type:          mt,
				CreatedAt:     canonicalize.NewTimestamp(base.Add(time.Duration(i) * time.Second)),
			}
			require.NoError(t, s.AppendMessage(ctx, m))
		}

		msgs, err := s.ListMessages(ctx, negotiationID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, contracts.MessageOffer, msgs[0].Type)
		assert.Equal(t, contracts.MessageAccept, msgs[2].Type)

		other, err := s.ListMessages(ctx, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("trust event chain and sum", func(t *testing.T) {
		actor := uuid.New()
		since := canonicalize.NewTimestamp(time.Now().Add(-time.Hour))

		e := contracts.TrustEvent{
			TrustEventID: uuid.New(),
			ActorID:      actor,
			SubjectID:    uuid.New(),
			EventType:    contracts.EventConflict,
			TrustDelta:   canonicalize.NewDecimal3(-0.1),
			ContentHash:  "tehash-1",
			PreviousHash: "0000000000000000000000000000000000000000000000000000000000000000",
			CreatedAt:    canonicalize.NewTimestamp(time.Now()),
		}
		require.NoError(t, s.AppendTrustEvent(ctx, e))

		sum, err := s.SumTrustDeltaSince(ctx, actor, since)
		require.NoError(t, err)
		assert.InDelta(t, -0.1, sum, 0.0001)
	})

	t.Run("appeal lifecycle", func(t *testing.T) {
		a := contracts.Appeal{
			AppealID:     uuid.New(),
			TrustEventID: uuid.New(),
			AppellantID:  uuid.New(),
			Status:       contracts.AppealPending,
			SubmittedAt:  canonicalize.NewTimestamp(time.Now()),
		}
		require.NoError(t, s.CreateAppeal(ctx, a))

		a.Status = contracts.AppealReviewing
		require.NoError(t, s.UpdateAppeal(ctx, a))

		list, err := s.ListAppealsByStatus(ctx, contracts.AppealReviewing)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, a.AppealID, list[0].AppealID)
	})

	t.Run("checkpoint roundtrip", func(t *testing.T) {
		_, err := s.LatestCheckpoint(ctx)
		assert.ErrorIs(t, err, store.ErrNotFound)

		cp := store.Checkpoint{
			CheckpointID: uuid.New(),
			MerkleRoot:   "deadbeef",
			LeafCount:    3,
			CreatedAt:    canonicalize.NewTimestamp(time.Now()),
		}
		require.NoError(t, s.SaveCheckpoint(ctx, cp))

		got, err := s.LatestCheckpoint(ctx)
		require.NoError(t, err)
		assert.Equal(t, cp.MerkleRoot, got.MerkleRoot)
	})
}

func TestMemoryStore_Conformance(t *testing.T) {
	runStoreConformance(t, store.NewMemoryStore())
}
