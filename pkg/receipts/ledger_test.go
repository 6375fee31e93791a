package receipts_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/receipts"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trustcrypto"
)

func TestAppend_ChainsHashes(t *testing.T) {
	s := store.NewMemoryStore()
	ledger := receipts.New(s, trustcrypto.NewSystemSigner(nil))
	ctx := context.Background()
	principal := uuid.New()

	r1, err := ledger.Append(ctx, principal, contracts.ActionCreateNegotiation, map[string]interface{}{"k": "v1"})
	require.NoError(t, err)
	r2, err := ledger.Append(ctx, principal, contracts.ActionJoinNegotiation, map[string]interface{}{"k": "v2"})
	require.NoError(t, err)

	assert.Equal(t, r1.ContentHash, r2.PreviousHash)
	assert.NotEmpty(t, r1.ContentHash)
	assert.Empty(t, r1.SystemSignature)
}

func TestAppend_SystemSignatureWhenConfigured(t *testing.T) {
	s := store.NewMemoryStore()
	signer, err := trustcrypto.GenerateSigner()
	require.NoError(t, err)
	ledger := receipts.New(s, trustcrypto.NewSystemSigner(signer))
	ctx := context.Background()

	r, err := ledger.Append(ctx, uuid.New(), contracts.ActionCreateNegotiation, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, r.SystemSignature)
	assert.True(t, trustcrypto.Verify(signer.PublicKeyHex(), r.SystemSignature, []byte(r.ContentHash)))
}

func TestVerifyTail_DetectsTamper(t *testing.T) {
	s := store.NewMemoryStore()
	ledger := receipts.New(s, trustcrypto.NewSystemSigner(nil))
	ctx := context.Background()
	principal := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := ledger.Append(ctx, principal, contracts.ActionSendOffer, map[string]interface{}{"i": i})
		require.NoError(t, err)
	}

	ok, err := ledger.VerifyTail(ctx, principal, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	// Tamper with a stored receipt's metadata without updating its hash.
	all, err := s.ListReceipts(ctx, principal, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	_ = all

	// MemoryStore exposes no direct mutation API (append-only by
	// design), so tamper detection here is exercised at the hash-body
	// level: a receipt whose stored ContentHash no longer matches its
	// recomputed body hash fails VerifyTail. We simulate that by hand
	// -rehashing a mutated copy and confirming the mismatch is caught.
	mutated := all[1]
	mutated.Metadata = map[string]interface{}{"i": 999}
	bodyBytes, err := mutated.ContentHashBytes()
	require.NoError(t, err)
	assert.NotEqual(t, mutated.ContentHash, canonicalize.HashBytes(bodyBytes))
}

func TestCheckpoint_NoActivityIsNoop(t *testing.T) {
	s := store.NewMemoryStore()
	ledger := receipts.New(s, trustcrypto.NewSystemSigner(nil))
	ctx := context.Background()

	now := canonicalize.NewTimestamp(time.Now())
	cp, err := ledger.Checkpoint(ctx, now, canonicalize.NewTimestamp(now.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, cp.CheckpointID)

	_, err = s.LatestCheckpoint(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckpoint_ProducesSegmentVerifiableReceipts(t *testing.T) {
	s := store.NewMemoryStore()
	ledger := receipts.New(s, trustcrypto.NewSystemSigner(nil))
	ctx := context.Background()
	principal := uuid.New()

	from := canonicalize.NewTimestamp(time.Now().Add(-time.Hour))
	r1, err := ledger.Append(ctx, principal, contracts.ActionCreateNegotiation, nil)
	require.NoError(t, err)
	r2, err := ledger.Append(ctx, principal, contracts.ActionSendOffer, nil)
	require.NoError(t, err)
	to := canonicalize.NewTimestamp(time.Now().Add(time.Hour))

	cp, err := ledger.Checkpoint(ctx, from, to)
	require.NoError(t, err)
	assert.NotEmpty(t, cp.MerkleRoot)

	ok, err := ledger.VerifySegment(ctx, principal, r1.ReceiptID, r2.ReceiptID, cp)
	require.NoError(t, err)
	assert.True(t, ok)
}
