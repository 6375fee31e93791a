// Package receipts implements the Trust Primitive receipt ledger (C3):
// an append-only, per-principal hash chain with optional system
// signatures and periodic Merkle checkpointing. Grounded on the
// reference repo's pkg/ledger (Ledger.Append/Verify) and pkg/merkle,
// generalized from a single in-process ledger to a Store-backed,
// multi-principal chain with checkpoint anchoring.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/archive"
	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/merkle"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trustcrypto"
	"github.com/trustprimitive/core/pkg/trusterr"
)

// maxAppendAttempts bounds the retry loop for a racing compare-and-swap
// append (spec §4.3: "Fails with ConcurrencyError if another append
// raced; callers retry"). The ledger absorbs a small number of retries
// itself before surfacing ErrConcurrency, since the usual cause is a
// benign race between two transitions for the same principal.
const maxAppendAttempts = 5

// Ledger is the C3 receipt ledger: append, tail verification, and
// checkpointing over a Store.
type Ledger struct {
	store   store.Store
	sys     *trustcrypto.SystemSigner
	archive archive.Archive
	clock   func() time.Time
	log     *slog.Logger
}

// New constructs a Ledger. sys may be an unconfigured SystemSigner
// (spec §4.2: absent configuration causes signing to be skipped
// without affecting correctness). The archive backend defaults to
// archive.NopArchive{}; use WithArchive to anchor checkpoint bundles
// durably off-process.
func New(s store.Store, sys *trustcrypto.SystemSigner) *Ledger {
	return &Ledger{store: s, sys: sys, archive: archive.NopArchive{}, clock: time.Now, log: slog.Default()}
}

// WithArchive overrides the checkpoint bundle archive backend.
func (l *Ledger) WithArchive(a archive.Archive) *Ledger {
	l.archive = a
	return l
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithLogger overrides the logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.log = logger
	return l
}

// Append writes one receipt onto principalID's chain (spec §4.3).
// content_hash = SHA-256(canon({principal_id, action, metadata,
// previous_hash, created_at})); a system signature is attached when
// configured. Persistence failures that are benign races
// (store.ErrConflict) are retried internally up to maxAppendAttempts
// before surfacing trusterr.ErrConcurrency; any other storage failure
// surfaces trusterr.ErrStorage. No partial state is ever observable:
// the receipt either fully commits or nothing changes.
func (l *Ledger) Append(ctx context.Context, principalID uuid.UUID, action contracts.ReceiptAction, metadata map[string]interface{}) (contracts.Receipt, error) {
	var last error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		tail, err := l.store.TailReceipt(ctx, principalID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return contracts.Receipt{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("receipts: read tail for %s: %v", principalID, err))
		}
		prevHash := tail.ContentHash
		if prevHash == "" {
			prevHash = genesisHash
		}

		r := contracts.Receipt{
			ReceiptID:    uuid.New(),
			PrincipalID:  principalID,
			Action:       action,
			Metadata:     metadata,
			PreviousHash: prevHash,
			CreatedAt:    canonicalize.NewTimestamp(l.clock()),
		}

		bodyBytes, err := r.ContentHashBytes()
		if err != nil {
			return contracts.Receipt{}, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("receipts: canonicalize receipt body: %v", err))
		}
		r.ContentHash = canonicalize.HashBytes(bodyBytes)

		if l.sys.Configured() {
			sig, err := l.sys.Sign([]byte(r.ContentHash))
			if err != nil {
				return contracts.Receipt{}, trusterr.Wrap(trusterr.ErrStorageIntegrity, fmt.Sprintf("receipts: system sign: %v", err))
			}
			r.SystemSignature = sig
		}

		err = l.store.AppendReceipt(ctx, r)
		if err == nil {
			l.log.Info("receipt appended", "principal_id", principalID, "action", action, "receipt_id", r.ReceiptID)
			return r, nil
		}
		if errors.Is(err, store.ErrConflict) {
			last = err
			continue
		}
		return contracts.Receipt{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("receipts: append: %v", err))
	}
	return contracts.Receipt{}, trusterr.Wrap(trusterr.ErrConcurrency, fmt.Sprintf("receipts: append raced %d times for %s: %v", maxAppendAttempts, principalID, last))
}

// VerifyTail replays the last n receipts on principalID's chain,
// recomputing content hashes from their bodies and the previous_hash
// pointer chain (spec §8 property 4 / "verify_tail(principal_id, n)").
func (l *Ledger) VerifyTail(ctx context.Context, principalID uuid.UUID, n int) (bool, error) {
	all, err := l.store.ListReceipts(ctx, principalID, 0)
	if err != nil {
		return false, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("receipts: list for verify: %v", err))
	}
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	tail := all[len(all)-n:]

	for _, r := range tail {
		bodyBytes, err := r.ContentHashBytes()
		if err != nil {
			return false, nil
		}
		if canonicalize.HashBytes(bodyBytes) != r.ContentHash {
			return false, nil
		}
	}

	links := make([]trustcrypto.ChainLink, len(tail))
	for i, r := range tail {
		links[i] = trustcrypto.ChainLink{ContentHash: r.ContentHash, PreviousHash: r.PreviousHash}
	}
	var head string
	if len(tail) > 0 {
		head = tail[len(tail)-1].ContentHash
	}
	return trustcrypto.VerifyChain(head, links), nil
}

// VerifySegment validates that both start and end (receipt_ids) fall
// within the window anchored by cp, by rebuilding principalID's
// per-window Merkle tree from that window's receipts and checking
// each against the principal's own sub-root recorded in its
// CHECKPOINT receipt (spec §4.3: "bounding verification cost" —
// verifying a historical receipt requires only its window's
// checkpoint plus the Merkle path, never a full chain replay).
func (l *Ledger) VerifySegment(ctx context.Context, principalID uuid.UUID, start, end uuid.UUID, cp store.Checkpoint) (bool, error) {
	receipts, err := l.store.ListReceiptsInWindow(ctx, cp.WindowFrom, cp.WindowTo)
	if err != nil {
		return false, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("receipts: list window: %v", err))
	}

	principalRoot, ok := principalCheckpointRoot(receipts, principalID)
	if !ok {
		return false, nil
	}

	leaves := windowLeaves(receipts, principalID)
	tree, err := buildTree(leaves)
	if err != nil {
		return false, err
	}
	if tree.Root != principalRoot {
		return false, nil
	}

	startProof, err := tree.Proof(start.String())
	if err != nil {
		return false, nil
	}
	endProof, err := tree.Proof(end.String())
	if err != nil {
		return false, nil
	}
	return merkle.VerifyInclusionProof(*startProof, tree.Root) && merkle.VerifyInclusionProof(*endProof, tree.Root), nil
}

// principalCheckpointRoot finds principalID's CHECKPOINT receipt among
// the window's receipts and returns its recorded per-principal
// sub-root (see Checkpoint's "principal_root" metadata field).
func principalCheckpointRoot(receipts []contracts.Receipt, principalID uuid.UUID) (string, bool) {
	for _, r := range receipts {
		if r.PrincipalID != principalID || r.Action != contracts.ActionCheckpoint {
			continue
		}
		root, ok := r.Metadata["principal_root"].(string)
		return root, ok
	}
	return "", false
}

// genesisHash is the previous_hash value of a principal's first receipt.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
