package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/merkle"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trusterr"
)

// archiveBundle is the durable record a checkpoint anchors: the full
// leaf set its Merkle root was computed over, so a verifier can
// recompute the root independently of the store that produced it.
type archiveBundle struct {
	WindowFrom string        `json:"window_from"`
	WindowTo   string        `json:"window_to"`
	MerkleRoot string        `json:"merkle_root"`
	Leaves     []merkle.Leaf `json:"leaves"`
}

// Checkpoint computes a Merkle root over every receipt produced in
// [from, to) and, for each principal with activity in that window,
// appends a CHECKPOINT receipt whose metadata carries the window
// bounds, the principal's own sub-root, and the receipt count (spec
// §4.3/§4.6). A principal with no activity in the window gets no
// checkpoint receipt — checkpointing an empty window is a no-op (spec
// §8 idempotence law).
//
// The checkpoint record persisted via Store.SaveCheckpoint commits to
// the root across *all* receipts in the window (every principal's
// leaves together), matching the reference's evidence-chain
// checkpointing; each principal's CHECKPOINT receipt additionally
// records its own per-principal sub-root so VerifySegment can check a
// single principal's slice without the whole window's leaf set.
func (l *Ledger) Checkpoint(ctx context.Context, from, to canonicalize.Timestamp) (store.Checkpoint, error) {
	all, err := l.store.ListReceiptsInWindow(ctx, from, to)
	if err != nil {
		return store.Checkpoint{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("receipts: checkpoint list window: %v", err))
	}
	globalLeaves := toLeaves(all)
	if len(globalLeaves) == 0 {
		return store.Checkpoint{}, nil
	}

	globalTree, err := buildTree(globalLeaves)
	if err != nil {
		return store.Checkpoint{}, err
	}

	byPrincipal := make(map[uuid.UUID][]contracts.Receipt)
	for _, r := range all {
		byPrincipal[r.PrincipalID] = append(byPrincipal[r.PrincipalID], r)
	}

	principals := make([]uuid.UUID, 0, len(byPrincipal))
	for p := range byPrincipal {
		principals = append(principals, p)
	}
	sort.Slice(principals, func(i, j int) bool { return principals[i].String() < principals[j].String() })

	windowLabel := from.String() + "/" + to.String()
	auditTag, err := l.sys.DeriveCheckpointSubkey(windowLabel)
	if err != nil {
		return store.Checkpoint{}, trusterr.Wrap(trusterr.ErrStorageIntegrity, fmt.Sprintf("receipts: derive checkpoint audit tag: %v", err))
	}

	for _, p := range principals {
		receiptsForP := byPrincipal[p]
		leaves := toLeaves(receiptsForP)
		if len(leaves) == 0 {
			// Nothing but a prior CHECKPOINT receipt fell in this
			// window for p — no substantive activity, no new receipt.
			continue
		}
		subTree, err := buildTree(leaves)
		if err != nil {
			return store.Checkpoint{}, err
		}

		metadata := map[string]interface{}{
			"window_start":   from.String(),
			"window_end":     to.String(),
			"merkle_root":    globalTree.Root,
			"principal_root": subTree.Root,
			"receipt_count":  len(leaves),
		}
		if auditTag != "" {
			metadata["audit_tag"] = auditTag
		}
		if _, err := l.Append(ctx, p, contracts.ActionCheckpoint, metadata); err != nil {
			return store.Checkpoint{}, err
		}
	}

	cp := store.Checkpoint{
		CheckpointID: uuid.New(),
		WindowFrom:   from,
		WindowTo:     to,
		MerkleRoot:   globalTree.Root,
		LeafCount:    len(all),
		CreatedAt:    canonicalize.NewTimestamp(l.clock()),
	}
	if l.sys.Configured() {
		sig, err := l.sys.Sign([]byte(globalTree.Root))
		if err != nil {
			return store.Checkpoint{}, trusterr.Wrap(trusterr.ErrStorageIntegrity, fmt.Sprintf("receipts: checkpoint sign: %v", err))
		}
		cp.SystemSig = sig
	}
	if bundle, err := json.Marshal(archiveBundle{WindowFrom: from.String(), WindowTo: to.String(), MerkleRoot: globalTree.Root, Leaves: globalLeaves}); err != nil {
		l.log.Error("checkpoint: marshal archive bundle failed", "error", err)
	} else if ref, err := l.archive.Store(ctx, bundle); err != nil {
		l.log.Error("checkpoint: archive store failed", "error", err)
	} else {
		cp.ArchiveRef = ref
	}

	if err := l.store.SaveCheckpoint(ctx, cp); err != nil {
		return store.Checkpoint{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("receipts: save checkpoint: %v", err))
	}

	l.log.Info("checkpoint complete", "window_from", from.String(), "window_to", to.String(), "merkle_root", globalTree.Root, "leaf_count", len(all), "principals", len(principals), "archive_ref", cp.ArchiveRef)
	return cp, nil
}

// toLeaves excludes CHECKPOINT receipts themselves: a checkpoint
// commits to the window's substantive activity, not to the checkpoint
// record it is in the process of producing (which would make the root
// depend on itself).
func toLeaves(rs []contracts.Receipt) []merkle.Leaf {
	var leaves []merkle.Leaf
	for _, r := range rs {
		if r.Action == contracts.ActionCheckpoint {
			continue
		}
		leaves = append(leaves, merkle.Leaf{ReceiptID: r.ReceiptID.String(), Hash: r.ContentHash})
	}
	return leaves
}

func windowLeaves(rs []contracts.Receipt, principalID uuid.UUID) []merkle.Leaf {
	var out []contracts.Receipt
	for _, r := range rs {
		if r.PrincipalID == principalID {
			out = append(out, r)
		}
	}
	return toLeaves(out)
}

func buildTree(leaves []merkle.Leaf) (*merkle.Tree, error) {
	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, trusterr.Wrap(trusterr.ErrHashChainMismatch, fmt.Sprintf("receipts: build merkle tree: %v", err))
	}
	return tree, nil
}
