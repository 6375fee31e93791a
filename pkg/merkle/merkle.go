// Package merkle implements the checkpoint Merkle construction referenced
// by spec §4.3 and §9: a binary Merkle tree over a checkpoint window's
// receipts, with duplicate-last-leaf padding for odd levels and
// domain-separated leaf/node hash prefixes. Grounded on the reference
// repo's pkg/merkle (tree.go/proof.go), generalized from "evidence"
// leaves to receipt-window leaves.
package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/trustprimitive/core/pkg/trustcrypto"
)

const (
	leafDomain = "trust:receipt:leaf:v1"
	nodeDomain = "trust:receipt:node:v1"
)

// Leaf is one receipt's contribution to a checkpoint window's tree.
type Leaf struct {
	ReceiptID string
	Hash      string // the receipt's content_hash, already hex-encoded
}

// Tree is a built Merkle tree over a checkpoint window.
type Tree struct {
	Leaves []Leaf
	Levels [][]string // level 0 = leaf hashes, last level = [Root]
	Root   string
}

// Build constructs a Tree from receipt content hashes, ordered by
// receipt_id ascending for determinism (spec leaves leaf ordering
// unspecified beyond determinism; receipt_id order is stable and
// independent of arrival order).
func Build(leaves []Leaf) (*Tree, error) {
	sorted := make([]Leaf, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ReceiptID < sorted[j].ReceiptID })

	if len(sorted) == 0 {
		return &Tree{Root: ""}, nil
	}

	leafHashes := make([]string, len(sorted))
	for i, l := range sorted {
		h, err := hexDecode(l.Hash)
		if err != nil {
			return nil, fmt.Errorf("merkle: leaf %s: %w", l.ReceiptID, err)
		}
		leafHashes[i] = trustcrypto.HashSHA256Hex(buildLeafBytes(l.ReceiptID, h))
	}

	tree := &Tree{Leaves: sorted}
	level := leafHashes
	tree.Levels = append(tree.Levels, level)

	for len(level) > 1 {
		level = nextLevel(level)
		tree.Levels = append(tree.Levels, level)
	}

	tree.Root = level[0]
	return tree, nil
}

// InclusionProof carries the sibling path needed to verify one leaf's
// membership against a trusted root, without replaying the full chain.
type InclusionProof struct {
	ReceiptID string
	LeafHash  string // post-domain-separation leaf hash
	Root      string
	Path      []ProofStep
}

// ProofStep is one level of the inclusion proof.
type ProofStep struct {
	Side        string // "L" or "R": which side the sibling sits on
	SiblingHash string
}

// Proof builds an InclusionProof for the leaf whose ReceiptID is receiptID.
func (t *Tree) Proof(receiptID string) (*InclusionProof, error) {
	idx := -1
	for i, l := range t.Leaves {
		if l.ReceiptID == receiptID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("merkle: receipt %s not in tree", receiptID)
	}

	proof := &InclusionProof{
		ReceiptID: receiptID,
		LeafHash:  t.Levels[0][idx],
		Root:      t.Root,
	}

	pos := idx
	for level := 0; level < len(t.Levels)-1; level++ {
		nodes := t.Levels[level]
		padded := nodes
		if len(padded)%2 != 0 {
			padded = append(append([]string{}, padded...), padded[len(padded)-1])
		}
		isRight := pos%2 == 1
		var siblingIdx int
		var side string
		if isRight {
			siblingIdx = pos - 1
			side = "L"
		} else {
			siblingIdx = pos + 1
			side = "R"
		}
		proof.Path = append(proof.Path, ProofStep{Side: side, SiblingHash: padded[siblingIdx]})
		pos /= 2
	}

	return proof, nil
}

// VerifyInclusionProof recomputes the path hash-by-hash and checks it
// against expectedRoot. A public verifier needs only this function, the
// proof, and the trusted checkpoint root — no access to the full chain.
func VerifyInclusionProof(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && !strings.EqualFold(proof.Root, expectedRoot) {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.Path {
		var left, right []byte
		curBytes, err := hexDecode(current)
		if err != nil {
			return false
		}
		sibBytes, err := hexDecode(step.SiblingHash)
		if err != nil {
			return false
		}
		if step.Side == "L" {
			left, right = sibBytes, curBytes
		} else {
			left, right = curBytes, sibBytes
		}
		current = trustcrypto.HashSHA256Hex(buildNodeBytes(left, right))
	}

	return strings.EqualFold(current, proof.Root)
}

func buildLeafBytes(receiptID string, contentHash []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(leafDomain)
	buf.WriteByte(0)
	buf.WriteString(receiptID)
	buf.WriteByte(0)
	buf.Write(contentHash)
	return buf.Bytes()
}

func buildNodeBytes(left, right []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(nodeDomain)
	buf.WriteByte(0)
	buf.Write(left)
	buf.Write(right)
	return buf.Bytes()
}

func nextLevel(hashes []string) []string {
	padded := hashes
	if len(padded)%2 != 0 {
		padded = append(append([]string{}, padded...), padded[len(padded)-1])
	}
	out := make([]string, len(padded)/2)
	for i := 0; i < len(padded); i += 2 {
		l, _ := hexDecode(padded[i])
		r, _ := hexDecode(padded[i+1])
		out[i/2] = trustcrypto.HashSHA256Hex(buildNodeBytes(l, r))
	}
	return out
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
