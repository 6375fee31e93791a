package merkle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/merkle"
	"github.com/trustprimitive/core/pkg/trustcrypto"
)

func hashOf(s string) string {
	return trustcrypto.HashSHA256Hex([]byte(s))
}

func TestBuild_EmptyTree(t *testing.T) {
	tree, err := merkle.Build(nil)
	require.NoError(t, err)
	assert.Empty(t, tree.Root)
}

func TestBuild_SingleLeaf(t *testing.T) {
	tree, err := merkle.Build([]merkle.Leaf{{ReceiptID: "r1", Hash: hashOf("body1")}})
	require.NoError(t, err)
	assert.NotEmpty(t, tree.Root)
}

func TestBuild_DeterministicAcrossInputOrder(t *testing.T) {
	leaves1 := []merkle.Leaf{
		{ReceiptID: "r1", Hash: hashOf("a")},
		{ReceiptID: "r2", Hash: hashOf("b")},
		{ReceiptID: "r3", Hash: hashOf("c")},
	}
	leaves2 := []merkle.Leaf{leaves1[2], leaves1[0], leaves1[1]}

	t1, err := merkle.Build(leaves1)
	require.NoError(t, err)
	t2, err := merkle.Build(leaves2)
	require.NoError(t, err)

	assert.Equal(t, t1.Root, t2.Root)
}

func TestProof_VerifiesForEveryLeaf_OddCount(t *testing.T) {
	leaves := []merkle.Leaf{
		{ReceiptID: "r1", Hash: hashOf("a")},
		{ReceiptID: "r2", Hash: hashOf("b")},
		{ReceiptID: "r3", Hash: hashOf("c")},
	}
	tree, err := merkle.Build(leaves)
	require.NoError(t, err)

	for _, l := range leaves {
		proof, err := tree.Proof(l.ReceiptID)
		require.NoError(t, err)
		assert.True(t, merkle.VerifyInclusionProof(*proof, tree.Root), "leaf %s should verify", l.ReceiptID)
	}
}

func TestProof_VerifiesForEveryLeaf_EvenCount(t *testing.T) {
	leaves := []merkle.Leaf{
		{ReceiptID: "r1", Hash: hashOf("a")},
		{ReceiptID: "r2", Hash: hashOf("b")},
		{ReceiptID: "r3", Hash: hashOf("c")},
		{ReceiptID: "r4", Hash: hashOf("d")},
	}
	tree, err := merkle.Build(leaves)
	require.NoError(t, err)

	for _, l := range leaves {
		proof, err := tree.Proof(l.ReceiptID)
		require.NoError(t, err)
		assert.True(t, merkle.VerifyInclusionProof(*proof, tree.Root))
	}
}

func TestVerifyInclusionProof_RejectsTamperedRoot(t *testing.T) {
	leaves := []merkle.Leaf{
		{ReceiptID: "r1", Hash: hashOf("a")},
		{ReceiptID: "r2", Hash: hashOf("b")},
	}
	tree, err := merkle.Build(leaves)
	require.NoError(t, err)

	proof, err := tree.Proof("r1")
	require.NoError(t, err)

	assert.False(t, merkle.VerifyInclusionProof(*proof, hashOf("wrong-root")))
}

func TestVerifyInclusionProof_RejectsTamperedSibling(t *testing.T) {
	leaves := []merkle.Leaf{
		{ReceiptID: "r1", Hash: hashOf("a")},
		{ReceiptID: "r2", Hash: hashOf("b")},
	}
	tree, err := merkle.Build(leaves)
	require.NoError(t, err)

	proof, err := tree.Proof("r1")
	require.NoError(t, err)
	proof.Path[0].SiblingHash = hashOf("tampered")

	assert.False(t, merkle.VerifyInclusionProof(*proof, tree.Root))
}
