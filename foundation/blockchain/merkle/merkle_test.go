package merkle_test

import (
	"crypto/sha256"
	"testing"

	"github.com/lumenledger/node/foundation/blockchain/merkle"
	"github.com/stretchr/testify/require"
)

func leaf(s string) merkle.Digest {
	return sha256.Sum256([]byte(s))
}

func TestRootEmptyIsZero(t *testing.T) {
	require.Equal(t, merkle.ZeroDigest, merkle.Root(nil))
}

func TestRootSingleIsLeaf(t *testing.T) {
	l := leaf("a")
	require.Equal(t, l, merkle.Root([]merkle.Digest{l}))
}

func TestRootOddLevelDuplicatesLast(t *testing.T) {
	leaves := []merkle.Digest{leaf("a"), leaf("b"), leaf("c")}

	got := merkle.Root(leaves)

	padded := append(append([]merkle.Digest{}, leaves...), leaves[2])
	var buf1, buf2 [64]byte
	copy(buf1[:32], padded[0][:])
	copy(buf1[32:], padded[1][:])
	n1 := sha256.Sum256(buf1[:])
	copy(buf2[:32], padded[2][:])
	copy(buf2[32:], padded[3][:])
	n2 := sha256.Sum256(buf2[:])
	var top [64]byte
	copy(top[:32], n1[:])
	copy(top[32:], n2[:])
	want := sha256.Sum256(top[:])

	require.Equal(t, merkle.Digest(want), got)
}

func TestProofVerifyRoundTrip(t *testing.T) {
	leaves := []merkle.Digest{leaf("a"), leaf("b"), leaf("c"), leaf("d"), leaf("e")}
	root := merkle.Root(leaves)

	for i := range leaves {
		proof, err := merkle.Proof(leaves, i)
		require.NoError(t, err)
		require.True(t, merkle.Verify(leaves[i], proof, root), "index %d", i)
	}
}

func TestProofVerifyRejectsWrongLeaf(t *testing.T) {
	leaves := []merkle.Digest{leaf("a"), leaf("b"), leaf("c"), leaf("d")}
	root := merkle.Root(leaves)

	proof, err := merkle.Proof(leaves, 1)
	require.NoError(t, err)

	require.False(t, merkle.Verify(leaf("not-in-tree"), proof, root))
}

func TestProofSingleLeafIsEmpty(t *testing.T) {
	leaves := []merkle.Digest{leaf("only")}

	proof, err := merkle.Proof(leaves, 0)
	require.NoError(t, err)
	require.Empty(t, proof)
	require.True(t, merkle.Verify(leaves[0], proof, merkle.Root(leaves)))
}

func TestProofIndexOutOfRange(t *testing.T) {
	leaves := []merkle.Digest{leaf("a"), leaf("b")}

	_, err := merkle.Proof(leaves, 5)
	require.Error(t, err)
}
