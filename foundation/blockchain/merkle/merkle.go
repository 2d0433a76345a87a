// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and adapted from the original
// generic Hashable[T] tree into a flat digest-based commitment scheme.

// Package merkle computes Merkle roots and inclusion proofs over ordered
// sequences of leaf digests. It backs the transaction root, receipt root,
// and state root carried in every block header.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Digest is a 32 byte SHA-256 hash, either a leaf or an intermediate node.
type Digest [32]byte

// ZeroDigest is the root of an empty leaf sequence and the previousHash of
// the genesis block.
var ZeroDigest Digest

// Hex returns the lowercase 0x-prefixed hex encoding of the digest.
func (d Digest) Hex() string {
	return hexutil.Encode(d[:])
}

// Sibling is one level of an inclusion proof: the digest of the node
// opposite the running hash, and whether that sibling belongs on the left
// when reconstructing the parent hash.
type Sibling struct {
	Digest Digest
	Left   bool
}

// Root computes the Merkle root over an ordered sequence of leaf digests by
// repeatedly pairing adjacent nodes, duplicating a trailing odd node, and
// parenting with hash(left||right) until one digest remains. An empty
// sequence yields ZeroDigest; a single leaf is returned unchanged.
func Root(leaves []Digest) Digest {
	switch len(leaves) {
	case 0:
		return ZeroDigest
	case 1:
		return leaves[0]
	}

	level := append([]Digest{}, leaves...)
	for len(level) > 1 {
		level = buildIntermediate(level)
	}

	return level[0]
}

// Proof returns the inclusion proof for leaves[index]: the sibling digest
// and left/right marker at every level, bottom to top.
func Proof(leaves []Digest, index int) ([]Sibling, error) {
	if index < 0 || index >= len(leaves) {
		return nil, errors.New("merkle: index out of range")
	}
	if len(leaves) == 1 {
		return nil, nil
	}

	var proof []Sibling

	level := append([]Digest{}, leaves...)
	idx := index

	for len(level) > 1 {
		padded := level
		if len(padded)%2 == 1 {
			padded = append(append([]Digest{}, level...), level[len(level)-1])
		}

		if idx%2 == 0 {
			proof = append(proof, Sibling{Digest: padded[idx+1], Left: false})
		} else {
			proof = append(proof, Sibling{Digest: padded[idx-1], Left: true})
		}

		level = buildIntermediate(padded)
		idx /= 2
	}

	return proof, nil
}

// Verify reconstructs the root from leaf and proof and reports whether it
// matches root.
func Verify(leaf Digest, proof []Sibling, root Digest) bool {
	running := leaf

	for _, sib := range proof {
		var buf [64]byte
		if sib.Left {
			copy(buf[:32], sib.Digest[:])
			copy(buf[32:], running[:])
		} else {
			copy(buf[:32], running[:])
			copy(buf[32:], sib.Digest[:])
		}
		running = sha256.Sum256(buf[:])
	}

	return bytes.Equal(running[:], root[:])
}

// buildIntermediate pairs adjacent nodes of one level into the level above,
// duplicating a trailing odd node.
func buildIntermediate(level []Digest) []Digest {
	next := make([]Digest, 0, (len(level)+1)/2)

	for i := 0; i < len(level); i += 2 {
		left, right := i, i+1
		if right == len(level) {
			right = i
		}

		var buf [64]byte
		copy(buf[:32], level[left][:])
		copy(buf[32:], level[right][:])
		next = append(next, sha256.Sum256(buf[:]))

		if right == i {
			break
		}
	}

	return next
}
