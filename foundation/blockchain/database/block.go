package database

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/merkle"
)

// ErrInvalidBlockHash is returned when a block's declared hash does not
// match the recomputed canonical hash over its content.
var ErrInvalidBlockHash = errors.New("block: hash does not match content")

// Block is a single committed (or proposed) unit of the chain: a batch of
// receipts and transactions, the effectiveness/reward deltas they produced,
// and the Merkle commitments, signature, and votes that make it valid.
type Block struct {
	Epoch                uint64                          `json:"epoch"`
	PreviousHash         string                           `json:"previousHash"`
	Leader               crypto.Address                   `json:"leader"`
	LeaderPubKey         crypto.PublicKey                 `json:"leaderPubKey"`
	Timestamp            int64                            `json:"timestamp"`
	Receipts             []Receipt                        `json:"receipts"`
	Transactions         []Transaction                     `json:"transactions"`
	EffectivenessUpdates map[crypto.Address]float64       `json:"effectivenessUpdates"`
	Rewards              map[crypto.Address]uint64        `json:"rewards"`
	TxRoot               string                           `json:"txRoot"`
	ReceiptRoot          string                           `json:"receiptRoot"`
	StateRoot            string                           `json:"stateRoot"`
	Hash                 string                           `json:"hash"`
	LeaderSignature      crypto.Signature                 `json:"leaderSignature"`
	Votes                map[crypto.Address]crypto.Signature `json:"votes"`
}

// ComputeHash returns the canonical hash over every field of b except
// Hash, LeaderSignature, and Votes.
func (b Block) ComputeHash() (string, error) {
	stripped := b
	stripped.Hash = ""
	stripped.LeaderSignature = nil
	stripped.Votes = nil

	digest, err := crypto.HashCanonical(func() ([]byte, error) {
		return json.Marshal(stripped)
	})
	if err != nil {
		return "", err
	}

	return hexutil.Encode(digest[:]), nil
}

// SealAndSign finalizes a built block by stamping its canonical hash and
// signing that hash with the leader's private key.
func (b *Block) SealAndSign(sk crypto.PrivateKey) error {
	hash, err := b.ComputeHash()
	if err != nil {
		return err
	}
	b.Hash = hash

	digest, err := hexutil.Decode(hash)
	if err != nil {
		return err
	}

	b.LeaderSignature = crypto.Sign(sk, digest)
	return nil
}

// VerifyHash reports whether b.Hash matches the recomputed canonical hash.
func (b Block) VerifyHash() error {
	hash, err := b.ComputeHash()
	if err != nil {
		return err
	}
	if hash != b.Hash {
		return ErrInvalidBlockHash
	}
	return nil
}

// VerifyLeaderSignature reports whether LeaderSignature verifies under
// LeaderPubKey over Hash, and that LeaderPubKey actually derives Leader.
func (b Block) VerifyLeaderSignature() error {
	derived, err := crypto.AddressOf(b.LeaderPubKey)
	if err != nil {
		return err
	}
	if derived != b.Leader {
		return ErrInvalidSignature
	}

	digest, err := hexutil.Decode(b.Hash)
	if err != nil {
		return err
	}

	if !crypto.Verify(b.LeaderPubKey, digest, b.LeaderSignature) {
		return ErrInvalidSignature
	}

	return nil
}

// SignVote returns a voter's signature over b.Hash.
func SignVote(b Block, sk crypto.PrivateKey) (crypto.Signature, error) {
	digest, err := hexutil.Decode(b.Hash)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(sk, digest), nil
}

// VerifyVote reports whether sig is a valid vote over b.Hash under
// voterPubKey.
func (b Block) VerifyVote(voterPubKey crypto.PublicKey, sig crypto.Signature) bool {
	digest, err := hexutil.Decode(b.Hash)
	if err != nil {
		return false
	}
	return crypto.Verify(voterPubKey, digest, sig)
}

// HasQuorum reports whether the number of collected votes meets the
// ceil(n*quorumFraction) threshold for a validator set of size n.
func (b Block) HasQuorum(n int, quorumFraction float64) bool {
	return len(b.Votes) >= QuorumSize(n, quorumFraction)
}

// QuorumSize returns ceil(n*quorumFraction), the minimum vote count to
// commit for a validator set of size n.
func QuorumSize(n int, quorumFraction float64) int {
	return int(math.Ceil(float64(n) * quorumFraction))
}

// =============================================================================
// Merkle commitments.

// TransactionsRoot computes txRoot = root(map(hashCanonical, transactions)).
func TransactionsRoot(txs []Transaction) (string, error) {
	leaves := make([]merkle.Digest, len(txs))
	for i, tx := range txs {
		d, err := tx.Digest()
		if err != nil {
			return "", err
		}
		leaves[i] = d
	}

	return merkle.Root(leaves).Hex(), nil
}

// ReceiptsRoot computes receiptRoot = root(map(hashCanonical, receipts)).
func ReceiptsRoot(receipts []Receipt) (string, error) {
	leaves := make([]merkle.Digest, len(receipts))
	for i, r := range receipts {
		d, err := r.Digest()
		if err != nil {
			return "", err
		}
		leaves[i] = d
	}

	return merkle.Root(leaves).Hex(), nil
}

// StateRoot computes stateRoot over the touched-account snapshot: accounts
// sorted ascending by address, each leaf hashCanonical(addr:balance:nonce).
func StateRoot(touched []Account) (string, error) {
	sorted := SortedByAddress(touched)

	leaves := make([]merkle.Digest, len(sorted))
	for i, a := range sorted {
		d, err := crypto.HashCanonical(func() ([]byte, error) {
			return json.Marshal(a.Leaf())
		})
		if err != nil {
			return "", err
		}
		leaves[i] = d
	}

	return merkle.Root(leaves).Hex(), nil
}
