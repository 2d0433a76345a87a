package database

import (
	"encoding/json"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
)

// Receipt is a signed attestation by a responder that it completed a
// challenge issued by a challenger during an epoch's participation round.
type Receipt struct {
	ChallengeID string           `json:"challengeId"`
	From        crypto.Address   `json:"from"` // the challenger
	To          crypto.Address   `json:"to"`   // the responder
	Epoch       uint64           `json:"epoch"`
	Success     bool             `json:"success"`
	LatencyMs   int64            `json:"latencyMs"`
	Timestamp   int64            `json:"timestamp"`
	WorkResult  uint64           `json:"workResult"`
	Signature   crypto.Signature `json:"signature"`
}

// Sign produces a signed receipt over every field except the signature
// itself, signed by the responder's key.
func Sign(r Receipt, sk crypto.PrivateKey) (Receipt, error) {
	digest, err := r.signingDigest()
	if err != nil {
		return Receipt{}, err
	}

	r.Signature = crypto.Sign(sk, digest[:])
	return r, nil
}

// Validate verifies the receipt's signature under the responder's
// (claimed) public key.
func (r Receipt) Validate(responderPubKey crypto.PublicKey) error {
	digest, err := r.signingDigest()
	if err != nil {
		return err
	}

	if !crypto.Verify(responderPubKey, digest[:], r.Signature) {
		return ErrInvalidSignature
	}

	return nil
}

func (r Receipt) signingDigest() ([32]byte, error) {
	unsigned := r
	unsigned.Signature = nil

	return crypto.HashCanonical(func() ([]byte, error) {
		return json.Marshal(unsigned)
	})
}

// Digest returns hashCanonical(receipt), the leaf hashed into the receipt
// root.
func (r Receipt) Digest() ([32]byte, error) {
	return crypto.HashCanonical(func() ([]byte, error) {
		return json.Marshal(r)
	})
}
