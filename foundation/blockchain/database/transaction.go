package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
)

// ErrInvalidSignature is returned when a transaction's signature does not
// verify under its claimed public key.
var ErrInvalidSignature = errors.New("transaction: invalid signature")

// Coinbase is the sentinel "from" address permitted only on minting
// transactions. Coinbase transactions are never debited or signature
// checked beyond this marker.
const Coinbase = crypto.Coinbase

// Transaction is a value transfer between two addresses, or a mint from the
// Coinbase sentinel.
type Transaction struct {
	From      crypto.Address   `json:"from" validate:"required"`
	To        crypto.Address   `json:"to" validate:"required"`
	Amount    uint64           `json:"amount" validate:"gt=0"`
	Nonce     uint64           `json:"nonce"`
	Timestamp int64            `json:"timestamp" validate:"required"`
	Signature crypto.Signature `json:"signature"`
	PublicKey crypto.PublicKey `json:"publicKey"`
}

// NewCoinbase constructs a mint transaction crediting to with amount. The
// nonce is caller-supplied and must be unique per mint (the wire contract
// uses the mint's issuing timestamp).
func NewCoinbase(to crypto.Address, amount uint64, nonce uint64, timestamp int64) Transaction {
	return Transaction{
		From:      Coinbase,
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		Timestamp: timestamp,
	}
}

// NewTransaction constructs and signs a transfer from the key pair owning
// from to the given recipient.
func NewTransaction(pk crypto.PublicKey, sk crypto.PrivateKey, to crypto.Address, amount, nonce uint64, timestamp int64) (Transaction, error) {
	from, err := crypto.AddressOf(pk)
	if err != nil {
		return Transaction{}, fmt.Errorf("deriving from address: %w", err)
	}

	tx := Transaction{
		From:      from,
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		Timestamp: timestamp,
		PublicKey: pk,
	}

	digest, err := tx.signingDigest()
	if err != nil {
		return Transaction{}, err
	}

	tx.Signature = crypto.Sign(sk, digest[:])

	return tx, nil
}

// IsCoinbase reports whether tx is a mint transaction.
func (tx Transaction) IsCoinbase() bool {
	return tx.From == Coinbase
}

// Validate checks that a non-coinbase transaction's signature verifies
// under its claimed public key and that the public key derives the claimed
// from address. Coinbase transactions always validate.
func (tx Transaction) Validate() error {
	if tx.IsCoinbase() {
		return nil
	}

	derived, err := crypto.AddressOf(tx.PublicKey)
	if err != nil {
		return fmt.Errorf("deriving from address: %w", err)
	}
	if derived != tx.From {
		return ErrInvalidSignature
	}

	digest, err := tx.signingDigest()
	if err != nil {
		return err
	}

	if !crypto.Verify(tx.PublicKey, digest[:], tx.Signature) {
		return ErrInvalidSignature
	}

	return nil
}

// signingDigest returns the digest signed over: every field except the
// signature itself.
func (tx Transaction) signingDigest() ([32]byte, error) {
	unsigned := tx
	unsigned.Signature = nil

	return crypto.HashCanonical(func() ([]byte, error) {
		return json.Marshal(unsigned)
	})
}

// Digest returns hashCanonical(tx), the leaf hashed into the transaction
// root and used as the transaction's identity for proof lookup (mempool
// dedup keys on SignatureKey instead).
func (tx Transaction) Digest() ([32]byte, error) {
	return crypto.HashCanonical(func() ([]byte, error) {
		return json.Marshal(tx)
	})
}

// SignatureKey returns a string uniquely identifying this transaction,
// used by the mempool to dedupe resubmissions and by /transaction's
// idempotency contract. Non-coinbase transactions key on their signature;
// coinbase mints carry no signature and key on (to, nonce) instead, since
// the nonce is defined to be unique per mint.
func (tx Transaction) SignatureKey() string {
	if tx.IsCoinbase() {
		return "coinbase:" + string(tx.To) + ":" + strconv.FormatUint(tx.Nonce, 10)
	}
	return crypto.HashHex(tx.Signature)
}
