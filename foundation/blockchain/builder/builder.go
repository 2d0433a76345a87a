// Package builder implements BlockBuilder: deterministic assembly of a
// candidate block from the pending receipt and transaction pools, the
// current ledger state, and the epoch's effectiveness/reward deltas.
package builder

import (
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
)

// overlay is a temporary balance/nonce view seeded from the ledger, mutated
// only in memory while the candidate block is assembled. It never touches
// the real ledger; Consensus commits the block via Ledger.Append only
// after quorum.
type overlay struct {
	ledger  *database.Ledger
	dirty   map[crypto.Address]database.Account
	touched map[crypto.Address]bool
}

func newOverlay(ledger *database.Ledger) *overlay {
	return &overlay{
		ledger:  ledger,
		dirty:   make(map[crypto.Address]database.Account),
		touched: make(map[crypto.Address]bool),
	}
}

func (o *overlay) get(addr crypto.Address) database.Account {
	if a, ok := o.dirty[addr]; ok {
		return a
	}
	return o.ledger.AccountOf(addr)
}

func (o *overlay) credit(addr crypto.Address, amount uint64) {
	a := o.get(addr)
	a.Address = addr
	a.Balance += amount
	o.dirty[addr] = a
	o.touched[addr] = true
}

func (o *overlay) debitAndBumpNonce(addr crypto.Address, amount, nonce uint64) {
	a := o.get(addr)
	a.Address = addr
	a.Balance -= amount
	a.Nonce = nonce
	o.dirty[addr] = a
	o.touched[addr] = true
}

func (o *overlay) touchedAccounts() []database.Account {
	accounts := make([]database.Account, 0, len(o.touched))
	for addr := range o.touched {
		accounts = append(accounts, o.get(addr))
	}
	return accounts
}

// FilterTransactions applies the deterministic, single-pass, input-order
// transaction filter described in §4.5: coinbase mints are accepted
// unconditionally and credit only; every other transaction is accepted iff
// the overlay balance covers the amount and its nonce is exactly
// overlay.nonce+1, in which case the overlay debits/bumps the sender and
// credits the recipient. The accepted list's order equals the input order.
func FilterTransactions(ledger *database.Ledger, pending []database.Transaction) (accepted []database.Transaction, touched []database.Account) {
	o := newOverlay(ledger)

	for _, tx := range pending {
		if tx.IsCoinbase() {
			o.credit(tx.To, tx.Amount)
			accepted = append(accepted, tx)
			continue
		}

		from := o.get(tx.From)
		if from.Balance < tx.Amount {
			continue
		}
		if tx.Nonce != from.Nonce+1 {
			continue
		}

		o.debitAndBumpNonce(tx.From, tx.Amount, tx.Nonce)
		o.credit(tx.To, tx.Amount)
		accepted = append(accepted, tx)
	}

	return accepted, o.touchedAccounts()
}

// Candidate is an assembled-but-unsigned block, awaiting the leader's
// signature once Consensus is ready to broadcast it as a proposal.
type Candidate struct {
	Block database.Block
}

// Build assembles a full candidate block: filters transactions, folds in
// the epoch's effectiveness updates and reward distribution, computes the
// Merkle commitments, and seals + signs the header. acceptedReceipts is
// whatever the caller decides to include verbatim (ReceiptEngine already
// verified each one on receipt).
func Build(
	epoch uint64,
	previousHash string,
	leaderPub crypto.PublicKey,
	leaderSK crypto.PrivateKey,
	timestamp int64,
	ledger *database.Ledger,
	pendingTransactions []database.Transaction,
	acceptedReceipts []database.Receipt,
	effectivenessUpdates map[crypto.Address]float64,
	rewards map[crypto.Address]uint64,
) (database.Block, error) {
	leader, err := crypto.AddressOf(leaderPub)
	if err != nil {
		return database.Block{}, err
	}

	accepted, touched := FilterTransactions(ledger, pendingTransactions)

	for addr, amount := range rewards {
		touched = appendRewardTouch(touched, ledger, addr, amount)
	}

	txRoot, err := database.TransactionsRoot(accepted)
	if err != nil {
		return database.Block{}, err
	}
	receiptRoot, err := database.ReceiptsRoot(acceptedReceipts)
	if err != nil {
		return database.Block{}, err
	}
	stateRoot, err := database.StateRoot(touched)
	if err != nil {
		return database.Block{}, err
	}

	block := database.Block{
		Epoch:                epoch,
		PreviousHash:         previousHash,
		Leader:               leader,
		LeaderPubKey:         leaderPub,
		Timestamp:            timestamp,
		Receipts:             acceptedReceipts,
		Transactions:         accepted,
		EffectivenessUpdates: effectivenessUpdates,
		Rewards:              rewards,
		TxRoot:               txRoot,
		ReceiptRoot:          receiptRoot,
		StateRoot:            stateRoot,
		Votes:                make(map[crypto.Address]crypto.Signature),
	}

	if err := block.SealAndSign(leaderSK); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// appendRewardTouch folds a reward-only credit into the touched-account
// snapshot used for the state root, for addresses the transaction filter
// didn't already touch.
func appendRewardTouch(touched []database.Account, ledger *database.Ledger, addr crypto.Address, amount uint64) []database.Account {
	for i, a := range touched {
		if a.Address == addr {
			a.Balance += amount
			touched[i] = a
			return touched
		}
	}

	a := ledger.AccountOf(addr)
	a.Address = addr
	a.Balance += amount
	return append(touched, a)
}
