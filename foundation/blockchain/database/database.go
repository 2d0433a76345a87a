// Package database owns the committed chain and the derived account map:
// the Ledger component of the consensus core. The account map is a cache
// that can always be rebuilt from the chain via Replay; the chain itself is
// the single source of truth.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/genesis"
	"github.com/lumenledger/node/foundation/blockchain/merkle"
)

// ErrUnknownBlock is returned when a lookup by epoch or hash finds nothing.
var ErrUnknownBlock = errors.New("database: unknown block")

// ErrChainLinkageBroken is returned when a reloaded chain's previousHash
// links do not connect; the node refuses to start rather than run on
// corrupted history.
var ErrChainLinkageBroken = errors.New("database: chain hash linkage is broken")

// Storage is the persistence contract the Ledger writes through: a single
// JSON array of committed blocks plus a regenerable account-map cache, per
// the persisted state layout.
type Storage interface {
	WriteChain(blocks []Block) error
	ReadChain() ([]Block, error)
	WriteAccounts(accounts []Account) error
}

// Ledger maintains the committed chain and the derived account map. All
// mutation happens on the single-threaded consensus event loop; the mutex
// below only guards readers (query handlers, the health endpoint) running
// concurrently with the loop's own goroutines.
type Ledger struct {
	mu sync.RWMutex

	genesis  genesis.Genesis
	chain    []Block
	accounts map[crypto.Address]Account

	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a Ledger, reading any previously persisted chain and
// replaying it to rebuild the account map. Broken hash linkage on reload is
// fatal: the node refuses to start on untrusted corrupted history.
func New(gen genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Ledger, error) {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	l := Ledger{
		genesis:   gen,
		accounts:  make(map[crypto.Address]Account),
		storage:   storage,
		evHandler: evHandler,
	}

	chain, err := storage.ReadChain()
	if err != nil {
		return nil, fmt.Errorf("reading persisted chain: %w", err)
	}

	l.chain = chain
	if err := l.replayLocked(); err != nil {
		return nil, err
	}

	evHandler("ledger: New: loaded %d blocks from disk", len(chain))

	return &l, nil
}

// Head returns the epoch and hash of the chain's current tip. An empty
// chain reports (0, ZeroHash).
func (l *Ledger) Head() (uint64, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.chain) == 0 {
		return 0, crypto.ZeroHash
	}

	tip := l.chain[len(l.chain)-1]
	return tip.Epoch, tip.Hash
}

// Append accepts a block that Consensus has already fully validated:
// credits rewards, applies transactions in listed order, persists the
// extended chain and the refreshed account-map cache. It does not touch
// any pending receipt/transaction pools; the caller prunes those using the
// block's included lists after a successful Append.
func (l *Ledger) Append(block Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, amount := range block.Rewards {
		l.creditLocked(addr, amount)
	}

	for _, tx := range block.Transactions {
		if err := l.applyTransactionLocked(tx); err != nil {
			return fmt.Errorf("applying transaction %s: %w", tx.SignatureKey(), err)
		}
	}

	l.chain = append(l.chain, block)

	if err := l.storage.WriteChain(l.chain); err != nil {
		return fmt.Errorf("persisting chain: %w", err)
	}
	if err := l.storage.WriteAccounts(l.accountsSliceLocked()); err != nil {
		return fmt.Errorf("persisting account cache: %w", err)
	}

	l.evHandler("ledger: Append: committed epoch[%d] hash[%s] txs[%d] receipts[%d]",
		block.Epoch, block.Hash, len(block.Transactions), len(block.Receipts))

	return nil
}

// Replay clears the account map and reapplies every block from genesis.
// Used for cold sync and for recovering from a restart.
func (l *Ledger) Replay() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.replayLocked()
}

func (l *Ledger) replayLocked() error {
	l.accounts = make(map[crypto.Address]Account)

	for addrStr, balance := range l.genesis.Balances {
		l.creditLocked(crypto.Address(addrStr), balance)
	}

	var previousHash string
	for i, block := range l.chain {
		wantPrev := crypto.ZeroHash
		if i > 0 {
			wantPrev = previousHash
		}
		if block.PreviousHash != wantPrev {
			return ErrChainLinkageBroken
		}

		for addr, amount := range block.Rewards {
			l.creditLocked(addr, amount)
		}
		for _, tx := range block.Transactions {
			if err := l.applyTransactionLocked(tx); err != nil {
				return fmt.Errorf("replay: block[%d]: %w", block.Epoch, err)
			}
		}

		previousHash = block.Hash
	}

	return nil
}

// applyTransactionLocked applies tx to the account map. Coinbase mints
// credit only; every other transaction debits the sender (bumping its
// nonce) and credits the receiver. Callers must hold l.mu.
func (l *Ledger) applyTransactionLocked(tx Transaction) error {
	if tx.IsCoinbase() {
		l.creditLocked(tx.To, tx.Amount)
		return nil
	}

	from := l.accounts[tx.From]
	if from.Balance < tx.Amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", from.Balance, tx.Amount)
	}
	if tx.Nonce != from.Nonce+1 {
		return fmt.Errorf("nonce out of order: have %d, tx %d", from.Nonce, tx.Nonce)
	}

	from.Address = tx.From
	from.Balance -= tx.Amount
	from.Nonce = tx.Nonce
	l.accounts[tx.From] = from

	l.creditLocked(tx.To, tx.Amount)

	return nil
}

func (l *Ledger) creditLocked(addr crypto.Address, amount uint64) {
	account, ok := l.accounts[addr]
	if !ok {
		account = newAccount(addr)
	}
	account.Balance += amount
	l.accounts[addr] = account
}

// AccountOf returns the balance and nonce for address; a missing address
// returns the zero account.
func (l *Ledger) AccountOf(address crypto.Address) Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	account, ok := l.accounts[address]
	if !ok {
		return newAccount(address)
	}
	return account
}

// CopyAccounts returns a snapshot of every known account.
func (l *Ledger) CopyAccounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.accountsSliceLocked()
}

func (l *Ledger) accountsSliceLocked() []Account {
	accounts := make([]Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		accounts = append(accounts, a)
	}
	return accounts
}

// BlockAt returns the committed block for the given epoch.
func (l *Ledger) BlockAt(epoch uint64) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, b := range l.chain {
		if b.Epoch == epoch {
			return b, nil
		}
	}
	return Block{}, ErrUnknownBlock
}

// BlockByHash returns the committed block with the given hash.
func (l *Ledger) BlockByHash(hash string) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, b := range l.chain {
		if b.Hash == hash {
			return b, nil
		}
	}
	return Block{}, ErrUnknownBlock
}

// Headers returns up to limit of the most recently committed blocks, in
// commit order, for the /headers endpoint.
func (l *Ledger) Headers(limit int) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.tailLocked(limit)
}

// CopyChain returns up to limit of the most recently committed blocks, full
// bodies included, for the /chain endpoint.
func (l *Ledger) CopyChain(limit int) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.tailLocked(limit)
}

func (l *Ledger) tailLocked(limit int) []Block {
	start := 0
	if len(l.chain) > limit {
		start = len(l.chain) - limit
	}

	out := make([]Block, len(l.chain)-start)
	copy(out, l.chain[start:])
	return out
}

// Length reports the number of committed blocks.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.chain)
}

// ReplaceChain atomically swaps the entire chain vector (used by PeerMesh's
// naive longest-chain catch-up) and replays it to rebuild the account map.
func (l *Ledger) ReplaceChain(chain []Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	previous := l.chain
	l.chain = chain

	if err := l.replayLocked(); err != nil {
		l.chain = previous
		l.replayLocked() //nolint:errcheck // restoring prior good state
		return err
	}

	if err := l.storage.WriteChain(l.chain); err != nil {
		return fmt.Errorf("persisting replaced chain: %w", err)
	}
	if err := l.storage.WriteAccounts(l.accountsSliceLocked()); err != nil {
		return fmt.Errorf("persisting replaced account cache: %w", err)
	}

	l.evHandler("ledger: ReplaceChain: adopted chain of length %d", len(l.chain))

	return nil
}

// ProofFor locates the block containing txHash and returns it together with
// a Merkle inclusion proof against that block's txRoot.
func (l *Ledger) ProofFor(txHash string) (Block, []merkle.Sibling, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, b := range l.chain {
		leaves := make([]merkle.Digest, len(b.Transactions))
		matchAt := -1

		for i, tx := range b.Transactions {
			d, err := tx.Digest()
			if err != nil {
				return Block{}, nil, false, err
			}
			leaves[i] = d
			if hexutil.Encode(d[:]) == txHash {
				matchAt = i
			}
		}

		if matchAt == -1 {
			continue
		}

		proof, err := merkle.Proof(leaves, matchAt)
		if err != nil {
			return Block{}, nil, false, err
		}
		return b, proof, true, nil
	}

	return Block{}, nil, false, nil
}

// Debit applies a unilateral Consensus-driven slash, deducting
// min(balance, amount) from addr. Used only as a local side-effect of
// equivocation detection, never as part of a block's transaction list.
func (l *Ledger) Debit(addr crypto.Address, amount uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[addr]
	if !ok {
		account = newAccount(addr)
	}

	debited := amount
	if debited > account.Balance {
		debited = account.Balance
	}
	account.Balance -= debited
	l.accounts[addr] = account

	return debited
}
