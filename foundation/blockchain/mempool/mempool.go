// Package mempool maintains the pending transaction pool that BlockBuilder
// drains each epoch. Unlike a fee-market mempool, this pool has no
// selection strategy: transactions are served back in the exact order they
// were accepted, so the block filter's determinism (same accepted list on
// every honest node for the same pre-state and input order) does not
// depend on any per-node ordering heuristic.
package mempool

import (
	"sync"

	"github.com/lumenledger/node/foundation/blockchain/database"
)

// Mempool is a FIFO, dedup-by-signature pool of pending transactions.
type Mempool struct {
	mu     sync.RWMutex
	order  []string
	byKey  map[string]database.Transaction
}

// New constructs an empty Mempool.
func New() *Mempool {
	return &Mempool{
		byKey: make(map[string]database.Transaction),
	}
}

// Upsert adds tx to the pool unless a transaction with the same signature
// key is already present, in which case the submission is a no-op — this
// is what makes /transaction idempotent on tx.signature. Returns the
// resulting pool size.
func (mp *Mempool) Upsert(tx database.Transaction) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := tx.SignatureKey()
	if _, exists := mp.byKey[key]; !exists {
		mp.order = append(mp.order, key)
		mp.byKey[key] = tx
	}

	return len(mp.order)
}

// Delete removes tx from the pool, e.g. after it has been included in a
// committed block.
func (mp *Mempool) Delete(tx database.Transaction) {
	mp.DeleteKey(tx.SignatureKey())
}

// DeleteKey removes the transaction with the given signature key.
func (mp *Mempool) DeleteKey(key string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, ok := mp.byKey[key]; !ok {
		return
	}

	delete(mp.byKey, key)
	for i, k := range mp.order {
		if k == key {
			mp.order = append(mp.order[:i], mp.order[i+1:]...)
			break
		}
	}
}

// Count returns the current pool size.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.order)
}

// PickAll returns every pending transaction in acceptance order, the input
// BlockBuilder's deterministic filter consumes.
func (mp *Mempool) PickAll() []database.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.Transaction, 0, len(mp.order))
	for _, key := range mp.order {
		txs = append(txs, mp.byKey[key])
	}
	return txs
}

// Contains reports whether a transaction with the given signature key is
// currently pending.
func (mp *Mempool) Contains(key string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, ok := mp.byKey[key]
	return ok
}

// Truncate clears the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.order = nil
	mp.byKey = make(map[string]database.Transaction)
}
