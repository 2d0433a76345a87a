package database

import (
	"sort"
	"strconv"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
)

// Account represents the ledger's view of a single address: its spendable
// balance and the nonce of the last transaction applied from it. Accounts
// are created lazily on first credit; a missing address behaves as
// Account{Balance: 0, Nonce: 0}.
type Account struct {
	Address crypto.Address `json:"address"`
	Balance uint64         `json:"balance"`
	Nonce   uint64         `json:"nonce"`
}

// newAccount constructs the zero-value account for an address.
func newAccount(address crypto.Address) Account {
	return Account{Address: address}
}

// Leaf returns the canonical string hashed into the state root for this
// account: "addr:balance:nonce", per the stateRoot formula.
func (a Account) Leaf() string {
	return string(a.Address) + ":" + strconv.FormatUint(a.Balance, 10) + ":" + strconv.FormatUint(a.Nonce, 10)
}

// =============================================================================

// byAddress sorts accounts ascending by address, the tie-break order
// required before hashing the touched-account set into the state root.
type byAddress []Account

func (b byAddress) Len() int           { return len(b) }
func (b byAddress) Less(i, j int) bool { return b[i].Address < b[j].Address }
func (b byAddress) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

// SortedByAddress returns accounts sorted ascending by address. The input
// slice is not mutated.
func SortedByAddress(accounts []Account) []Account {
	sorted := append([]Account{}, accounts...)
	sort.Sort(byAddress(sorted))
	return sorted
}
