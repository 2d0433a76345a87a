package builder_test

import (
	"testing"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/builder"
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/genesis"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *database.Ledger {
	t.Helper()
	l, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)
	return l
}

func TestFilterTransactionsAcceptsCoinbaseUnconditionally(t *testing.T) {
	ledger := newLedger(t)

	to, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	toAddr, err := crypto.AddressOf(to)
	require.NoError(t, err)

	mint := database.NewCoinbase(toAddr, 1000, 1, time.Now().Unix())

	accepted, touched := builder.FilterTransactions(ledger, []database.Transaction{mint})
	require.Len(t, accepted, 1)
	require.Len(t, touched, 1)
	require.Equal(t, uint64(1000), touched[0].Balance)
}

func TestFilterTransactionsRejectsInsufficientBalance(t *testing.T) {
	ledger := newLedger(t)

	fromPub, fromPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	toPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	toAddr, err := crypto.AddressOf(toPub)
	require.NoError(t, err)

	tx, err := database.NewTransaction(fromPub, fromPriv, toAddr, 500, 1, time.Now().Unix())
	require.NoError(t, err)

	accepted, _ := builder.FilterTransactions(ledger, []database.Transaction{tx})
	require.Empty(t, accepted)
}

func TestFilterTransactionsRejectsDoubleSpendSameNonce(t *testing.T) {
	ledger := newLedger(t)

	fromPub, fromPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	fromAddr, err := crypto.AddressOf(fromPub)
	require.NoError(t, err)
	to1, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	to1Addr, err := crypto.AddressOf(to1)
	require.NoError(t, err)
	to2, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	to2Addr, err := crypto.AddressOf(to2)
	require.NoError(t, err)

	mint := database.NewCoinbase(fromAddr, 1000, 1, time.Now().Unix())
	require.NoError(t, ledger.Append(mustBlock(t, ledger, mint)))

	tx1, err := database.NewTransaction(fromPub, fromPriv, to1Addr, 600, 1, time.Now().Unix())
	require.NoError(t, err)
	tx2, err := database.NewTransaction(fromPub, fromPriv, to2Addr, 600, 1, time.Now().Unix())
	require.NoError(t, err)

	accepted, _ := builder.FilterTransactions(ledger, []database.Transaction{tx1, tx2})
	require.Len(t, accepted, 1)
	require.Equal(t, tx1.Signature, accepted[0].Signature)
}

func TestBuildProducesValidSignedBlock(t *testing.T) {
	ledger := newLedger(t)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	toPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	toAddr, err := crypto.AddressOf(toPub)
	require.NoError(t, err)

	mint := database.NewCoinbase(toAddr, 1000, 1, time.Now().Unix())

	block, err := builder.Build(1, crypto.ZeroHash, leaderPub, leaderPriv, time.Now().Unix(), ledger,
		[]database.Transaction{mint}, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, block.VerifyHash())
	require.NoError(t, block.VerifyLeaderSignature())
	require.Len(t, block.Transactions, 1)
}

func mustBlock(t *testing.T, ledger *database.Ledger, txs ...database.Transaction) database.Block {
	t.Helper()

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	block, err := builder.Build(1, crypto.ZeroHash, leaderPub, leaderPriv, time.Now().Unix(), ledger, txs, nil, nil, nil)
	require.NoError(t, err)
	return block
}
