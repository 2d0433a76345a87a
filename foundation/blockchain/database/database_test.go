package database_test

import (
	"testing"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/genesis"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *database.Ledger {
	t.Helper()

	ledger, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)
	return ledger
}

func signedBlock(t *testing.T, ledger *database.Ledger, epoch uint64, txs []database.Transaction, rewards map[crypto.Address]uint64, leaderPub crypto.PublicKey, leaderPriv crypto.PrivateKey) database.Block {
	t.Helper()

	_, prevHash := ledger.Head()
	leaderAddr, err := crypto.AddressOf(leaderPub)
	require.NoError(t, err)

	txRoot, err := database.TransactionsRoot(txs)
	require.NoError(t, err)

	block := database.Block{
		Epoch:        epoch,
		PreviousHash: prevHash,
		Leader:       leaderAddr,
		LeaderPubKey: leaderPub,
		Timestamp:    time.Now().Unix(),
		Transactions: txs,
		Rewards:      rewards,
		TxRoot:       txRoot,
		ReceiptRoot:  crypto.ZeroHash,
		StateRoot:    crypto.ZeroHash,
		Votes:        map[crypto.Address]crypto.Signature{},
	}

	require.NoError(t, block.SealAndSign(leaderPriv))
	return block
}

func TestAppendCreditsRewardsAndAppliesTransactions(t *testing.T) {
	ledger := newLedger(t)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	leaderAddr, err := crypto.AddressOf(leaderPub)
	require.NoError(t, err)
	n1Pub, n1Priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Addr, err := crypto.AddressOf(n1Pub)
	require.NoError(t, err)
	n2Pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n2Addr, err := crypto.AddressOf(n2Pub)
	require.NoError(t, err)

	mint := database.NewCoinbase(n1Addr, 1000, 1, time.Now().Unix())
	block := signedBlock(t, ledger, 1, []database.Transaction{mint}, map[crypto.Address]uint64{leaderAddr: 25}, leaderPub, leaderPriv)
	require.NoError(t, ledger.Append(block))

	acc := ledger.AccountOf(n1Addr)
	require.Equal(t, uint64(1000), acc.Balance)
	require.Equal(t, uint64(25), ledger.AccountOf(leaderAddr).Balance)

	tx, err := database.NewTransaction(n1Pub, n1Priv, n2Addr, 100, 1, time.Now().Unix())
	require.NoError(t, err)

	block2 := signedBlock(t, ledger, 2, []database.Transaction{tx}, nil, leaderPub, leaderPriv)
	require.NoError(t, ledger.Append(block2))

	require.Equal(t, uint64(900), ledger.AccountOf(n1Addr).Balance)
	require.Equal(t, uint64(1), ledger.AccountOf(n1Addr).Nonce)
	require.Equal(t, uint64(100), ledger.AccountOf(n2Addr).Balance)
}

func TestAppendRejectsBadNonce(t *testing.T) {
	ledger := newLedger(t)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Pub, n1Priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Addr, err := crypto.AddressOf(n1Pub)
	require.NoError(t, err)
	n2Pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n2Addr, err := crypto.AddressOf(n2Pub)
	require.NoError(t, err)

	mint := database.NewCoinbase(n1Addr, 1000, 1, time.Now().Unix())
	require.NoError(t, ledger.Append(signedBlock(t, ledger, 1, []database.Transaction{mint}, nil, leaderPub, leaderPriv)))

	badTx, err := database.NewTransaction(n1Pub, n1Priv, n2Addr, 100, 3, time.Now().Unix())
	require.NoError(t, err)

	err = ledger.Append(signedBlock(t, ledger, 2, []database.Transaction{badTx}, nil, leaderPub, leaderPriv))
	require.Error(t, err)
}

func TestReplayIsIdempotentWithIncrementalApply(t *testing.T) {
	ledger := newLedger(t)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Addr, err := crypto.AddressOf(n1Pub)
	require.NoError(t, err)

	mint := database.NewCoinbase(n1Addr, 500, 1, time.Now().Unix())
	require.NoError(t, ledger.Append(signedBlock(t, ledger, 1, []database.Transaction{mint}, nil, leaderPub, leaderPriv)))

	before := ledger.AccountOf(n1Addr)

	require.NoError(t, ledger.Replay())

	after := ledger.AccountOf(n1Addr)
	require.Equal(t, before, after)
}

func TestCoinbaseNeverDebited(t *testing.T) {
	ledger := newLedger(t)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Addr, err := crypto.AddressOf(n1Pub)
	require.NoError(t, err)

	mint := database.NewCoinbase(n1Addr, 750, 1, time.Now().Unix())
	require.NoError(t, ledger.Append(signedBlock(t, ledger, 1, []database.Transaction{mint}, nil, leaderPub, leaderPriv)))

	require.Equal(t, uint64(750), ledger.AccountOf(n1Addr).Balance)
	require.Equal(t, uint64(0), ledger.AccountOf(n1Addr).Nonce)
}

func TestHeadReportsZeroHashWhenEmpty(t *testing.T) {
	ledger := newLedger(t)

	epoch, hash := ledger.Head()
	require.Equal(t, uint64(0), epoch)
	require.Equal(t, crypto.ZeroHash, hash)
}

func TestProofForRoundTrips(t *testing.T) {
	ledger := newLedger(t)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n1Addr, err := crypto.AddressOf(n1Pub)
	require.NoError(t, err)
	n2Pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n2Addr, err := crypto.AddressOf(n2Pub)
	require.NoError(t, err)

	mint := database.NewCoinbase(n1Addr, 1000, 1, time.Now().Unix())
	mint2 := database.NewCoinbase(n2Addr, 1000, 2, time.Now().Unix())
	block := signedBlock(t, ledger, 1, []database.Transaction{mint, mint2}, nil, leaderPub, leaderPriv)
	require.NoError(t, ledger.Append(block))

	digest, err := mint.Digest()
	require.NoError(t, err)

	found, proof, ok, err := ledger.ProofFor(hexEncode(digest))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, block.Hash, found.Hash)
	require.NotNil(t, proof)
}

func hexEncode(d [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(d)*2)
	out[0] = '0'
	out[1] = 'x'
	for i, b := range d {
		out[2+i*2] = hextable[b>>4]
		out[2+i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
